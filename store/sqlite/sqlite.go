// Package sqlite is a store.Gateway backed by an SQLite database through
// gorm and the pure-Go glebarez driver (no CGO).
//
// Records live in cache_records; cache_tags holds one row per
// (namespace, key, tag) and answers tag queries with correlated
// sub-queries. Every mutation runs in a transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

type recordRow struct {
	Namespace  string         `gorm:"primaryKey;column:namespace"`
	Key        string         `gorm:"primaryKey;column:cache_key"`
	Data       []byte         `gorm:"column:data"`
	Codec      string         `gorm:"column:codec"`
	Tags       []string       `gorm:"column:tags;serializer:json"`
	Attr       map[string]any `gorm:"column:attr;serializer:json"`
	TTL        int64          `gorm:"column:ttl"`
	CreatedMs  int64          `gorm:"column:created_ms"`
	ExpireAtMs int64          `gorm:"column:expire_at_ms;index"`
	Expired    bool           `gorm:"column:expired"`
}

func (recordRow) TableName() string { return "cache_records" }

type tagRow struct {
	Namespace string `gorm:"primaryKey;column:namespace"`
	Key       string `gorm:"primaryKey;column:cache_key"`
	Tag       string `gorm:"primaryKey;column:tag;index"`
}

func (tagRow) TableName() string { return "cache_tags" }

func toRow(d record.Document) recordRow {
	return recordRow{
		Namespace:  d.Namespace,
		Key:        d.Key,
		Data:       d.Data,
		Codec:      d.Codec,
		Tags:       d.Tags,
		Attr:       d.Attr,
		TTL:        d.TTL,
		CreatedMs:  d.Created.UnixMilli(),
		ExpireAtMs: d.ExpireAt.UnixMilli(),
		Expired:    d.Expired,
	}
}

func (r recordRow) document() record.Document {
	return record.Document{
		Namespace: r.Namespace,
		Key:       r.Key,
		Data:      r.Data,
		Codec:     r.Codec,
		Tags:      r.Tags,
		Attr:      r.Attr,
		TTL:       r.TTL,
		Created:   time.UnixMilli(r.CreatedMs).UTC(),
		ExpireAt:  time.UnixMilli(r.ExpireAtMs).UTC(),
		Expired:   r.Expired,
	}
}

type Config struct {
	// Path of the database file, created if missing.
	Path string
	// BusyTimeout makes writers wait for a locked database; 0 => 5s.
	BusyTimeout time.Duration
	// Logger receives gorm's SQL log; nil silences it.
	Logger logger.Interface
}

type Gateway struct {
	db     *gorm.DB
	ownsDB bool

	closeOnce sync.Once
	closeErr  error
}

var _ store.Gateway = (*Gateway)(nil)

// Open creates (or opens) the database at cfg.Path and migrates the schema.
func Open(cfg Config) (*Gateway, error) {
	if cfg.Path == "" {
		return nil, store.ConfigError("sqlite", "path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := cfg.Path
	if !strings.Contains(dsn, "?") {
		dsn += fmt.Sprintf("?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", busy.Milliseconds())
	}
	gl := cfg.Logger
	if gl == nil {
		gl = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, store.ConnectionError("open", err)
	}
	g, err := New(db)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	g.ownsDB = true
	return g, nil
}

// New uses an existing gorm handle; the caller keeps ownership.
func New(db *gorm.DB) (*Gateway, error) {
	if db == nil {
		return nil, store.ConfigError("sqlite", "nil db")
	}
	if err := db.AutoMigrate(&recordRow{}, &tagRow{}); err != nil {
		return nil, classify("migrate", err)
	}
	return &Gateway{db: db}, nil
}

// scope translates f into WHERE clauses on cache_records.
func scope(f store.Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !f.AllNamespaces {
			db = db.Where("cache_records.namespace = ?", f.Namespace)
		}
		if f.Key != "" {
			db = db.Where("cache_records.cache_key = ?", f.Key)
		}
		if len(f.Tags) > 0 {
			tags := record.UniqueTags(f.Tags)
			const sub = "FROM cache_tags t WHERE t.namespace = cache_records.namespace AND t.cache_key = cache_records.cache_key AND t.tag IN ?"
			if f.MatchAny {
				db = db.Where("EXISTS (SELECT 1 "+sub+")", tags)
			} else {
				db = db.Where("(SELECT COUNT(DISTINCT t.tag) "+sub+") = ?", tags, len(tags))
			}
		}
		if !f.StaleBefore.IsZero() {
			db = db.Where("(cache_records.expired = ? OR cache_records.ttl > 0) AND cache_records.expire_at_ms < ?",
				true, f.StaleBefore.UnixMilli())
		}
		return db
	}
}

func (g *Gateway) records(ctx context.Context, f store.Filter) *gorm.DB {
	return g.db.WithContext(ctx).Model(&recordRow{}).Scopes(scope(f))
}

func (g *Gateway) FindOne(ctx context.Context, f store.Filter) (record.Document, bool, error) {
	var row recordRow
	err := g.records(ctx, f).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record.Document{}, false, nil
	}
	if err != nil {
		return record.Document{}, false, classify("find_one", err)
	}
	return row.document(), true, nil
}

func (g *Gateway) FindMany(ctx context.Context, f store.Filter) (store.Cursor, error) {
	rows, err := g.records(ctx, f).Order("cache_records.namespace, cache_records.cache_key").Rows()
	if err != nil {
		return nil, classify("find_many", err)
	}
	return &cursor{db: g.db, rows: rows}, nil
}

func (g *Gateway) Count(ctx context.Context, f store.Filter) (int64, error) {
	var n int64
	if err := g.records(ctx, f).Count(&n).Error; err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func (g *Gateway) Upsert(ctx context.Context, f store.Filter, doc record.Document) error {
	if f.Key == "" || f.AllNamespaces {
		return store.InvalidArgument("upsert", "upsert needs namespace and key")
	}
	doc.Namespace, doc.Key = f.Namespace, f.Key
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return write(tx, doc)
	})
	return classify("upsert", err)
}

func (g *Gateway) Update(ctx context.Context, f store.Filter, p record.Patch) (bool, error) {
	var matched bool
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		err := tx.Model(&recordRow{}).Scopes(scope(f)).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		matched = true
		d := row.document()
		d.Apply(p)
		if d.Key != row.Key {
			if err := remove(tx, row.Namespace, row.Key); err != nil {
				return err
			}
		}
		return write(tx, d)
	})
	if err != nil {
		return false, classify("update", err)
	}
	return matched, nil
}

func (g *Gateway) DeleteMany(ctx context.Context, f store.Filter) (int64, error) {
	var n int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Scopes(scope(f)).Delete(&recordRow{})
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		if n == 0 {
			return nil
		}
		return tx.Exec(`DELETE FROM cache_tags WHERE NOT EXISTS (
			SELECT 1 FROM cache_records r WHERE r.namespace = cache_tags.namespace AND r.cache_key = cache_tags.cache_key)`).Error
	})
	if err != nil {
		return 0, classify("delete_many", err)
	}
	return n, nil
}

// Close closes the database when the gateway opened it. Safe to call
// multiple times.
func (g *Gateway) Close(context.Context) error {
	if !g.ownsDB {
		return nil
	}
	g.closeOnce.Do(func() {
		sqlDB, err := g.db.DB()
		if err != nil {
			g.closeErr = err
			return
		}
		g.closeErr = sqlDB.Close()
	})
	return g.closeErr
}

// write replaces the record row and its tag rows.
func write(tx *gorm.DB, d record.Document) error {
	row := toRow(d)
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return err
	}
	if err := tx.Where("namespace = ? AND cache_key = ?", d.Namespace, d.Key).Delete(&tagRow{}).Error; err != nil {
		return err
	}
	if len(d.Tags) == 0 {
		return nil
	}
	tags := make([]tagRow, 0, len(d.Tags))
	for _, t := range record.UniqueTags(d.Tags) {
		tags = append(tags, tagRow{Namespace: d.Namespace, Key: d.Key, Tag: t})
	}
	return tx.Create(&tags).Error
}

func remove(tx *gorm.DB, ns, key string) error {
	if err := tx.Where("namespace = ? AND cache_key = ?", ns, key).Delete(&recordRow{}).Error; err != nil {
		return err
	}
	return tx.Where("namespace = ? AND cache_key = ?", ns, key).Delete(&tagRow{}).Error
}

// classify maps database failures to store errors. Errors carrying an
// SQLite result code came back from the engine; anything else (closed
// handle, unreadable file) is a connection problem.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *store.Error
	if errors.As(err, &se) {
		return err
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return store.WriteError(op, coded.Code(), err.Error(), err)
	}
	return store.ConnectionError(op, err)
}

type cursor struct {
	db   *gorm.DB
	rows *sql.Rows
	doc  record.Document
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		return false
	}
	var row recordRow
	if err := c.db.ScanRows(c.rows, &row); err != nil {
		c.err = classify("find_many", err)
		return false
	}
	c.doc = row.document()
	return true
}

func (c *cursor) Document() record.Document { return c.doc }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return classify("find_many", c.rows.Err())
}

func (c *cursor) Close(context.Context) error { return c.rows.Close() }
