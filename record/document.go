// Package record defines the persisted cache document, the codec bridge
// between caller values and stored payloads, and the expiry policy.
//
// A Document is store-agnostic. Gateways map it onto their own storage
// (BSON documents, framed byte blobs, SQL rows) and must preserve every
// field at millisecond precision.
package record

import (
	"strconv"
	"time"
)

// DefaultNamespace is used when a cache is configured without a namespace.
const DefaultNamespace = "defaultNs"

// ExpiredPrefix marks keys rewritten by a manual expiry.
const ExpiredPrefix = "expired_"

// Document is the unit of storage. (Namespace, Key) is unique.
type Document struct {
	Key       string         `bson:"key" json:"key"`
	Namespace string         `bson:"namespace" json:"namespace"`
	Data      []byte         `bson:"data" json:"data"`
	Codec     string         `bson:"codec,omitempty" json:"codec,omitempty"`
	Tags      []string       `bson:"tags" json:"tags"`
	TTL       int64          `bson:"ttl" json:"ttl"`
	Created   time.Time      `bson:"created" json:"created"`
	ExpireAt  time.Time      `bson:"expireAt" json:"expireAt"`
	Expired   bool           `bson:"expired,omitempty" json:"expired,omitempty"`
	Attr      map[string]any `bson:"attr,omitempty" json:"attr,omitempty"`
}

// New builds a full replacement document written at now.
// Tags always start empty (non-nil): a write never merges a previous tag set.
func New(ns, key string, data []byte, ttl int64, now time.Time, attr map[string]any) Document {
	now = Truncate(now)
	ttl = NormalizeTTL(ttl)
	return Document{
		Key:       key,
		Namespace: ns,
		Data:      data,
		Tags:      []string{},
		TTL:       ttl,
		Created:   now,
		ExpireAt:  now.Add(time.Duration(ttl) * time.Second),
		Attr:      cloneAttr(attr),
	}
}

// Clone returns a deep copy so callers can mutate it without aliasing
// gateway-owned slices or maps.
func (d Document) Clone() Document {
	out := d
	if d.Data != nil {
		out.Data = append([]byte(nil), d.Data...)
	}
	if d.Tags != nil {
		out.Tags = append(make([]string, 0, len(d.Tags)), d.Tags...)
	}
	out.Attr = cloneAttr(d.Attr)
	return out
}

// HasTag reports whether tag is attached to the document.
func (d Document) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTTL maps a TTL in seconds onto the non-negative range.
func NormalizeTTL(ttl int64) int64 {
	if ttl < 0 {
		return -ttl
	}
	return ttl
}

// TTLSeconds converts a duration to whole TTL seconds, normalising negative input.
func TTLSeconds(d time.Duration) int64 {
	return NormalizeTTL(int64(d / time.Second))
}

// Truncate drops sub-millisecond precision and the monotonic clock reading.
func Truncate(t time.Time) time.Time {
	return t.Round(0).Truncate(time.Millisecond)
}

// ExpiredKey returns the marker key a manually expired record is moved to.
func ExpiredKey(key string, now time.Time) string {
	return ExpiredPrefix + strconv.FormatInt(now.Unix(), 10) + "_" + key
}

// UniqueTags returns tags with duplicates removed, preserving first-seen order.
// A nil input yields an empty, non-nil slice.
func UniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cloneAttr(attr map[string]any) map[string]any {
	if len(attr) == 0 {
		return nil
	}
	out := make(map[string]any, len(attr))
	for k, v := range attr {
		out[k] = v
	}
	return out
}
