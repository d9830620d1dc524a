// Package sloghooks writes tagcache hook events to a *slog.Logger.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tagcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ExpiredEvery    uint64
	SelfHealEvery   uint64
	StoreErrorEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	expiredCtr    atomic.Uint64
	selfHealCtr   atomic.Uint64
	storeErrorCtr atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ItemExpired(ns, key string) {
	if h.l == nil || !sample(h.opts.ExpiredEvery, &h.expiredCtr) {
		return
	}
	h.l.Debug("tagcache.item_expired",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) MarkedExpired(ns, key, marker string) {
	if h.l == nil {
		return
	}
	// marker embeds key, redact it too.
	h.l.Info("tagcache.marked_expired",
		"ns", ns,
		"key", h.redact(key),
		"marker", h.redact(marker))
}

func (h *Hooks) SelfHeal(ns, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Warn("tagcache.self_heal",
		"ns", ns,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) StoreError(op string, err error) {
	if h.l == nil || !sample(h.opts.StoreErrorEvery, &h.storeErrorCtr) {
		return
	}
	h.l.Error("tagcache.store_error",
		"op", op,
		"err", err)
}
