package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newHooks(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestRedactsKeys(t *testing.T) {
	h, buf := newHooks(Options{})
	h.SelfHeal("pages", "user:42", "codec_mismatch")

	out := buf.String()
	if strings.Contains(out, "user:42") {
		t.Fatalf("raw key leaked: %q", out)
	}
	if !strings.Contains(out, "msg=tagcache.self_heal") || !strings.Contains(out, "reason=codec_mismatch") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "key="+h.redact("user:42")) {
		t.Fatalf("key not redacted with sha256 prefix: %q", out)
	}
}

func TestCustomRedact(t *testing.T) {
	h, buf := newHooks(Options{Redact: func(s string) string { return "<" + s + ">" }})
	h.MarkedExpired("pages", "k", "expired_1_k")
	if !strings.Contains(buf.String(), "marker=<expired_1_k>") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestSampling(t *testing.T) {
	h, buf := newHooks(Options{ExpiredEvery: 3})
	for i := 0; i < 9; i++ {
		h.ItemExpired("pages", "k")
	}
	if n := strings.Count(buf.String(), "tagcache.item_expired"); n != 3 {
		t.Fatalf("logged %d, want 3", n)
	}
}

func TestStoreError(t *testing.T) {
	h, buf := newHooks(Options{})
	h.StoreError("get", errors.New("connection refused"))
	if !strings.Contains(buf.String(), `level=ERROR msg=tagcache.store_error op=get err="connection refused"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.ItemExpired("ns", "k")
	h.MarkedExpired("ns", "k", "m")
	h.SelfHeal("ns", "k", "value_decode")
	h.StoreError("set", errors.New("x"))
}
