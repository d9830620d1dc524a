package tagcache

import "github.com/unkn0wn-root/tagcache/store"

// Error is the failure type returned by the cache and its gateways.
type Error = store.Error

// Kind classifies an Error.
type Kind = store.Kind

const (
	KindConfiguration   = store.KindConfiguration
	KindConnection      = store.KindConnection
	KindStoreWrite      = store.KindStoreWrite
	KindInvalidArgument = store.KindInvalidArgument
)

// Sentinels usable with errors.Is.
var (
	ErrConfiguration   = store.ErrConfiguration
	ErrConnection      = store.ErrConnection
	ErrStoreWrite      = store.ErrStoreWrite
	ErrInvalidArgument = store.ErrInvalidArgument
)

// KindOf reports the Kind of err, or KindUnknown.
func KindOf(err error) Kind { return store.KindOf(err) }

// programmerError reports failures that are never swallowed, even fail-soft.
func programmerError(err error) bool {
	switch store.KindOf(err) {
	case store.KindConfiguration, store.KindInvalidArgument:
		return true
	}
	return false
}
