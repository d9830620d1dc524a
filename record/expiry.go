package record

import "time"

// IsLive reports whether d may be served at now.
//
// The manual Expired flag always wins. A TTL of 0 never expires by time;
// otherwise the record is live while now-Created <= TTL (the boundary
// instant is still live).
func IsLive(d Document, now time.Time) bool {
	if d.Expired {
		return false
	}
	if d.TTL == 0 {
		return true
	}
	return now.Sub(d.Created) <= time.Duration(d.TTL)*time.Second
}

// IsStale reports whether d is eligible for an out-of-band purge at before:
// manually expired or TTL-bound, with ExpireAt strictly older than before.
func IsStale(d Document, before time.Time) bool {
	if !d.Expired && d.TTL == 0 {
		return false
	}
	return d.ExpireAt.Before(before)
}
