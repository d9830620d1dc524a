package record

import "time"

// Patch is a partial update of a single document. Nil fields are left alone.
type Patch struct {
	// Key moves the document to a new key within the same namespace.
	Key *string
	// Tags replaces the tag set. A non-nil pointer to an empty slice clears tags.
	Tags *[]string
	// Touch resets Created and recomputes ExpireAt from the stored TTL.
	Touch *time.Time
	// Expired sets the manual expiry flag.
	Expired *bool
	// ExpireAt overrides the expiry timestamp. Applied after Touch.
	ExpireAt *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Key == nil && p.Tags == nil && p.Touch == nil && p.Expired == nil && p.ExpireAt == nil
}

// Apply mutates d in place.
func (d *Document) Apply(p Patch) {
	if p.Key != nil {
		d.Key = *p.Key
	}
	if p.Tags != nil {
		d.Tags = UniqueTags(*p.Tags)
	}
	if p.Touch != nil {
		now := Truncate(*p.Touch)
		d.Created = now
		d.ExpireAt = now.Add(time.Duration(d.TTL) * time.Second)
	}
	if p.Expired != nil {
		d.Expired = *p.Expired
	}
	if p.ExpireAt != nil {
		d.ExpireAt = Truncate(*p.ExpireAt)
	}
}

// TagPatch retags a document and restarts its expiry clock at now.
func TagPatch(tags []string, now time.Time) Patch {
	t := UniqueTags(tags)
	return Patch{Tags: &t, Touch: &now}
}

// ExpirePatch moves key to its expired marker and flags it expired at now.
func ExpirePatch(key string, now time.Time) Patch {
	marker := ExpiredKey(key, now)
	expired := true
	return Patch{Key: &marker, Expired: &expired, ExpireAt: &now}
}
