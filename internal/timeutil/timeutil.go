// Package timeutil centralizes timezone resolution and timestamp rendering.
//
// All timestamps exchanged over the wire are absolute (UTC, millisecond
// precision); a resolved zone is used only for the human-facing *_local
// presentation fields.
package timeutil

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// WireFormat is the layout for absolute timestamps on the wire and in the
// database. With a UTC value it renders as "2006-01-02T15:04:05.000Z".
const WireFormat = "2006-01-02T15:04:05.000Z07:00"

// LocalFormat is the layout for human-facing *_local fields.
const LocalFormat = "2006-01-02 15:04:05"

// zoneCache holds resolved locations; IANA lookups hit the filesystem.
var zoneCache, _ = lru.New[string, *time.Location](32)

// Resolve returns the location for an IANA zone name. An empty name resolves
// to the host zone. Unresolvable names return UTC along with the lookup
// error so callers can log the fallback.
func Resolve(name string) (*time.Location, error) {
	if name == "" {
		return time.Now().Location(), nil
	}
	if loc, ok := zoneCache.Get(name); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("resolve timezone %q: %w", name, err)
	}
	zoneCache.Add(name, loc)
	return loc, nil
}

// FormatWire renders an absolute instant for the wire and the database.
func FormatWire(t time.Time) string {
	return t.UTC().Format(WireFormat)
}

// ParseWire parses a wire timestamp, accepting any RFC3339 variant.
func ParseWire(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatLocal renders an instant as "YYYY-MM-DD HH:MM:SS" in the given zone.
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(LocalFormat)
}
