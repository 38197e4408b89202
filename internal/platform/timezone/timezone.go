package timezone

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// LabelLayout is the wall-clock layout used for display labels.
const LabelLayout = "Mon Jan 2 2006 3:04 PM MST"

var locations sync.Map // zone id -> *time.Location

// Load resolves an IANA zone identifier. Empty and "Local" are rejected so
// that a schedule is never silently interpreted in the host's zone.
func Load(id string) (*time.Location, error) {
	if v, ok := locations.Load(id); ok {
		return v.(*time.Location), nil
	}
	if id == "" || strings.EqualFold(id, "local") {
		return nil, fmt.Errorf("timezone %q is not an IANA identifier", id)
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", id, err)
	}
	locations.Store(id, loc)
	return loc, nil
}

// IsValid reports whether id names a loadable IANA zone.
func IsValid(id string) bool {
	_, err := Load(id)
	return err == nil
}

// Normalize returns id when it is valid and fallback otherwise.
func Normalize(id, fallback string) string {
	if IsValid(id) {
		return id
	}
	return fallback
}

// FormatLocal renders t as a wall-clock label in zone. An unknown zone
// falls back to UTC. Labels are for display only.
func FormatLocal(t time.Time, zone string) string {
	loc, err := Load(zone)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format(LabelLayout)
}
