package scheduling

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/booking/internal/platform/timezone"
)

var weekdayKeys = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayKey returns the profile map key for wd.
func WeekdayKey(wd time.Weekday) string { return weekdayKeys[wd] }

// DayRule is the recurring window for one weekday, in the profile's zone.
type DayRule struct {
	Enabled   bool   `json:"enabled"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	VisitType string `json:"visitType,omitempty"`
}

// DateOverride replaces the weekly rule for a single calendar date.
type DateOverride struct {
	Date        timezone.Date `json:"date"`
	Unavailable bool          `json:"unavailable"`
	Start       string        `json:"start,omitempty"`
	End         string        `json:"end,omitempty"`
	VisitType   string        `json:"visitType,omitempty"`
	Note        string        `json:"note,omitempty"`
}

// Profile is a provider's recurring availability and per-date exceptions.
// Values are treated as immutable; the With* methods return modified copies.
type Profile struct {
	ProviderID    uuid.UUID          `json:"providerId"`
	Timezone      string             `json:"timezone"`
	Weekly        map[string]DayRule `json:"weekly"`
	DateOverrides []DateOverride     `json:"dateOverrides"`
	Version       int                `json:"version"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// DefaultVisitType is offered by provisioned profiles.
const DefaultVisitType = "video"

// DefaultProfile is the weekday 09:00-17:00 profile assigned to newly
// provisioned providers.
func DefaultProfile(providerID uuid.UUID, tz string) Profile {
	weekly := make(map[string]DayRule, 7)
	for wd, key := range weekdayKeys {
		if wd == int(time.Saturday) || wd == int(time.Sunday) {
			weekly[key] = DayRule{Enabled: false}
			continue
		}
		weekly[key] = DayRule{Enabled: true, Start: "09:00", End: "17:00", VisitType: DefaultVisitType}
	}
	return Profile{
		ProviderID:    providerID,
		Timezone:      tz,
		Weekly:        weekly,
		DateOverrides: []DateOverride{},
	}
}

func (p Profile) clone() Profile {
	cp := p
	cp.Weekly = make(map[string]DayRule, len(p.Weekly))
	for k, v := range p.Weekly {
		cp.Weekly[k] = v
	}
	cp.DateOverrides = append([]DateOverride(nil), p.DateOverrides...)
	return cp
}

// WithTimezone returns a copy of p in zone tz.
func (p Profile) WithTimezone(tz string) Profile {
	cp := p.clone()
	cp.Timezone = tz
	return cp
}

// WithWeekly returns a copy of p whose weekly rules are replaced by weekly.
// Keys are lowercased.
func (p Profile) WithWeekly(weekly map[string]DayRule) Profile {
	cp := p.clone()
	cp.Weekly = make(map[string]DayRule, len(weekly))
	for k, v := range weekly {
		cp.Weekly[strings.ToLower(k)] = v
	}
	return cp
}

// WithOverrides returns a copy of p with overrides replaced and sorted by date.
func (p Profile) WithOverrides(overrides []DateOverride) Profile {
	cp := p.clone()
	cp.DateOverrides = append([]DateOverride{}, overrides...)
	sort.SliceStable(cp.DateOverrides, func(i, j int) bool {
		return cp.DateOverrides[i].Date.Before(cp.DateOverrides[j].Date)
	})
	return cp
}

// Validate checks zone, weekday keys, window syntax and override uniqueness.
// A window whose start is not before its end is legal and yields no slots.
func (p Profile) Validate() error {
	if !timezone.IsValid(p.Timezone) {
		return validationf(CodeInvalidTimezone, "unknown time zone %q", p.Timezone)
	}
	for key, rule := range p.Weekly {
		if !isWeekdayKey(key) {
			return validationf(CodeInvalidProfile, "unknown weekday %q", key)
		}
		if !rule.Enabled {
			continue
		}
		if err := checkWindow(rule.Start, rule.End); err != nil {
			return validationf(CodeInvalidWindow, "%s: %v", key, err)
		}
	}
	seen := make(map[timezone.Date]bool, len(p.DateOverrides))
	for _, ov := range p.DateOverrides {
		if ov.Date.IsZero() {
			return validationf(CodeInvalidProfile, "date override is missing its date")
		}
		if seen[ov.Date] {
			return validationf(CodeInvalidProfile, "duplicate date override for %s", ov.Date)
		}
		seen[ov.Date] = true
		if ov.Unavailable {
			continue
		}
		if err := checkWindow(ov.Start, ov.End); err != nil {
			return validationf(CodeInvalidWindow, "%s: %v", ov.Date, err)
		}
	}
	return nil
}

func isWeekdayKey(k string) bool {
	for _, key := range weekdayKeys {
		if key == k {
			return true
		}
	}
	return false
}

func checkWindow(start, end string) error {
	if _, err := timezone.ParseClock(start); err != nil {
		return err
	}
	if _, err := timezone.ParseClock(end); err != nil {
		return err
	}
	return nil
}

// Override returns the override for d, if any.
func (p Profile) Override(d timezone.Date) (DateOverride, bool) {
	for _, ov := range p.DateOverrides {
		if ov.Date == d {
			return ov, true
		}
	}
	return DateOverride{}, false
}

type window struct {
	start     timezone.ClockTime
	end       timezone.ClockTime
	visitType string
}

// windowFor resolves the effective local window on d. An override wins
// over the weekly rule; an unavailable override or disabled rule yields
// nothing, as does any window that is empty or inverted.
func (p Profile) windowFor(d timezone.Date) (window, bool) {
	rule := p.Weekly[WeekdayKey(d.Weekday())]
	start, end, visitType := rule.Start, rule.End, rule.VisitType
	if ov, ok := p.Override(d); ok {
		if ov.Unavailable {
			return window{}, false
		}
		start, end = ov.Start, ov.End
		if ov.VisitType != "" {
			visitType = ov.VisitType
		}
	} else if !rule.Enabled {
		return window{}, false
	}

	s, err := timezone.ParseClock(start)
	if err != nil {
		return window{}, false
	}
	e, err := timezone.ParseClock(end)
	if err != nil {
		return window{}, false
	}
	if s.Minutes() >= e.Minutes() {
		return window{}, false
	}
	if visitType == "" {
		visitType = DefaultVisitType
	}
	return window{start: s, end: e, visitType: visitType}, true
}

// ProfilePatch is a partial profile update. Nil fields are left unchanged.
type ProfilePatch struct {
	Timezone      *string            `json:"timezone,omitempty"`
	Weekly        map[string]DayRule `json:"weekly,omitempty"`
	DateOverrides *[]DateOverride    `json:"dateOverrides,omitempty"`
	Version       *int               `json:"version,omitempty"`
}

// Apply returns p with the patch applied.
func (pp ProfilePatch) Apply(p Profile) Profile {
	out := p.clone()
	if pp.Timezone != nil {
		out = out.WithTimezone(*pp.Timezone)
	}
	if pp.Weekly != nil {
		merged := make(map[string]DayRule, len(out.Weekly)+len(pp.Weekly))
		for k, v := range out.Weekly {
			merged[k] = v
		}
		for k, v := range pp.Weekly {
			merged[strings.ToLower(k)] = v
		}
		out = out.WithWeekly(merged)
	}
	if pp.DateOverrides != nil {
		out = out.WithOverrides(*pp.DateOverrides)
	}
	return out
}
