package scheduling

import (
	"sort"
	"time"

	"github.com/carebook/booking/internal/platform/timezone"
)

// MaxRangeDays caps how many calendar dates a single generation covers.
const MaxRangeDays = 90

// GenerateSlots derives bookable slots of slotMinutes width for every date
// in [from, to] (inclusive, in the profile's zone). Slots overlapping any
// occupying reservation are dropped. Output is ordered by start instant and
// all instants are UTC.
func GenerateSlots(p Profile, from, to timezone.Date, existing []Reservation, slotMinutes int) ([]Slot, error) {
	if slotMinutes <= 0 {
		return nil, validationf(CodeInvalidDuration, "slot width must be positive, got %d", slotMinutes)
	}
	loc, err := timezone.Load(p.Timezone)
	if err != nil {
		return nil, validationf(CodeInvalidTimezone, "unknown time zone %q", p.Timezone)
	}
	slots := []Slot{}
	if to.Before(from) {
		return slots, nil
	}
	if from.DaysUntil(to) >= MaxRangeDays {
		to = from.AddDays(MaxRangeDays - 1)
	}

	busy := make([]Reservation, 0, len(existing))
	for _, r := range existing {
		if r.ProviderID == p.ProviderID && r.Status.Occupies() {
			busy = append(busy, r)
		}
	}

	width := time.Duration(slotMinutes) * time.Minute
	for d := from; !d.After(to); d = d.AddDays(1) {
		w, ok := p.windowFor(d)
		if !ok {
			continue
		}
		winStart := timezone.At(d, w.start, loc)
		winEnd := timezone.At(d, w.end, loc)
		for s := winStart; !s.Add(width).After(winEnd); s = s.Add(width) {
			e := s.Add(width)
			if collides(busy, s, e) {
				continue
			}
			slots = append(slots, Slot{
				ProviderID: p.ProviderID,
				Start:      s.UTC(),
				End:        e.UTC(),
				VisitType:  w.visitType,
			})
		}
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

func collides(busy []Reservation, start, end time.Time) bool {
	for i := range busy {
		if busy[i].Overlaps(start, end) {
			return true
		}
	}
	return false
}

// dayBounds returns the instants covering [from 00:00, to+1 00:00) in loc.
func dayBounds(from, to timezone.Date, loc *time.Location) (time.Time, time.Time) {
	return timezone.At(from, timezone.ClockTime{}, loc), timezone.At(to.AddDays(1), timezone.ClockTime{}, loc)
}
