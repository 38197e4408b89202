package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/booking/internal/platform/timezone"
)

var (
	testNow = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) // a Tuesday
	monday  = timezone.Date{Year: 2030, Month: time.January, Day: 7}
)

// mondayProfile offers a single 09:00-10:00 New York window on Mondays.
func mondayProfile(providerID uuid.UUID) Profile {
	p := DefaultProfile(providerID, "America/New_York")
	weekly := map[string]DayRule{}
	for _, key := range weekdayKeys {
		weekly[key] = DayRule{Enabled: false}
	}
	weekly["monday"] = DayRule{Enabled: true, Start: "09:00", End: "10:00", VisitType: "video"}
	return p.WithWeekly(weekly)
}

func everyDayProfile(providerID uuid.UUID) Profile {
	weekly := map[string]DayRule{}
	for _, key := range weekdayKeys {
		weekly[key] = DayRule{Enabled: true, Start: "09:00", End: "10:00"}
	}
	return DefaultProfile(providerID, "America/New_York").WithWeekly(weekly)
}

func utc(h, m int) time.Time {
	return time.Date(2030, 1, 7, h, m, 0, 0, time.UTC)
}

func TestGenerateSlots_NewYorkMonday(t *testing.T) {
	p := mondayProfile(uuid.New())
	slots, err := GenerateSlots(p, monday, monday, nil, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(utc(14, 0)) || !slots[0].End.Equal(utc(14, 30)) {
		t.Errorf("expected first slot 14:00Z-14:30Z, got %s-%s", slots[0].Start, slots[0].End)
	}
	if !slots[1].Start.Equal(utc(14, 30)) || !slots[1].End.Equal(utc(15, 0)) {
		t.Errorf("expected second slot 14:30Z-15:00Z, got %s-%s", slots[1].Start, slots[1].End)
	}
	for _, s := range slots {
		if s.VisitType != "video" {
			t.Errorf("expected visit type video, got %q", s.VisitType)
		}
		if s.Start.Location() != time.UTC {
			t.Errorf("expected UTC instants, got %s", s.Start.Location())
		}
	}
}

func TestGenerateSlots_ExcludesOccupyingReservations(t *testing.T) {
	providerID := uuid.New()
	p := mondayProfile(providerID)
	existing := []Reservation{
		{ID: uuid.New(), ProviderID: providerID, Start: utc(14, 0), DurationMinutes: 30, Status: StatusConfirmed},
		{ID: uuid.New(), ProviderID: providerID, Start: utc(14, 30), DurationMinutes: 30, Status: StatusCancelled},
		{ID: uuid.New(), ProviderID: providerID, Start: utc(14, 30), DurationMinutes: 30, Status: StatusWaitlist},
		{ID: uuid.New(), ProviderID: uuid.New(), Start: utc(14, 30), DurationMinutes: 30, Status: StatusConfirmed},
	}
	slots, err := GenerateSlots(p, monday, monday, existing, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 || !slots[0].Start.Equal(utc(14, 30)) {
		t.Fatalf("expected only the 14:30Z slot, got %+v", slots)
	}
}

func TestGenerateSlots_PartialOverlapRemovesSlot(t *testing.T) {
	providerID := uuid.New()
	p := mondayProfile(providerID)
	existing := []Reservation{
		{ID: uuid.New(), ProviderID: providerID, Kind: KindBlock, Start: utc(14, 20), DurationMinutes: 20, Status: StatusConfirmed},
	}
	slots, _ := GenerateSlots(p, monday, monday, existing, 30)
	if len(slots) != 0 {
		t.Errorf("block straddling both slots should remove both, got %d", len(slots))
	}
}

func TestGenerateSlots_UnavailableOverride(t *testing.T) {
	p := mondayProfile(uuid.New()).WithOverrides([]DateOverride{{Date: monday, Unavailable: true}})
	nextMonday := monday.AddDays(7)

	slots, err := GenerateSlots(p, monday, nextMonday, nil, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected only next Monday's 2 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if timezone.DateOf(s.Start, time.UTC) != nextMonday {
			t.Errorf("slot %s falls on the overridden date", s.Start)
		}
	}
}

func TestGenerateSlots_OverrideSubstitutesWindow(t *testing.T) {
	tuesday := monday.AddDays(1)
	p := mondayProfile(uuid.New()).WithOverrides([]DateOverride{
		{Date: monday, Start: "13:00", End: "14:00", VisitType: "in_person"},
		{Date: tuesday, Start: "08:00", End: "08:30"},
	})

	slots, err := GenerateSlots(p, monday, tuesday, nil, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(utc(18, 0)) || slots[0].VisitType != "in_person" {
		t.Errorf("expected override window at 18:00Z in_person, got %s %s", slots[0].Start, slots[0].VisitType)
	}
	if !slots[2].Start.Equal(time.Date(2030, 1, 8, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("override on a disabled weekday should open it, got %s", slots[2].Start)
	}
	if slots[2].VisitType != DefaultVisitType {
		t.Errorf("expected default visit type, got %q", slots[2].VisitType)
	}
}

func TestGenerateSlots_EmptyAndInvertedWindows(t *testing.T) {
	weekly := map[string]DayRule{
		"monday":  {Enabled: true, Start: "10:00", End: "10:00"},
		"tuesday": {Enabled: true, Start: "11:00", End: "09:00"},
	}
	p := DefaultProfile(uuid.New(), "UTC").WithWeekly(weekly)
	slots, err := GenerateSlots(p, monday, monday.AddDays(1), nil, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots, got %d", len(slots))
	}
}

func TestGenerateSlots_WidthNotDividingWindow(t *testing.T) {
	slots, _ := GenerateSlots(mondayProfile(uuid.New()), monday, monday, nil, 45)
	if len(slots) != 1 {
		t.Fatalf("expected a single 45 minute slot, got %d", len(slots))
	}
	if !slots[0].End.Equal(utc(14, 45)) {
		t.Errorf("unexpected end %s", slots[0].End)
	}
}

func TestGenerateSlots_ClampsRange(t *testing.T) {
	from := timezone.Date{Year: 2030, Month: time.January, Day: 1}
	to := from.AddDays(400)
	slots, err := GenerateSlots(everyDayProfile(uuid.New()), from, to, nil, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != MaxRangeDays*2 {
		t.Errorf("expected %d slots, got %d", MaxRangeDays*2, len(slots))
	}
	loc, _ := timezone.Load("America/New_York")
	last := timezone.DateOf(slots[len(slots)-1].Start, loc)
	if last != from.AddDays(MaxRangeDays-1) {
		t.Errorf("expected last date %s, got %s", from.AddDays(MaxRangeDays-1), last)
	}
}

func TestGenerateSlots_ReversedRange(t *testing.T) {
	slots, err := GenerateSlots(mondayProfile(uuid.New()), monday, monday.AddDays(-1), nil, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Errorf("expected empty non-nil result, got %v", slots)
	}
}

func TestGenerateSlots_SpringForward(t *testing.T) {
	sunday := timezone.Date{Year: 2030, Month: time.March, Day: 10}
	weekly := map[string]DayRule{"sunday": {Enabled: true, Start: "01:00", End: "04:00"}}
	p := DefaultProfile(uuid.New(), "America/New_York").WithWeekly(weekly)

	slots, err := GenerateSlots(p, sunday, sunday, nil, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 01:00 EST to 04:00 EDT spans two real hours.
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots across the DST gap, got %d", len(slots))
	}
	if !slots[0].Start.Equal(time.Date(2030, 3, 10, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first start %s", slots[0].Start)
	}
	if !slots[1].End.Equal(time.Date(2030, 3, 10, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected last end %s", slots[1].End)
	}
}

func TestGenerateSlots_OrderedAndDisjoint(t *testing.T) {
	providerID := uuid.New()
	p := everyDayProfile(providerID)
	from := timezone.Date{Year: 2030, Month: time.January, Day: 1}
	var existing []Reservation
	for i := 0; i < 10; i++ {
		existing = append(existing, Reservation{
			ID: uuid.New(), ProviderID: providerID, Status: StatusPending, DurationMinutes: 15,
			Start: time.Date(2030, 1, 1+i*2, 14, 10, 0, 0, time.UTC),
		})
	}
	slots, err := GenerateSlots(p, from, from.AddDays(30), existing, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range slots {
		if i > 0 && !slots[i-1].Start.Before(s.Start) {
			t.Fatalf("slots not strictly ascending at %d", i)
		}
		for _, r := range existing {
			if r.Overlaps(s.Start, s.End) {
				t.Fatalf("slot %s overlaps reservation %s", s.Start, r.Start)
			}
		}
	}
}

func TestGenerateSlots_RejectsBadInput(t *testing.T) {
	var ve *ValidationError
	_, err := GenerateSlots(mondayProfile(uuid.New()), monday, monday, nil, 0)
	if !errors.As(err, &ve) || ve.Code != CodeInvalidDuration {
		t.Errorf("expected invalid_duration, got %v", err)
	}
	p := mondayProfile(uuid.New()).WithTimezone("Mars/Olympus")
	_, err = GenerateSlots(p, monday, monday, nil, 30)
	if !errors.As(err, &ve) || ve.Code != CodeInvalidTimezone {
		t.Errorf("expected invalid_timezone, got %v", err)
	}
}
