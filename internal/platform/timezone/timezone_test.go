package timezone

import (
	"strings"
	"testing"
	"time"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"America/New_York", true},
		{"Europe/Berlin", true},
		{"UTC", true},
		{"", false},
		{"Local", false},
		{"Mars/Olympus_Mons", false},
		{"../etc/passwd", false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.id); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("Asia/Tokyo", "UTC"); got != "Asia/Tokyo" {
		t.Errorf("expected Asia/Tokyo, got %s", got)
	}
	if got := Normalize("Nowhere/Special", "UTC"); got != "UTC" {
		t.Errorf("expected fallback UTC, got %s", got)
	}
}

func TestFormatLocal(t *testing.T) {
	instant := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	got := FormatLocal(instant, "America/New_York")
	if !strings.HasPrefix(got, "Mon Mar 4 2024 9:00 AM") {
		t.Errorf("unexpected label %q", got)
	}

	got = FormatLocal(instant, "bogus")
	if !strings.HasPrefix(got, "Mon Mar 4 2024 2:00 PM UTC") {
		t.Errorf("expected UTC fallback label, got %q", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2024-02-29" {
		t.Errorf("round trip mismatch: %s", d)
	}
	if d.Weekday() != time.Thursday {
		t.Errorf("expected Thursday, got %s", d.Weekday())
	}
	if _, err := ParseDate("2024-13-01"); err == nil {
		t.Error("expected error for month 13")
	}
}

func TestDate_Arithmetic(t *testing.T) {
	d, _ := ParseDate("2024-12-30")
	next := d.AddDays(3)
	if next.String() != "2025-01-02" {
		t.Errorf("expected 2025-01-02, got %s", next)
	}
	if d.DaysUntil(next) != 3 {
		t.Errorf("expected 3 days, got %d", d.DaysUntil(next))
	}
	if !d.Before(next) || !next.After(d) {
		t.Error("ordering helpers disagree")
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Minutes() != 570 {
		t.Errorf("expected 570, got %d", c.Minutes())
	}
	end, err := ParseClock("24:00")
	if err != nil || end.Minutes() != 1440 {
		t.Errorf("expected 24:00 to parse as 1440, got %d (%v)", end.Minutes(), err)
	}
	for _, bad := range []string{"9am", "25:00", "12:60", ""} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestAt_UsesZoneOffset(t *testing.T) {
	loc, err := Load("America/New_York")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	winter := At(Date{2024, time.January, 8}, ClockTime{Hour: 9}, loc)
	if !winter.Equal(time.Date(2024, 1, 8, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("winter 09:00 NY should be 14:00Z, got %s", winter.UTC())
	}
	summer := At(Date{2024, time.July, 8}, ClockTime{Hour: 9}, loc)
	if !summer.Equal(time.Date(2024, 7, 8, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("summer 09:00 NY should be 13:00Z, got %s", summer.UTC())
	}
}
