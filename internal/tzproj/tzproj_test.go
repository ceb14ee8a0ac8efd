package tzproj

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	appLog "ferdy/internal/log"
)

func newProjector(t *testing.T) *Projector {
	t.Helper()
	p, err := New("Pacific/Auckland", "Australia/Sydney")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestToLocalRoundTrip(t *testing.T) {
	t.Parallel()
	p := newProjector(t)

	zones := []string{"Pacific/Auckland", "America/New_York", "Europe/London", "Asia/Kolkata", "UTC"}
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, tz := range zones {
		// Step by 7h13m across a year to hit both sides of every DST switch.
		for instant := start; instant.Before(start.AddDate(1, 0, 0)); instant = instant.Add(7*time.Hour + 13*time.Minute) {
			local, used := p.ToLocal(instant, tz)
			if used != tz {
				t.Fatalf("zone = %s, want %s", used, tz)
			}
			back, err := p.FromLocal(local, tz)
			if err != nil {
				t.Fatalf("FromLocal(%q): %v", local, err)
			}
			if !back.Equal(instant) {
				// Ambiguous wall clocks (DST fall-back hour) may legitimately
				// resolve to the other instant with the same rendering.
				again, _ := p.ToLocal(back, tz)
				if again != local {
					t.Fatalf("%s: %v -> %q -> %v", tz, instant, local, back)
				}
			}
		}
	}
}

func TestToLocalHonoursDaylightSaving(t *testing.T) {
	t.Parallel()
	p := newProjector(t)

	// NZDT (+13) in January, NZST (+12) in July.
	summer, _ := p.ToLocal(time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), "Pacific/Auckland")
	winter, _ := p.ToLocal(time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC), "Pacific/Auckland")
	if summer != "2024-01-15T13:00:00" {
		t.Fatalf("summer = %s", summer)
	}
	if winter != "2024-07-15T12:00:00" {
		t.Fatalf("winter = %s", winter)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	t.Parallel()
	p := newProjector(t)

	for _, tz := range []string{"", "  ", "Mars/Olympus_Mons"} {
		name, loc := p.Resolve(tz)
		if name != "Pacific/Auckland" || loc.String() != "Pacific/Auckland" {
			t.Fatalf("Resolve(%q) = %s", tz, name)
		}
	}
}

func TestReportingUsesFixedZone(t *testing.T) {
	t.Parallel()
	p := newProjector(t)
	got := p.Reporting(time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC))
	if got != "2024-07-01T10:00:00" {
		t.Fatalf("Reporting = %s", got)
	}
	if p.ReportingTZ() != "Australia/Sydney" {
		t.Fatalf("ReportingTZ = %s", p.ReportingTZ())
	}
}

func TestAtBuildsLocalInstant(t *testing.T) {
	t.Parallel()
	p := newProjector(t)
	day := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	got := p.At(day, 10, 30, "Pacific/Auckland")
	want := time.Date(2024, time.March, 3, 21, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("At = %v, want %v", got, want)
	}
}

func TestTargetMonth(t *testing.T) {
	t.Parallel()
	loc, _ := time.LoadLocation("Pacific/Auckland")
	// Local 1 March is still February in UTC.
	got := TargetMonth(time.Date(2024, time.March, 1, 9, 0, 0, 0, loc))
	if !got.Equal(time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("TargetMonth = %v", got)
	}
}

func TestNewRejectsUnknownZones(t *testing.T) {
	t.Parallel()
	if _, err := New("Nowhere/Nothing", ""); err == nil {
		t.Fatal("expected error for unknown default zone")
	}
	if _, err := New("UTC", "Nowhere/Nothing"); err == nil {
		t.Fatal("expected error for unknown reporting zone")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	h, m, err := ParseTimeOfDay("09:45")
	if err != nil || h != 9 || m != 45 {
		t.Fatalf("ParseTimeOfDay = %d:%d, %v", h, m, err)
	}
	h, m, err = ParseTimeOfDay("18:05:59")
	if err != nil || h != 18 || m != 5 {
		t.Fatalf("ParseTimeOfDay = %d:%d, %v", h, m, err)
	}
	if _, _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}

// Not parallel: it swaps the process-wide log output.
func TestUnknownZoneIsLoggedOncePerName(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf, true)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr, false) })

	p := newProjector(t)
	instant := time.Date(2024, time.June, 3, 22, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, used := p.ToLocal(instant, "Mars/Olympus"); used != "Pacific/Auckland" {
			t.Fatalf("zone = %s, want fallback", used)
		}
	}
	p.Resolve("Moon/Tranquility")
	p.Resolve("Moon/Tranquility")

	if got := strings.Count(buf.String(), "unknown timezone"); got != 2 {
		t.Fatalf("warnings = %d, want one per unknown name\n%s", got, buf.String())
	}
	if !strings.Contains(buf.String(), "Mars/Olympus") || !strings.Contains(buf.String(), "Moon/Tranquility") {
		t.Fatalf("log = %s", buf.String())
	}
}
