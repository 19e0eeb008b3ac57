package timeutil

import (
	"testing"
	"time"
)

func TestResolveKnownZone(t *testing.T) {
	loc, err := Resolve("Asia/Shanghai")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if loc.String() != "Asia/Shanghai" {
		t.Errorf("zone = %s, want Asia/Shanghai", loc)
	}

	// Second lookup comes from the cache and must agree.
	again, err := Resolve("Asia/Shanghai")
	if err != nil {
		t.Fatalf("cached Resolve failed: %v", err)
	}
	if again != loc {
		t.Errorf("cached location differs from first lookup")
	}
}

func TestResolveBadZoneFallsBackToUTC(t *testing.T) {
	loc, err := Resolve("Not/AZone")
	if err == nil {
		t.Fatal("expected error for bogus zone")
	}
	if loc != time.UTC {
		t.Errorf("fallback zone = %s, want UTC", loc)
	}
}

func TestResolveEmptyUsesHostZone(t *testing.T) {
	loc, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\") failed: %v", err)
	}
	if loc == nil {
		t.Fatal("Resolve(\"\") returned nil location")
	}
}

func TestFormatWire(t *testing.T) {
	ts := time.Date(2025, 6, 1, 1, 0, 0, 500e6, time.UTC)
	got := FormatWire(ts)
	want := "2025-06-01T01:00:00.500Z"
	if got != want {
		t.Errorf("FormatWire = %q, want %q", got, want)
	}
}

func TestParseWireRoundTrip(t *testing.T) {
	ts := time.Date(2025, 10, 9, 14, 0, 0, 0, time.UTC)
	parsed, err := ParseWire(FormatWire(ts))
	if err != nil {
		t.Fatalf("ParseWire failed: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("round trip = %v, want %v", parsed, ts)
	}
}

func TestParseWireAcceptsOffsets(t *testing.T) {
	parsed, err := ParseWire("2025-10-09T14:00:00+08:00")
	if err != nil {
		t.Fatalf("ParseWire failed: %v", err)
	}
	want := time.Date(2025, 10, 9, 6, 0, 0, 0, time.UTC)
	if !parsed.UTC().Equal(want) {
		t.Errorf("parsed = %v, want %v", parsed.UTC(), want)
	}
}

func TestFormatLocal(t *testing.T) {
	sh, err := Resolve("Asia/Shanghai")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	ts := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	got := FormatLocal(ts, sh)
	want := "2025-06-01 09:00:00"
	if got != want {
		t.Errorf("FormatLocal = %q, want %q", got, want)
	}
}
