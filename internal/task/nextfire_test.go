package task

import (
	"testing"
	"time"
)

func TestNextFire_IntervalFromReference(t *testing.T) {
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := TriggerConfig{Minutes: 30}

	next, ok := NextFire(TriggerInterval, cfg, ref, time.UTC, nil)
	if !ok {
		t.Fatal("expected a next fire")
	}
	if want := ref.Add(30 * time.Minute); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextFire_IntervalPreservesPlannedFuture(t *testing.T) {
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := TriggerConfig{Hours: 1}
	planned := ref.Add(10 * time.Minute)

	next, ok := NextFire(TriggerInterval, cfg, ref, time.UTC, &planned)
	if !ok {
		t.Fatal("expected a next fire")
	}
	if !next.Equal(planned) {
		t.Errorf("next = %v, want preserved %v", next, planned)
	}
}

func TestNextFire_IntervalIgnoresStalePlanned(t *testing.T) {
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := TriggerConfig{Hours: 1}
	stale := ref.Add(-time.Minute)

	next, ok := NextFire(TriggerInterval, cfg, ref, time.UTC, &stale)
	if !ok {
		t.Fatal("expected a next fire")
	}
	if want := ref.Add(time.Hour); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextFire_CronInZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// 2025-06-01 08:59:30 +08:00
	ref := time.Date(2025, 6, 1, 0, 59, 30, 0, time.UTC)
	cfg := TriggerConfig{Expression: "0 9 * * *"}

	next, ok := NextFire(TriggerCron, cfg, ref, loc, nil)
	if !ok {
		t.Fatal("expected a next fire")
	}
	want := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC) // 09:00 +08:00
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
	if next.Location() != time.UTC {
		t.Errorf("next location = %v, want UTC", next.Location())
	}
}

func TestNextFire_CronPreservesPlannedFuture(t *testing.T) {
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := TriggerConfig{Expression: "*/5 * * * *"}
	planned := ref.Add(2 * time.Minute)

	next, ok := NextFire(TriggerCron, cfg, ref, time.UTC, &planned)
	if !ok {
		t.Fatal("expected a next fire")
	}
	if !next.Equal(planned) {
		t.Errorf("next = %v, want preserved %v", next, planned)
	}
}

func TestNextFire_CronStrictlyAfterReference(t *testing.T) {
	// Reference sits exactly on a tick; the next fire must be the following one.
	ref := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cfg := TriggerConfig{Expression: "0 9 * * *"}

	next, ok := NextFire(TriggerCron, cfg, ref, time.UTC, nil)
	if !ok {
		t.Fatal("expected a next fire")
	}
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextFire_CronBadExpression(t *testing.T) {
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, ok := NextFire(TriggerCron, TriggerConfig{Expression: "not a cron"}, ref, time.UTC, nil); ok {
		t.Error("expected no next fire for an unparseable expression")
	}
}

func TestNextFire_Date(t *testing.T) {
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := ref.Add(time.Hour)
	past := ref.Add(-time.Hour)

	next, ok := NextFire(TriggerDate, TriggerConfig{RunDate: &future}, ref, time.UTC, nil)
	if !ok || !next.Equal(future) {
		t.Errorf("future run date: next = %v ok = %v, want %v", next, ok, future)
	}

	if _, ok := NextFire(TriggerDate, TriggerConfig{RunDate: &past}, ref, time.UTC, nil); ok {
		t.Error("past run date: expected no next fire")
	}
	if _, ok := NextFire(TriggerDate, TriggerConfig{RunDate: &ref}, ref, time.UTC, nil); ok {
		t.Error("run date equal to reference: expected no next fire")
	}
	if _, ok := NextFire(TriggerDate, TriggerConfig{}, ref, time.UTC, nil); ok {
		t.Error("missing run date: expected no next fire")
	}
}
