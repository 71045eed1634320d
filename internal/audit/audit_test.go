package audit

import (
	"testing"
	"time"
)

func TestRecordOrderAndIDs(t *testing.T) {
	l := New(10)
	id1 := l.Record("A", "first", nil)
	id2 := l.Record("B", "second", nil)
	if id2 <= id1 {
		t.Fatalf("ids not monotonic: %d then %d", id1, id2)
	}

	got := l.Recent(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Type != "B" || got[1].Type != "A" {
		t.Fatalf("expected newest first, got %+v", got)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	l := New(5)
	for i := 0; i < 8; i++ {
		l.Record("TICK", "msg", i)
	}
	if l.Len() != 5 {
		t.Fatalf("expected 5 retained entries, got %d", l.Len())
	}
	got := l.Recent(0)
	if got[0].Data != 7 || got[4].Data != 3 {
		t.Fatalf("unexpected retained window: %+v", got)
	}
}

func TestRecentLimit(t *testing.T) {
	l := New(100)
	for i := 0; i < 20; i++ {
		l.Record("E", "m", nil)
	}
	if got := l.Recent(5); len(got) != 5 {
		t.Fatalf("expected 5, got %d", len(got))
	}
	if got := l.Recent(500); len(got) != 20 {
		t.Fatalf("expected all 20, got %d", len(got))
	}
}

func TestSeedContinuesIDs(t *testing.T) {
	l := New(10)
	l.Seed([]Entry{
		{ID: 41, Timestamp: time.Now(), Type: "OLD", Message: "restored"},
		{ID: 7, Timestamp: time.Now(), Type: "OLD", Message: "older"},
	})
	id := l.Record("NEW", "fresh", nil)
	if id <= 41 {
		t.Fatalf("seeded id not respected: got %d", id)
	}
	got := l.Recent(0)
	if got[0].Type != "NEW" || len(got) != 3 {
		t.Fatalf("unexpected entries after seed: %+v", got)
	}
}

func TestWithNow(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(10, WithNow(func() time.Time { return fixed }))
	l.Record("E", "m", nil)
	if got := l.Recent(1)[0].Timestamp; !got.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", got, fixed)
	}
}
