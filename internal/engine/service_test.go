package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"statusloop/internal/audit"
	"statusloop/internal/clock"
	"statusloop/internal/dispatch"
	"statusloop/internal/schedule"
	"statusloop/internal/store"

	logx "statusloop/pkg/logx"
)

type countingDeliverer struct {
	mu    sync.Mutex
	calls []string
}

func (d *countingDeliverer) Deliver(ctx context.Context, target string, c dispatch.Content) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, target)
	return nil
}

func (d *countingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestService(t *testing.T, state *schedule.State, at time.Time) (*Service, *countingDeliverer, store.Store) {
	t.Helper()
	d := &countingDeliverer{}
	disp := dispatch.New(dispatch.Config{}, d, logx.Nop())
	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	svc := New(Config{Targets: []string{"A", "B"}}, state, disp, audit.New(audit.DefaultCapacity), st, &clock.Fixed{T: at}, logx.Nop())
	return svc, d, st
}

func oneDaySchedule(postTime string) []schedule.Day {
	return []schedule.Day{
		{Number: 1, Posts: []schedule.Post{{Time: postTime, Type: schedule.ContentText, Text: "bom dia"}}},
	}
}

func TestTickFiresDuePostOnce(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := schedule.NewState(oneDaySchedule("09:05"), true, anchor)
	svc, d, st := newTestService(t, state, now)

	svc.tick(context.Background(), now)
	if d.count() != 2 {
		t.Fatalf("deliveries = %d, want one per target", d.count())
	}
	snap := state.Snapshot()
	if !snap.Days[0].Posts[0].SentToday {
		t.Fatalf("post not marked sent")
	}

	// Same minute again: the flag suppresses a second fan-out.
	svc.tick(context.Background(), now)
	if d.count() != 2 {
		t.Fatalf("post fired twice: %d deliveries", d.count())
	}

	// The dispatch persisted the flag.
	rec, err := st.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !rec.Schedule[0].Posts[0].SentToday || rec.TotalDays != 1 {
		t.Fatalf("persisted record wrong: %+v", rec)
	}
}

func TestTickSkipsDispatchWhileInactive(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := schedule.NewState(oneDaySchedule("09:05"), false, anchor)
	svc, d, _ := newTestService(t, state, now)

	svc.tick(context.Background(), now)
	if d.count() != 0 {
		t.Fatalf("inactive system dispatched %d times", d.count())
	}
	if state.Snapshot().Days[0].Posts[0].SentToday {
		t.Fatalf("inactive system mutated sentToday")
	}
}

func TestTickResolvesCycleDay(t *testing.T) {
	// Two-day cycle anchored 2024-01-01: Jan 15 is day 1 (14 elapsed, even).
	days := []schedule.Day{
		{Number: 1, Posts: []schedule.Post{{Time: "09:05", Type: schedule.ContentText, Text: "day one"}}},
		{Number: 2, Posts: []schedule.Post{{Time: "09:05", Type: schedule.ContentText, Text: "day two"}}},
	}
	now := time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := schedule.NewState(days, true, anchor)
	svc, d, _ := newTestService(t, state, now)

	svc.tick(context.Background(), now)
	if d.count() != 2 {
		t.Fatalf("deliveries = %d", d.count())
	}
	snap := state.Snapshot()
	if !snap.Days[0].Posts[0].SentToday {
		t.Fatalf("day 1 post should have fired")
	}
	if snap.Days[1].Posts[0].SentToday {
		t.Fatalf("day 2 post fired on day 1")
	}
}

func TestMidnightBelongsToEndingDay(t *testing.T) {
	// Cycle anchored Jan 1 with 2 days. The 00:00 tick on Jan 2 fires the
	// midnight slot of day 1, then resets flags for the new day.
	days := []schedule.Day{
		{Number: 1, Posts: []schedule.Post{{Time: "00:00", Type: schedule.ContentText, Text: "late night"}}},
		{Number: 2, Posts: []schedule.Post{{Time: "00:00", Type: schedule.ContentText, Text: "other"}}},
	}
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := schedule.NewState(days, true, anchor)
	svc, d, _ := newTestService(t, state, now)

	svc.tick(context.Background(), now)
	if d.count() != 2 {
		t.Fatalf("deliveries = %d, want the day-1 slot only", d.count())
	}
	// Reset ran after detection: no flag survives into the new day.
	snap := state.Snapshot()
	for _, day := range snap.Days {
		for _, p := range day.Posts {
			if p.SentToday {
				t.Fatalf("flag survived the midnight reset: %+v", p)
			}
		}
	}
}

func TestMidnightResetClearsEarlierFlags(t *testing.T) {
	now := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := schedule.NewState(oneDaySchedule("09:05"), true, anchor)
	state.MarkSent(1, 0, now.Add(-15*time.Hour))
	svc, d, _ := newTestService(t, state, now)

	svc.tick(context.Background(), now)
	if d.count() != 0 {
		t.Fatalf("nothing is due at midnight, got %d deliveries", d.count())
	}
	if state.Snapshot().Days[0].Posts[0].SentToday {
		t.Fatalf("daily reset did not clear the flag")
	}
}

func TestTickAnchorsUnsetCycle(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	state := schedule.NewState(oneDaySchedule("09:05"), true, time.Time{})
	svc, _, st := newTestService(t, state, now)

	svc.tick(context.Background(), now)
	start, ok := state.CycleStart()
	if !ok || clock.DateString(start) != "2024-03-10" {
		t.Fatalf("anchor = %v ok=%v", start, ok)
	}
	rec, err := st.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if rec.CycleStartDate != "2024-03-10" {
		t.Fatalf("anchor not persisted: %q", rec.CycleStartDate)
	}
}

func TestTickWithEmptyScheduleIsDormant(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)
	state := schedule.NewState(nil, true, time.Time{})
	svc, d, _ := newTestService(t, state, now)

	svc.tick(context.Background(), now)
	if d.count() != 0 {
		t.Fatalf("empty schedule dispatched")
	}
}

func TestTestPostDoesNotTouchFlags(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := schedule.NewState(oneDaySchedule("09:05"), true, anchor)
	svc, d, st := newTestService(t, state, now)

	b := svc.TestPost(context.Background(), dispatch.Content{Type: schedule.ContentText, Text: "ping"}, nil)
	if b.SuccessCount != 2 || d.count() != 2 {
		t.Fatalf("test post reached %d targets", b.SuccessCount)
	}
	if state.Snapshot().Days[0].Posts[0].SentToday {
		t.Fatalf("test post set a daily flag")
	}
	if _, err := st.LoadState(context.Background()); err == nil {
		t.Fatalf("test post persisted state")
	}
}

func TestTestPostTargetSubset(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)
	state := schedule.NewState(nil, true, time.Time{})
	svc, d, _ := newTestService(t, state, now)

	b := svc.TestPost(context.Background(), dispatch.Content{Type: schedule.ContentText, Text: "ping"}, []string{"B"})
	if b.SuccessCount != 1 || d.count() != 1 || d.calls[0] != "B" {
		t.Fatalf("subset not honored: %v", d.calls)
	}
}
