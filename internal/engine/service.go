// Package engine runs the minute scan: resolve the current cycle day,
// detect due posts, fan them out, mark them sent and persist. A second
// low-frequency trigger flushes state as a crash-safety net.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"statusloop/internal/audit"
	"statusloop/internal/clock"
	"statusloop/internal/dispatch"
	"statusloop/internal/schedule"
	"statusloop/internal/store"

	logx "statusloop/pkg/logx"
)

const midnightMinute = "00:00"

type Config struct {
	Targets   []string
	SaveEvery time.Duration // persistence safety net; default 30s
}

// Service owns the cron triggers. All schedule mutations it performs go
// through the shared *schedule.State mutex, so API mutations and ticks
// never interleave half-applied.
type Service struct {
	mu  sync.Mutex
	cfg Config

	state *schedule.State
	disp  *dispatch.Engine
	aud   *audit.Log
	st    store.Store
	clk   clock.Clock
	log   logx.Logger

	parser    cron.Parser
	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, state *schedule.State, disp *dispatch.Engine, aud *audit.Log, st store.Store, clk clock.Clock, log logx.Logger) *Service {
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		state: state,
		disp:  disp,
		aud:   aud,
		st:    st,
		clk:   clk,
		log:   log,
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply swaps the target set at runtime. A tick already in flight keeps
// the set it started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = s.cfg.SaveEvery
	}
	s.cfg = cfg
}

// Targets returns a copy of the configured delivery target set.
func (s *Service) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cfg.Targets))
	copy(out, s.cfg.Targets)
	return out
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.clk.Location()))
	if _, err := c.AddFunc("* * * * *", func() {
		s.guard("tick", func() { s.tick(runCtx, s.clk.Now()) })
	}); err != nil {
		s.runCancel()
		return fmt.Errorf("register minute scan: %w", err)
	}
	spec := fmt.Sprintf("@every %s", s.cfg.SaveEvery)
	if _, err := c.AddFunc(spec, func() {
		s.guard("flush", func() { _ = s.SaveNow(runCtx) })
	}); err != nil {
		s.runCancel()
		return fmt.Errorf("register flush job: %w", err)
	}
	c.Start()
	s.c = c
	s.log.Info("engine started",
		logx.String("tz", s.clk.Location().String()),
		logx.Int("targets", len(s.cfg.Targets)),
		logx.Duration("save_every", s.cfg.SaveEvery))
	return nil
}

// Stop halts the triggers, waits for an in-flight tick to finish (or
// ctx to expire) and flushes state one last time.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	if err := s.SaveNow(ctx); err != nil {
		s.log.Warn("final flush failed", logx.Err(err))
	}
	s.log.Info("engine stopped")
}

func (s *Service) guard(job string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in engine job",
				logx.String("job", job),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// tick is one minute scan at the civil instant now. Exposed to tests
// through the package boundary only.
func (s *Service) tick(ctx context.Context, now time.Time) {
	minute := clock.Minute(now)

	if s.state.EnsureAnchor(now) {
		s.log.Info("cycle anchored", logx.String("start", clock.DateString(now)))
		_ = s.SaveNow(ctx)
	}

	dirty := false
	if total := s.state.Len(); total > 0 {
		at := now
		if minute == midnightMinute {
			// Midnight is the last slot of the day that just ended.
			at = now.Add(-time.Minute)
		}
		start, ok := s.state.CycleStart()
		if ok {
			info := schedule.ResolveCycle(start, at, total)
			due := s.state.CollectDue(info.DayNumber, minute)
			switch {
			case len(due) == 0:
			case !s.state.Active():
				s.log.Debug("due posts skipped while inactive",
					logx.Int("day", info.DayNumber), logx.Int("due", len(due)))
			default:
				for _, d := range due {
					s.firePost(ctx, d)
				}
				dirty = true
			}
		}
	}

	if minute == midnightMinute {
		s.state.ResetDaily()
		s.aud.Record("DAILY_RESET", "daily sent flags cleared for the new day", nil)
		dirty = true
	}
	if dirty {
		_ = s.SaveNow(ctx)
	}
}

// firePost fans one due post out and marks it sent regardless of the
// per-target outcomes, so a partially-failed minute is never retried
// within the same day.
func (s *Service) firePost(ctx context.Context, d schedule.Due) {
	s.aud.Record("SCHEDULED_POST_START",
		fmt.Sprintf("sending scheduled post - day %d at %s", d.DayNumber, d.Post.Time), d.Post)

	b := s.disp.Send(ctx, dispatch.Content{
		Type:     d.Post.Type,
		Text:     d.Post.Text,
		MediaURL: d.Post.MediaURL,
	}, s.Targets())

	s.state.MarkSent(d.DayNumber, d.Index, s.clk.Now())
	s.recordResults(b)
	s.aud.Record("SCHEDULED_POST_COMPLETE",
		fmt.Sprintf("post finished - %d succeeded, %d failed", b.SuccessCount, b.FailureCount),
		map[string]any{"batch": b.ID, "successCount": b.SuccessCount, "failureCount": b.FailureCount})
}

// TestPost runs the manual delivery path: always serial, never touches
// sentToday flags and never persists.
func (s *Service) TestPost(ctx context.Context, c dispatch.Content, targets []string) dispatch.Batch {
	if len(targets) == 0 {
		targets = s.Targets()
	}
	s.aud.Record("TEST_POST_START",
		fmt.Sprintf("manual test post to %d targets", len(targets)), nil)
	b := s.disp.SendMode(ctx, dispatch.ModeSerial, c, targets)
	s.recordResults(b)
	s.aud.Record("TEST_POST_COMPLETE",
		fmt.Sprintf("test finished - %d succeeded, %d failed", b.SuccessCount, b.FailureCount), nil)
	return b
}

func (s *Service) recordResults(b dispatch.Batch) {
	for _, r := range b.Results {
		switch r.Status {
		case dispatch.StatusSuccess:
			s.aud.Record("STATUS_POST_SUCCESS", fmt.Sprintf("status delivered via %s", r.Target), nil)
		case dispatch.StatusFailed:
			s.aud.Record("STATUS_POST_FAILED", fmt.Sprintf("delivery refused by %s: %s", r.Target, r.Error), nil)
		default:
			s.aud.Record("STATUS_POST_ERROR", fmt.Sprintf("delivery error via %s: %s", r.Target, r.Error), nil)
		}
	}
}

// SaveNow writes the schedule state and the audit prefix. Persistence
// failures are reported, never fatal.
func (s *Service) SaveNow(ctx context.Context) error {
	snap := s.state.Snapshot()
	rec := store.StateRecord{
		Schedule:   snap.Days,
		IsActive:   snap.Active,
		TotalDays:  len(snap.Days),
		LastUpdate: s.clk.Now(),
	}
	if !snap.CycleStart.IsZero() {
		rec.CycleStartDate = clock.DateString(snap.CycleStart)
	}
	if err := s.st.SaveState(ctx, rec); err != nil {
		s.log.Warn("state save failed", logx.Err(err))
		s.aud.Record("SCHEDULE_SAVE_ERROR", "failed to save schedule state: "+err.Error(), nil)
		return err
	}
	logs := store.LogRecord{Logs: s.aud.PersistPrefix(), LastUpdate: s.clk.Now()}
	if err := s.st.SaveLogs(ctx, logs); err != nil {
		s.log.Warn("log save failed", logx.Err(err))
		return err
	}
	return nil
}
