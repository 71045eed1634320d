package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "statusloop/pkg/logx"
)

// Deliverer is the external per-target delivery capability. It must
// honor ctx so a timed-out attempt never blocks the batch.
type Deliverer interface {
	Deliver(ctx context.Context, target string, c Content) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, target string, c Content) error

func (f DelivererFunc) Deliver(ctx context.Context, target string, c Content) error {
	return f(ctx, target, c)
}

type Config struct {
	Mode        Mode          // default ModeConcurrent
	Timeout     time.Duration // per-target attempt bound; default 15s
	SerialDelay time.Duration // serial mode inter-attempt delay; default 200ms
	RatePerSec  int           // serial mode limiter; default 5
}

// Engine executes fan-outs against a fixed ordered target set.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	deliverer Deliverer
	log       logx.Logger
	limiter   *rate.Limiter
}

func New(cfg Config, deliverer Deliverer, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{deliverer: deliverer, log: log}
	e.Apply(cfg)
	return e
}

// Apply swaps tuning knobs at runtime. Safe to call concurrently with
// in-flight batches; a running batch keeps its snapshot.
func (e *Engine) Apply(cfg Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SerialDelay <= 0 {
		cfg.SerialDelay = 200 * time.Millisecond
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	e.mu.Unlock()
}

// Send fans c out to targets using the configured mode.
func (e *Engine) Send(ctx context.Context, c Content, targets []string) Batch {
	e.mu.Lock()
	mode := e.cfg.Mode
	e.mu.Unlock()
	return e.SendMode(ctx, mode, c, targets)
}

// SendMode fans c out with an explicit discipline (the manual test
// path always runs serial).
func (e *Engine) SendMode(ctx context.Context, mode Mode, c Content, targets []string) Batch {
	start := time.Now()
	b := Batch{ID: uuid.NewString(), Results: make([]Result, len(targets))}

	e.mu.Lock()
	timeout := e.cfg.Timeout
	delay := e.cfg.SerialDelay
	lim := e.limiter
	e.mu.Unlock()

	switch mode {
	case ModeSerial:
		for i, target := range targets {
			if err := lim.Wait(ctx); err != nil {
				b.Results[i] = Result{Target: target, Status: StatusError, Error: err.Error()}
				continue
			}
			b.Results[i] = e.attempt(ctx, target, c, timeout)
			if i < len(targets)-1 {
				sleep(ctx, delay)
			}
		}
	default:
		var wg sync.WaitGroup
		wg.Add(len(targets))
		for i, target := range targets {
			go func(i int, target string) {
				defer wg.Done()
				b.Results[i] = e.attempt(ctx, target, c, timeout)
			}(i, target)
		}
		wg.Wait()
	}

	for _, r := range b.Results {
		switch r.Status {
		case StatusSuccess:
			b.SuccessCount++
		case StatusFailed:
			b.FailureCount++
		case StatusError:
			b.FailureCount++
			b.ErrorCount++
		}
	}
	b.Took = time.Since(start)

	fields := []logx.Field{
		logx.String("batch", b.ID),
		logx.Int("targets", len(targets)),
		logx.Int("ok", b.SuccessCount),
		logx.Int("failed", b.FailureCount),
		logx.Duration("took", b.Took),
	}
	if b.FailureCount > 0 {
		e.log.Warn("dispatch finished with failures", fields...)
	} else {
		e.log.Info("dispatch finished", fields...)
	}
	return b
}

func (e *Engine) attempt(ctx context.Context, target string, c Content, timeout time.Duration) Result {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := e.deliverer.Deliver(actx, target, c)
	if err == nil {
		return Result{Target: target, Status: StatusSuccess}
	}

	var rej *RemoteRejection
	if errors.As(err, &rej) {
		e.log.Warn("delivery rejected", logx.String("target", target), logx.Err(err))
		return Result{Target: target, Status: StatusFailed, Error: err.Error()}
	}
	e.log.Warn("delivery error", logx.String("target", target), logx.Err(err))
	return Result{Target: target, Status: StatusError, Error: err.Error()}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
