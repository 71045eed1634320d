// Package app wires the daemon together: config, logging, storage,
// schedule state, dispatch, the tick engine and the control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"statusloop/internal/api"
	"statusloop/internal/audit"
	"statusloop/internal/clock"
	"statusloop/internal/config"
	"statusloop/internal/delivery"
	"statusloop/internal/dispatch"
	"statusloop/internal/engine"
	"statusloop/internal/schedule"
	"statusloop/internal/store"

	"statusloop/pkg/daemon"
	logx "statusloop/pkg/logx"
)

// APIKeyEnv names the environment variable the gateway key may come
// from instead of the config file.
const APIKeyEnv = "GATEWAY_API_KEY"

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	clk    clock.Clock
	st     store.Store
	state  *schedule.State
	aud    *audit.Log
	gw     *delivery.Client
	disp   *dispatch.Engine
	eng    *engine.Service
	srv    *api.Server

	sup   *Supervisor
	cfgCh chan *config.Config
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, root := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(root.With(logx.String("comp", "config")))

	clk, err := clock.NewSystem(cfg.Timezone())
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("timezone: %w", err)
	}

	st, err := store.Open(storeConfig(cfg), root.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := loadState(ctx, st, clk, root)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	aud := audit.New(audit.DefaultCapacity)
	if logs, lerr := st.LoadLogs(ctx); lerr == nil {
		aud.Seed(logs.Logs)
	} else if !errors.Is(lerr, store.ErrNotFound) {
		root.Warn("previous logs not restored", logx.Err(lerr))
	}

	apiKey := strings.TrimSpace(cfg.Delivery.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, 15*time.Second)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	gw, err := delivery.New(delivery.Config{
		BaseURL: cfg.Delivery.BaseURL,
		APIKey:  apiKey,
		Timeout: timeout,
	}, root.With(logx.String("comp", "delivery")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	dcfg, err := dispatchConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	disp := dispatch.New(dcfg, gw, root.With(logx.String("comp", "dispatch")))

	ecfg, err := engineConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	eng := engine.New(ecfg, state, disp, aud, st, clk, root.With(logx.String("comp", "engine")))

	srv := api.New(api.Config{
		Addr:       cfg.Server.Addr,
		StaticDir:  cfg.Server.StaticDir,
		GatewayURL: cfg.Delivery.BaseURL,
	}, state, aud, eng, gw, clk, root.With(logx.String("comp", "api")))

	return &App{
		mgr:    mgr,
		logSvc: logSvc,
		log:    root,
		clk:    clk,
		st:     st,
		state:  state,
		aud:    aud,
		gw:     gw,
		disp:   disp,
		eng:    eng,
		srv:    srv,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	// Anchor the cycle before the first tick so day resolution never
	// sees an unset start date.
	if a.state.EnsureAnchor(a.clk.Now()) {
		_ = a.eng.SaveNow(ctx)
	}

	if err := a.eng.Start(ctx); err != nil {
		return err
	}
	if err := a.srv.Start(ctx); err != nil {
		a.eng.Stop(ctx)
		return err
	}

	a.sup = NewSupervisor(ctx, a.log)
	a.sup.GoRestart("config-watch", a.mgr.Watch)
	a.cfgCh = a.mgr.Subscribe(1)
	ch := a.cfgCh
	a.sup.Go("config-apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-ch:
				if !ok {
					return nil
				}
				a.apply(cfg)
			}
		}
	})

	daemon.NotifyReady(a.log)
	a.log.Info("statusloop started",
		logx.String("tz", a.clk.Location().String()),
		logx.Int("days", a.state.Len()),
		logx.Bool("active", a.state.Active()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	daemon.NotifyStopping(a.log)
	var first error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			first = err
		}
	}
	if a.cfgCh != nil {
		a.mgr.Unsubscribe(a.cfgCh)
		a.cfgCh = nil
	}
	a.srv.Stop(ctx)
	a.eng.Stop(ctx)
	if err := a.st.Close(); err != nil && first == nil {
		first = err
	}
	a.log.Info("statusloop stopped")
	_ = a.logSvc.Close()
	return first
}

// apply pushes a validated config reload into the live services. The
// timezone and storage sections need a restart; everything else swaps
// in place.
func (a *App) apply(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	if dcfg, err := dispatchConfig(cfg); err == nil {
		a.disp.Apply(dcfg)
	} else {
		a.log.Warn("dispatch config not applied", logx.Err(err))
	}
	if ecfg, err := engineConfig(cfg); err == nil {
		a.eng.Apply(ecfg)
	} else {
		a.log.Warn("engine config not applied", logx.Err(err))
	}

	if cfg.Timezone() != a.clk.Location().String() {
		a.log.Warn("timezone change requires a restart",
			logx.String("running", a.clk.Location().String()),
			logx.String("configured", cfg.Timezone()))
	}
	a.log.Info("config applied",
		logx.Int("targets", len(cfg.Delivery.Targets)),
		logx.String("mode", cfg.Delivery.Mode))
}

// loadState restores the schedule aggregate, synthesizing the default
// empty cycle on first run or when the stored schedule has no days.
func loadState(ctx context.Context, st store.Store, clk clock.Clock, log logx.Logger) (*schedule.State, error) {
	rec, err := st.LoadState(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("no previous schedule; starting a default cycle",
			logx.Int("days", schedule.DefaultCycleDays))
		return schedule.NewState(schedule.EmptyDays(schedule.DefaultCycleDays), true, time.Time{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule state: %w", err)
	}

	days := rec.Schedule
	if len(days) == 0 {
		days = schedule.EmptyDays(schedule.DefaultCycleDays)
	}
	var anchor time.Time
	if rec.CycleStartDate != "" {
		anchor, err = clock.ParseDate(rec.CycleStartDate, clk.Location())
		if err != nil {
			log.Warn("stored cycle start unreadable; re-anchoring",
				logx.String("value", rec.CycleStartDate), logx.Err(err))
			anchor = time.Time{}
		}
	}
	log.Info("schedule restored",
		logx.Int("days", len(days)),
		logx.Bool("active", rec.IsActive),
		logx.String("cycle_start", rec.CycleStartDate))
	return schedule.NewState(days, rec.IsActive, anchor), nil
}

func storeConfig(cfg *config.Config) store.Config {
	out := store.Config{Driver: "file", Path: "./statusloop_store"}
	if cfg.Storage == nil {
		return out
	}
	if cfg.Storage.Driver != "" {
		out.Driver = cfg.Storage.Driver
	}
	if cfg.Storage.Path != "" {
		out.Path = cfg.Storage.Path
	}
	// Validated at load; a parse failure here keeps the default.
	if d, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err == nil {
		out.BusyTimeout = d
	}
	return out
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, 15*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("delivery.serial_delay", cfg.Delivery.SerialDelay, 200*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Mode:        dispatch.Mode(cfg.Delivery.Mode),
		Timeout:     timeout,
		SerialDelay: delay,
		RatePerSec:  cfg.Delivery.RatePerSec,
	}, nil
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	saveEvery, err := config.ParseDurationOrDefault("engine.save_every", cfg.Engine.SaveEvery, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{Targets: cfg.Delivery.Targets, SaveEvery: saveEvery}, nil
}
