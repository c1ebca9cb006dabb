package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"herald/internal/anchor"
	"herald/internal/calendar"
	"herald/internal/config"
	"herald/internal/dispatch"
	"herald/internal/eventbus"
	"herald/internal/messages"
	"herald/internal/metrics"
	"herald/internal/observability/debugsrv"
	"herald/internal/reconcile"
	rtsup "herald/internal/runtime/supervisor"
	"herald/internal/storage"
	"herald/internal/task/engine"
	"herald/internal/task/scheduler"
	"herald/internal/tracker"
	logx "herald/pkg/logx"
	"herald/pkg/systemd"
)

// Options are command-line overrides.
type Options struct {
	DryRun bool
}

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	dur  config.Durations

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine     *engine.Service
	sched      *scheduler.Service
	tracker    *tracker.Tracker
	disp       dispatch.Dispatcher
	defaultApp dispatch.Transport
	recon      *reconcile.Loop
	metrics    *metrics.Metrics
	debug      *debugsrv.Service

	sup *rtsup.Supervisor

	reloadMu sync.Mutex
	msgs     []messages.Message
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	dur, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(LogConfig(cfg))
	cfgm.SetLogger(log)

	fail := func(err error) (*App, error) {
		_ = logs.Close()
		return nil, err
	}

	bus := eventbus.New()
	store, err := OpenStore(cfg, dur, log)
	if err != nil {
		return fail(err)
	}
	gopts, err := GoogleOptions(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	finder, err := NewFinder(ctx, cfg, gopts, log)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	disp, err := NewDispatcher(ctx, cfg, gopts, store, bus, log, opts.DryRun)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}

	a := assemble(cfg, dur, log, bus, store, disp, finder)
	a.cfgm = cfgm
	a.logs = logs
	if opts.DryRun || cfg.Dispatch.DryRun {
		log.Info("dry run: messages are logged, not sent")
	}
	return a, nil
}

// assemble wires the scheduling core around the given collaborators.
func assemble(cfg *config.Config, dur config.Durations, log logx.Logger, bus eventbus.Bus, store storage.Store, disp dispatch.Dispatcher, finder calendar.Finder) *App {
	def, _ := dispatch.ParseTransport(cfg.Dispatch.DefaultApp, dispatch.TransportSlack)
	a := &App{
		cfg:        cfg,
		dur:        dur,
		log:        log.With(logx.String("comp", "app")),
		bus:        bus,
		store:      store,
		disp:       disp,
		defaultApp: def,
		tracker:    tracker.New(store, log),
		metrics:    metrics.New(),
	}
	a.engine = engine.New(engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: dur.DefaultTimeout,
		MaxQueueDelay:  dur.MisfireGrace,
		HistorySize:    cfg.TaskEngine.HistorySize,
	}, log, bus)
	a.sched = scheduler.New(scheduler.Config{
		Timezone:     cfg.Scheduler.Timezone,
		MisfireGrace: dur.MisfireGrace,
		JobTimeout:   dur.DefaultTimeout,
	}, store, a.engine, a.runJob, log, bus)
	resolver := anchor.NewResolver(finder, a.tracker, calendarJobs{a}, log)
	a.recon = reconcile.New(resolver, log, bus)
	a.debug = debugsrv.New(debugConfig(cfg), debugsrv.Sources{
		Gatherer: a.metrics.Registry,
		Health:   a.health,
		Jobs:     func() any { return a.sched.Snapshot() },
	}, log)
	return a
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) health() error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	if a.engine.Supervisor() == nil {
		return errors.New("task engine not running")
	}
	return nil
}

// Start restores persisted jobs, loads messages and starts every loop. A
// broken messages file fails startup.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	a.engine.Start(runCtx)
	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	if err := a.sched.AddEvery("reconcile", a.cfg.Scheduler.ReconcileInterval, 0, a.recon.Tick); err != nil {
		return fmt.Errorf("scheduler.reconcile_interval: %w", err)
	}
	if err := a.sched.AddEvery("metrics.jobs", "1m", 5*time.Second, func(context.Context) error {
		a.refreshJobGauge()
		return nil
	}); err != nil {
		return err
	}

	msgs, err := messages.Load(a.cfg.Messages.Path)
	if err != nil {
		return err
	}
	if err := a.ScheduleFromConfig(runCtx, msgs); err != nil {
		return err
	}

	if a.cfg.Debug.Enabled {
		a.debug.Start(runCtx)
	}
	if a.cfg.Messages.Watch {
		a.sup.Go("messages.watch", func(c context.Context) error {
			return config.WatchPath(c, a.cfg.Messages.Path, a.log, func() {
				_, _ = systemd.Reloading()
				_ = a.Reload(c)
				_, _ = systemd.Ready()
			})
		})
	}
	if a.cfgm != nil {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c, func(old, cur *config.Config) { a.applyConfig(c, old, cur) })
		})
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, func() bool { return a.health() == nil })
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Any("err", err))
	}
	_, _ = systemd.Status(fmt.Sprintf("%d jobs", len(a.sched.Jobs())))
	a.log.Info("herald started", logx.String("timezone", a.cfg.Scheduler.Timezone), logx.String("db", a.cfg.Scheduler.DBPath))
	return nil
}

// applyConfig handles a config file change. Logging and the debug listener
// change live; other sections need a restart.
func (a *App) applyConfig(ctx context.Context, old, cur *config.Config) {
	sections, attrs := config.SummarizeChange(old, cur)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if a.logs != nil {
		a.logs.Apply(LogConfig(cur))
	}
	a.debug.Reconfigure(ctx, debugConfig(cur))

	var cold []string
	for _, s := range sections {
		if !config.HotSections[s] {
			cold = append(cold, s)
		}
	}
	if len(cold) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(cold, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each step is bounded so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Any("err", err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Triggers first, then let in-flight dispatches finish.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
