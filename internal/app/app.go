package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/metrics"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *telegram.Adapter
	svc     *Service
	router  *router.Router

	metrics    *metrics.Metrics
	metricsSrv *metrics.Server

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)

	pollTimeout, err := mapPollTimeout(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	conv, err := mapConverter(cfg)
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, conv, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	bc, err := mapBackupConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bk, err := openBackup(ctx, bc, log.With(logx.String("comp", "backup")))
	if err != nil {
		// local-only until the backup is reachable and the app restarts
		appLog.Warn("backup not opened", logx.String("driver", bc.Driver), logx.Err(err))
		bk = nil
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dc, schedCfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	syncCfg, err := mapSyncConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	mc, err := mapMetricsConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	driver := bc.Driver
	if bk == nil {
		driver = "none"
	}
	svc := NewService(Components{
		Conv:         conv,
		Store:        store,
		Backup:       bk,
		Notifier:     ad,
		Members:      ad,
		BackupDriver: driver,
		Engine:       engCfg,
		Scheduler:    schedCfg,
		Delivery:     dc,
		Sync:         syncCfg,
		Log:          log,

		AutoSyncSchedule: cfg.Sync.AutoSyncSchedule,
		Bus:              bus,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg, metrics.Sources{Timers: svc.TimerCount, QueueLen: svc.QueueLen})
	msrv := metrics.NewServer(mc, reg, log.With(logx.String("comp", "metrics")))

	r := router.New(ad, log.With(logx.String("comp", "router")), router.WithAdmins(cfg.Telegram.AdminUserIDs))
	if err := registerCommands(r, svc); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		adapter:    ad,
		svc:        svc,
		router:     r,
		metrics:    m,
		metricsSrv: msrv,
		updates:    make(chan kit.Update, 256),
	}, nil
}

// validate adds the checks that need component packages to config.Validate.
func validate(cfg *config.Config) error {
	errs := []error{config.Validate(cfg)}
	if s := strings.TrimSpace(cfg.Sync.AutoSyncSchedule); s != "" {
		ps, err := scheduler.ParseSchedule(s)
		if err == nil && ps.Kind == scheduler.SpecCron {
			_, err = cron.ParseStandard(ps.Cron)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sync.auto_sync_schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Service exposes the reminder service, mainly for tests and tooling.
func (a *App) Service() *Service { return a.svc }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.svc.Start(run); err != nil {
		return err
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("command menu not updated", logx.Err(err))
		}
	})

	a.sup.Go("metrics.observe", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})
	a.metricsSrv.Start(run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// keep only the latest config of a burst
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes the hot-reloadable sections into the running
// components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, needRestart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(needRestart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(needRestart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.router.SetAdmins(next.Telegram.AdminUserIDs)

	if sc, err := mapSyncConfig(next); err != nil {
		a.log.Warn("invalid sync config; keeping previous", logx.Err(err))
	} else if err := a.svc.ApplySync(sc, next.Sync.AutoSyncSchedule); err != nil {
		a.log.Warn("sync config not applied", logx.Err(err))
	}

	if dc, _, err := mapDeliveryConfig(next); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.svc.ApplyDelivery(dc)
	}

	if mc, err := mapMetricsConfig(next); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.metricsSrv.Reconfigure(ctx, mc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// polling and dispatch unwind first
	a.sup.Cancel()

	// step bounds one shutdown step; it never extends the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// timers, then the queue (in-flight firings still need the adapter), then stores
	step("service", 5*time.Second, a.svc.Stop)
	step("metrics", time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
