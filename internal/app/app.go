// Package app wires configuration, logging, storage, the catalog, the fleet
// engine and the HTTP API into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"shelfbot/internal/catalog"
	"shelfbot/internal/config"
	"shelfbot/internal/eventbus"
	"shelfbot/internal/fleet/engine"
	"shelfbot/internal/httpapi"
	"shelfbot/internal/metrics"
	"shelfbot/internal/runtime/supervisor"
	"shelfbot/internal/storage"
	logx "shelfbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	catalog *catalog.Catalog
	engine  *engine.Service

	autosave *cron.Cron
	http     *httpapi.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	sysLog := log.Scope(logx.ScopeSystem)

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		sysLog.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	eng := engine.New(engCfg, log.With(logx.String("comp", "fleet")), bus)
	cat := catalog.New(mapCatalogConfig(cfg), log.With(logx.String("comp", "catalog")))

	restored := false
	if store != nil {
		st, ok, err := store.LoadState(context.Background())
		if err != nil {
			closeStore(store)
			return nil, fmt.Errorf("load state: %w", err)
		}
		if ok {
			restored, err = restore(st, cat, eng, batteryThreshold(cfg))
			if err != nil {
				closeStore(store)
				return nil, fmt.Errorf("restore state: %w", err)
			}
			sysLog.Info("state restored",
				logx.Time("saved_at", st.SavedAt),
				logx.Int("robots", len(st.Robots)),
				logx.Int("books", len(st.Books)),
			)
		}
	}
	if !restored {
		if err := seed(cfg, cat, eng); err != nil {
			closeStore(store)
			return nil, fmt.Errorf("seed from config: %w", err)
		}
	}

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		catalog: cat,
		engine:  eng,
	}

	if cfg.HTTP.Enabled {
		addr := strings.TrimSpace(cfg.HTTP.Addr)
		if addr == "" {
			addr = config.DefaultHTTPAddr
		}
		httpLog := log.With(logx.String("comp", "http"))
		a.http = httpapi.NewServer(addr, httpapi.NewRouter(httpapi.Deps{
			Engine:           eng,
			Catalog:          cat,
			Metrics:          promhttp.HandlerFor(metrics.NewRegistry(eng), promhttp.HandlerOpts{}),
			Log:              httpLog,
			BatteryThreshold: batteryThreshold(cfg),
			Profiler:         cfg.HTTP.Pprof,
		}), httpLog)
	}
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func (a *App) Engine() *engine.Service   { return a.engine }
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// The engine outlives the app context so Stop can give it a grace period.
	if err := a.engine.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, "task.")
		auditLog := a.log.With(logx.String("comp", "audit"))
		a.sup.Go0("audit.record", func(c context.Context) {
			defer unsub()
			recordAudit(c, events, a.store, auditLog)
		})

		if spec := strings.TrimSpace(a.cfg.Catalog.Autosave); !strings.EqualFold(spec, "off") {
			if spec == "" {
				spec = config.DefaultAutosave
			}
			a.autosave = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
			if _, err := a.autosave.AddFunc(spec, func() {
				if err := a.SaveState(a.sup.Context()); err != nil {
					a.log.Warn("autosave failed", logx.Err(err))
				}
			}); err != nil {
				return fmt.Errorf("catalog.autosave: %w", err)
			}
			a.autosave.Start()
		}
	}

	events, unsub := a.bus.Subscribe(128, "charge.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if a.http != nil {
		a.sup.Go("http.serve", a.http.Serve)
	}

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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Bool("http", a.http != nil), logx.Bool("storage", a.store != nil))
	return nil
}

// applyConfig applies live sections and warns about the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	var restart []string
	for _, s := range sections {
		if !config.LiveSections[s] {
			restart = append(restart, s)
		}
	}
	a.logs.Apply(mapLogConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
}

// SaveState persists the catalog and fleet roster.
func (a *App) SaveState(ctx context.Context) error {
	if a.store == nil {
		return storage.ErrDisabled
	}
	st := toState(a.catalog.Export(), a.engine.Robots(), a.engine.Stations())
	return a.store.SaveState(ctx, st)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.http != nil {
		step("http", 5*time.Second, a.http.Shutdown)
	}
	if a.autosave != nil {
		step("autosave", 5*time.Second, func(c context.Context) error {
			select {
			case <-a.autosave.Stop().Done():
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
	}
	grace := engine.DefaultShutdownTimeout
	if d, err := a.cfg.Fleet.Durations(); err == nil && d.ShutdownTimeout > 0 {
		grace = d.ShutdownTimeout
	}
	step("engine", grace+5*time.Second, a.engine.Stop)
	if a.store != nil {
		step("state.save", 5*time.Second, a.SaveState)
	}

	// The audit recorder flushes buffered events once its context is cancelled.
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped", logx.Uint64("events_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
