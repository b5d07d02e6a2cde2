package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"lixiwatch/internal/config"
	"lixiwatch/internal/dedup"
	"lixiwatch/internal/eventbus"
	"lixiwatch/internal/history"
	"lixiwatch/internal/httpapi"
	"lixiwatch/internal/identity"
	"lixiwatch/internal/inbox"
	"lixiwatch/internal/ledger"
	"lixiwatch/internal/poller"
	"lixiwatch/internal/reconcile"
	"lixiwatch/internal/runtime/supervisor"
	"lixiwatch/internal/storage"
	logx "lixiwatch/pkg/logx"
)

// Options overrides the ledger adapters built from config. Nil fields use
// the JSON-RPC client.
type Options struct {
	Source   reconcile.Source
	Balances ledger.BalanceReader
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	viewer    *identity.Static
	rec       *reconcile.Service
	balances  *ledger.BalanceCache
	api       *httpapi.Server
	hasLedger bool

	pollMu       sync.Mutex
	poll         *poller.Handle
	pollInterval time.Duration
}

func NewApp(cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return newApp(cfgm, cfg, opt)
}

func newApp(cfgm *config.Manager, cfg *config.Config, opt Options) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", mapStorageConfig(cfg).Driver))

	src, balances := opt.Source, opt.Balances
	if src == nil || balances == nil {
		if strings.TrimSpace(cfg.Ledger.RPCURL) != "" {
			client, err := ledger.NewRPCClient(mapRPCConfig(cfg), log.With(logx.String("comp", "rpc")))
			if err != nil {
				_ = store.Close()
				_ = logSvc.Close()
				return nil, err
			}
			if src == nil {
				src = ledger.NewSource(client, cfg.Ledger.QueryLimit, log.With(logx.String("comp", "source")))
			}
			if balances == nil {
				balances = client
			}
		}
	}

	bus := eventbus.New()
	viewer := identity.NewStatic(mapViewer(cfg))

	rec := reconcile.New(reconcile.Deps{
		Source:   src,
		Tags:     mapEventTypes(cfg),
		Seen:     dedup.New(store, cfg.Limits.Seen, log),
		Inbox:    inbox.New(store, inbox.Options{Cap: cfg.Limits.Notifications, Log: log}),
		History:  history.New(store, history.Options{Cap: cfg.Limits.History, Log: log}),
		Identity: viewer,
		Bus:      bus,
		Log:      log,
		Currency: cfg.Ledger.Currency,
	})

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		viewer:    viewer,
		rec:       rec,
		hasLedger: src != nil,
	}
	if balances != nil {
		a.balances = ledger.NewBalanceCache(balances, cfg.Ledger.CoinType, cfg.BalanceTTL())
	}

	apiDeps := httpapi.Deps{
		Reconciler:     rec,
		Session:        viewer,
		Bus:            bus,
		Status:         a.workerStatus,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            log,
	}
	if a.balances != nil {
		apiDeps.Balances = a.balances
	}
	a.api = httpapi.New(apiDeps)
	return a, nil
}

func (a *App) Reconciler() *reconcile.Service { return a.rec }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Viewer() *identity.Static        { return a.viewer }
func (a *App) API() *httpapi.Server            { return a.api }

func (a *App) workerStatus() supervisor.Status {
	if a.sup == nil {
		return supervisor.Status{}
	}
	return a.sup.Status()
}

// Done is closed when the app is stopping.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	cfg := a.cfgm.Get()

	a.rec.Load(a.sup.Context())

	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if next.Poller.Enabled && !a.hasLedger {
			return errors.New("poller cannot be enabled without ledger.rpc_url at startup")
		}
		return nil
	})

	if cfg.Poller.Enabled {
		if !a.hasLedger {
			return errors.New("poller enabled but no ledger source is configured")
		}
		a.startPoller(cfg.PollInterval())
	} else {
		a.log.Info("poller disabled")
	}

	if cfg.HTTP.Enabled {
		addr := cfg.HTTPAddr()
		a.sup.GoRestart("http.api", func(c context.Context) error {
			return a.api.Run(c, addr)
		}, time.Second, 30*time.Second)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		a.logEvents(c, events)
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("poller", cfg.Poller.Enabled),
		logx.Bool("http", cfg.HTTP.Enabled),
		logx.Int("event_types", len(mapEventTypes(cfg))))
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Topic {
			case eventbus.StorageDegraded:
				a.log.Warn("storage degraded, state kept in memory", logx.Any("health", e.Data))
			case eventbus.TickCompleted:
			default:
				a.log.Debug("event", logx.String("topic", string(e.Topic)), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) startPoller(interval time.Duration) {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	a.startPollerLocked(interval)
}

func (a *App) startPollerLocked(interval time.Duration) {
	a.poll = poller.Start(a.sup.Context(), interval, a.rec.Tick, a.log)
	a.pollInterval = interval
}

// stopPollerLocked cancels the poller and waits for an in-flight tick.
func (a *App) stopPollerLocked(ctx context.Context) {
	if a.poll == nil {
		return
	}
	a.poll.Cancel()
	if err := a.poll.Wait(ctx); err != nil {
		a.log.Warn("poller stop timed out", logx.Err(err))
	}
	a.poll = nil
	a.pollInterval = 0
}

// PollerRunning reports whether the poller is active and at what interval.
func (a *App) PollerRunning() (bool, time.Duration) {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	return a.poll != nil, a.pollInterval
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, next)
			lastApplied = next
		}
	}
}

// applyConfig moves the running app from prev to next. Storage, HTTP and
// limit changes only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogConfig(next))
	}

	if slices.Contains(sections, "viewer") {
		if a.viewer.Set(mapViewer(next)) {
			a.bus.Publish(eventbus.Event{Topic: eventbus.ViewerChanged, Data: a.viewer.Current()})
		}
	}

	if slices.Contains(sections, "ledger") {
		a.rec.SetTags(mapEventTypes(next))
	}

	if slices.Contains(sections, "poller") || slices.Contains(sections, "ledger") {
		a.applyPoller(ctx, next)
	}

	if config.RequiresRestart(sections) {
		a.log.Warn("some config changes need a restart to take effect", logx.Strings("sections", sections))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyPoller(ctx context.Context, next *config.Config) {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()

	want := next.Poller.Enabled && a.hasLedger
	interval := next.PollInterval()
	switch {
	case !want && a.poll != nil:
		a.log.Info("poller disabled via config")
		a.stopPollerLocked(ctx)
	case want && a.poll == nil:
		a.log.Info("poller enabled via config")
		a.startPollerLocked(interval)
	case want && a.pollInterval != interval:
		a.log.Info("poller interval changed", logx.Duration("interval", interval))
		a.stopPollerLocked(ctx)
		a.startPollerLocked(interval)
	}
}

// Stop halts polling, waits for supervised goroutines and closes storage.
// State already recorded stays recorded.
func (a *App) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.pollMu.Lock()
	a.stopPollerLocked(stopCtx)
	a.pollMu.Unlock()

	var errs []error
	if a.sup != nil {
		if err := a.sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	a.log.Info("app stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
