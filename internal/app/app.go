package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recon_automation/backfill"
	"recon_automation/internal/config"
	"recon_automation/internal/events"
	"recon_automation/internal/httpapi"
	"recon_automation/internal/jobs"
	"recon_automation/internal/lifecycle"
	"recon_automation/internal/metrics"
	"recon_automation/internal/notify"
	"recon_automation/internal/pipeline"
	"recon_automation/internal/recon"
	"recon_automation/internal/store"
	"recon_automation/internal/watch"
)

// App wires the data plane components together.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *store.Store
	metrics  *metrics.Metrics
	bus      *events.Bus
	notifier notify.Notifier
	areas    map[string]*lifecycle.Manager
	mux      *http.ServeMux
	ready    chan struct{}
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if st.Driver() == "sqlite" {
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}

	loadAreas, updateAreas := cfg.Areas(cfg.Load.Name), cfg.Areas(cfg.Update.Name)
	if err := lifecycle.EnsureLayout(loadAreas, updateAreas); err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		metrics:  metrics.New(),
		bus:      events.NewBus(0),
		notifier: notify.NewRouter(cfg, logger),
		areas: map[string]*lifecycle.Manager{
			cfg.Load.Name:   lifecycle.New(loadAreas, logger),
			cfg.Update.Name: lifecycle.New(updateAreas, logger),
		},
		mux:   http.NewServeMux(),
		ready: make(chan struct{}),
	}
	httpapi.NewRouter(cfg, st, a.bus, a.metrics, logger).Register(a.mux)
	return a, nil
}

func (a *App) Close() error {
	return a.store.Close()
}

// Updater builds the reconciliation pass over every active vendor.
func (a *App) Updater() *recon.Updater {
	return &recon.Updater{
		Store:      a.store,
		DropOffDir: a.cfg.DropOffDir,
		PaymentDir: a.cfg.PaymentReconDir,
		Vendors:    a.cfg.ActiveVendors(),
		Procedures: a.cfg.Procedures,
		Logger:     a.logger.Named("recon"),
	}
}

// Runner builds the runner for one process.
func (a *App) Runner(process string) (*jobs.Runner, error) {
	p, err := a.cfg.Process(process)
	if err != nil {
		return nil, err
	}
	lc := a.areas[p.Name]
	var action jobs.Action
	switch p.Name {
	case a.cfg.Load.Name:
		action = pipeline.LoadAction(a.store, lc, a.logger.Named("load"))
	default:
		action = pipeline.UpdateAction(a.Updater(), lc)
	}
	return jobs.NewRunner(jobs.Options{
		Process:       p.Name,
		LogDir:        lc.Areas().Log,
		Action:        action,
		Notifier:      a.notifier,
		NotifyTimeout: a.cfg.Notify.Timeout(),
		Metrics:       a.metrics,
		Bus:           a.bus,
		Logger:        a.logger,
	}), nil
}

// Watch runs the watchers of the named processes, plus the ops HTTP server
// when a port is configured, until ctx is cancelled or one of them fails.
func (a *App) Watch(ctx context.Context, processes ...string) error {
	var watchers []*watch.Watcher
	for _, name := range processes {
		p, err := a.cfg.Process(name)
		if err != nil {
			return err
		}
		runner, err := a.Runner(p.Name)
		if err != nil {
			return err
		}
		handle := func(ctx context.Context, path string) { runner.Run(ctx, path) }
		w, err := watch.New(a.areas[p.Name].Areas().Input, p.Pattern, p.Settle(), handle, a.logger.With(zap.String("process", p.Name)))
		if err != nil {
			return err
		}
		watchers = append(watchers, w)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range watchers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	go func() {
		for _, w := range watchers {
			select {
			case <-w.Ready():
			case <-gctx.Done():
				return
			}
		}
		close(a.ready)
	}()
	if a.cfg.HTTPPort != "" {
		g.Go(func() error { return a.serve(gctx) })
	}
	return g.Wait()
}

// Ready is closed once every watcher started by Watch is active.
func (a *App) Ready() <-chan struct{} { return a.ready }

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	a.logger.Info("http listening", zap.String("addr", a.cfg.HTTPPort))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Replayer returns the batch loader of the load process.
func (a *App) Replayer() *pipeline.Replayer {
	return pipeline.NewReplayer(a.areas[a.cfg.Load.Name], a.store, a.logger.Named("replay"))
}

// RefreshStaging copies the vendor reports into the load staging area.
func (a *App) RefreshStaging() (int, error) {
	return a.areas[a.cfg.Load.Name].CopyReports(a.cfg.ReportDir, a.cfg.ActiveVendors())
}

// Replay optionally refreshes staging, then reloads it oldest first.
func (a *App) Replay(ctx context.Context, opts pipeline.ReplayOptions, refresh bool, onDone func(backfill.Record)) (backfill.Summary, error) {
	if refresh {
		n, err := a.RefreshStaging()
		if err != nil {
			return backfill.Summary{}, err
		}
		a.logger.Info("staging refreshed", zap.Int("reports", n))
	}
	return a.Replayer().Run(ctx, opts, onDone)
}

// Reset returns one process to a clean state. For the load process it
// returns the number of reports copied into staging.
func (a *App) Reset(ctx context.Context, process string) (int, error) {
	p, err := a.cfg.Process(process)
	if err != nil {
		return 0, err
	}
	lc := a.areas[p.Name]
	if p.Name == a.cfg.Load.Name {
		return pipeline.ResetLoad(ctx, lc, a.store, a.cfg.ReportDir, a.cfg.ActiveVendors())
	}
	if err := pipeline.ResetUpdate(lc); err != nil {
		return 0, fmt.Errorf("reset %s: %w", p.Name, err)
	}
	return 0, nil
}

func (a *App) Store() *store.Store { return a.store }
func (a *App) Bus() *events.Bus { return a.bus }
func (a *App) Config() config.Config { return a.cfg }
func (a *App) SetNotifier(n notify.Notifier) { a.notifier = n }
