// Package server assembles the engine, its collaborators and all HTTP
// handlers, and runs the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/activity"
	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/config"
	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/event"
	"github.com/matthewbaird/bidconfig/internal/eventbus"
	"github.com/matthewbaird/bidconfig/internal/handler"
	"github.com/matthewbaird/bidconfig/internal/measurement"
	"github.com/matthewbaird/bidconfig/internal/pipeline"
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/seed"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/wire"
)

const (
	eventBufferSize = 256
	cleanupInterval = time.Minute
)

// App holds the assembled engine and the resources it owns.
type App struct {
	Engine   *editor.Engine
	Manager  *editor.Manager
	Bus      *eventbus.Bus
	Activity activity.Store
	Store    store.Store

	logger  *zap.Logger
	closers []func()
}

// Build wires the engine from cfg: the SQLite transaction and activity
// stores, the catalog (Postgres when configured, otherwise the in-memory
// demo catalog), the measurement service or the local calculator, and the
// event bus with its consumers.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{logger: logger}

	sqlStore, err := store.OpenSQLite(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { sqlStore.Close() })
	if err := sqlStore.Migrate(ctx); err != nil {
		app.Close()
		return nil, err
	}
	app.Store = sqlStore

	act := activity.NewSQLStore(sqlStore.DB())
	if err := act.CreateTable(ctx); err != nil {
		app.Close()
		return nil, err
	}
	app.Activity = act

	var cat catalog.Catalog
	if cfg.CatalogDatabaseURL != "" {
		pg, err := catalog.NewPostgresCatalog(ctx, cfg.CatalogDatabaseURL, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, pg.Close)
		if err := seed.Postgres(ctx, pg, logger); err != nil {
			app.Close()
			return nil, err
		}
		cat = pg
		logger.Info("using postgres catalog")
	} else {
		cat = seed.Memory()
		logger.Info("using in-memory demo catalog")
	}

	var m measurement.Measurer
	if cfg.MeasurementURL != "" {
		m = measurement.NewClient(cfg.MeasurementURL,
			measurement.WithTimeout(cfg.Engine.MeasurementTimeout),
			measurement.WithLogger(logger),
		)
		logger.Info("using measurement service", zap.String("url", cfg.MeasurementURL))
	} else {
		m = measurement.NewCalculator()
		logger.Info("using local measurement calculator")
	}

	app.Bus = eventbus.New(eventBufferSize, logger)
	app.Bus.Subscribe("log", eventbus.NewLogConsumer(logger))
	app.Bus.Subscribe("metrics", eventbus.NewMetricsConsumer())
	recorder := event.NewJournal(act, app.Bus)

	res := resolver.New(schema.Default(),
		resolver.WithGlobalRequired(cfg.Engine.GlobalRequired...),
		resolver.WithLogger(logger),
	)
	app.Engine = editor.NewEngine(res, m,
		editor.WithCatalog(cat),
		editor.WithStore(sqlStore),
		editor.WithRecorder(recorder),
		editor.WithLogger(logger),
		editor.WithPipelineOptions(pipeline.WithDelay(cfg.Engine.Debounce)),
	)
	app.Manager = editor.NewManager(app.Engine, cfg.Engine.SessionMaxAge, cfg.Engine.SessionIdleTimeout)
	return app, nil
}

// Close releases the app's resources in reverse order of acquisition.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Router registers every route on a chi router.
func (a *App) Router() http.Handler {
	logger := a.logger
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(handler.Logging(logger))
	r.Use(handler.Recovery(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	sh := handler.NewSchemaHandler(a.Engine, logger)
	sess := handler.NewSessionHandler(a.Manager, logger)
	bulk := handler.NewBulkHandler(a.Manager, logger)
	txh := handler.NewTransactionHandler(a.Store, logger)
	act := handler.NewActivityHandler(a.Activity)
	ws := wire.NewHandler(a.Manager, logger)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/schema", sh.GetSchema)
		r.Get("/schema/product-types", sh.ListProductTypes)
		r.Get("/schema/sections", sh.ListSections)
		r.Get("/schema/columns", sh.ListColumns)
		r.Get("/schema/labels/{field}", sh.GetLabel)
		r.Post("/resolve", sh.Resolve)
		r.Post("/validate", sh.Validate)
		r.Post("/references/{field}/search", sh.SearchReferences)

		r.Post("/sessions", sess.CreateSession)
		r.Get("/sessions/{id}", sess.GetSession)
		r.Patch("/sessions/{id}", sess.UpdateSession)
		r.Delete("/sessions/{id}", sess.DeleteSession)
		r.Post("/sessions/{id}/confirm", sess.ConfirmSession)
		r.Get("/sessions/{id}/ws", ws.ServeHTTP)
		r.Get("/ws", ws.ServeHTTP)

		r.Post("/bulk", bulk.CreateBulk)
		r.Get("/bulk/{id}", bulk.GetBulk)
		r.Post("/bulk/{id}/rows", bulk.AddRow)
		r.Patch("/bulk/{id}/rows/{row}", bulk.UpdateRow)
		r.Post("/bulk/{id}/confirm", bulk.ConfirmBulk)

		r.Get("/transactions/{id}", txh.GetTransaction)
		r.Get("/bids/{bid}/transactions", txh.ListBidTransactions)

		r.Get("/activity/entity/{entity_type}/{entity_id}", act.HandleGetEntityActivity)
		r.Get("/activity/search", act.HandleSearchActivity)
	})

	if calc, ok := a.Engine.Measurer().(*measurement.Calculator); ok {
		r.Post("/measurement", handler.NewMeasurementHandler(calc).Measure)
	}
	return r
}

// Run builds the app, serves it on cfg.Port and shuts down gracefully when
// ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	app.Bus.Start(context.Background())
	defer func() {
		app.Close()
		app.Bus.Stop()
	}()
	go app.Manager.Run(ctx, cleanupInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
