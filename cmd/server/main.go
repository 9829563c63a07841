package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/api"
	"github.com/rpattn/entityapi/internal/config"
	"github.com/rpattn/entityapi/internal/engine"
	"github.com/rpattn/entityapi/internal/entityloader"
	"github.com/rpattn/entityapi/internal/export"
	"github.com/rpattn/entityapi/internal/metrics"
	"github.com/rpattn/entityapi/internal/middleware"
	"github.com/rpattn/entityapi/internal/pkg/logger"
	"github.com/rpattn/entityapi/internal/pkg/worker"
	"github.com/rpattn/entityapi/internal/schema"
	"github.com/rpattn/entityapi/internal/schema/validator"
	"github.com/rpattn/entityapi/internal/service"
	"github.com/rpattn/entityapi/internal/triggers"
)

func main() {
	cfg, err := config.Load(os.Getenv("ENTITYAPI_CONFIG_DIR"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.L().Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.L().Info("server exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.L()

	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog, err := loadCatalog(cfg.Schema.Path)
	if err != nil {
		return err
	}
	log.Info("schema loaded", zap.Strings("classes", catalog.EntityClasses()))

	entityCache, err := buildCache(cfg, log)
	if err != nil {
		return err
	}

	c := buildClients(cfg)
	recorder := metrics.NewRecorder()

	executor := triggers.NewExecutor(&triggers.Deps{
		Catalog:  catalog,
		Codec:    schema.LiteralCodec{},
		Store:    store,
		Minter:   c.minter,
		Groups:   c.auth,
		Files:    c.files,
		Ontology: c.ontology,
	}, triggers.WithLogger(log.Named("triggers")), triggers.WithRecorder(recorder))
	gateway := validator.NewGateway(catalog, validator.Deps{
		Store:               entityloader.Reader{Store: store},
		Vocabulary:          c.ontology,
		ApplicationHeader:   cfg.Application.Header,
		AllowedApplications: cfg.Application.AllowedApplications,
	})
	engineOpts := []engine.Option{engine.WithLogger(log.Named("engine"))}
	if entityCache != nil {
		engineOpts = append(engineOpts, engine.WithCache(entityCache, cfg.Cache.TTL))
	}
	eng := engine.New(executor, gateway, engineOpts...)

	pool, err := worker.NewPool(ctx, "reindex", cfg.Worker.PoolSize)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Shutdown()

	entities := service.NewEntityService(eng,
		service.WithReindexer(c.reindexer),
		service.WithDispatcher(pool),
		service.WithLogger(log.Named("service")),
	)

	handlerOpts := []api.Option{
		api.WithExportService(export.NewService(entities)),
		api.WithLogger(log.Named("api")),
	}
	if cfg.Metrics.Enabled {
		handlerOpts = append(handlerOpts, api.WithMetricsHandler(cfg.Metrics.Path, recorder.Handler()))
	}
	routes := api.NewHandler(entities, handlerOpts...).Routes()

	var handler http.Handler = routes
	handler = middleware.RequestContextMiddleware(c.auth, log)(handler)
	handler = middleware.DataLoaderMiddleware(store)(handler)
	handler = recorder.InstrumentHandler(handler)
	handler = middleware.LoggingMiddleware(log.Named("http"))(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	}).Handler(handler)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting entity API", zap.String("addr", server.Addr), zap.String("store", cfg.Store.Backend), zap.String("cache", cfg.Cache.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
