package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/cache"
	"github.com/rpattn/entityapi/internal/clients"
	"github.com/rpattn/entityapi/internal/config"
	"github.com/rpattn/entityapi/internal/db"
	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/middleware"
	"github.com/rpattn/entityapi/internal/repository"
	"github.com/rpattn/entityapi/internal/schema"
	"github.com/rpattn/entityapi/internal/schema/validator"
	"github.com/rpattn/entityapi/internal/service"
	"github.com/rpattn/entityapi/internal/triggers"
)

const devGroupUUID = "00000000-0000-4000-8000-000000000001"

type authProvider interface {
	middleware.UserResolver
	triggers.GroupDirectory
}

type collaborators struct {
	minter    triggers.IdentityMinter
	auth      authProvider
	files     triggers.FileService
	ontology  *clients.StaticOntology
	reindexer service.Reindexer
}

// buildClients picks the HTTP client of every collaborator whose URL is
// configured and the in-process implementation otherwise.
func buildClients(cfg *config.Config) collaborators {
	svc := cfg.Services
	c := collaborators{ontology: clients.NewStaticOntology()}

	if svc.UUIDAPIURL != "" {
		c.minter = clients.NewHTTPMinter(svc.UUIDAPIURL, svc.Timeout)
	} else {
		c.minter = clients.NewLocalMinter(svc.IDPrefix)
	}

	if svc.AuthURL != "" {
		c.auth = clients.NewHTTPAuthProvider(svc.AuthURL, svc.Timeout)
	} else {
		static := &clients.StaticAuthProvider{
			Users: map[string]*domain.User{},
			GroupList: []domain.Group{
				{UUID: devGroupUUID, DisplayName: "Development", DataProvider: true},
			},
		}
		if svc.DevToken != "" {
			static.Users[svc.DevToken] = &domain.User{
				Sub:         "dev",
				Email:       "dev@localhost",
				DisplayName: "Developer",
				GroupUUIDs:  []string{devGroupUUID},
				DataAdmin:   true,
			}
		}
		c.auth = static
	}

	if svc.FilesURL != "" {
		c.files = clients.NewHTTPFileService(svc.FilesURL, svc.Timeout)
	} else {
		c.files = clients.NewLocalFileService()
	}

	if svc.SearchAPIURL != "" {
		c.reindexer = clients.NewHTTPReindexer(svc.SearchAPIURL, svc.Timeout)
	} else {
		c.reindexer = clients.NopReindexer{}
	}
	return c
}

// buildStore opens the configured graph store. The returned func releases it.
func buildStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.GraphStore, func(), error) {
	if cfg.Store.Backend != config.StorePostgres {
		log.Warn("using the in-memory graph store, data is lost on restart")
		return repository.NewMemoryGraphStore(), func() {}, nil
	}

	dbConfig := cfg.Database.DB()
	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(dbConfig, log.Named("migrate")); err != nil {
			return nil, nil, err
		}
	}
	conn, err := db.NewConnection(ctx, dbConfig, log.Named("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return repository.NewPostgresGraphStore(conn), conn.Close, nil
}

// loadCatalog loads the schema file at path, or the embedded schema.
func loadCatalog(path string) (*schema.Catalog, error) {
	var source io.Reader = schema.DefaultSource()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open schema %s: %w", path, err)
		}
		defer f.Close()
		source = f
	}
	catalog, err := schema.Load(source, schema.LoadOptions{
		Triggers:   triggers.Builtin(),
		Validators: validator.Registry{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return catalog, nil
}

// buildCache returns nil when caching is disabled.
func buildCache(cfg *config.Config, log *zap.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheLRU:
		return cache.NewLRU(cfg.Cache.Size, cfg.Cache.TTL), nil
	case config.CacheMemcached:
		mc, err := cache.NewMemcached(cfg.Cache.Servers,
			cache.WithKeyPrefix(cfg.Cache.Prefix),
			cache.WithTimeout(cfg.Services.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create memcached client: %w", err)
		}
		if err := mc.Ping(); err != nil {
			log.Warn("memcached is not reachable, reads will fall through", zap.Strings("servers", cfg.Cache.Servers), zap.Error(err))
		}
		return mc, nil
	default:
		return nil, nil
	}
}
