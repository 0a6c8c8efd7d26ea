// Package daemon wires the application together: configuration, logging,
// the selected settings backend, the local cache, the facade and the web
// service.
package daemon

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-settings-admin/go-settings-admin/internal/cache"
	"github.com/go-settings-admin/go-settings-admin/internal/config"
	"github.com/go-settings-admin/go-settings-admin/internal/logger"
	"github.com/go-settings-admin/go-settings-admin/internal/settings"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
	"github.com/go-settings-admin/go-settings-admin/internal/store/gormstore"
	"github.com/go-settings-admin/go-settings-admin/internal/store/httpstore"
	"github.com/go-settings-admin/go-settings-admin/internal/store/memstore"
	"github.com/go-settings-admin/go-settings-admin/internal/store/redisstore"
	"github.com/go-settings-admin/go-settings-admin/internal/store/s3store"
	"github.com/go-settings-admin/go-settings-admin/internal/web"
)

// Daemon represents the main application daemon.
type Daemon struct {
	cfg        *config.Config
	webService *web.Service
}

// Start runs the web service until shutdown.
func (d *Daemon) Start() error {
	go d.webService.WaitShutdown()

	return d.webService.Start(fmt.Sprintf(":%d", d.cfg.Webserver.Port))
}

// New creates a new Daemon instance with the provided configuration.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	if err := logger.Init(cfg.Log); err != nil {
		return nil, errors.Wrap(err, "failed to init logger")
	}

	adapter, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().Str("backend", cfg.Store.Backend).Msg("settings store opened")

	c := cache.New(adapter, cache.Options{
		RefreshInterval: cfg.Cache.RefreshInterval(),
		OnError: func(err error) {
			log.Warn().Err(err).Msg("settings cache refresh failed")
		},
	})

	svc := settings.New(adapter, c)

	if err := seed(context.Background(), svc, cfg); err != nil {
		return nil, err
	}

	return &Daemon{
		cfg:        cfg,
		webService: web.New(cfg, svc),
	}, nil
}

// openStore selects the backend named by the configuration.
func openStore(cfg *config.Config) (store.Adapter, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite, config.BackendMySQL, config.BackendPostgres:
		return gormstore.Open(cfg.Store.Backend, cfg.Store.DB)
	case config.BackendRedis:
		return redisstore.Open(cfg.Store.Redis), nil
	case config.BackendS3:
		return s3store.Connect(context.Background(), cfg.Store.S3)
	case config.BackendRemote:
		return httpstore.Open(cfg.Store.Remote), nil
	case config.BackendMemory:
		return memstore.New(), nil
	}

	return nil, errors.Wrap(config.ErrUnknownStoreBackend, cfg.Store.Backend)
}
