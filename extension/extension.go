// Package extension provides a Forge extension entry point for Bastion.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/bastion"
	"github.com/xraph/bastion/api"
	"github.com/xraph/bastion/cache"
	"github.com/xraph/bastion/plugin"
	"github.com/xraph/bastion/plugin/metrics"
	"github.com/xraph/bastion/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "bastion"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Scoped permission rules for plugin-hosted chat bots"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Bastion as a Forge extension.
type Extension struct {
	config     Config
	eng        *bastion.Engine
	apiHandler *api.API
	logger     *slog.Logger
	store      store.Store
	engineOpts []bastion.Option
	plugins    []plugin.Plugin
	metricsReg prometheus.Registerer
	optErr     error
}

// New creates a Bastion Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return ExtensionName }

// Description returns the extension description.
func (e *Extension) Description() string { return ExtensionDescription }

// Version returns the extension version.
func (e *Extension) Version() string { return ExtensionVersion }

// Dependencies returns the list of extension names this extension depends on.
func (e *Extension) Dependencies() []string { return []string{} }

// Engine returns the underlying Bastion engine.
func (e *Extension) Engine() *bastion.Engine { return e.eng }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// Register implements [forge.Extension]. It initializes the engine,
// registers it in the DI container, and optionally registers HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	// Fall back to a store provided through the DI container.
	if e.store == nil {
		if s, err := forge.Inject[store.Store](fapp.Container()); err == nil {
			e.store = s
		}
	}

	if err := e.build(); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*bastion.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("bastion: register engine in container: %w", err)
	}

	e.apiHandler = api.New(e.eng, fapp.Router(), e.config.BasePath)
	if !e.config.DisableRoutes {
		if err := e.apiHandler.RegisterRoutes(fapp.Router()); err != nil {
			return fmt.Errorf("bastion: register routes: %w", err)
		}
	}
	return nil
}

// build assembles the engine from the extension configuration.
func (e *Extension) build() error {
	if e.optErr != nil {
		return fmt.Errorf("bastion: configure store: %w", e.optErr)
	}

	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := bastion.DefaultConfig()
	cfg.BotOwners = e.config.BotOwners
	cfg.Defaults = e.config.Defaults
	cfg.CacheTTL = e.config.CacheTTL
	if e.config.CacheSize > 0 {
		cfg.CacheSize = e.config.CacheSize
	}

	opts := make([]bastion.Option, 0, len(e.engineOpts)+len(e.plugins)+5)
	opts = append(opts, bastion.WithLogger(logger), bastion.WithConfig(cfg))
	if e.store != nil {
		opts = append(opts, bastion.WithStore(e.store))
	}
	if cfg.CacheTTL > 0 {
		opts = append(opts, bastion.WithCache(cache.NewMemory(
			cache.WithTTL(cfg.CacheTTL),
			cache.WithMaxSize(cfg.CacheSize),
		)))
	}
	if e.metricsReg != nil {
		c := metrics.NewCollector()
		if err := e.metricsReg.Register(c); err != nil {
			return fmt.Errorf("bastion: register metrics: %w", err)
		}
		opts = append(opts, bastion.WithPlugin(c))
	}

	// User-provided options may override the store.
	opts = append(opts, e.engineOpts...)
	for _, x := range e.plugins {
		opts = append(opts, bastion.WithPlugin(x))
	}

	eng, err := bastion.NewEngine(opts...)
	if err != nil {
		return fmt.Errorf("bastion: create engine: %w", err)
	}
	e.eng = eng
	return nil
}

// Start runs migrations if enabled and loads every stored rule.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("bastion: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.eng.Store().Migrate(ctx); err != nil {
			return fmt.Errorf("bastion: migration failed: %w", err)
		}
	}

	return e.eng.Start(ctx)
}

// Stop gracefully shuts down the bastion engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		return nil
	}
	if err := e.eng.Stop(ctx); err != nil {
		return err
	}
	return e.eng.Store().Close()
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("bastion: extension not initialized")
	}
	if !e.eng.Started() {
		return bastion.ErrNotStarted
	}
	return e.eng.Store().Ping(ctx)
}

// Handler returns the HTTP handler for all API routes.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all bastion API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) error {
	if e.apiHandler != nil {
		return e.apiHandler.RegisterRoutes(router)
	}
	return nil
}
