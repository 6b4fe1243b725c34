package extension

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/grove"

	"github.com/xraph/bastion"
	"github.com/xraph/bastion/plugin"
	"github.com/xraph/bastion/store"
	"github.com/xraph/bastion/store/jsonfile"
	"github.com/xraph/bastion/store/mongo"
	"github.com/xraph/bastion/store/postgres"
	"github.com/xraph/bastion/store/sqlite"
)

// ExtOption configures the Bastion Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDatabase builds the store for a grove database. driver is one
// of "postgres", "sqlite" or "mongo".
func WithGroveDatabase(driver string, db *grove.DB) ExtOption {
	return func(e *Extension) {
		s, err := storeForDriver(driver, db)
		if err != nil {
			e.optErr = err
			return
		}
		e.store = s
	}
}

// WithRuleFile keeps rules in a JSON file at path.
func WithRuleFile(path string) ExtOption {
	return func(e *Extension) {
		s, err := jsonfile.Open(path)
		if err != nil {
			e.optErr = err
			return
		}
		e.store = s
	}
}

// WithConfig sets the extension configuration.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithEngineOptions adds engine-level options.
func WithEngineOptions(opts ...bastion.Option) ExtOption {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opts...)
	}
}

// WithPlugin registers a lifecycle hook plugin.
func WithPlugin(x plugin.Plugin) ExtOption {
	return func(e *Extension) {
		e.plugins = append(e.plugins, x)
	}
}

// WithMetrics exports engine metrics to reg.
func WithMetrics(reg prometheus.Registerer) ExtOption {
	return func(e *Extension) {
		e.metricsReg = reg
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

func storeForDriver(driver string, db *grove.DB) (store.Store, error) {
	if db == nil {
		return nil, fmt.Errorf("bastion: nil grove database for driver %q", driver)
	}
	switch driver {
	case "postgres", "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	case "mongo", "mongodb":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("bastion: unsupported grove driver %q", driver)
	}
}
