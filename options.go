package bastion

import (
	"log/slog"

	"github.com/juju/clock"

	"github.com/xraph/bastion/plugin"
	"github.com/xraph/bastion/store"
)

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithStore sets the composite store.
func WithStore(s store.Store) Option { return func(e *Engine) { e.store = s } }

// WithCache sets the decision cache.
func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithConfig sets the engine configuration.
func WithConfig(c Config) Option { return func(e *Engine) { e.config = c } }

// WithClock sets the clock used to stamp rule creation times.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithRanking replaces the specificity ranking table.
func WithRanking(r Ranking) Option { return func(e *Engine) { e.ranking = r } }

// WithDefaults replaces the default table. Config.Defaults entries are
// still applied on top of it.
func WithDefaults(t *DefaultTable) Option { return func(e *Engine) { e.defaults = t } }

// WithBotOwners appends requester IDs to the bot operator list.
func WithBotOwners(ids ...string) Option {
	return func(e *Engine) { e.extraOwners = append(e.extraOwners, ids...) }
}

// WithPlugin registers a plugin with the engine.
func WithPlugin(x plugin.Plugin) Option {
	return func(e *Engine) {
		if e.plugins == nil {
			e.plugins = plugin.NewRegistry(e.logger)
		}
		e.plugins.Register(x)
	}
}
