package kausality

import (
	"log/slog"

	"github.com/sttts/kausality/plugin"
	"github.com/sttts/kausality/store"
)

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithStore sets the composite store.
func WithStore(s store.Store) Option { return func(e *Engine) { e.store = s } }

// WithEvaluator sets the predicate evaluator.
func WithEvaluator(ev PredicateEvaluator) Option { return func(e *Engine) { e.evaluator = ev } }

// WithParentLookup sets the ownership resolver used when a request does not
// carry a pre-resolved parent.
func WithParentLookup(pl ParentLookup) Option { return func(e *Engine) { e.parents = pl } }

// WithCache sets the decision cache.
func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithConfig sets the engine configuration.
func WithConfig(c Config) Option { return func(e *Engine) { e.config = c } }

// WithFingerprinter sets the identity fingerprint derivation.
func WithFingerprinter(f Fingerprinter) Option { return func(e *Engine) { e.fingerprinter = f } }

// WithPlugin registers a plugin with the engine.
func WithPlugin(x plugin.Plugin) Option {
	return func(e *Engine) {
		if e.plugins == nil {
			e.plugins = plugin.NewRegistry(e.logger)
		}
		e.plugins.Register(x)
	}
}
