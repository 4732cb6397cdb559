// Package editor owns in-progress transaction records. A Session wraps one
// record together with its computation pipeline and validation markers; the
// Manager keys sessions by UUID and expires idle ones; a Bulk sheet edits
// many independent records under one column projection.
package editor

import (
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/alias"
	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/event"
	"github.com/matthewbaird/bidconfig/internal/logging"
	"github.com/matthewbaird/bidconfig/internal/measurement"
	"github.com/matthewbaird/bidconfig/internal/pipeline"
	"github.com/matthewbaird/bidconfig/internal/projector"
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// Engine bundles the read-only schema components and the collaborators every
// session shares.
type Engine struct {
	reg      *schema.Registry
	res      *resolver.Resolver
	aliases  *alias.Synchronizer
	proj     *projector.Projector
	gate     *validation.Gate
	measurer measurement.Measurer
	catalog  catalog.Catalog
	labels   *catalog.Labels
	store    store.Store
	recorder event.Recorder
	logger   *zap.Logger
	pipeOpts []pipeline.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog sets the reference catalog.
func WithCatalog(c catalog.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithLabels shares a label cache with other components.
func WithLabels(l *catalog.Labels) Option {
	return func(e *Engine) { e.labels = l }
}

// WithStore sets where confirmed transactions are saved.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithRecorder sets the domain event recorder.
func WithRecorder(r event.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPipelineOptions are applied to every session's pipeline.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(e *Engine) { e.pipeOpts = append(e.pipeOpts, opts...) }
}

// NewEngine creates an engine over res. Unset collaborators default to
// in-memory implementations.
func NewEngine(res *resolver.Resolver, m measurement.Measurer, opts ...Option) *Engine {
	e := &Engine{
		reg:      res.Registry(),
		res:      res,
		measurer: m,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger).Named("editor")
	e.aliases = alias.New(e.reg)
	e.proj = projector.New(res)
	e.gate = validation.New(res, e.logger)
	if e.catalog == nil {
		e.catalog = catalog.NewMemoryCatalog()
	}
	if e.labels == nil {
		e.labels = catalog.NewLabels()
	}
	if e.store == nil {
		e.store = store.NewMemoryStore()
	}
	if e.recorder == nil {
		e.recorder = event.Discard{}
	}
	return e
}

func (e *Engine) Registry() *schema.Registry      { return e.reg }
func (e *Engine) Resolver() *resolver.Resolver    { return e.res }
func (e *Engine) Projector() *projector.Projector { return e.proj }
func (e *Engine) Gate() *validation.Gate          { return e.gate }
func (e *Engine) Aliases() *alias.Synchronizer    { return e.aliases }
func (e *Engine) Catalog() catalog.Catalog        { return e.catalog }
func (e *Engine) Labels() *catalog.Labels         { return e.labels }
func (e *Engine) Store() store.Store              { return e.store }
func (e *Engine) Measurer() measurement.Measurer  { return e.measurer }

func (e *Engine) newPipeline(s *Session) *pipeline.Pipeline {
	opts := append([]pipeline.Option{pipeline.WithLogger(e.logger)}, e.pipeOpts...)
	opts = append(opts, pipeline.WithObserver(pipeline.Observer{
		Merged: s.onMerged,
		Failed: s.onFailed,
	}))
	return pipeline.New(e.measurer, s, opts...)
}
