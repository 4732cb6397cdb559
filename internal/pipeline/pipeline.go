// Package pipeline runs the debounced measurement computation for one record.
//
// A Pipeline moves between three states. Edits to trigger fields restart a
// debounce timer (Pending). When the timer fires and the record carries
// height, width and quantity, the measurement call is issued (InFlight) under
// a fresh request token. Any later edit bumps the token and cancels the call,
// so a superseded response can never be merged over a newer edit.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/measurement"
	"github.com/matthewbaird/bidconfig/internal/metrics"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// DefaultDelay is the debounce window.
const DefaultDelay = 500 * time.Millisecond

// State of a pipeline.
type State int

const (
	Idle State = iota
	Pending
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type clock struct{}

func (clock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// Target is the record a pipeline computes for. ApplyResult is called with
// the pipeline lock held, so implementations must not call back into Touch.
type Target interface {
	Snapshot() types.Record
	ApplyResult(result types.Record)
}

// Observer receives non-fatal notifications. Both callbacks run outside the
// pipeline lock.
type Observer struct {
	Merged func(result types.Record)
	Failed func(err error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.delay = d }
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(p *Pipeline) { p.sched = s }
}

// WithTriggers replaces the set of trigger fields.
func WithTriggers(fields []string) Option {
	return func(p *Pipeline) {
		p.triggers = make(map[string]bool, len(fields))
		for _, f := range fields {
			p.triggers[f] = true
		}
	}
}

// WithObserver installs notification callbacks.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline is the per-record computation state machine.
type Pipeline struct {
	measurer measurement.Measurer
	target   Target
	sched    Scheduler
	delay    time.Duration
	triggers map[string]bool
	observer Observer
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	token  uint64
	timer  Stopper
	cancel context.CancelFunc
	closed bool

	wg sync.WaitGroup
}

// New creates an idle pipeline computing for target.
func New(m measurement.Measurer, target Target, opts ...Option) *Pipeline {
	p := &Pipeline{
		measurer: m,
		target:   target,
		sched:    clock{},
		delay:    DefaultDelay,
		logger:   zap.NewNop(),
	}
	WithTriggers(measurement.TriggerFields)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsTrigger reports whether edits to field schedule a computation.
func (p *Pipeline) IsTrigger(field string) bool {
	return p.triggers[field]
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Touch records an edit to field. For trigger fields it supersedes any
// pending or in-flight computation and restarts the debounce timer. Callers
// must Touch before writing the new value so a response racing the edit is
// rejected by token rather than merged over it.
func (p *Pipeline) Touch(field string) bool {
	if !p.triggers[field] {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.schedule()
	return true
}

// Kick restarts the debounce timer without an edit.
func (p *Pipeline) Kick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.schedule()
	}
}

// schedule supersedes the current token and arms the timer. Caller holds p.mu.
func (p *Pipeline) schedule() {
	p.supersede()
	p.state = Pending
	token := p.token
	p.timer = p.sched.AfterFunc(p.delay, func() { p.fire(token) })
}

// Close stops the timer and cancels any in-flight call. Results arriving
// afterwards are discarded. It returns the state the pipeline was in.
func (p *Pipeline) Close() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Idle
	}
	prev := p.state
	p.supersede()
	p.closed = true
	p.state = Idle
	return prev
}

// Wait blocks until no measurement call is running.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// supersede invalidates the current token. Caller holds p.mu.
func (p *Pipeline) supersede() {
	p.token++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Pipeline) fire(token uint64) {
	p.mu.Lock()
	if p.closed || token != p.token || p.state != Pending {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	req, ok := measurement.BuildRequest(p.target.Snapshot())
	if !ok {
		p.state = Idle
		p.mu.Unlock()
		metrics.ComputationsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state = InFlight
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, token, req)
}

func (p *Pipeline) run(ctx context.Context, token uint64, req measurement.Request) {
	defer p.wg.Done()
	start := time.Now()
	result, err := p.measurer.Measure(ctx, req)
	elapsed := time.Since(start).Seconds()

	p.mu.Lock()
	if token != p.token || p.closed {
		p.mu.Unlock()
		metrics.ComputationsTotal.WithLabelValues(metrics.OutcomeSuperseded).Inc()
		metrics.ComputationDuration.WithLabelValues(metrics.OutcomeSuperseded).Observe(elapsed)
		p.logger.Debug("discarding superseded measurement", zap.Uint64("token", token))
		return
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.state = Idle

	var outcome string
	switch {
	case errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeCancelled
	case err != nil:
		outcome = metrics.OutcomeFailed
	default:
		outcome = metrics.OutcomeMerged
		p.target.ApplyResult(result)
	}
	p.mu.Unlock()

	metrics.ComputationsTotal.WithLabelValues(outcome).Inc()
	metrics.ComputationDuration.WithLabelValues(outcome).Observe(elapsed)

	switch outcome {
	case metrics.OutcomeMerged:
		if p.observer.Merged != nil {
			p.observer.Merged(result)
		}
	case metrics.OutcomeFailed:
		p.logger.Warn("measurement failed", zap.Error(err), zap.Uint64("token", token))
		if p.observer.Failed != nil {
			p.observer.Failed(err)
		}
	}
}
