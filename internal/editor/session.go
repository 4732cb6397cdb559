package editor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/event"
	"github.com/matthewbaird/bidconfig/internal/payload"
	"github.com/matthewbaird/bidconfig/internal/pipeline"
	"github.com/matthewbaird/bidconfig/internal/projector"
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/types"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// Status is where a session is in its lifecycle.
type Status string

const (
	StatusOpen       Status = "open"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusCancelled  Status = "cancelled"
)

// Notification types pushed to subscribers.
const (
	NotifyComputed          = "computed"
	NotifyComputationFailed = "computation_failed"
)

// Notification reports something that happened to the record outside a
// caller's own edits.
type Notification struct {
	Type   string       `json:"type"`
	Values types.Record `json:"values,omitempty"`
	Error  string       `json:"error,omitempty"`
}

const subscriberBuffer = 16

// Session exclusively owns one in-progress record until it is confirmed or
// cancelled. The parent collection is only written by Confirm.
type Session struct {
	ID        string
	BidID     string
	Actor     string
	Source    string
	CreatedAt time.Time

	eng *Engine

	mu         sync.Mutex
	rec        types.Record
	txID       int64
	pipe       *pipeline.Pipeline
	markers    []validation.FieldError
	status     Status
	subs       []chan Notification
	lastActive time.Time
}

// SessionOptions seed a new session.
type SessionOptions struct {
	BidID  string
	Actor  string
	Source string
	// TransactionID is the persisted id when editing a saved transaction.
	TransactionID int64
	// Record seeds the field values. Undeclared keys are dropped and alias
	// groups are reconciled once.
	Record types.Record
	// Defaults fills absent fields with their declared defaults.
	Defaults bool
}

// NewSession creates an open session.
func (e *Engine) NewSession(opts SessionOptions) *Session {
	now := time.Now()
	s := &Session{
		ID:         uuid.New().String(),
		BidID:      opts.BidID,
		Actor:      opts.Actor,
		Source:     opts.Source,
		CreatedAt:  now,
		eng:        e,
		rec:        make(types.Record),
		txID:       opts.TransactionID,
		status:     StatusOpen,
		lastActive: now,
	}
	if s.Actor == "" {
		s.Actor = "editor"
	}
	if s.Source == "" {
		s.Source = "editor"
	}
	if len(opts.Record) > 0 {
		rec, dropped := e.reg.SeedValues(context.Background(), opts.Record)
		if len(dropped) > 0 {
			e.logger.Debug("dropping unreadable seed values", zap.String("session", s.ID), zap.Strings("fields", dropped))
		}
		if rec != nil {
			s.rec = rec
		}
	}
	if opts.Defaults {
		e.applyDefaults(s.rec)
	}
	if changed := e.aliases.Reconcile(s.rec); len(changed) > 0 {
		e.logger.Debug("reconciled alias fields", zap.String("session", s.ID), zap.Strings("fields", changed))
	}
	if s.txID != 0 {
		s.rec[schema.IDField] = s.txID
	}
	s.pipe = e.newPipeline(s)
	return s
}

func (e *Engine) applyDefaults(rec types.Record) {
	fill := func(f *schema.FieldSpec) {
		if f.Default == nil {
			return
		}
		if _, ok := rec[f.Name]; !ok {
			rec[f.Name] = f.Default
		}
	}
	for _, f := range e.reg.MeasurementFields() {
		fill(f)
	}
	for _, sec := range e.reg.Sections() {
		for _, f := range sec.Fields {
			fill(f)
		}
	}
}

// SetField writes one edit. The value is coerced for the field's kind and
// mirrored to the field's alias group. It returns the names whose value
// changed.
func (s *Session) SetField(field string, value any) ([]string, error) {
	reg := s.eng.reg
	f, ok := reg.Field(field)
	if !ok || field == schema.IDField {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if f.ReadOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyField, field)
	}
	v, err := schema.Coerce(f, value)
	if err != nil {
		return nil, err
	}
	if f.Kind.IsReference() && v != nil {
		if label, ok := schema.ReferenceLabel(value); ok {
			s.eng.labels.Put(types.Reference{ID: v.(int64), Label: label})
		}
	}

	s.mu.Lock()
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	pipe := s.pipe
	s.mu.Unlock()

	// The pipeline must see the edit before the record does, so a response
	// racing this write is rejected by token.
	pipe.Touch(f.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return nil, err
	}
	prevPT := s.eng.res.ProductType(s.rec)
	changed := s.eng.aliases.Set(s.rec, field, v)
	s.clearMarkers(f.Name)
	if pt := s.eng.res.ProductType(s.rec); pt != prevPT {
		s.pruneMarkers(s.eng.res.ResolveFor(s.rec, pt))
	}
	s.lastActive = time.Now()
	return changed, nil
}

// editable reports why the record cannot take edits. Caller holds s.mu.
func (s *Session) editable() error {
	switch s.status {
	case StatusOpen:
		return nil
	case StatusConfirming:
		return ErrConfirming
	default:
		return ErrSessionClosed
	}
}

// clearMarkers drops markers for name and its aliases. Caller holds s.mu.
func (s *Session) clearMarkers(name string) {
	canonical := s.eng.aliases.Canonical(name)
	kept := s.markers[:0]
	for _, m := range s.markers {
		if s.eng.aliases.Canonical(m.Field) != canonical {
			kept = append(kept, m)
		}
	}
	s.markers = kept
}

// pruneMarkers keeps only markers the current resolution still supports:
// required markers for required fields, other markers for visible fields.
// Caller holds s.mu.
func (s *Session) pruneMarkers(res resolver.Resolution) {
	kept := s.markers[:0]
	for _, m := range s.markers {
		if m.Reason == validation.ReasonRequired {
			if res.IsRequired(m.Field) {
				kept = append(kept, m)
			}
			continue
		}
		if res.IsVisible(m.Field) {
			kept = append(kept, m)
		}
	}
	s.markers = kept
}

// Snapshot implements pipeline.Target.
func (s *Session) Snapshot() types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}

// ApplyResult implements pipeline.Target: declared keys are overwritten,
// everything else in the result is ignored.
func (s *Session) ApplyResult(result types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen && s.status != StatusConfirming {
		return
	}
	for k, v := range result {
		if k == schema.IDField || !s.eng.reg.Has(k) {
			continue
		}
		s.eng.aliases.Set(s.rec, k, v)
	}
}

func (s *Session) onMerged(result types.Record) {
	values := make(types.Record, len(result))
	for k, v := range result {
		if k != schema.IDField && s.eng.reg.Has(k) {
			values[k] = v
		}
	}
	s.notify(Notification{Type: NotifyComputed, Values: values})

	fields := make([]string, 0, len(values))
	for k := range values {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	s.record(context.Background(), event.NewComputationMerged(event.ComputationMergedPayload{
		SessionID: s.ID, BidID: s.BidID, Fields: fields,
	}))
}

func (s *Session) onFailed(err error) {
	s.notify(Notification{Type: NotifyComputationFailed, Error: err.Error()})
	s.record(context.Background(), event.NewComputationFailed(event.ComputationFailedPayload{
		SessionID: s.ID, BidID: s.BidID, Error: err.Error(),
	}))
}

func (s *Session) record(ctx context.Context, evt event.DomainEvent) {
	if err := s.eng.recorder.Record(ctx, evt); err != nil {
		s.eng.logger.Warn("recording event failed",
			zap.String("event_type", evt.EventType),
			zap.String("session", s.ID),
			zap.Error(err))
	}
}

// Resolve resolves the current record.
func (s *Session) Resolve() resolver.Resolution {
	return s.eng.res.Resolve(s.Snapshot())
}

// ProductType returns the record's current product type.
func (s *Session) ProductType() string {
	return s.eng.res.ProductType(s.Snapshot())
}

// Columns returns the editable units for the current product type.
func (s *Session) Columns() []projector.Unit {
	return s.eng.proj.Project(s.ProductType())
}

// Errors returns the validation markers from the last blocked confirmation
// that are still relevant.
func (s *Session) Errors() []validation.FieldError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]validation.FieldError(nil), s.markers...)
}

// Status returns the lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TransactionID returns the persisted id, or 0 before the first confirmation.
func (s *Session) TransactionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txID
}

// ComputationState returns the pipeline state.
func (s *Session) ComputationState() pipeline.State {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()
	return pipe.State()
}

// References searches the catalog for candidates of a reference field using
// the filter parameters the schema derives from the current record. Found
// labels are cached.
func (s *Session) References(ctx context.Context, field string, q catalog.Query) (catalog.Page, error) {
	f, ok := s.eng.reg.Field(field)
	if !ok {
		return catalog.Page{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if !f.Kind.IsReference() {
		return catalog.Page{}, fmt.Errorf("%w: %s", ErrNotReference, field)
	}
	rec := s.Snapshot()
	params := s.eng.reg.ReferenceParams(f.Name, rec, s.eng.res.ProductType(rec))
	for k, v := range q.Params {
		if _, fixed := params[k]; !fixed {
			params[k] = v
		}
	}
	q.Params = params
	page, err := s.eng.catalog.Search(ctx, q)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("searching %s candidates: %w", field, err)
	}
	s.eng.labels.Put(page.Items...)
	return page, nil
}

// DisplayLabels renders every set reference field of the record as its
// catalog label.
func (s *Session) DisplayLabels(ctx context.Context) map[string]string {
	return s.eng.DisplayLabels(ctx, s.Snapshot())
}

// DisplayLabels renders the set reference fields of rec. Lookup failures
// are logged and the field is left out.
func (e *Engine) DisplayLabels(ctx context.Context, rec types.Record) map[string]string {
	out := make(map[string]string)
	for name, v := range rec {
		f, ok := e.reg.Field(name)
		if !ok || !f.Kind.IsReference() {
			continue
		}
		id, ok := schema.ReferenceID(v)
		if !ok {
			continue
		}
		label, err := e.labels.Lookup(ctx, e.catalog, id)
		if err != nil {
			e.logger.Warn("label lookup failed", zap.String("field", name), zap.Int64("id", id), zap.Error(err))
			continue
		}
		out[name] = label
	}
	return out
}

// Confirm freezes the record, runs the validation gate on it and saves it.
// Edits and other confirmations are rejected with ErrConfirming while it
// runs. When fields are missing it stores them as markers, reopens the
// record and returns a *validation.Error. Otherwise it saves the normalised
// payload and closes the session.
func (s *Session) Confirm(ctx context.Context) (*store.Transaction, error) {
	s.mu.Lock()
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.BidID == "" {
		s.mu.Unlock()
		return nil, ErrMissingBid
	}
	s.status = StatusConfirming
	pipe := s.pipe
	s.mu.Unlock()

	// No writer is left once the pipeline is closed, so the gate and the
	// store see the same record.
	prev := pipe.Close()

	s.mu.Lock()
	snap := s.rec.Clone()
	txID := s.txID
	s.mu.Unlock()

	pt := s.eng.res.ProductType(snap)
	if errs := s.eng.gate.Check(snap); len(errs) > 0 {
		s.mu.Lock()
		s.markers = errs
		s.mu.Unlock()
		s.reopen(prev)

		labels := make([]string, len(errs))
		for i, fe := range errs {
			labels[i] = fe.Label
		}
		s.record(ctx, event.NewConfirmationBlocked(event.ConfirmationBlockedPayload{
			SessionID: s.ID, BidID: s.BidID, ProductType: pt, Fields: labels,
		}))
		return nil, &validation.Error{Fields: errs}
	}

	data := payload.Normalize(s.eng.reg, snap)
	delete(data, schema.IDField)
	sessionID := s.ID
	tx := &store.Transaction{
		ID:          txID,
		BidID:       s.BidID,
		ProductType: pt,
		Data:        data,
		CreatedBy:   s.Actor,
		UpdatedBy:   s.Actor,
		Source:      s.Source,
		SessionID:   &sessionID,
	}
	if err := s.eng.store.Save(ctx, tx); err != nil {
		s.reopen(prev)
		return nil, fmt.Errorf("saving transaction: %w", err)
	}

	s.mu.Lock()
	s.txID = tx.ID
	s.rec[schema.IDField] = tx.ID
	s.status = StatusConfirmed
	s.markers = nil
	s.closeSubscribers()
	s.mu.Unlock()

	s.record(ctx, event.NewTransactionConfirmed(event.TransactionConfirmedPayload{
		TransactionID: tx.ID,
		BidID:         tx.BidID,
		SessionID:     s.ID,
		ProductType:   pt,
		Version:       tx.Version,
		Actor:         s.Actor,
		Source:        s.Source,
	}))
	s.eng.logger.Info("transaction confirmed",
		zap.Int64("transaction_id", tx.ID),
		zap.String("bid_id", tx.BidID),
		zap.Int("version", tx.Version))
	return tx, nil
}

// reopen returns a session that failed to confirm to editing with a fresh
// pipeline. A computation the freeze interrupted is scheduled again.
func (s *Session) reopen(prev pipeline.State) {
	s.mu.Lock()
	s.status = StatusOpen
	s.lastActive = time.Now()
	s.pipe = s.eng.newPipeline(s)
	pipe := s.pipe
	s.mu.Unlock()
	if prev != pipeline.Idle {
		pipe.Kick()
	}
}

// Cancel discards the session without touching the parent collection.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.status = StatusCancelled
	s.closeSubscribers()
	pipe := s.pipe
	s.mu.Unlock()

	pipe.Close()
	return nil
}

// Subscribe returns a channel of notifications and a function that stops
// them. Slow subscribers miss notifications rather than blocking the
// pipeline. The channel is closed when the session closes.
func (s *Session) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen && s.status != StatusConfirming {
		close(ch)
		return ch, func() {}
	}
	s.subs = append(s.subs, ch)
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (s *Session) notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// closeSubscribers closes every subscriber channel. Caller holds s.mu.
func (s *Session) closeSubscribers() {
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

// Wait blocks until the session's pipeline has no call running.
func (s *Session) Wait() {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()
	pipe.Wait()
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return maxAge > 0 && time.Since(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timeout > 0 && time.Since(s.lastActive) > timeout
}

// View is the serialisable state of a session.
type View struct {
	ID            string                  `json:"id"`
	BidID         string                  `json:"bid_id,omitempty"`
	TransactionID int64                   `json:"transaction_id,omitempty"`
	Status        Status                  `json:"status"`
	Computation   string                  `json:"computation"`
	Record        types.Record            `json:"record"`
	Resolution    resolver.Resolution     `json:"resolution"`
	Errors        []validation.FieldError `json:"errors"`
}

// View captures the session's current state.
func (s *Session) View() View {
	rec := s.Snapshot()
	errs := s.Errors()
	if errs == nil {
		errs = []validation.FieldError{}
	}
	return View{
		ID:            s.ID,
		BidID:         s.BidID,
		TransactionID: s.TransactionID(),
		Status:        s.Status(),
		Computation:   s.ComputationState().String(),
		Record:        rec,
		Resolution:    s.eng.res.Resolve(rec),
		Errors:        errs,
	}
}
