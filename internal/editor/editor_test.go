package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/activity"
	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/event"
	"github.com/matthewbaird/bidconfig/internal/measurement"
	"github.com/matthewbaird/bidconfig/internal/pipeline"
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/seed"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/types"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// manualScheduler runs debounce callbacks only when Fire is called.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*task
}

type task struct {
	mu   sync.Mutex
	f    func()
	done bool
}

func (t *task) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) pipeline.Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &task{f: f}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) Fire() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	n := 0
	for _, t := range tasks {
		t.mu.Lock()
		run := !t.done
		t.done = true
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

type countingMeasurer struct {
	mu    sync.Mutex
	calls []measurement.Request
	err   error
	calc  *measurement.Calculator
}

func (m *countingMeasurer) Measure(ctx context.Context, req measurement.Request) (types.Record, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.calc.Measure(ctx, req)
}

func (m *countingMeasurer) Calls() []measurement.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]measurement.Request(nil), m.calls...)
}

type fixture struct {
	eng      *Engine
	mgr      *Manager
	sched    *manualScheduler
	measurer *countingMeasurer
	activity *activity.MemoryStore
	store    *store.MemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sched:    &manualScheduler{},
		measurer: &countingMeasurer{calc: measurement.NewCalculator()},
		activity: activity.NewMemoryStore(),
		store:    store.NewMemoryStore(),
	}
	res := resolver.New(schema.Default())
	f.eng = NewEngine(res, f.measurer,
		WithCatalog(seed.Memory()),
		WithStore(f.store),
		WithRecorder(event.NewJournal(f.activity, nil)),
		WithLogger(zap.NewNop()),
		WithPipelineOptions(pipeline.WithScheduler(f.sched)),
	)
	for _, opt := range opts {
		opt(f.eng)
	}
	f.mgr = NewManager(f.eng, time.Hour, time.Hour)
	t.Cleanup(f.mgr.Close)
	return f
}

func (f *fixture) open(t *testing.T, rec types.Record) *Session {
	t.Helper()
	s, err := f.mgr.Open(context.Background(), OpenOptions{BidID: "B-100", Actor: "ana", Record: rec})
	require.NoError(t, err)
	return s
}

func (f *fixture) events(t *testing.T, entityType, id string) []string {
	t.Helper()
	entries, _, _, err := f.activity.QueryByEntity(context.Background(), entityType, id, activity.DefaultQueryOptions())
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EventType
	}
	return out
}

func completeDoor() types.Record {
	return types.Record{
		"product_type":       "door",
		"height":             2000,
		"width":              900,
		"quantity":           1,
		"doorway_type":       "single",
		"doorway_thickness":  120,
		"framework_front_id": 101,
		"door_lock_id":       501,
	}
}

func set(t *testing.T, s *Session, rec types.Record) {
	t.Helper()
	for k, v := range rec {
		_, err := s.SetField(k, v)
		require.NoError(t, err, k)
	}
}

func TestSession_SetFieldRejects(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)

	_, err := s.SetField("colour", "red")
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.SetField("id", 4)
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.SetField("volume_product", 1.5)
	assert.ErrorIs(t, err, ErrReadOnlyField)

	_, err = s.SetField("product_type", "garage")
	assert.ErrorIs(t, err, schema.ErrInvalidValue)

	_, err = s.SetField("height", "tall")
	assert.ErrorIs(t, err, schema.ErrInvalidValue)
}

func TestSession_DefaultsAndCoercion(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)

	rec := s.Snapshot()
	assert.Equal(t, 1.0, rec["quantity"])
	assert.Equal(t, "no", rec["frame_split"])

	set(t, s, types.Record{"height": "2100", "framework_front_id": map[string]any{"id": 111.0, "label": "Pine frame 70 front"}})
	rec = s.Snapshot()
	assert.Equal(t, 2100.0, rec["height"])
	assert.Equal(t, int64(111), rec["framework_front_id"])

	label, ok := f.eng.Labels().Get(111)
	assert.True(t, ok)
	assert.Equal(t, "Pine frame 70 front", label)
}

func TestSession_AliasWriteMirrors(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, types.Record{"product_type": "door"})

	changed, err := s.SetField("wall_thickness", 120)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doorway_thickness", "wall_thickness"}, changed)

	rec := s.Snapshot()
	assert.Equal(t, 120.0, rec["doorway_thickness"])
	assert.Equal(t, 120.0, rec["wall_thickness"])

	changed, err = s.SetField("doorway_thickness", 120)
	require.NoError(t, err)
	assert.Empty(t, changed, "repeating a write changes nothing")
}

func TestSession_RapidEditsIssueOneCall(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, types.Record{"product_type": "door", "height": 2000})

	for _, w := range []int{800, 850, 900} {
		_, err := s.SetField("width", w)
		require.NoError(t, err)
	}
	assert.Equal(t, pipeline.Pending, s.ComputationState())

	assert.Equal(t, 1, f.sched.Fire())
	s.Wait()

	calls := f.measurer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 900.0, calls[0].Width)
	assert.Equal(t, pipeline.Idle, s.ComputationState())
}

func TestSession_DoorWindowEndToEnd(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)
	notes, stop := s.Subscribe()
	defer stop()

	set(t, s, types.Record{"product_type": "door-window"})
	_, err := s.SetField("height", 2000)
	require.NoError(t, err)
	_, err = s.SetField("width", 900)
	require.NoError(t, err)
	_, err = s.SetField("quantity", 2)
	require.NoError(t, err)

	require.Equal(t, 1, f.sched.Fire())
	s.Wait()

	calls := f.measurer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 2000.0, calls[0].Height)
	assert.Equal(t, 900.0, calls[0].Width)
	assert.Equal(t, 2.0, calls[0].Quantity)

	rec := s.Snapshot()
	assert.Equal(t, 3.6, rec["volume_product"])
	assert.Equal(t, 2.0, rec["glass_quantity"])
	assert.Equal(t, 2000.0, rec["height"])

	select {
	case n := <-notes:
		assert.Equal(t, NotifyComputed, n.Type)
		assert.Equal(t, 3.6, n.Values["volume_product"])
	default:
		t.Fatal("no computed notification")
	}
	assert.Contains(t, f.events(t, event.EntitySession, s.ID), event.TypeComputationMerged)
}

func TestSession_ComputationFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.measurer.err = errors.New("service unavailable")
	s := f.open(t, types.Record{"product_type": "door", "height": 2000})
	notes, stop := s.Subscribe()
	defer stop()

	_, err := s.SetField("width", 900)
	require.NoError(t, err)
	f.sched.Fire()
	s.Wait()

	assert.Nil(t, s.Snapshot()["volume_product"])
	n := <-notes
	assert.Equal(t, NotifyComputationFailed, n.Type)
	assert.Contains(t, n.Error, "service unavailable")

	_, err = s.SetField("width", 950)
	assert.NoError(t, err, "editing continues after a failed call")
}

func TestSession_ConfirmBlocked(t *testing.T) {
	f := newFixture(t)
	rec := completeDoor()
	delete(rec, "door_lock_id")
	s := f.open(t, nil)
	set(t, s, rec)

	tx, err := s.Confirm(context.Background())
	assert.Nil(t, tx)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"door_lock_id"}, verr.Names())
	assert.Equal(t, "Lock", verr.Fields[0].Label)

	assert.Equal(t, StatusOpen, s.Status())
	assert.Len(t, s.Errors(), 1)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, []string{event.TypeConfirmationBlocked}, f.events(t, event.EntitySession, s.ID))

	_, err = s.SetField("door_lock_id", 502)
	require.NoError(t, err)
	assert.Empty(t, s.Errors(), "filling a field clears its marker")
}

func TestSession_ConfirmBlockedResumesComputation(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)
	set(t, s, types.Record{"product_type": "door", "height": 2000, "width": 900})
	require.Equal(t, pipeline.Pending, s.ComputationState())

	_, err := s.Confirm(context.Background())
	require.Error(t, err)
	assert.Equal(t, pipeline.Pending, s.ComputationState())

	require.Equal(t, 1, f.sched.Fire())
	s.Wait()
	require.Len(t, f.measurer.Calls(), 1)
	assert.NotNil(t, s.Snapshot()["volume_product"])
}

// slowStore holds Save until release is closed.
type slowStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Save(ctx context.Context, tx *store.Transaction) error {
	s.entered <- struct{}{}
	<-s.release
	return s.MemoryStore.Save(ctx, tx)
}

func TestSession_ConcurrentConfirmSavesOnce(t *testing.T) {
	st := &slowStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}, 2),
		release:     make(chan struct{}),
	}
	f := newFixture(t, WithStore(st))
	s := f.open(t, nil)
	set(t, s, completeDoor())

	done := make(chan error, 1)
	go func() {
		_, err := s.Confirm(context.Background())
		done <- err
	}()
	<-st.entered

	_, err := s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrConfirming)
	_, err = s.SetField("door_lock_id", nil)
	assert.ErrorIs(t, err, ErrConfirming)
	assert.ErrorIs(t, s.Cancel(), ErrConfirming)
	assert.Equal(t, StatusConfirming, s.Status())

	close(st.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, st.Len())
	assert.Equal(t, StatusConfirmed, s.Status())
}

type failingStore struct{ *store.MemoryStore }

func (failingStore) Save(context.Context, *store.Transaction) error {
	return errors.New("disk full")
}

func TestSession_ConfirmSaveFailureReopens(t *testing.T) {
	f := newFixture(t, WithStore(failingStore{store.NewMemoryStore()}))
	s := f.open(t, nil)
	set(t, s, completeDoor())

	_, err := s.Confirm(context.Background())
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, StatusOpen, s.Status())

	_, err = s.SetField("width", 950)
	assert.NoError(t, err)
}

// stallingScheduler can hold the pipeline's timer Stop, which Confirm
// reaches while closing the pipeline.
type stallingScheduler struct {
	manualScheduler

	gateMu  sync.Mutex
	entered chan struct{}
	gate    chan struct{}
}

type stallingTask struct {
	pipeline.Stopper
	s *stallingScheduler
}

func (s *stallingScheduler) AfterFunc(d time.Duration, f func()) pipeline.Stopper {
	return &stallingTask{Stopper: s.manualScheduler.AfterFunc(d, f), s: s}
}

func (s *stallingScheduler) stall() (entered <-chan struct{}, release func()) {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	s.entered = make(chan struct{}, 1)
	s.gate = make(chan struct{})
	return s.entered, func() { close(s.gate) }
}

func (t *stallingTask) Stop() bool {
	t.s.gateMu.Lock()
	entered, gate := t.s.entered, t.s.gate
	t.s.gateMu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	return t.Stopper.Stop()
}

func TestSession_ConfirmValidatesWhatItSaves(t *testing.T) {
	sched := &stallingScheduler{}
	f := newFixture(t, WithPipelineOptions(pipeline.WithScheduler(sched)))
	s := f.open(t, nil)
	set(t, s, completeDoor())
	require.Equal(t, pipeline.Pending, s.ComputationState())

	entered, release := sched.stall()
	done := make(chan error, 1)
	go func() {
		_, err := s.Confirm(context.Background())
		done <- err
	}()
	<-entered

	_, err := s.SetField("door_lock_id", nil)
	assert.ErrorIs(t, err, ErrConfirming)

	release()
	require.NoError(t, <-done)
	require.Equal(t, 1, f.store.Len())
	saved, err := f.store.Get(context.Background(), s.TransactionID())
	require.NoError(t, err)
	assert.Equal(t, int64(501), saved.Data["door_lock_id"])
}

func TestSession_ProductTypeSwitchClearsStaleMarkers(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)
	set(t, s, types.Record{"product_type": "door", "height": 2000})

	_, err := s.Confirm(context.Background())
	require.Error(t, err)
	assert.ElementsMatch(t,
		[]string{"width", "doorway_type", "doorway_thickness", "framework_front_id", "door_lock_id"},
		markerNames(s.Errors()))

	_, err = s.SetField("product_type", "window")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"width", "framework_front_id"}, markerNames(s.Errors()))

	_, err = s.SetField("width", 900)
	require.NoError(t, err)
	assert.Equal(t, []string{"framework_front_id"}, markerNames(s.Errors()))
}

func markerNames(errs []validation.FieldError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestSession_ConfirmSavesNormalisedPayload(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)
	set(t, s, completeDoor())
	_, err := s.SetField("box_width", "")
	require.NoError(t, err)

	tx, err := s.Confirm(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.NotZero(t, tx.ID)
	assert.Equal(t, 1, tx.Version)
	assert.Equal(t, "door", tx.ProductType)
	assert.Equal(t, "ana", tx.CreatedBy)
	assert.Equal(t, int64(101), tx.Data["framework_front_id"])
	assert.Equal(t, 2000.0, tx.Data["height"])
	v, ok := tx.Data["box_width"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.NotContains(t, tx.Data, "id")

	assert.Equal(t, StatusConfirmed, s.Status())
	_, err = s.SetField("width", 1000)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.Contains(t, f.events(t, event.EntityBid, "B-100"), event.TypeTransactionConfirmed)
}

func TestManager_ReopenAndReconfirm(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)
	set(t, s, completeDoor())
	tx, err := s.Confirm(context.Background())
	require.NoError(t, err)

	again, err := f.mgr.Open(context.Background(), OpenOptions{TransactionID: tx.ID})
	require.NoError(t, err)
	assert.Equal(t, "B-100", again.BidID)
	assert.Equal(t, tx.ID, again.Snapshot()["id"])

	_, err = again.SetField("width", 950)
	require.NoError(t, err)
	tx2, err := again.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tx.ID, tx2.ID)
	assert.Equal(t, 2, tx2.Version)
	assert.Equal(t, 950.0, tx2.Data["width"])
}

func TestManager_OpenReconcilesLegacyAlias(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, types.Record{"product_type": "door", "frame_front_id": 7, "legacy_junk": "x"})

	rec := s.Snapshot()
	assert.Equal(t, int64(7), rec["framework_front_id"])
	assert.Equal(t, int64(7), rec["frame_front_id"])
	assert.NotContains(t, rec, "legacy_junk")
}

func TestManager_OpenMissingTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Open(context.Background(), OpenOptions{TransactionID: 42})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSession_CancelDiscards(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, nil)
	notes, _ := s.Subscribe()
	set(t, s, completeDoor())

	require.NoError(t, s.Cancel())
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Equal(t, pipeline.Idle, s.ComputationState())
	assert.Equal(t, 0, f.sched.Fire(), "cancel stops the debounce timer")
	assert.Equal(t, 0, f.store.Len())

	_, open := <-notes
	assert.False(t, open)
	assert.ErrorIs(t, s.Cancel(), ErrSessionClosed)
}

func TestSession_ConfirmWithoutBid(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Open(context.Background(), OpenOptions{Record: completeDoor()})
	require.NoError(t, err)
	_, err = s.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrMissingBid)
}

func TestSession_References(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, types.Record{"product_type": "door"})

	page, err := s.References(context.Background(), "framework_front_id", catalogQuery())
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	for _, ref := range page.Items {
		assert.Equal(t, "frame", ref.Category)
		assert.Equal(t, "front", ref.Extra["position"])
	}

	_, err = s.References(context.Background(), "width", catalogQuery())
	assert.ErrorIs(t, err, ErrNotReference)

	set(t, s, types.Record{"framework_front_id": 121, "door_lock_id": 999})
	labels := s.DisplayLabels(context.Background())
	assert.Equal(t, "Ash frame 70 front", labels["framework_front_id"])
	assert.Equal(t, "999", labels["door_lock_id"])
}

func catalogQuery() catalog.Query {
	return catalog.Query{Limit: 50}
}

func TestSession_ColumnsFollowProductType(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, types.Record{"product_type": "sill"})
	assert.Equal(t, f.eng.Projector().Project("sill"), s.Columns())

	_, err := s.SetField("product_type", "door")
	require.NoError(t, err)
	assert.Equal(t, f.eng.Projector().Project("door"), s.Columns())
}

func TestManager_ExpiresIdleSessions(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(f.eng, time.Hour, time.Millisecond)
	s, err := mgr.Open(context.Background(), OpenOptions{BidID: "B"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = mgr.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Equal(t, 0, mgr.Len())

	_, err = mgr.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBulk_ConfirmAllReportsPerRow(t *testing.T) {
	f := newFixture(t)
	b, err := f.mgr.OpenBulk("B-7", "door", "ana")
	require.NoError(t, err)
	assert.Equal(t, f.eng.Projector().Project("door"), b.Columns())

	full := completeDoor()
	delete(full, "product_type")
	row0, err := b.AddRow(full)
	require.NoError(t, err)
	row1, err := b.AddRow(types.Record{"height": 2000})
	require.NoError(t, err)
	assert.Equal(t, 0, row0)
	assert.Equal(t, 1, row1)

	_, err = b.SetCell(1, "product_type", "window")
	assert.ErrorIs(t, err, ErrReadOnlyField)
	_, err = b.SetCell(5, "width", 900)
	assert.ErrorIs(t, err, ErrRowNotFound)
	_, err = b.SetCell(1, "width", 900)
	require.NoError(t, err)

	results := b.ConfirmAll(context.Background())
	require.Len(t, results, 2)
	assert.NotZero(t, results[0].TransactionID)
	assert.Empty(t, results[0].Errors)
	assert.Zero(t, results[1].TransactionID)
	assert.ElementsMatch(t,
		[]string{"doorway_type", "doorway_thickness", "framework_front_id", "door_lock_id"},
		markerNames(results[1].Errors))

	rows := b.Rows()
	assert.Equal(t, StatusConfirmed, rows[0].Status)
	assert.Equal(t, StatusOpen, rows[1].Status)

	again := b.ConfirmAll(context.Background())
	assert.Equal(t, results[0].TransactionID, again[0].TransactionID)
	assert.Equal(t, 1, f.store.Len())

	txs, total, err := f.store.ListByBid(context.Background(), "B-7", store.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bulk", txs[0].Source)
}

func TestBulk_UnknownProductType(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.OpenBulk("B-7", "garage", "ana")
	assert.ErrorIs(t, err, schema.ErrInvalidValue)
}
