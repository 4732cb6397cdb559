package wire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/measurement"
	"github.com/matthewbaird/bidconfig/internal/pipeline"
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/seed"
	"github.com/matthewbaird/bidconfig/internal/store"
)

type received struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Data      map[string]any `json:"data"`
}

func setup(t *testing.T) (*httptest.Server, *editor.Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	eng := editor.NewEngine(resolver.New(schema.Default()), measurement.NewCalculator(),
		editor.WithCatalog(seed.Memory()),
		editor.WithStore(st),
		editor.WithLogger(zap.NewNop()),
		editor.WithPipelineOptions(pipeline.WithDelay(5*time.Millisecond)),
	)
	mgr := editor.NewManager(eng, time.Hour, time.Hour)
	t.Cleanup(mgr.Close)
	srv := httptest.NewServer(NewHandler(mgr, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, mgr, st
}

type client struct {
	t       *testing.T
	ctx     context.Context
	conn    *websocket.Conn
	pending []received
}

func dial(t *testing.T, srv *httptest.Server, query string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &client{t: t, ctx: ctx, conn: conn}
}

func (c *client) send(typ, id string, data any) {
	c.t.Helper()
	msg := map[string]any{"type": typ, "id": id}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(c.t, wsjson.Write(c.ctx, c.conn, msg))
}

// next returns the first message of type typ, buffering any others.
func (c *client) next(typ string) received {
	c.t.Helper()
	for i, msg := range c.pending {
		if msg.Type == typ {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return msg
		}
	}
	for {
		var msg received
		require.NoError(c.t, wsjson.Read(c.ctx, c.conn, &msg))
		if msg.Type == typ {
			return msg
		}
		c.pending = append(c.pending, msg)
	}
}

// closeStatus drains the connection until the server closes it.
func (c *client) closeStatus() websocket.StatusCode {
	for {
		if _, _, err := c.conn.Read(c.ctx); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func TestHandler_EditComputeConfirm(t *testing.T) {
	srv, mgr, st := setup(t)
	c := dial(t, srv, "bid_id=B-1&actor=ana")

	state := c.next(TypeState)
	assert.Equal(t, "open", state.Data["status"])
	assert.Equal(t, 1, mgr.Len())

	fields := []struct {
		field string
		value any
	}{
		{"product_type", "door"},
		{"height", 2000},
		{"width", 900},
		{"doorway_type", "single"},
		{"doorway_thickness", 120},
		{"framework_front_id", 101},
	}
	for i, f := range fields {
		id := "s" + strconv.Itoa(i)
		c.send(TypeSetField, id, SetFieldData{Field: f.field, Value: f.value})
		msg := c.next(TypeState)
		assert.Equal(t, id, msg.RequestID)
	}

	computed := c.next(TypeComputed)
	assert.NotEmpty(t, computed.Data["values"])

	c.send(TypeConfirm, "c1", nil)
	v := c.next(TypeValidation)
	assert.Equal(t, "c1", v.RequestID)
	require.Len(t, v.Data["fields"], 1)

	c.send(TypeSetField, "s9", SetFieldData{Field: "door_lock_id", Value: 501})
	c.next(TypeState)

	c.send(TypeConfirm, "c2", nil)
	confirmed := c.next(TypeConfirmed)
	tx := confirmed.Data["transaction"].(map[string]any)
	assert.Equal(t, "B-1", tx["bid_id"])
	assert.Equal(t, 1, st.Len())

	assert.Equal(t, websocket.StatusNormalClosure, c.closeStatus())
	assert.Equal(t, 0, mgr.Len())
}

func TestHandler_Errors(t *testing.T) {
	srv, _, _ := setup(t)
	c := dial(t, srv, "bid_id=B-1&actor=ana")
	c.next(TypeState)

	c.send(TypeSetField, "e1", SetFieldData{Field: "colour", Value: "red"})
	msg := c.next(TypeError)
	assert.Equal(t, "unknown_field", msg.Data["code"])

	c.send("shout", "e2", nil)
	msg = c.next(TypeError)
	assert.Equal(t, "unknown_type", msg.Data["code"])

	c.send(TypeReferences, "r1", ReferencesData{Field: "door_lock_id"})
	msg = c.next(TypeCandidates)
	assert.NotEmpty(t, msg.Data["items"])

	c.send(TypePing, "p1", nil)
	msg = c.next(TypePong)
	assert.Equal(t, "p1", msg.RequestID)
}

func TestHandler_AttachAndCancel(t *testing.T) {
	srv, mgr, _ := setup(t)
	s, err := mgr.Open(context.Background(), editor.OpenOptions{BidID: "B-2", Actor: "ana"})
	require.NoError(t, err)

	c := dial(t, srv, "session_id="+s.ID)
	state := c.next(TypeState)
	assert.Equal(t, s.ID, state.Data["id"])

	c.send(TypeCancel, "x", nil)
	c.next(TypeCancelled)
	assert.Equal(t, editor.StatusCancelled, s.Status())
	assert.Equal(t, 0, mgr.Len())
}

func TestHandler_RejectsBadUpgrade(t *testing.T) {
	srv, _, _ := setup(t)

	resp, err := http.Get(srv.URL + "/?session_id=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/?bid_id=B-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
