package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/logging"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// Handler serves editor sessions over WebSocket.
type Handler struct {
	mgr    *editor.Manager
	logger *zap.Logger
}

// NewHandler creates a WebSocket handler over mgr.
func NewHandler(mgr *editor.Manager, logger *zap.Logger) *Handler {
	return &Handler{mgr: mgr, logger: logging.OrNop(logger).Named("wire")}
}

// ServeHTTP upgrades to WebSocket and runs the message loop. With an {id}
// route parameter or ?session_id= it attaches to an existing session.
// Otherwise it opens one from ?bid_id=, ?transaction_id= and ?actor=, and
// cancels it on disconnect unless it was confirmed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, owned, err := h.session(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, editor.ErrSessionNotFound) || errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	if owned {
		defer h.mgr.Remove(sess.ID)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notes, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	go h.forward(ctx, conn, notes)

	h.sendState(ctx, conn, sess, "", nil)

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("connection closed", zap.String("session_id", sess.ID), zap.Int("status", int(websocket.CloseStatus(err))))
			}
			return
		}

		switch msg.Type {
		case TypeSetField:
			h.handleSetField(ctx, conn, sess, msg)
		case TypeResolve:
			h.sendState(ctx, conn, sess, msg.ID, nil)
		case TypeReferences:
			h.handleReferences(ctx, conn, sess, msg)
		case TypeConfirm:
			if h.handleConfirm(ctx, conn, sess, msg) {
				h.mgr.Remove(sess.ID)
				conn.Close(websocket.StatusNormalClosure, "confirmed")
				return
			}
		case TypeCancel:
			h.mgr.Remove(sess.ID)
			h.send(ctx, conn, ServerMessage{Type: TypeCancelled, RequestID: msg.ID})
			conn.Close(websocket.StatusNormalClosure, "cancelled")
			return
		case TypePing:
			h.send(ctx, conn, ServerMessage{Type: TypePong, RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (h *Handler) session(r *http.Request) (*editor.Session, bool, error) {
	q := r.URL.Query()
	id := chi.URLParam(r, "id")
	if id == "" {
		id = q.Get("session_id")
	}
	if id != "" {
		s, err := h.mgr.Get(id)
		return s, false, err
	}
	actor := q.Get("actor")
	if actor == "" {
		return nil, false, errors.New("actor is required")
	}
	var txID int64
	if v := q.Get("transaction_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("invalid transaction_id: %s", v)
		}
		txID = n
	}
	s, err := h.mgr.Open(r.Context(), editor.OpenOptions{
		BidID:         q.Get("bid_id"),
		Actor:         actor,
		Source:        "editor",
		TransactionID: txID,
	})
	return s, err == nil, err
}

// forward relays pipeline notifications until the session closes or the
// connection ends.
func (h *Handler) forward(ctx context.Context, conn *websocket.Conn, notes <-chan editor.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			switch n.Type {
			case editor.NotifyComputed:
				h.send(ctx, conn, ServerMessage{Type: TypeComputed, Data: ComputedData{Values: n.Values}})
			case editor.NotifyComputationFailed:
				h.send(ctx, conn, ServerMessage{Type: TypeComputationFailed, Data: ErrorData{Code: "computation_failed", Message: n.Error}})
			}
		}
	}
}

func (h *Handler) handleSetField(ctx context.Context, conn *websocket.Conn, sess *editor.Session, msg ClientMessage) {
	var data SetFieldData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Field == "" {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid set_field data")
		return
	}
	changed, err := sess.SetField(data.Field, data.Value)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, errorCode(err), err.Error())
		return
	}
	h.sendState(ctx, conn, sess, msg.ID, changed)
}

func (h *Handler) handleReferences(ctx context.Context, conn *websocket.Conn, sess *editor.Session, msg ClientMessage) {
	var data ReferencesData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Field == "" {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid references data")
		return
	}
	page, err := sess.References(ctx, data.Field, catalog.Query{Search: data.Search, Limit: data.Limit, Offset: data.Offset})
	if err != nil {
		h.sendError(ctx, conn, msg.ID, errorCode(err), err.Error())
		return
	}
	h.send(ctx, conn, ServerMessage{Type: TypeCandidates, RequestID: msg.ID, Data: page})
}

// handleConfirm reports whether the session was saved.
func (h *Handler) handleConfirm(ctx context.Context, conn *websocket.Conn, sess *editor.Session, msg ClientMessage) bool {
	tx, err := sess.Confirm(ctx)
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		h.send(ctx, conn, ServerMessage{Type: TypeValidation, RequestID: msg.ID, Data: ValidationData{Fields: verr.Fields}})
		return false
	case err != nil:
		code := errorCode(err)
		if code == "internal" {
			h.logger.Error("confirm failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
		h.sendError(ctx, conn, msg.ID, code, err.Error())
		return false
	}
	h.send(ctx, conn, ServerMessage{Type: TypeConfirmed, RequestID: msg.ID, Data: ConfirmedData{Transaction: tx}})
	return true
}

func (h *Handler) sendState(ctx context.Context, conn *websocket.Conn, sess *editor.Session, requestID string, changed []string) {
	h.send(ctx, conn, ServerMessage{
		Type:      TypeState,
		RequestID: requestID,
		Data: StateData{
			View:    sess.View(),
			Columns: sess.Columns(),
			Labels:  sess.DisplayLabels(ctx),
			Changed: changed,
		},
	})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil && ctx.Err() == nil {
		h.logger.Debug("write error", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      TypeError,
		RequestID: requestID,
		Data:      ErrorData{Code: code, Message: message},
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, editor.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, editor.ErrReadOnlyField):
		return "read_only_field"
	case errors.Is(err, editor.ErrNotReference):
		return "not_reference"
	case errors.Is(err, editor.ErrMissingBid):
		return "missing_bid"
	case errors.Is(err, editor.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, editor.ErrConfirming):
		return "confirm_in_progress"
	case errors.Is(err, schema.ErrInvalidValue):
		return "invalid_value"
	}
	return "internal"
}
