package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// Event types.
const (
	TypeTransactionConfirmed = "transaction_confirmed"
	TypeConfirmationBlocked  = "confirmation_blocked"
	TypeComputationMerged    = "computation_merged"
	TypeComputationFailed    = "computation_failed"
)

// Entity types used in SourceRefs.
const (
	EntityTransaction = "transaction"
	EntityBid         = "bid"
	EntitySession     = "session"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID               string
	EventType        string
	OccurredAt       time.Time
	AffectedEntities []types.SourceRef
	Summary          string
	Category         string // "confirmation", "computation"
	Severity         string // "critical", "warning", "info"
	Payload          json.RawMessage
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func sessionRefs(sessionID, bidID, role string) []types.SourceRef {
	refs := []types.SourceRef{{EntityType: EntitySession, EntityID: sessionID, Role: role}}
	if bidID != "" {
		refs = append(refs, types.SourceRef{EntityType: EntityBid, EntityID: bidID, Role: "context"})
	}
	return refs
}

// ── Confirmation events ──────────────────────────────────────────────────────

// TransactionConfirmedPayload carries event-specific data for TransactionConfirmed.
type TransactionConfirmedPayload struct {
	TransactionID int64  `json:"transaction_id"`
	BidID         string `json:"bid_id"`
	SessionID     string `json:"session_id"`
	ProductType   string `json:"product_type"`
	Version       int    `json:"version"`
	Actor         string `json:"actor"`
	Source        string `json:"source"`
}

func NewTransactionConfirmed(p TransactionConfirmedPayload) DomainEvent {
	refs := []types.SourceRef{
		{EntityType: EntityTransaction, EntityID: strconv.FormatInt(p.TransactionID, 10), Role: "subject"},
		{EntityType: EntityBid, EntityID: p.BidID, Role: "context"},
		{EntityType: EntitySession, EntityID: p.SessionID, Role: "related"},
	}
	verb := "confirmed"
	if p.Version > 1 {
		verb = fmt.Sprintf("re-confirmed (v%d)", p.Version)
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeTransactionConfirmed,
		OccurredAt:       time.Now(),
		AffectedEntities: refs,
		Summary:          fmt.Sprintf("%s transaction %d %s by %s", productLabel(p.ProductType), p.TransactionID, verb, p.Actor),
		Category:         "confirmation",
		Severity:         "info",
		Payload:          mustJSON(p),
	}
}

// ConfirmationBlockedPayload carries event-specific data for ConfirmationBlocked.
type ConfirmationBlockedPayload struct {
	SessionID   string   `json:"session_id"`
	BidID       string   `json:"bid_id,omitempty"`
	ProductType string   `json:"product_type"`
	Fields      []string `json:"fields"`
}

func NewConfirmationBlocked(p ConfirmationBlockedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeConfirmationBlocked,
		OccurredAt:       time.Now(),
		AffectedEntities: sessionRefs(p.SessionID, p.BidID, "subject"),
		Summary:          fmt.Sprintf("Confirmation blocked: %s", strings.Join(p.Fields, ", ")),
		Category:         "confirmation",
		Severity:         "warning",
		Payload:          mustJSON(p),
	}
}

// ── Computation events ───────────────────────────────────────────────────────

// ComputationMergedPayload carries event-specific data for ComputationMerged.
type ComputationMergedPayload struct {
	SessionID string   `json:"session_id"`
	BidID     string   `json:"bid_id,omitempty"`
	Fields    []string `json:"fields"`
}

func NewComputationMerged(p ComputationMergedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeComputationMerged,
		OccurredAt:       time.Now(),
		AffectedEntities: sessionRefs(p.SessionID, p.BidID, "subject"),
		Summary:          fmt.Sprintf("Measurements updated (%d values)", len(p.Fields)),
		Category:         "computation",
		Severity:         "info",
		Payload:          mustJSON(p),
	}
}

// ComputationFailedPayload carries event-specific data for ComputationFailed.
type ComputationFailedPayload struct {
	SessionID string `json:"session_id"`
	BidID     string `json:"bid_id,omitempty"`
	Error     string `json:"error"`
}

func NewComputationFailed(p ComputationFailedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeComputationFailed,
		OccurredAt:       time.Now(),
		AffectedEntities: sessionRefs(p.SessionID, p.BidID, "subject"),
		Summary:          "Measurement service call failed",
		Category:         "computation",
		Severity:         "warning",
		Payload:          mustJSON(p),
	}
}

func productLabel(pt string) string {
	if pt == "" {
		return "Untyped"
	}
	return strings.ToUpper(pt[:1]) + pt[1:]
}
