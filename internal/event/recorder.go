// Package event defines the editor's domain events and records them: each
// event becomes one activity entry per entity it touches, and is then handed
// to the in-process bus.
package event

import (
	"context"

	"github.com/matthewbaird/bidconfig/internal/activity"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// Recorder writes domain events to the activity store.
type Recorder interface {
	Record(ctx context.Context, evt DomainEvent) error
}

// Publisher sends domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

// Entries indexes the event under each entity it affects. Every entry
// carries the full reference list so a transaction's feed can link to the
// session and bid that produced it.
func (e DomainEvent) Entries() []types.ActivityEntry {
	out := make([]types.ActivityEntry, len(e.AffectedEntities))
	for i, ref := range e.AffectedEntities {
		out[i] = types.ActivityEntry{
			EventID:           e.ID,
			EventType:         e.EventType,
			OccurredAt:        e.OccurredAt,
			IndexedEntityType: ref.EntityType,
			IndexedEntityID:   ref.EntityID,
			EntityRole:        ref.Role,
			SourceRefs:        e.AffectedEntities,
			Summary:           e.Summary,
			Category:          e.Category,
			Severity:          e.Severity,
			Payload:           e.Payload,
		}
	}
	return out
}

// Journal is the Recorder the editor runs with. An event reaches the bus
// only after its entries are stored.
type Journal struct {
	store activity.Store
	bus   Publisher
}

// NewJournal creates a journal over store. bus may be nil.
func NewJournal(store activity.Store, bus Publisher) *Journal {
	return &Journal{store: store, bus: bus}
}

// Record implements Recorder.
func (j *Journal) Record(ctx context.Context, evt DomainEvent) error {
	if entries := evt.Entries(); len(entries) > 0 {
		if err := j.store.WriteEntries(ctx, entries); err != nil {
			return err
		}
	}
	if j.bus != nil {
		j.bus.Publish(ctx, evt)
	}
	return nil
}

// Discard is a Recorder that drops every event.
type Discard struct{}

func (Discard) Record(context.Context, DomainEvent) error { return nil }
