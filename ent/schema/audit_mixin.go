package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/mixin"
)

// AuditMixin provides the audit columns carried by every persisted
// transaction: who confirmed it, from which surface, and when.
type AuditMixin struct {
	mixin.Schema
}

// Source values.
const (
	SourceEditor    = "editor"
	SourceBulk      = "bulk"
	SourceImport    = "import"
	SourceSystem    = "system"
	SourceMigration = "migration"
)

// Fields of the AuditMixin.
func (AuditMixin) Fields() []ent.Field {
	return []ent.Field{
		field.Time("created_at").
			Default(time.Now).
			Immutable().
			Comment("When the transaction was first confirmed"),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now).
			Comment("When the transaction was last confirmed"),
		field.String("created_by").
			NotEmpty().
			Comment("Actor who first confirmed the transaction"),
		field.String("updated_by").
			NotEmpty().
			Comment("Actor who last confirmed the transaction"),
		field.Enum("source").
			Values(SourceEditor, SourceBulk, SourceImport, SourceSystem, SourceMigration).
			Comment("Surface the confirmation came from"),
		field.String("correlation_id").
			Optional().
			Nillable().
			Comment("Links related changes across transactions"),
		field.String("session_id").
			Optional().
			Nillable().
			Comment("Editor session that produced the confirmed record"),
	}
}
