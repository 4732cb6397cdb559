package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Transaction holds one confirmed bid line item.
type Transaction struct {
	ent.Schema
}

// Mixin of the Transaction.
func (Transaction) Mixin() []ent.Mixin {
	return []ent.Mixin{
		AuditMixin{},
	}
}

// Fields of the Transaction.
func (Transaction) Fields() []ent.Field {
	return []ent.Field{
		field.String("bid_id").
			NotEmpty().
			Comment("Bid the line item belongs to"),
		field.String("product_type").
			Optional().
			Comment("Product type at confirmation"),
		field.JSON("data", map[string]any{}).
			Comment("Normalised record: bare reference ids, numbers or null"),
		field.Int("version").
			Default(1).
			Comment("Incremented on every confirmation"),
	}
}

// Indexes of the Transaction.
func (Transaction) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("bid_id"),
	}
}
