package store

import (
	"strings"

	"entgo.io/ent"
	migrate "entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	entschema "github.com/matthewbaird/bidconfig/ent/schema"
)

// TransactionsTable is the table name for confirmed transactions.
const TransactionsTable = "transactions"

// transactionsTable derives the migration table from the ent schema so the
// column set has exactly one definition.
func transactionsTable() *migrate.Table {
	t := migrate.NewTable(TransactionsTable)
	t.AddPrimary(&migrate.Column{Name: "id", Type: field.TypeInt64, Increment: true})

	def := entschema.Transaction{}
	var fields []ent.Field
	for _, m := range def.Mixin() {
		fields = append(fields, m.Fields()...)
	}
	fields = append(fields, def.Fields()...)

	for _, f := range fields {
		d := f.Descriptor()
		col := &migrate.Column{
			Name:     d.Name,
			Type:     d.Info.Type,
			Nullable: d.Optional,
			Size:     int64(d.Size),
			Comment:  d.Comment,
		}
		for _, e := range d.Enums {
			col.Enums = append(col.Enums, e.V)
		}
		switch v := d.Default.(type) {
		case string, int, int64, bool, float64:
			col.Default = v
		}
		t.AddColumn(col)
	}

	for _, idx := range def.Indexes() {
		d := idx.Descriptor()
		name := d.StorageKey
		if name == "" {
			name = TransactionsTable + "_" + strings.Join(d.Fields, "_")
		}
		t.AddIndex(name, d.Unique, d.Fields)
	}
	return t
}

// columns lists the selected columns in scan order.
var columns = []string{
	"id", "bid_id", "product_type", "data", "version",
	"created_at", "updated_at", "created_by", "updated_by", "source",
	"correlation_id", "session_id",
}
