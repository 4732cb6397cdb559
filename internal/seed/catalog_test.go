package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

func TestReferences_UniqueIDs(t *testing.T) {
	seen := map[int64]bool{}
	for _, r := range References() {
		assert.False(t, seen[r.ID], "duplicate id %d", r.ID)
		seen[r.ID] = true
		assert.NotEmpty(t, r.Label)
	}
}

func TestReferences_CoverEveryReferenceField(t *testing.T) {
	reg := schema.Default()
	cat := Memory()
	ctx := context.Background()

	rec := types.Record{"box_width": 100.0}
	for _, s := range reg.Sections() {
		for _, f := range s.Fields {
			if !f.Kind.IsReference() {
				continue
			}
			pt := ""
			if len(s.AllowedProductTypes) > 0 {
				pt = s.AllowedProductTypes[0]
			}
			page, err := cat.Search(ctx, catalog.Query{Params: reg.ReferenceParams(f.Name, rec, pt)})
			require.NoError(t, err)
			assert.NotEmpty(t, page.Items, "no candidates for %s", f.Name)
		}
	}
}
