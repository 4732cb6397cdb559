// Package seed provides demo reference data for the catalog.
package seed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// References returns the demo catalog: frames, trims, crowns, fillers and
// locks covering every reference field of the default schema.
func References() []types.Reference {
	var refs []types.Reference
	add := func(id int64, category, label string, extra map[string]any) {
		ref := types.Reference{ID: id, Category: category, Label: label, Extra: extra}
		if category == "frame" || category == "trim" || category == "crown" {
			ref.ImageURL = fmt.Sprintf("/static/catalog/%d.png", id)
		}
		refs = append(refs, ref)
	}

	// Frames, one family per species and position.
	for i, species := range []string{"Oak", "Pine", "Ash"} {
		base := int64(100 + i*10)
		add(base+1, "frame", species+" frame 70 front", map[string]any{"position": "front"})
		add(base+2, "frame", species+" frame 70 left", map[string]any{"position": "left"})
		add(base+3, "frame", species+" frame 70 right", map[string]any{"position": "right"})
	}

	add(201, "trim", "Flat trim 70", nil)
	add(202, "trim", "Rounded trim 70", nil)
	add(203, "trim", "Window trim 50", map[string]any{"product_types": []string{"window", "door-window"}})
	add(204, "trim", "Casing trim 90", map[string]any{"product_types": []string{"casing"}})

	add(301, "crown", "Classic crown", nil)
	add(302, "crown", "Modern crown", nil)

	for i, width := range []float64{50, 80, 120, 160} {
		add(int64(401+i), "filler", fmt.Sprintf("Filler %g", width), map[string]any{"width": width})
	}

	add(501, "lock", "Mortise lock", map[string]any{"product_types": []string{"door", "door-window"}})
	add(502, "lock", "Magnetic lock", map[string]any{"product_types": []string{"door", "door-window"}})
	add(503, "lock", "Multipoint lock", map[string]any{"product_types": []string{"door"}})

	return refs
}

// Memory returns a memory catalog holding the demo references.
func Memory() *catalog.MemoryCatalog {
	return catalog.NewMemoryCatalog(References()...)
}

// Postgres creates the catalog table and inserts the demo references. If the
// table already has rows it skips seeding.
func Postgres(ctx context.Context, c *catalog.PostgresCatalog, logger *zap.Logger) error {
	if err := c.Migrate(ctx); err != nil {
		return err
	}
	count, err := c.Count(ctx)
	if err != nil {
		return fmt.Errorf("checking catalog: %w", err)
	}
	if count > 0 {
		logger.Info("catalog already seeded, skipping", zap.Int("items", count))
		return nil
	}
	refs := References()
	if err := c.Insert(ctx, refs...); err != nil {
		return fmt.Errorf("seeding catalog: %w", err)
	}
	logger.Info("catalog seeded", zap.Int("items", len(refs)))
	return nil
}
