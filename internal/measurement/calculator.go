package measurement

import (
	"context"
	"math"

	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// Calculator computes measurements in process. Dimensions are millimetres;
// lengths come back in metres and areas/volumes in square metres.
type Calculator struct{}

// NewCalculator returns a local calculator.
func NewCalculator() *Calculator { return &Calculator{} }

// Measure implements Measurer.
func (c *Calculator) Measure(ctx context.Context, req Request) (types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Compute(req), nil
}

// Compute returns the results for req.
func (c *Calculator) Compute(req Request) types.Record {
	h, w, q := req.Height/1000, req.Width/1000, req.Quantity
	perimeter := 2 * (h + w)

	out := types.Record{
		"volume_product":   round(h * w * q),
		"sheathing_length": round(perimeter * q),
	}
	if req.DoorwayThickness != nil {
		out["sheathing_area"] = round(perimeter * (*req.DoorwayThickness / 1000) * q)
	}

	door := req.ProductType == schema.Door || req.ProductType == schema.DoorWindow
	glazed := req.ProductType == schema.Window || req.ProductType == schema.DoorWindow

	if req.TrimID != nil {
		legs := 2.0
		if req.ProductType == schema.Window {
			legs = 4.0 // window trim wraps the opening
		}
		out["trim_length"] = round((2*h + w) * q)
		out["trim_quantity"] = round(legs * q)
		out["up_trim_quantity"] = q
		if req.ProductType == schema.Window {
			out["under_trim_quantity"] = q
		} else {
			out["under_trim_quantity"] = 0.0
		}
		out["crown_length"] = round((w + 0.1) * q)
		out["crown_quantity"] = q
	}

	if glazed {
		out["glass_quantity"] = q
	} else {
		out["glass_quantity"] = 0.0
	}

	if door {
		leaves := 1.0
		if req.DoorwayType == "double" {
			leaves = 2
		}
		out["door_lock_quantity"] = q
		out["latch_quantity"] = round(leaves * q)
		out["canopy_quantity"] = round(3 * leaves * q)
	}

	if req.BoxWidth != nil && *req.BoxWidth > 0 {
		out["box_service_quantity"] = q
		out["box_service_length"] = round(perimeter * q)
	}
	return out
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
