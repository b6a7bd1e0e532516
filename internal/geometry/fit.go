package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfBounds is returned when a drawing exceeds the drawable area
// after manual repositioning. Checked before anything is sent to the
// robot, never during fitting itself.
var ErrOutOfBounds = errors.New("drawing exceeds drawable area")

// boundsTolerance absorbs floating point noise when validating that a
// fitted drawing stays inside the drawable area.
const boundsTolerance = 1e-6

// Transform is the uniform scale and translation applied during
// fitting, recorded so callers can reason about what happened to the
// original coordinates.
type Transform struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// FittedDrawing is a drawing in device coordinates, guaranteed by Fit
// to lie within the Width×Height drawable area. A later ApplyManual can
// break that guarantee; CheckBounds re-validates.
type FittedDrawing struct {
	Polylines []Polyline
	Transform Transform
	Width     float64
	Height    float64
}

// Empty reports whether the drawing produces no motion at all.
func (d *FittedDrawing) Empty() bool {
	for _, polyline := range d.Polylines {
		if len(polyline) > 0 {
			return false
		}
	}
	return true
}

// Fit scales and centers polylines into a width×height drawable area.
// The scale factor is uniform so aspect ratio is preserved: if the
// drawing is proportionally taller than the area it is scaled to fit
// the height, otherwise to fit the width. The result is centered on
// both axes. An empty input yields an empty FittedDrawing.
func Fit(polylines []Polyline, width, height float64) FittedDrawing {
	fitted := FittedDrawing{
		Polylines: make([]Polyline, 0, len(polylines)),
		Transform: Transform{Scale: 1},
		Width:     width,
		Height:    height,
	}

	bounds, ok := BoundsOf(polylines)
	if !ok {
		return fitted
	}

	xFactor := width / bounds.X.Spread()
	yFactor := height / bounds.Y.Spread()
	scale := math.Min(normalOrOne(xFactor), normalOrOne(yFactor))

	// Center the scaled bounding box on both axes.
	offsetX := (width - bounds.X.Spread()*scale) / 2
	offsetY := (height - bounds.Y.Spread()*scale) / 2

	for _, polyline := range polylines {
		out := make(Polyline, len(polyline))
		for i, p := range polyline {
			out[i] = Point{
				X: (p.X-bounds.X.Min)*scale + offsetX,
				Y: (p.Y-bounds.Y.Min)*scale + offsetY,
			}
		}
		fitted.Polylines = append(fitted.Polylines, out)
	}
	fitted.Transform = Transform{Scale: scale, OffsetX: offsetX, OffsetY: offsetY}
	return fitted
}

// ApplyManual applies a client supplied repositioning on top of the
// automatic fit: scale first, then offset, in device coordinates. The
// result may leave the drawable area; callers must CheckBounds before
// sending anything to the robot.
func (d *FittedDrawing) ApplyManual(offsetX, offsetY, scaleX, scaleY float64) {
	for _, polyline := range d.Polylines {
		for i, p := range polyline {
			polyline[i] = Point{
				X: scaleX*p.X + offsetX,
				Y: scaleY*p.Y + offsetY,
			}
		}
	}
}

// CheckBounds verifies every point lies within the drawable area,
// within a small tolerance for float noise.
func (d *FittedDrawing) CheckBounds() error {
	for _, polyline := range d.Polylines {
		for _, p := range polyline {
			if p.X < -boundsTolerance || p.X > d.Width+boundsTolerance ||
				p.Y < -boundsTolerance || p.Y > d.Height+boundsTolerance {
				return fmt.Errorf("%w: point (%.2f, %.2f) outside %.0f×%.0f",
					ErrOutOfBounds, p.X, p.Y, d.Width, d.Height)
			}
		}
	}
	return nil
}

// normalOrOne guards against zero spreads: a degenerate axis (single
// point or vertical/horizontal line) yields an infinite factor which
// must not win the min.
func normalOrOne(f float64) float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) || f == 0 {
		return 1
	}
	return f
}
