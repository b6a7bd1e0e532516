package geometry

// Point is a single coordinate pair. Whether it lives in SVG user space
// or device space depends on where in the pipeline it sits.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polyline is an ordered sequence of points traced with the pen down.
type Polyline []Point

type Range struct {
	Min float64
	Max float64
}

func (r Range) Spread() float64 {
	return r.Max - r.Min
}

type Bounds struct {
	X Range
	Y Range
}

// BoundsOf computes the axis-aligned bounding box of all points across
// all polylines. The second return value is false if there are no
// points at all.
func BoundsOf(polylines []Polyline) (Bounds, bool) {
	var b Bounds
	found := false
	for _, polyline := range polylines {
		for _, p := range polyline {
			if !found {
				b.X = Range{Min: p.X, Max: p.X}
				b.Y = Range{Min: p.Y, Max: p.Y}
				found = true
				continue
			}
			if p.X < b.X.Min {
				b.X.Min = p.X
			}
			if p.X > b.X.Max {
				b.X.Max = p.X
			}
			if p.Y < b.Y.Min {
				b.Y.Min = p.Y
			}
			if p.Y > b.Y.Max {
				b.Y.Max = p.Y
			}
		}
	}
	return b, found
}
