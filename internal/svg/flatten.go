// Package svg turns SVG documents into flat polylines. The rest of the
// system treats this as a narrow capability: text in, point sequences
// out. The internal parsing machinery is not part of any contract.
package svg

import (
	"errors"
	"fmt"
	"math"

	rsvg "github.com/rustyoz/svg"

	"github.com/dbrgn/iboardbot-web/internal/geometry"
)

// ErrParse is returned for documents that cannot be parsed into
// geometry. Surfaced to clients as a 400, never retried.
var ErrParse = errors.New("invalid svg")

const (
	// defaultTolerance is the maximum deviation (in SVG user units)
	// between a curve and its polyline approximation.
	defaultTolerance = 0.15
	maxCurveDepth    = 16
)

// Flattener converts an SVG document into polylines in SVG user
// coordinates.
type Flattener interface {
	Flatten(svgText string) ([]geometry.Polyline, error)
}

// PathFlattener flattens SVG path data by walking the document's
// drawing instructions and subdividing cubic Bézier segments until
// they are straight within a tolerance. Non-path primitives without a
// path representation are ignored, as the upstream vendor service did.
type PathFlattener struct {
	tolerance float64
}

func NewPathFlattener() *PathFlattener {
	return &PathFlattener{tolerance: defaultTolerance}
}

func (f *PathFlattener) Flatten(svgText string) ([]geometry.Polyline, error) {
	parsed, err := rsvg.ParseSvg(svgText, "drawing", 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	instructions, errs := parsed.ParseDrawingInstructions()

	var (
		polylines []geometry.Polyline
		current   geometry.Polyline
		start     geometry.Point
		firstErr  error
	)
	flush := func() {
		if len(current) >= 2 {
			polylines = append(polylines, current)
		}
		current = nil
	}

	for instructions != nil || errs != nil {
		select {
		case ins, ok := <-instructions:
			if !ok {
				instructions = nil
				continue
			}
			if ins == nil {
				continue
			}
			switch ins.Kind {
			case rsvg.MoveInstruction:
				flush()
				start = geometry.Point{X: ins.M[0], Y: ins.M[1]}
				current = geometry.Polyline{start}
			case rsvg.LineInstruction:
				if len(current) > 0 && ins.M != nil {
					current = append(current, geometry.Point{X: ins.M[0], Y: ins.M[1]})
				}
			case rsvg.CurveInstruction:
				if len(current) > 0 && ins.CurvePoints != nil {
					current = f.appendCubic(current, ins.CurvePoints)
				}
			case rsvg.CloseInstruction:
				if len(current) > 1 {
					current = append(current, start)
				}
				flush()
			default:
				// Style and shape instructions carry no path geometry.
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	flush()

	if firstErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, firstErr)
	}
	return polylines, nil
}

// appendCubic flattens one cubic Bézier segment starting at the last
// point of the polyline.
func (f *PathFlattener) appendCubic(polyline geometry.Polyline, cp *rsvg.CurvePoints) geometry.Polyline {
	p0 := polyline[len(polyline)-1]
	c1 := geometry.Point{X: cp.C1[0], Y: cp.C1[1]}
	c2 := geometry.Point{X: cp.C2[0], Y: cp.C2[1]}
	p1 := geometry.Point{X: cp.T[0], Y: cp.T[1]}
	return f.subdivide(polyline, p0, c1, c2, p1, 0)
}

// subdivide recursively splits the curve with de Casteljau until the
// control points sit within tolerance of the chord.
func (f *PathFlattener) subdivide(out geometry.Polyline, p0, c1, c2, p1 geometry.Point, depth int) geometry.Polyline {
	if depth >= maxCurveDepth || f.flatEnough(p0, c1, c2, p1) {
		return append(out, p1)
	}

	mid := func(a, b geometry.Point) geometry.Point {
		return geometry.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
	}
	ab := mid(p0, c1)
	bc := mid(c1, c2)
	cd := mid(c2, p1)
	abc := mid(ab, bc)
	bcd := mid(bc, cd)
	m := mid(abc, bcd)

	out = f.subdivide(out, p0, ab, abc, m, depth+1)
	return f.subdivide(out, m, bcd, cd, p1, depth+1)
}

func (f *PathFlattener) flatEnough(p0, c1, c2, p1 geometry.Point) bool {
	return distToChord(c1, p0, p1) <= f.tolerance &&
		distToChord(c2, p0, p1) <= f.tolerance
}

// distToChord is the distance from p to the segment a-b.
func distToChord(p, a, b geometry.Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
