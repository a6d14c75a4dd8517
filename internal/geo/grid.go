package geo

import (
	"github.com/rotisserie/eris"
)

// Point is one query location in a sweep grid.
type Point struct {
	Lat float64
	Lng float64
}

// Rect is a bounding rectangle given by its top-left and bottom-right
// corners, in the provider's coordinate space.
type Rect struct {
	TopLat    float64
	LeftLng   float64
	BottomLat float64
	RightLng  float64
}

// Validate rejects degenerate rectangles before any network activity.
func (r Rect) Validate() error {
	if r.TopLat <= r.BottomLat {
		return eris.Errorf("geo: top latitude %f must be greater than bottom latitude %f", r.TopLat, r.BottomLat)
	}
	if r.RightLng <= r.LeftLng {
		return eris.Errorf("geo: right longitude %f must be greater than left longitude %f", r.RightLng, r.LeftLng)
	}
	return nil
}

// Grid materializes the row-major point sequence covering rect at the
// given step: full latitude steps from top to bottom (top inclusive,
// bottom exclusive), and within each row, longitude steps left to
// right (left inclusive, right exclusive). The returned slice length
// is the lat-step count times the lng-step count, so the total is
// known before any point is queried.
func Grid(rect Rect, step float64) ([]Point, error) {
	if step <= 0 {
		return nil, eris.Errorf("geo: step must be positive, got %f", step)
	}
	if err := rect.Validate(); err != nil {
		return nil, err
	}

	nLat := stepCount(rect.TopLat, rect.BottomLat, step)
	nLng := stepCount(rect.RightLng, rect.LeftLng, step)

	points := make([]Point, 0, nLat*nLng)
	for i := 0; i < nLat; i++ {
		lat := rect.TopLat - float64(i)*step
		for j := 0; j < nLng; j++ {
			points = append(points, Point{Lat: lat, Lng: rect.LeftLng + float64(j)*step})
		}
	}
	return points, nil
}

// stepCount returns how many step-sized increments fit in [lo, hi)
// starting from the inclusive bound. Matches half-open range
// semantics: a bound landing exactly on a step is excluded.
func stepCount(hi, lo, step float64) int {
	n := 0
	for v := 0.0; hi-v > lo; v += step {
		n++
	}
	return n
}
