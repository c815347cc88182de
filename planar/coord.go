package planar

import (
	"fmt"
	"math"
)

// Index is an optional zero-based axis index.  The zero value is unset and selects
// the whole axis.
type Index struct {
	N   int
	Set bool
}

// At returns a set Index.
func At(n int) Index {
	return Index{N: n, Set: true}
}

func (i Index) String() string {
	if !i.Set {
		return "all"
	}
	return fmt.Sprintf("%d", i.N)
}

// Range returns the half-open range [start, stop) selected along an axis of the given size.
func (i Index) Range(size int) (start, stop int, err error) {
	if !i.Set {
		return 0, size, nil
	}
	if i.N < 0 || i.N >= size {
		return 0, 0, OutOfBounds("index %d not in axis of size %d", i.N, size)
	}
	return i.N, i.N + 1, nil
}

// Rect is a crop rectangle in pixel coordinates.  X and Y may be fractional and are
// rounded half-to-even when applied.
type Rect struct {
	X, Y float64
	W, H int
}

// Bounds returns the half-open x and y ranges of the rectangle clipped to an image
// of the given width and height.
func (r Rect) Bounds(width, height int) (x0, x1, y0, y1 int, err error) {
	x0 = int(math.RoundToEven(r.X))
	y0 = int(math.RoundToEven(r.Y))
	x1 = x0 + r.W
	y1 = y0 + r.H
	if x0 < 0 || y0 < 0 || r.W <= 0 || r.H <= 0 || x0 >= width || y0 >= height {
		return 0, 0, 0, 0, OutOfBounds("crop %+v outside %dx%d image", r, width, height)
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	return
}

// Plane is the result of a planar read: the image and, when requested, the
// intensity ceiling of its source data type.
type Plane struct {
	Image        *Array
	MaxIntensity float64
}
