// Package images - Geometry and image utilities for detection association.
package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Point is an integer pixel position.
type Point struct {
	X, Y int
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y int) Point {
	return Point{X: x, Y: y}
}

// Distance returns the Euclidean distance between two points.
func (p Point) Distance(o Point) float32 {
	return math32.Hypot(float32(p.X-o.X), float32(p.Y-o.Y))
}

// ImagePoint converts p to an image.Point for drawing.
func (p Point) ImagePoint() image.Point {
	return image.Pt(p.X, p.Y)
}

// Valid reports whether the box has a positive width and height.
func (r Rect) Valid() bool {
	return r.X1 < r.X2 && r.Y1 < r.Y2
}

// Area returns the box area in pixels, 0 for degenerate boxes.
func (r Rect) Area() int {
	if !r.Valid() {
		return 0
	}
	return (r.X2 - r.X1) * (r.Y2 - r.Y1)
}

// Expand grows each side of the box by the given number of pixels. Negative
// values shrink it.
func (r Rect) Expand(left, top, right, bottom int) Rect {
	return Rect{X1: r.X1 - left, Y1: r.Y1 - top, X2: r.X2 + right, Y2: r.Y2 + bottom}
}

// Pad grows the box by n pixels on every side.
func (r Rect) Pad(n int) Rect {
	return r.Expand(n, n, n, n)
}

// Clip restricts the box to the given bounds. The result may be empty
// (Valid() == false) when the box lies completely outside.
func (r Rect) Clip(bounds Rect) Rect {
	return Rect{
		X1: max(r.X1, bounds.X1),
		Y1: max(r.Y1, bounds.Y1),
		X2: min(r.X2, bounds.X2),
		Y2: min(r.Y2, bounds.Y2),
	}
}

// ToRectangle converts the box to an image.Rectangle.
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// FromRectangle converts an image.Rectangle to a Rect.
func FromRectangle(r image.Rectangle) Rect {
	return Rect{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Center returns the midpoint of the box. Coordinates are truncated by
// integer division.
//
// Example:
//
//	c := Center(Rect{X1: 20, Y1: 180, X2: 80, Y2: 220}) // {50 200}
func Center(r Rect) Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// CalculateIoU measures the overlap between two boxes as the ratio of the
// intersection area to the union area.
//
//	IoU = Area of Intersection / Area of Union
//
// A value of 1.0 means the boxes are identical and 0.0 means they do not
// overlap at all.
//
// The intersection corners are the maximum of the top-left corners and the
// minimum of the bottom-right corners. When the resulting width or height is
// zero or negative the boxes do not overlap and 0 is returned before any
// division happens. The union uses inclusion-exclusion:
//
//	Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
//
// Arguments:
//   - r: The first box.
//   - o: The other box.
//
// Returns:
//   - float32: A value in [0, 1]; symmetric in its arguments.
//
// Example:
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return float32(interArea) / float32(unionArea)
}

// ContainsCenter reports whether the center of inner lies strictly inside
// outer grown by tolerance pixels on every side.
//
// Detection boxes jitter from frame to frame, so association tests the
// center of the smaller box against a tolerant region instead of requiring
// strict nesting.
//
// Arguments:
//   - inner: The box whose center is tested.
//   - outer: The region to test against.
//   - tolerance: Pixels added to each side of outer.
//
// Returns:
//   - bool: True when the center falls inside the grown region.
func ContainsCenter(inner, outer Rect, tolerance int) bool {
	c := Center(inner)
	return outer.X1-tolerance < c.X && c.X < outer.X2+tolerance &&
		outer.Y1-tolerance < c.Y && c.Y < outer.Y2+tolerance
}
