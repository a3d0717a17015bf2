package association

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/helmet-watch/images"
)

var (
	colorRider    = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	colorNoHelmet = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	colorPlate    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	colorWarning  = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	colorBadge    = color.RGBA{}
)

const (
	boxThickness  = 3
	textThickness = 2
	labelScale    = 0.7
	counterScale  = 1.0
)

// drawViolation outlines the rider and the bare head and puts a numbered
// badge above the rider.
func drawViolation(canvas *gocv.Mat, v Violation) {
	r := v.Rider.Box
	gocv.Rectangle(canvas, r.ToRectangle(), colorRider, boxThickness)
	gocv.Rectangle(canvas, v.NoHelmet.Box.ToRectangle(), colorNoHelmet, boxThickness)

	gocv.Rectangle(canvas, image.Rect(r.X1, r.Y1-40, r.X1+200, r.Y1), colorBadge, -1)
	gocv.PutText(canvas, fmt.Sprintf("VIOLATION #%d", v.Index), image.Pt(r.X1+5, r.Y1-10),
		gocv.FontHersheySimplex, labelScale, colorNoHelmet, textThickness)
}

// drawPlate outlines the plate and links it to the bare head.
func drawPlate(canvas *gocv.Mat, v Violation) {
	gocv.Rectangle(canvas, v.Plate.Box.ToRectangle(), colorPlate, boxThickness)
	gocv.Line(canvas,
		images.Center(v.NoHelmet.Box).ImagePoint(),
		images.Center(v.Plate.Box).ImagePoint(),
		colorPlate, textThickness)
}

func drawPlateSaved(canvas *gocv.Mat, v Violation) {
	p := v.Plate.Box
	gocv.PutText(canvas, fmt.Sprintf("PLATE SAVED (%.2f)", v.Plate.Confidence), image.Pt(p.X1, p.Y2+25),
		gocv.FontHersheySimplex, labelScale, colorPlate, textThickness)
}

func drawNoPlate(canvas *gocv.Mat, v Violation) {
	r := v.Rider.Box
	gocv.PutText(canvas, "NO PLATE DETECTED", image.Pt(r.X1, r.Y2+25),
		gocv.FontHersheySimplex, labelScale, colorWarning, textThickness)
}

// drawCounter paints the per-frame violation count in the top left corner.
func drawCounter(canvas *gocv.Mat, n int) {
	if n == 0 {
		return
	}
	gocv.Rectangle(canvas, image.Rect(10, 10, 300, 60), colorBadge, -1)
	gocv.PutText(canvas, fmt.Sprintf("VIOLATIONS: %d", n), image.Pt(20, 45),
		gocv.FontHersheySimplex, counterScale, colorNoHelmet, textThickness)
}
