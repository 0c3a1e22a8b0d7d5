package render

import (
	"image"
	"image/color"
	"slices"
	"sync"

	iface "CoDetServer/interface"

	"gocv.io/x/gocv"
)

var (
	red   = color.RGBA{R: 239, G: 68, B: 68, A: 255}
	green = color.RGBA{R: 34, G: 197, B: 94, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// GroupColor returns the stroke color of a color group. Group A is red, group B green.
func GroupColor(g iface.ColorGroup) color.RGBA {
	if g == iface.GroupB {
		return green
	}
	return red
}

// Canvas keeps the overlay set handed over by the overlay manager and paints it onto frames.
type Canvas struct {
	mu        sync.RWMutex
	overlays  []iface.Overlay
	Thickness int
	FontScale float64
}

func NewCanvas() *Canvas {
	return &Canvas{Thickness: 2, FontScale: 0.5}
}

func (c *Canvas) ReplaceOverlays(overlays []iface.Overlay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays = slices.Clone(overlays)
}

func (c *Canvas) ClearOverlays() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays = nil
}

func (c *Canvas) Overlays() []iface.Overlay {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.overlays)
}

// Draw paints every overlay onto mat in place: a stroked box and the class label above it.
func (c *Canvas) Draw(mat *gocv.Mat) {
	for _, o := range c.Overlays() {
		rect := image.Rect(
			int(o.Box.X),
			int(o.Box.Y),
			int(o.Box.X+o.Box.Width),
			int(o.Box.Y+o.Box.Height),
		)
		stroke := GroupColor(o.ColorGroup)
		gocv.Rectangle(mat, rect, stroke, c.Thickness)

		size := gocv.GetTextSize(o.Class, gocv.FontHersheySimplex, c.FontScale, 1)
		top := rect.Min.Y - size.Y - 6
		if top < 0 {
			top = rect.Min.Y
		}
		label := image.Rect(rect.Min.X, top, rect.Min.X+size.X+6, top+size.Y+6)
		gocv.Rectangle(mat, label, stroke, -1)
		gocv.PutText(mat, o.Class, image.Pt(label.Min.X+3, label.Max.Y-3), gocv.FontHersheySimplex, c.FontScale, white, 1)
	}
}
