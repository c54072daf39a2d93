// Package compositor renders decoded source frames onto the vertical story
// canvas: fit/crop geometry, blurred background fill, safe-zone guides, and
// title/channel overlays.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"

	xdraw "golang.org/x/image/draw"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// Default safe-zone fractions of canvas height.
const (
	defaultTopSafeZoneFrac    = 0.15
	defaultBottomSafeZoneFrac = 0.20
)

// Compositor renders frames for a fixed 9:16 canvas.
type Compositor struct {
	canvasW int
	canvasH int
	logger  *slog.Logger
}

// New creates a compositor for the given canvas. The canvas must be a
// positive 9:16 geometry.
func New(canvasW, canvasH int) (*Compositor, error) {
	if canvasW <= 0 || canvasH <= 0 {
		return nil, fmt.Errorf("invalid canvas %dx%d", canvasW, canvasH)
	}
	if canvasW*16 != canvasH*9 {
		return nil, fmt.Errorf("canvas %dx%d is not 9:16", canvasW, canvasH)
	}
	return &Compositor{
		canvasW: canvasW,
		canvasH: canvasH,
		logger:  slog.Default(),
	}, nil
}

// WithLogger sets the logger for the compositor.
func (c *Compositor) WithLogger(logger *slog.Logger) *Compositor {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// CanvasSize returns the canvas dimensions.
func (c *Compositor) CanvasSize() (int, int) {
	return c.canvasW, c.canvasH
}

// ComposeFrame renders one source frame onto a canvas-sized RGBA image
// according to the style. The style is read-only and must stay constant for
// the duration of one job.
func (c *Compositor) ComposeFrame(src image.Image, style models.StyleConfig) (*image.RGBA, error) {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("source frame has invalid dimensions %dx%d", srcW, srcH)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, c.canvasW, c.canvasH))

	switch style.Style {
	case models.StyleBlur:
		c.drawBlurBackground(canvas, src)
		c.drawFitInside(canvas, src)
	case models.StyleCrop:
		c.drawFillCropped(canvas, src)
	default:
		return nil, fmt.Errorf("unknown frame style %q", style.Style)
	}

	if style.ShowSafeZones {
		c.drawSafeZones(canvas, style)
	}

	if style.Metadata.Title != "" {
		c.drawTitle(canvas, style.Metadata.Title)
	}
	if style.Metadata.ChannelName != "" {
		c.drawChannel(canvas, style.Metadata.ChannelName, style.Metadata.SubscriberLabel)
	}

	return canvas, nil
}

// fillRect computes the scale-to-fill rectangle for the source over the
// canvas, centered, with the excess dimension hanging off the canvas.
func (c *Compositor) fillRect(srcW, srcH int) image.Rectangle {
	srcAspect := float64(srcW) / float64(srcH)
	canvasAspect := float64(c.canvasW) / float64(c.canvasH)

	var w, h int
	if srcAspect > canvasAspect {
		h = c.canvasH
		w = int(float64(c.canvasH) * srcAspect)
	} else {
		w = c.canvasW
		h = int(float64(c.canvasW) / srcAspect)
	}
	x := (c.canvasW - w) / 2
	y := (c.canvasH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// fitRect computes the fit-inside rectangle, centered and letterboxed.
func (c *Compositor) fitRect(srcW, srcH int) image.Rectangle {
	srcAspect := float64(srcW) / float64(srcH)
	canvasAspect := float64(c.canvasW) / float64(c.canvasH)

	var w, h int
	if srcAspect > canvasAspect {
		w = c.canvasW
		h = int(float64(c.canvasW) / srcAspect)
	} else {
		h = c.canvasH
		w = int(float64(c.canvasH) * srcAspect)
	}
	x := (c.canvasW - w) / 2
	y := (c.canvasH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// drawBlurBackground fills the canvas with a softened scaled-to-fill copy of
// the source. The blur is approximated with three progressive
// downscale/upscale passes, which is far cheaper than a large-radius
// convolution at canvas resolution.
func (c *Compositor) drawBlurBackground(canvas *image.RGBA, src image.Image) {
	bounds := src.Bounds()
	filled := image.NewRGBA(image.Rect(0, 0, c.canvasW, c.canvasH))
	xdraw.ApproxBiLinear.Scale(filled, c.fillRect(bounds.Dx(), bounds.Dy()), src, bounds, xdraw.Src, nil)

	blurred := filled
	for _, factor := range []int{8, 4, 2} {
		smallW := c.canvasW / factor
		smallH := c.canvasH / factor
		if smallW < 1 {
			smallW = 1
		}
		if smallH < 1 {
			smallH = 1
		}
		small := image.NewRGBA(image.Rect(0, 0, smallW, smallH))
		xdraw.ApproxBiLinear.Scale(small, small.Bounds(), blurred, blurred.Bounds(), xdraw.Src, nil)
		next := image.NewRGBA(image.Rect(0, 0, c.canvasW, c.canvasH))
		xdraw.BiLinear.Scale(next, next.Bounds(), small, small.Bounds(), xdraw.Src, nil)
		blurred = next
	}

	xdraw.Draw(canvas, canvas.Bounds(), blurred, image.Point{}, xdraw.Src)
}

// drawFitInside draws the source letterboxed and centered.
func (c *Compositor) drawFitInside(canvas *image.RGBA, src image.Image) {
	xdraw.CatmullRom.Scale(canvas, c.fitRect(src.Bounds().Dx(), src.Bounds().Dy()), src, src.Bounds(), xdraw.Over, nil)
}

// drawFillCropped draws the source scaled to fill, cropping the excess.
func (c *Compositor) drawFillCropped(canvas *image.RGBA, src image.Image) {
	xdraw.CatmullRom.Scale(canvas, c.fillRect(src.Bounds().Dx(), src.Bounds().Dy()), src, src.Bounds(), xdraw.Src, nil)
}

// drawSafeZones overlays translucent bands at the top and bottom of the
// canvas with a solid line at each band's inner edge. The bands are visual
// guides only and never crop the exported frame.
func (c *Compositor) drawSafeZones(canvas *image.RGBA, style models.StyleConfig) {
	topPx := style.TopSafeZonePx
	if topPx <= 0 {
		topPx = int(float64(c.canvasH) * defaultTopSafeZoneFrac)
	}
	bottomPx := style.BottomSafeZonePx
	if bottomPx <= 0 {
		bottomPx = int(float64(c.canvasH) * defaultBottomSafeZoneFrac)
	}

	band := color.RGBA{R: 0, G: 0, B: 0, A: 90}
	line := color.RGBA{R: 255, G: 255, B: 255, A: 230}

	fillRegion(canvas, image.Rect(0, 0, c.canvasW, topPx), band)
	fillRegion(canvas, image.Rect(0, topPx, c.canvasW, topPx+2), line)

	fillRegion(canvas, image.Rect(0, c.canvasH-bottomPx, c.canvasW, c.canvasH), band)
	fillRegion(canvas, image.Rect(0, c.canvasH-bottomPx-2, c.canvasW, c.canvasH-bottomPx), line)
}

// fillRegion alpha-blends a uniform color over a canvas region.
func fillRegion(canvas *image.RGBA, region image.Rectangle, col color.RGBA) {
	xdraw.Draw(canvas, region.Intersect(canvas.Bounds()), image.NewUniform(col), image.Point{}, xdraw.Over)
}
