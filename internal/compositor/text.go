package compositor

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const ellipsis = "…"

// maxTitleWidthFrac caps the rendered title at this fraction of canvas width.
const maxTitleWidthFrac = 0.8

var overlayFace font.Face = basicfont.Face7x13

// measureWidth returns the advance width of s in pixels.
func measureWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// truncateToWidth shortens s with a trailing ellipsis until its rendered
// width fits maxWidth. Strings that already fit are returned unchanged, so
// re-truncating a truncated string is a no-op.
func truncateToWidth(face font.Face, s string, maxWidth int) string {
	if measureWidth(face, s) <= maxWidth {
		return s
	}
	runes := []rune(strings.TrimSuffix(s, ellipsis))
	for len(runes) > 0 {
		candidate := string(runes) + ellipsis
		if measureWidth(face, candidate) <= maxWidth {
			return candidate
		}
		runes = runes[:len(runes)-1]
	}
	return ellipsis
}

// drawString renders s at the baseline point with a one-pixel drop shadow
// for legibility against arbitrary backgrounds.
func drawString(canvas *image.RGBA, face font.Face, s string, x, y int, col color.Color) {
	shadow := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.RGBA{A: 200}),
		Face: face,
		Dot:  fixed.P(x+1, y+1),
	}
	shadow.DrawString(s)

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(s)
}

// drawTitle renders the job title centered near the top of the canvas,
// truncated to the title width cap.
func (c *Compositor) drawTitle(canvas *image.RGBA, title string) {
	maxWidth := int(float64(c.canvasW) * maxTitleWidthFrac)
	text := truncateToWidth(overlayFace, title, maxWidth)

	width := measureWidth(overlayFace, text)
	x := (c.canvasW - width) / 2
	y := c.canvasH / 12
	drawString(canvas, overlayFace, text, x, y, color.White)
}

// drawChannel renders the channel name and optional subscriber label near
// the bottom-left, beside an avatar placeholder circle.
func (c *Compositor) drawChannel(canvas *image.RGBA, channelName, subscriberLabel string) {
	metrics := overlayFace.Metrics()
	lineHeight := metrics.Height.Ceil()

	margin := c.canvasW / 24
	avatarRadius := lineHeight
	baseY := c.canvasH - c.canvasH/10

	drawCircle(canvas, margin+avatarRadius, baseY-lineHeight/2, avatarRadius, color.RGBA{R: 180, G: 180, B: 180, A: 255})

	textX := margin + avatarRadius*2 + lineHeight/2
	maxWidth := c.canvasW - textX - margin

	name := truncateToWidth(overlayFace, channelName, maxWidth)
	drawString(canvas, overlayFace, name, textX, baseY, color.White)

	if subscriberLabel != "" {
		label := truncateToWidth(overlayFace, subscriberLabel, maxWidth)
		drawString(canvas, overlayFace, label, textX, baseY+lineHeight, color.RGBA{R: 210, G: 210, B: 210, A: 255})
	}
}

// drawCircle fills a solid circle centered at (cx, cy).
func drawCircle(canvas *image.RGBA, cx, cy, radius int, col color.Color) {
	bounds := canvas.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			x, y := cx+dx, cy+dy
			if image.Pt(x, y).In(bounds) {
				canvas.Set(x, y, col)
			}
		}
	}
}
