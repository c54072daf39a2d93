package compositor

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

func solidFrame(w, h int, col color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, col)
		}
	}
	return img
}

func TestNew(t *testing.T) {
	t.Run("valid 9:16", func(t *testing.T) {
		c, err := New(1080, 1920)
		require.NoError(t, err)
		w, h := c.CanvasSize()
		assert.Equal(t, 1080, w)
		assert.Equal(t, 1920, h)
	})

	t.Run("rejects landscape", func(t *testing.T) {
		_, err := New(1920, 1080)
		assert.Error(t, err)
	})

	t.Run("rejects zero", func(t *testing.T) {
		_, err := New(0, 0)
		assert.Error(t, err)
	})
}

func TestComposeFrame_Crop(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	red := color.RGBA{R: 255, A: 255}
	out, err := c.ComposeFrame(solidFrame(160, 90, red), models.StyleConfig{Style: models.StyleCrop})
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 90, 160), out.Bounds())
	// Scale-to-fill of a uniform source leaves the whole canvas that color.
	assert.Equal(t, red, out.RGBAAt(45, 80))
	assert.Equal(t, red, out.RGBAAt(0, 0))
}

func TestComposeFrame_Blur(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	blue := color.RGBA{B: 200, A: 255}
	out, err := c.ComposeFrame(solidFrame(160, 90, blue), models.StyleConfig{Style: models.StyleBlur})
	require.NoError(t, err)

	// Letterbox region above the fitted frame is covered by the blurred
	// background, not left transparent.
	top := out.RGBAAt(45, 5)
	assert.NotZero(t, top.A)

	// Center shows the fitted source.
	assert.Equal(t, blue, out.RGBAAt(45, 80))
}

func TestComposeFrame_SafeZones(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	plain, err := c.ComposeFrame(solidFrame(160, 90, white), models.StyleConfig{Style: models.StyleCrop})
	require.NoError(t, err)

	guided, err := c.ComposeFrame(solidFrame(160, 90, white), models.StyleConfig{
		Style:         models.StyleCrop,
		ShowSafeZones: true,
	})
	require.NoError(t, err)

	// Top band darkens the canvas; center is untouched.
	assert.NotEqual(t, plain.RGBAAt(45, 5), guided.RGBAAt(45, 5))
	assert.Equal(t, plain.RGBAAt(45, 80), guided.RGBAAt(45, 80))
	// Bottom band darkens too.
	assert.NotEqual(t, plain.RGBAAt(45, 155), guided.RGBAAt(45, 155))
}

func TestComposeFrame_TitleOverlay(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	black := color.RGBA{A: 255}
	plain, err := c.ComposeFrame(solidFrame(90, 160, black), models.StyleConfig{Style: models.StyleCrop})
	require.NoError(t, err)

	titled, err := c.ComposeFrame(solidFrame(90, 160, black), models.StyleConfig{
		Style:    models.StyleCrop,
		Metadata: models.StoryMetadata{Title: "Hello"},
	})
	require.NoError(t, err)

	changed := 0
	for y := 0; y < 20; y++ {
		for x := 0; x < 90; x++ {
			if plain.RGBAAt(x, y) != titled.RGBAAt(x, y) {
				changed++
			}
		}
	}
	assert.Greater(t, changed, 0, "title text should alter pixels near the top")
}

func TestComposeFrame_EmptyMetadataSkipsOverlays(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	black := color.RGBA{A: 255}
	plain, err := c.ComposeFrame(solidFrame(90, 160, black), models.StyleConfig{Style: models.StyleCrop})
	require.NoError(t, err)

	unstyled, err := c.ComposeFrame(solidFrame(90, 160, black), models.StyleConfig{
		Style:    models.StyleCrop,
		Metadata: models.StoryMetadata{},
	})
	require.NoError(t, err)

	assert.Equal(t, plain.Pix, unstyled.Pix)
}

func TestComposeFrame_InvalidSource(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	_, err = c.ComposeFrame(image.NewRGBA(image.Rect(0, 0, 0, 0)), models.StyleConfig{Style: models.StyleCrop})
	assert.Error(t, err)
}

func TestComposeFrame_UnknownStyle(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	_, err = c.ComposeFrame(solidFrame(10, 10, color.RGBA{A: 255}), models.StyleConfig{Style: "stretch"})
	assert.Error(t, err)
}

func TestTruncateToWidth(t *testing.T) {
	long := strings.Repeat("wide title ", 20)

	truncated := truncateToWidth(overlayFace, long, 100)
	assert.LessOrEqual(t, measureWidth(overlayFace, truncated), 100)
	assert.True(t, strings.HasSuffix(truncated, ellipsis))

	// Idempotent: re-truncating a truncated string is a no-op.
	again := truncateToWidth(overlayFace, truncated, 100)
	assert.Equal(t, truncated, again)

	// Strings that fit pass through unchanged.
	assert.Equal(t, "short", truncateToWidth(overlayFace, "short", 1000))
}

func TestFillRect_ExtremeAspects(t *testing.T) {
	c, err := New(90, 160)
	require.NoError(t, err)

	// Very wide source: fill rect spans canvas height, overhangs width.
	wide := c.fillRect(1000, 10)
	assert.Equal(t, 160, wide.Dy())
	assert.Greater(t, wide.Dx(), 90)

	// Very tall source: fill rect spans canvas width, overhangs height.
	tall := c.fillRect(10, 1000)
	assert.Equal(t, 90, tall.Dx())
	assert.Greater(t, tall.Dy(), 160)
}
