package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/printfarm/enclosure-cam/internal/logger"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{B: 200, A: 255}), image.Point{}, draw.Src)
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func countColor(img *image.RGBA, rect image.Rectangle, c color.RGBA) int {
	n := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func TestLabelAndFontSize(t *testing.T) {
	assert.Equal(t, "Enclosure: 23.4°C", Label("23.4°C"))
	assert.Equal(t, "Enclosure: N/A", Label("N/A"))
	assert.Equal(t, 36, FontSize(1280))
	assert.Equal(t, 54, FontSize(1920))
	assert.Equal(t, 1, FontSize(10))
}

func TestAnnotateFallbackFace(t *testing.T) {
	c := NewComposer(filepath.Join(t.TempDir(), "missing.ttf"), 90, logger.NewDiscard())
	assert.Equal(t, basicfont.Face7x13, c.face(36))

	src := solidImage(640, 480)
	out := c.Annotate(src, "N/A", 640)

	assert.Equal(t, backgroundColor, out.RGBAAt(13, 13), "label background starts at the margin")
	label := image.Rect(12, 12, 320, 60)
	assert.Positive(t, countColor(out, label, textColor), "text drawn in orange")
	assert.Equal(t, color.RGBA{B: 200, A: 255}, out.RGBAAt(600, 400), "rest of the frame untouched")
	assert.Equal(t, color.RGBA{B: 200, A: 255}, src.RGBAAt(13, 13), "source not modified")
}

func TestAnnotateOpenTypeFace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobold.ttf")
	require.NoError(t, os.WriteFile(path, gobold.TTF, 0o600))

	c := NewComposer(path, 90, logger.NewDiscard())
	defer func() { _ = c.Close() }()

	out := c.Annotate(solidImage(1280, 720), "23.4°C", 1280)

	// A 36px label is far wider than the 7x13 fallback would be.
	row := image.Rect(0, 0, 1280, 100)
	right := 0
	for y := row.Min.Y; y < row.Max.Y; y++ {
		for x := row.Min.X; x < row.Max.X; x++ {
			if out.RGBAAt(x, y) == backgroundColor && x > right {
				right = x
			}
		}
	}
	assert.Greater(t, right, 250)
	assert.Positive(t, countColor(out, row, textColor))

	assert.Same(t, c.face(36), c.face(36), "faces cached per size")
}

func TestRender(t *testing.T) {
	c := NewComposer(filepath.Join(t.TempDir(), "missing.ttf"), 90, logger.NewDiscard())
	raw := encodeJPEG(t, solidImage(320, 240))

	out, err := c.Render(raw, "21.0°C", 320)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())

	// white background and orange text both carry full red, the blue frame none
	var sum, n uint32
	for y := 16; y < 40; y++ {
		for x := 16; x < 110; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			sum += r >> 8
			n++
		}
	}
	assert.Greater(t, sum/n, uint32(180))

	r, _, _, _ := img.At(300, 200).RGBA()
	assert.Less(t, r>>8, uint32(40))
}

func TestRenderRejectsGarbage(t *testing.T) {
	c := NewComposer("", 0, logger.NewDiscard())
	_, err := c.Render([]byte("not a jpeg"), "N/A", 640)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode snapshot")
}
