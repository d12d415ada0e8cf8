// Package overlay stamps the enclosure temperature onto snapshots.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

const (
	// DefaultFontPath is the bold DejaVu face shipped by Raspberry Pi OS.
	DefaultFontPath = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"

	// DefaultQuality is the JPEG quality of annotated snapshots.
	DefaultQuality = 90

	// fontDivisor derives the font size from the camera width.
	fontDivisor = 35

	// margin pads the label background around the text bounds.
	margin = 8

	// Label position of the text's top-left corner.
	originX = 20
	originY = 20

	labelPrefix = "Enclosure: "
)

var (
	textColor       = color.RGBA{R: 255, G: 128, B: 0, A: 255} // Prusa orange
	backgroundColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Composer draws the temperature label. Faces are cached per size.
type Composer struct {
	fontPath string
	quality  int
	log      logger.Logger

	loadOnce sync.Once
	font     *opentype.Font

	mu    sync.Mutex
	faces map[int]font.Face
}

// NewComposer creates a Composer. The font is loaded on first use; when it
// cannot be loaded the built-in 7x13 face is used instead.
func NewComposer(fontPath string, quality int, log logger.Logger) *Composer {
	if fontPath == "" {
		fontPath = DefaultFontPath
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if log == nil {
		log = logger.Global().Module("overlay")
	}
	return &Composer{
		fontPath: fontPath,
		quality:  quality,
		log:      log,
		faces:    make(map[int]font.Face),
	}
}

// Label returns the text drawn for reading.
func Label(reading string) string {
	return labelPrefix + reading
}

// FontSize returns the font size used for a camera of the given width.
func FontSize(cameraWidth int) int {
	return max(cameraWidth/fontDivisor, 1)
}

func (c *Composer) loadFont() {
	data, err := os.ReadFile(c.fontPath)
	if err != nil {
		c.log.Warn("overlay font not readable, using built-in face",
			logger.String("path", c.fontPath), logger.Error(err))
		return
	}
	f, err := opentype.Parse(data)
	if err != nil {
		c.log.Warn("overlay font not parseable, using built-in face",
			logger.String("path", c.fontPath), logger.Error(err))
		return
	}
	c.font = f
}

func (c *Composer) face(size int) font.Face {
	c.loadOnce.Do(c.loadFont)
	if c.font == nil {
		return basicfont.Face7x13
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.faces[size]; ok {
		return f
	}
	f, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		c.log.Warn("cannot create overlay face, using built-in face",
			logger.Int("size", size), logger.Error(err))
		return basicfont.Face7x13
	}
	c.faces[size] = f
	return f
}

// Annotate draws the label for reading onto a copy of img. cameraWidth is
// the configured capture width and selects the font size.
func (c *Composer) Annotate(img image.Image, reading string, cameraWidth int) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)

	face := c.face(FontSize(cameraWidth))
	text := Label(reading)

	// Dot is on the baseline; shift down by the ascent so (20,20) is the
	// top-left of the text.
	dot := fixed.P(bounds.Min.X+originX, bounds.Min.Y+originY).Add(fixed.Point26_6{Y: face.Metrics().Ascent})

	textBounds, _ := font.BoundString(face, text)
	rect := image.Rect(
		(dot.X+textBounds.Min.X).Floor()-margin,
		(dot.Y+textBounds.Min.Y).Floor()-margin,
		(dot.X+textBounds.Max.X).Ceil()+margin,
		(dot.Y+textBounds.Max.Y).Ceil()+margin,
	).Intersect(bounds)
	draw.Draw(dst, rect, image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  dot,
	}
	d.DrawString(text)
	return dst
}

// Render decodes a JPEG, annotates it and encodes the result.
func (c *Composer) Render(raw []byte, reading string, cameraWidth int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode snapshot: %w", err)).
			Component("overlay").
			Category(errors.CategoryOverlay).
			Context("operation", "decode").
			Build()
	}

	out := c.Annotate(img, reading, cameraWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, errors.New(fmt.Errorf("encode snapshot: %w", err)).
			Component("overlay").
			Category(errors.CategoryOverlay).
			Context("operation", "encode").
			Build()
	}
	return buf.Bytes(), nil
}

// Close releases cached faces.
func (c *Composer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for size, f := range c.faces {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.faces, size)
	}
	return errors.Join(errs...)
}
