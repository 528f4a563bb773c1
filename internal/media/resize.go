package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used for every image sent to the provider
const JPEGQuality = 80

// JPEGMIMEType is the type of every resized image
const JPEGMIMEType = "image/jpeg"

// Bounds caps the output dimensions of Resize
type Bounds struct {
	MaxWidth  int
	MaxHeight int
}

var (
	// AuditBounds applies to audit and edit inputs
	AuditBounds = Bounds{MaxWidth: 1024, MaxHeight: 1024}
	// VideoReferenceBounds applies to video reference frames
	VideoReferenceBounds = Bounds{MaxWidth: 1280, MaxHeight: 720}
)

// Fit returns the largest size within b that keeps the aspect ratio of w x h.
// Images already inside the bounds keep their size.
func (b Bounds) Fit(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= b.MaxWidth && h <= b.MaxHeight {
		return w, h
	}

	// compare w/MaxWidth against h/MaxHeight without floats
	if w*b.MaxHeight >= h*b.MaxWidth {
		nh := (h*b.MaxWidth + w/2) / w
		return b.MaxWidth, max(nh, 1)
	}
	nw := (w*b.MaxHeight + h/2) / h
	return max(nw, 1), b.MaxHeight
}

// Resize decodes a JPEG, PNG, GIF or WebP image, downscales it to fit b and
// re-encodes it as JPEG
func Resize(data []byte, b Bounds) ([]byte, error) {
	if b.MaxWidth <= 0 || b.MaxHeight <= 0 {
		return nil, fmt.Errorf("invalid bounds %dx%d", b.MaxWidth, b.MaxHeight)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	srcBounds := src.Bounds()
	w, h := b.Fit(srcBounds.Dx(), srcBounds.Dy())
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("image %s has no pixels", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// transparent areas become white instead of black in the JPEG
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
