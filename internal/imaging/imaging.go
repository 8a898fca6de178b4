// Package imaging conditions drawing files for the inference service's
// payload limits.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/jpeg"

	_ "image/gif" // register decoders for the formats found in archives
	_ "image/png"

	"golang.org/x/image/draw"

	"archive-backend/internal/shared/telemetry"
)

const (
	// The service rejects base64-encoded images above 5MB; base64 adds ~33%
	// overhead, so raw payloads must stay under ~3.7MB.
	MaxPayloadBytes = 3_700_000

	maxDimension = 2048
	jpegQuality  = 85
)

// Condition returns image bytes guaranteed to fit the service's payload
// ceiling. Payloads already under the limit pass through untouched;
// oversized images are flattened to opaque RGB, downsampled to fit within
// a 2048x2048 box preserving aspect ratio, and re-encoded as JPEG.
// Output is deterministic for a given input.
func Condition(raw []byte, mediaType string) ([]byte, string, error) {
	if len(raw) <= MaxPayloadBytes {
		return raw, mediaType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	scale := 1.0
	if width > maxDimension || height > maxDimension {
		scaleX := float64(maxDimension) / float64(width)
		scaleY := float64(maxDimension) / float64(height)
		scale = scaleX
		if scaleY < scale {
			scale = scaleY
		}
	}

	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	// Flatten onto white so any alpha channel becomes opaque RGB.
	flat := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	stddraw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, stddraw.Src)
	draw.CatmullRom.Scale(flat, flat.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}

	telemetry.Info("imaging.conditioned", map[string]any{
		"from_bytes": len(raw),
		"to_bytes":   buf.Len(),
		"from_size":  fmt.Sprintf("%dx%d", width, height),
		"to_size":    fmt.Sprintf("%dx%d", newWidth, newHeight),
	})

	return buf.Bytes(), "image/jpeg", nil
}
