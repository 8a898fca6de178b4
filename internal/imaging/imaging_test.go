package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"testing"
)

// noisyPNG encodes a width x height PNG of seeded noise, which compresses
// poorly and reliably exceeds the payload ceiling at large dimensions.
func noisyPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestConditionPassThroughUnderLimit(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	out, mediaType, err := Condition(buf.Bytes(), "image/png")
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if !bytes.Equal(out, buf.Bytes()) {
		t.Fatal("small payload should pass through unchanged")
	}
	if mediaType != "image/png" {
		t.Fatalf("media type changed: %s", mediaType)
	}
}

func TestConditionDownsamplesOversizedImage(t *testing.T) {
	const width, height = 3000, 2000
	raw := noisyPNG(t, width, height)
	if len(raw) <= MaxPayloadBytes {
		t.Fatalf("test fixture too small: %d bytes", len(raw))
	}

	out, mediaType, err := Condition(raw, "image/png")
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if len(out) > MaxPayloadBytes {
		t.Fatalf("output exceeds payload ceiling: %d bytes", len(out))
	}
	if mediaType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", mediaType)
	}

	decoded, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg output, got %s", format)
	}

	got := decoded.Bounds()
	if got.Dx() > 2048 || got.Dy() > 2048 {
		t.Fatalf("output exceeds bounding box: %dx%d", got.Dx(), got.Dy())
	}
	wantRatio := float64(width) / float64(height)
	gotRatio := float64(got.Dx()) / float64(got.Dy())
	if math.Abs(wantRatio-gotRatio) > 0.01 {
		t.Fatalf("aspect ratio not preserved: want %.3f got %.3f", wantRatio, gotRatio)
	}

	// JPEG carries no alpha channel; the decoded model must be opaque.
	if _, ok := decoded.(*image.NRGBA); ok {
		t.Fatal("expected an opaque decoded representation")
	}
}

func TestConditionDeterministic(t *testing.T) {
	raw := noisyPNG(t, 2600, 2600)
	if len(raw) <= MaxPayloadBytes {
		t.Fatalf("test fixture too small: %d bytes", len(raw))
	}

	first, _, err := Condition(raw, "image/png")
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	second, _, err := Condition(raw, "image/png")
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("conditioning is not deterministic")
	}
}

func TestConditionRejectsUndecodableInput(t *testing.T) {
	junk := make([]byte, MaxPayloadBytes+1)
	if _, _, err := Condition(junk, "image/png"); err == nil {
		t.Fatal("expected decode error for junk input")
	}
}

func TestConditionFlattensAlpha(t *testing.T) {
	// A mostly-transparent oversized image still conditions to opaque JPEG.
	const size = 2600
	rng := rand.New(rand.NewSource(2))
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 0})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if buf.Len() <= MaxPayloadBytes {
		t.Skip("fixture compressed under the ceiling")
	}

	out, mediaType, err := Condition(buf.Bytes(), "image/png")
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if mediaType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", mediaType)
	}
	if len(out) == 0 {
		t.Fatal("empty output")
	}
}
