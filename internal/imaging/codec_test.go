package imaging

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func newTestImage(w, h int) *Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	return New(img, FormatPNG)
}

func TestStdCodecRoundTrip(t *testing.T) {
	codec := NewStdCodec()
	original := newTestImage(4, 3)

	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded.Format != FormatPNG {
		t.Fatalf("expected png format, got %s", decoded.Format)
	}
	if decoded.Bounds() != original.Bounds() {
		t.Fatalf("bounds mismatch: %v vs %v", decoded.Bounds(), original.Bounds())
	}
	r1, g1, b1, a1 := original.At(2, 1).RGBA()
	r2, g2, b2, a2 := decoded.At(2, 1).RGBA()
	if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
		t.Fatalf("pixel mismatch after round trip")
	}
}

func TestStdCodecDecodeFailures(t *testing.T) {
	codec := NewStdCodec()
	if _, err := codec.Decode(nil); !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("expected ErrDecodeFailed for empty data, got %v", err)
	}
	if _, err := codec.Decode([]byte("definitely not an image")); !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("expected ErrDecodeFailed for garbage, got %v", err)
	}
}

func TestStdCodecEncodeFallsBackToDefault(t *testing.T) {
	codec := NewStdCodec()
	img := newTestImage(2, 2)
	img.Format = FormatWebP

	data, err := codec.Encode(img)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded.Format != FormatPNG {
		t.Fatalf("expected fallback to png, got %s", decoded.Format)
	}
}

func TestImageCost(t *testing.T) {
	if cost := newTestImage(10, 5).Cost(); cost != 200 {
		t.Fatalf("expected cost 200, got %d", cost)
	}
	var img *Image
	if img.Cost() != 0 {
		t.Fatalf("nil image cost should be 0")
	}
}

func TestDetectFormat(t *testing.T) {
	data, err := NewStdCodec().Encode(newTestImage(2, 2))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if got := DetectFormat(data); got != FormatPNG {
		t.Fatalf("expected png, got %q", got)
	}
	if got := DetectFormat([]byte("nope")); got != "" {
		t.Fatalf("expected empty format for garbage, got %q", got)
	}
}
