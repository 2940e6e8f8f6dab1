package framesync //nolint:testpackage

import (
	"image"
	"image/color"
	"testing"
)

// gradient builds a grayscale test image with a horizontal ramp,
// optionally inverted.
func gradient(w, h int, inverted bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / (w - 1))
			if inverted {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestCorrelateIdenticalImages(t *testing.T) {
	t.Parallel()

	img := gradient(64, 48, false)
	score, err := correlateImages(img, img)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if score < 0.99 {
		t.Errorf("identical images should score ~1, got %v", score)
	}
}

func TestCorrelateInvertedImages(t *testing.T) {
	t.Parallel()

	// Perfect negative correlation clamps to 0.
	score, err := correlateImages(gradient(64, 48, false), gradient(64, 48, true))
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if score != 0 {
		t.Errorf("inverted images should clamp to 0, got %v", score)
	}
}

// gradientVertical builds a grayscale test image with a vertical ramp.
func gradientVertical(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(y * 255 / (h - 1))})
		}
	}
	return img
}

func TestCorrelateUncorrelatedImages(t *testing.T) {
	t.Parallel()

	// A horizontal ramp against a vertical ramp has zero Pearson
	// correlation; the score must be 0, not a midpoint remap.
	score, err := correlateImages(gradient(64, 64, false), gradientVertical(64, 64))
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if score > 1e-6 {
		t.Errorf("uncorrelated images should score 0, got %v", score)
	}
}

func TestCorrelateNilImage(t *testing.T) {
	t.Parallel()

	if _, err := correlateImages(nil, gradient(8, 8, false)); err == nil {
		t.Fatal("expected error for nil image")
	}
}

func TestCorrelateFlatImageErrors(t *testing.T) {
	t.Parallel()

	flat := image.NewGray(image.Rect(0, 0, 16, 16))
	if _, err := correlateImages(flat, gradient(16, 16, false)); err == nil {
		t.Fatal("expected error for zero-variance image")
	}
}
