package framesync

import (
	"errors"
	"image"
	"math"
)

// correlationSize caps the downsampled edge length. Frames are reduced
// to at most 32x32 grayscale before correlating, which keeps the cost
// per comparison constant regardless of camera resolution.
const correlationSize = 32

var errNoImage = errors.New("framesync: frame carries no image")

// correlateImages scores the visual similarity of two frames on a 0..1
// scale: normalized cross-correlation of the downsampled grayscale
// images, with negative correlation clamped to 0.
func correlateImages(a, b image.Image) (float64, error) {
	if a == nil || b == nil {
		return 0, errNoImage
	}
	ga, err := grayscaleDownsample(a, correlationSize)
	if err != nil {
		return 0, err
	}
	gb, err := grayscaleDownsample(b, correlationSize)
	if err != nil {
		return 0, err
	}
	r, err := normalizedCrossCorrelation(ga, gb)
	if err != nil {
		return 0, err
	}
	return math.Max(0, r), nil
}

// grayscaleDownsample converts an image to a square grayscale grid of
// at most size x size using box sampling.
func grayscaleDownsample(img image.Image, size int) ([]float64, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("framesync: empty image")
	}
	if w < size {
		size = w
	}
	if h < size {
		size = h
	}

	out := make([]float64, size*size)
	for gy := 0; gy < size; gy++ {
		y0 := bounds.Min.Y + gy*h/size
		y1 := bounds.Min.Y + (gy+1)*h/size
		for gx := 0; gx < size; gx++ {
			x0 := bounds.Min.X + gx*w/size
			x1 := bounds.Min.X + (gx+1)*w/size
			var sum float64
			var n int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					// ITU-R BT.601 luma weights.
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
					n++
				}
			}
			if n > 0 {
				out[gy*size+gx] = sum / float64(n)
			}
		}
	}
	return out, nil
}

// normalizedCrossCorrelation computes the Pearson correlation of two
// equal-length sample grids, in [-1, 1].
func normalizedCrossCorrelation(a, b []float64) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, errors.New("framesync: mismatched correlation grids")
	}
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(len(a))
	meanB /= float64(len(b))

	var num, denA, denB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	if denA == 0 || denB == 0 {
		return 0, errors.New("framesync: zero-variance image")
	}
	return num / math.Sqrt(denA*denB), nil
}
