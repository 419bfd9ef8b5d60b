// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// FloatImage is an RGB image with float32 values per channel, without clamping. Values are stored
// interleaved as R, G, B for each pixel, row by row.
//
// It implements image.Image (clamping values to 0-255), so it can still be consumed by other
// preprocessors, but ToFloat32 copies the raw (possibly negative) values.
type FloatImage struct {
	Pix  []float32
	Rect image.Rectangle
}

// NewFloatImage creates a zero-valued FloatImage.
func NewFloatImage(r image.Rectangle) *FloatImage {
	return &FloatImage{Pix: make([]float32, 3*r.Dx()*r.Dy()), Rect: r}
}

// ColorModel implements image.Image.
func (f *FloatImage) ColorModel() color.Model { return color.NRGBAModel }

// Bounds implements image.Image.
func (f *FloatImage) Bounds() image.Rectangle { return f.Rect }

// PixOffset of the first channel of pixel (x, y).
func (f *FloatImage) PixOffset(x, y int) int {
	return 3 * ((y-f.Rect.Min.Y)*f.Rect.Dx() + (x - f.Rect.Min.X))
}

// RGB returns the raw values at (x, y).
func (f *FloatImage) RGB(x, y int) (r, g, b float32) {
	i := f.PixOffset(x, y)
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// SetRGB sets the raw values at (x, y).
func (f *FloatImage) SetRGB(x, y int, r, g, b float32) {
	i := f.PixOffset(x, y)
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
}

// At implements image.Image.
func (f *FloatImage) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return color.NRGBA{}
	}
	r, g, b := f.RGB(x, y)
	return color.NRGBA{R: clampToUint8(r), G: clampToUint8(g), B: clampToUint8(b), A: 255}
}

func clampToUint8(v float32) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(float64(v)))))
}

func (f *FloatImage) crop(r image.Rectangle) *FloatImage {
	r = r.Intersect(f.Rect)
	out := NewFloatImage(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := f.PixOffset(r.Min.X, y)
		dst := out.PixOffset(0, y-r.Min.Y)
		copy(out.Pix[dst:dst+3*r.Dx()], f.Pix[src:src+3*r.Dx()])
	}
	return out
}

// resize resamples the raw values through imaging, after normalizing them to the range of the
// image, so negative values survive. imaging works on 8 bits per channel, so the resampled values are
// quantized to 256 levels between the minimum and maximum of the image: the error is at most
// (max-min)/510 per value, plus the filter's own error.
func (f *FloatImage) resize(width, height int, filter imaging.ResampleFilter) *FloatImage {
	out := NewFloatImage(image.Rect(0, 0, width, height))
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range f.Pix {
		lo, hi = min(lo, v), max(hi, v)
	}
	scale := hi - lo
	if scale == 0 {
		for ii := range out.Pix {
			out.Pix[ii] = lo
		}
		return out
	}

	// Encode normalized channels in an RGB image, resample, and decode back.
	normalize := func(v float32) uint8 { return clampToUint8((v - lo) / scale * 255) }
	src := image.NewNRGBA(image.Rect(0, 0, f.Rect.Dx(), f.Rect.Dy()))
	for y := 0; y < f.Rect.Dy(); y++ {
		for x := 0; x < f.Rect.Dx(); x++ {
			r, g, b := f.RGB(x+f.Rect.Min.X, y+f.Rect.Min.Y)
			src.SetNRGBA(x, y, color.NRGBA{R: normalize(r), G: normalize(g), B: normalize(b), A: 255})
		}
	}
	resized := imaging.Resize(src, width, height, filter)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := resized.NRGBAAt(x, y)
			out.SetRGB(x, y,
				float32(c.R)/255*scale+lo,
				float32(c.G)/255*scale+lo,
				float32(c.B)/255*scale+lo)
		}
	}
	return out
}

// ToFloat32 returns the image values as a flat slice in height, width, channels order, on the
// 0-255 scale. For a FloatImage the raw values are returned. channels must be 1 (luminance),
// 3 (RGB) or 4 (RGBA).
func ToFloat32(img image.Image, channels int) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]float32, 0, width*height*channels)
	if fImg, ok := img.(*FloatImage); ok && channels == 3 {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			start := fImg.PixOffset(bounds.Min.X, y)
			out = append(out, fImg.Pix[start:start+3*width]...)
		}
		return out
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			switch channels {
			case 1:
				gray := color.GrayModel.Convert(c).(color.Gray)
				out = append(out, float32(gray.Y))
			case 3:
				out = append(out, float32(c.R), float32(c.G), float32(c.B))
			default:
				out = append(out, float32(c.R), float32(c.G), float32(c.B), float32(c.A))
			}
		}
	}
	return out
}
