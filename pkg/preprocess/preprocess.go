// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package preprocess implements per-image transformations applied before images are stored in a
// container or fed to a model: aspect-aware resizing, random patches, plain resizing and
// channel-mean subtraction.
//
// All preprocessors implement Preprocessor, and they are chained with Apply in the order given.
package preprocess

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Preprocessor transforms one image into another.
//
// Implementations are not required to be safe for concurrent use (Patch holds a random number generator).
type Preprocessor interface {
	Preprocess(img image.Image) image.Image
}

// Apply runs img through each of the preprocessors, in order: each one receives the output of the previous.
func Apply(img image.Image, preprocessors ...Preprocessor) image.Image {
	for _, p := range preprocessors {
		img = p.Preprocess(img)
	}
	return img
}

// DefaultFilter used for resampling images.
var DefaultFilter = imaging.Lanczos

// AspectAware resizes an image along its shorter dimension to match the target, and then center-crops the
// longer dimension to the exact target size. Small images are resized up.
type AspectAware struct {
	Width, Height int
	Filter        imaging.ResampleFilter
}

// NewAspectAware creates an AspectAware preprocessor for the given target size.
func NewAspectAware(width, height int) *AspectAware {
	return &AspectAware{Width: width, Height: height, Filter: DefaultFilter}
}

// Preprocess implements Preprocessor.
func (p *AspectAware) Preprocess(img image.Image) image.Image {
	size := img.Bounds().Size()
	var resized *image.NRGBA
	if size.X < size.Y {
		// Width is the shorter side: match it, and crop the height.
		resized = imaging.Resize(img, p.Width, 0, p.Filter)
	} else {
		resized = imaging.Resize(img, 0, p.Height, p.Filter)
	}
	cropped := imaging.CropCenter(resized, p.Width, p.Height)

	// Rounding on the resized side may leave us one pixel short.
	if got := cropped.Bounds().Size(); got.X != p.Width || got.Y != p.Height {
		cropped = imaging.Resize(cropped, p.Width, p.Height, p.Filter)
	}
	return cropped
}

// Resize resizes images to the exact target dimensions, regardless of aspect ratio.
type Resize struct {
	Width, Height int
	Filter        imaging.ResampleFilter
}

// NewResize creates a Resize preprocessor.
func NewResize(width, height int) *Resize {
	return &Resize{Width: width, Height: height, Filter: DefaultFilter}
}

// Preprocess implements Preprocessor.
func (p *Resize) Preprocess(img image.Image) image.Image {
	size := img.Bounds().Size()
	if size.X == p.Width && size.Y == p.Height {
		return img
	}
	if fImg, ok := img.(*FloatImage); ok {
		return fImg.resize(p.Width, p.Height, p.Filter)
	}
	return imaging.Resize(img, p.Width, p.Height, p.Filter)
}

// Patch extracts a random sub-region of Width x Height pixels. Images smaller than the patch
// on any axis are first resized up to cover it.
type Patch struct {
	Width, Height int
	rng           *rand.Rand
}

// NewPatch creates a Patch preprocessor. If rng is nil a new one with a fixed seed is created.
func NewPatch(width, height int, rng *rand.Rand) *Patch {
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	return &Patch{Width: width, Height: height, rng: rng}
}

// Preprocess implements Preprocessor.
func (p *Patch) Preprocess(img image.Image) image.Image {
	size := img.Bounds().Size()
	if size.X < p.Width || size.Y < p.Height {
		img = NewResize(max(size.X, p.Width), max(size.Y, p.Height)).Preprocess(img)
		size = img.Bounds().Size()
	}
	x0 := p.rng.Intn(size.X - p.Width + 1)
	y0 := p.rng.Intn(size.Y - p.Height + 1)
	rect := image.Rect(x0, y0, x0+p.Width, y0+p.Height).Add(img.Bounds().Min)
	if fImg, ok := img.(*FloatImage); ok {
		return fImg.crop(rect)
	}
	return imaging.Crop(img, rect)
}
