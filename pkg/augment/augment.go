// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment generates randomized variants of training images: rotation, zoom, shift and
// horizontal flip. Augmented images keep the size of the originals.
package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Augmenter replaces a batch of images by randomized variants of them.
type Augmenter interface {
	Augment(images []image.Image) []image.Image
}

// Random applies a random combination of transformations to each image. Each one is disabled by setting
// its range to 0 (or HorizontalFlip to false).
//
// Areas uncovered by the transformations are filled with Background.
//
// It is not safe for concurrent use.
type Random struct {
	// RotationRange in degrees: images are rotated by a uniform angle in [-RotationRange, RotationRange].
	RotationRange float64

	// ZoomRange: images are scaled by a uniform factor in [1-ZoomRange, 1+ZoomRange].
	ZoomRange float64

	// WidthShift and HeightShift are fractions of the image size: images are translated by a uniform
	// amount in [-shift*size, shift*size] on each axis.
	WidthShift, HeightShift float64

	// HorizontalFlip mirrors half of the images, chosen at random.
	HorizontalFlip bool

	Background color.Color
	Filter     imaging.ResampleFilter

	rng *rand.Rand
}

// NewRandom creates a Random augmenter with the default ranges: rotation 20 degrees, zoom 0.15,
// shifts 0.2 and horizontal flips. If rng is nil, one with a fixed seed is created.
func NewRandom(rng *rand.Rand) *Random {
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	return &Random{
		RotationRange:  20,
		ZoomRange:      0.15,
		WidthShift:     0.2,
		HeightShift:    0.2,
		HorizontalFlip: true,
		Background:     color.NRGBA{A: 255},
		Filter:         imaging.Linear,
		rng:            rng,
	}
}

// uniform returns a random value in [-r, r].
func (a *Random) uniform(r float64) float64 {
	return (2*a.rng.Float64() - 1) * r
}

// Augment implements Augmenter.
func (a *Random) Augment(images []image.Image) []image.Image {
	out := make([]image.Image, len(images))
	for ii, img := range images {
		out[ii] = a.AugmentImage(img)
	}
	return out
}

// AugmentImage returns a random variant of img with the same size.
func (a *Random) AugmentImage(img image.Image) image.Image {
	size := img.Bounds().Size()
	width, height := size.X, size.Y
	result := imaging.Clone(img)

	if a.RotationRange > 0 {
		angle := a.uniform(a.RotationRange)
		// Rotate enlarges the canvas to fit the rotated image: crop back to the original size.
		result = imaging.CropCenter(imaging.Rotate(result, angle, a.Background), width, height)
	}

	if a.ZoomRange > 0 {
		factor := 1 + a.uniform(a.ZoomRange)
		zoomedW := max(1, int(math.Round(float64(width)*factor)))
		zoomedH := max(1, int(math.Round(float64(height)*factor)))
		zoomed := imaging.Resize(result, zoomedW, zoomedH, a.Filter)
		if factor >= 1 {
			result = imaging.CropCenter(zoomed, width, height)
		} else {
			result = imaging.PasteCenter(imaging.New(width, height, a.Background), zoomed)
		}
	}

	if a.WidthShift > 0 || a.HeightShift > 0 {
		dx := int(math.Round(a.uniform(a.WidthShift) * float64(width)))
		dy := int(math.Round(a.uniform(a.HeightShift) * float64(height)))
		if dx != 0 || dy != 0 {
			result = imaging.Paste(imaging.New(width, height, a.Background), result, image.Pt(dx, dy))
		}
	}

	if a.HorizontalFlip && a.rng.Intn(2) == 1 {
		result = imaging.FlipH(result)
	}
	return result
}

// Flip mirrors every image horizontally. It is a deterministic Augmenter, mostly useful for tests and for
// doubling evaluation sets.
type Flip struct{}

// Augment implements Augmenter.
func (Flip) Augment(images []image.Image) []image.Image {
	out := make([]image.Image, len(images))
	for ii, img := range images {
		out[ii] = imaging.FlipH(img)
	}
	return out
}
