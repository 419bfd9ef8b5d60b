// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripes(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	return img
}

func TestRandomKeepsSize(t *testing.T) {
	aug := NewRandom(rand.New(rand.NewSource(7)))
	images := []image.Image{stripes(64, 48), stripes(30, 90), stripes(1, 1)}
	for range 10 {
		out := aug.Augment(images)
		require.Len(t, out, len(images))
		for ii := range images {
			assert.Equal(t, images[ii].Bounds().Size(), out[ii].Bounds().Size())
		}
	}
}

func TestRandomDisabled(t *testing.T) {
	aug := &Random{rng: rand.New(rand.NewSource(1))}
	src := stripes(20, 10)
	out := aug.AugmentImage(src)
	for y := range 10 {
		for x := range 20 {
			require.Equal(t, src.At(x, y), out.At(x, y))
		}
	}
}

func TestRandomFlipOnly(t *testing.T) {
	aug := &Random{HorizontalFlip: true, rng: rand.New(rand.NewSource(3))}
	src := stripes(20, 10)
	var flipped, kept int
	for range 50 {
		out := aug.AugmentImage(src)
		if out.At(0, 0) == src.At(19, 0) {
			flipped++
		} else if out.At(0, 0) == src.At(0, 0) {
			kept++
		}
	}
	assert.Equal(t, 50, flipped+kept)
	assert.Greater(t, flipped, 0)
	assert.Greater(t, kept, 0)
}

func TestFlip(t *testing.T) {
	src := stripes(5, 2)
	out := Flip{}.Augment([]image.Image{src})
	require.Len(t, out, 1)
	assert.Equal(t, src.At(4, 1), out[0].At(0, 1))
}
