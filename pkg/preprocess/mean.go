// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package preprocess

import (
	"encoding/json"
	"image"
	"image/color"
	"os"

	"github.com/pkg/errors"
)

// Means holds the per-channel average pixel value (0-255 scale) of a dataset.
// It is serialized as JSON with the fields "R", "G" and "B".
type Means struct {
	R float64 `json:"R"`
	G float64 `json:"G"`
	B float64 `json:"B"`
}

// LoadMeans reads the Means JSON file at filePath.
func LoadMeans(filePath string) (Means, error) {
	var m Means
	data, err := os.ReadFile(filePath)
	if err != nil {
		return m, errors.Wrapf(err, "failed to read channel means from %q", filePath)
	}
	if err = json.Unmarshal(data, &m); err != nil {
		return m, errors.Wrapf(err, "failed to parse channel means in %q", filePath)
	}
	return m, nil
}

// Save writes the means as JSON to filePath, overwriting it if it exists.
func (m Means) Save(filePath string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode channel means")
	}
	if err = os.WriteFile(filePath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write channel means to %q", filePath)
	}
	return nil
}

// ChannelMeans returns the average R, G and B values (0-255 scale) of img.
func ChannelMeans(img image.Image) Means {
	var m Means
	bounds := img.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return m
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			m.R += float64(c.R)
			m.G += float64(c.G)
			m.B += float64(c.B)
		}
	}
	m.R, m.G, m.B = m.R/n, m.G/n, m.B/n
	return m
}

// MeanAccumulator averages the per-image channel means of a collection of images.
// The zero value is ready to use.
type MeanAccumulator struct {
	sum   Means
	count int
}

// Add the channel means of img to the accumulator.
func (acc *MeanAccumulator) Add(img image.Image) {
	m := ChannelMeans(img)
	acc.sum.R += m.R
	acc.sum.G += m.G
	acc.sum.B += m.B
	acc.count++
}

// Count of images accumulated.
func (acc *MeanAccumulator) Count() int { return acc.count }

// Means returns the average of the accumulated means, or zero means if nothing was added.
func (acc *MeanAccumulator) Means() Means {
	if acc.count == 0 {
		return Means{}
	}
	n := float64(acc.count)
	return Means{R: acc.sum.R / n, G: acc.sum.G / n, B: acc.sum.B / n}
}

// Mean subtracts the per-channel means from every pixel. It outputs a *FloatImage, since results can be negative.
type Mean struct {
	Means Means
}

// NewMean creates a Mean preprocessor.
func NewMean(means Means) *Mean {
	return &Mean{Means: means}
}

// Preprocess implements Preprocessor.
func (p *Mean) Preprocess(img image.Image) image.Image {
	bounds := img.Bounds()
	out := NewFloatImage(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	mr, mg, mb := float32(p.Means.R), float32(p.Means.G), float32(p.Means.B)
	if fImg, ok := img.(*FloatImage); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b := fImg.RGB(x, y)
				out.SetRGB(x-bounds.Min.X, y-bounds.Min.Y, r-mr, g-mg, b-mb)
			}
		}
		return out
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGB(x-bounds.Min.X, y-bounds.Min.Y, float32(c.R)-mr, float32(c.G)-mg, float32(c.B)-mb)
		}
	}
	return out
}
