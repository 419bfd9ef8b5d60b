// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package container implements the on-disk image dataset: an HDF5 file holding a fixed-shape
// `images` array (uint8, [capacity, height, width, channels]), an index-aligned `labels` array
// (int64, [capacity]) and, optionally, a `class_labels` table with the class names.
//
// Writer creates and fills a container with buffered appends; Reader gives read access to the
// records already flushed.
//
// Errors returned wrap one of the sentinel errors below, test for them with errors.Is.
package container

import (
	"bytes"
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// Names of the datasets and attributes in the HDF5 file.
const (
	ImagesDataset      = "images"
	LabelsDataset      = "labels"
	ClassLabelsDataset = "class_labels"

	// CountAttribute is an attribute of the images dataset with the number of records flushed so far.
	CountAttribute = "count"

	// DefaultBufferSize is the number of records buffered by a Writer before they are written to disk.
	DefaultBufferSize = 1000
)

var (
	// ErrPathExists is returned when creating a container over an existing file without overwrite.
	ErrPathExists = errors.New("container path already exists")

	// ErrCapacityExceeded is returned when appending more records than the container was created for.
	ErrCapacityExceeded = errors.New("container capacity exceeded")

	// ErrDuplicateWrite is returned when writing the class labels a second time.
	ErrDuplicateWrite = errors.New("container class labels already written")

	// ErrClosed is returned when using a container after it was closed.
	ErrClosed = errors.New("container is closed")

	// ErrNotFound is returned when opening a container that doesn't exist.
	ErrNotFound = errors.New("container not found")

	// ErrSchemaMismatch is returned when the data or the file don't match the expected layout.
	ErrSchemaMismatch = errors.New("container schema mismatch")
)

// Shape of each image stored in a container.
type Shape struct {
	Height, Width, Channels int
}

// Size is the number of values (bytes) of one image.
func (s Shape) Size() int { return s.Height * s.Width * s.Channels }

// Validate checks that dimensions are positive and that channels is 1 (gray), 3 (RGB) or 4 (RGBA).
func (s Shape) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return errors.Wrapf(ErrSchemaMismatch, "invalid image dimensions %dx%d", s.Width, s.Height)
	}
	if s.Channels != 1 && s.Channels != 3 && s.Channels != 4 {
		return errors.Wrapf(ErrSchemaMismatch, "invalid number of channels %d, must be 1, 3 or 4", s.Channels)
	}
	return nil
}

// dims returns the dimensions of the images dataset for the given number of records.
func (s Shape) dims(n int) []uint {
	return []uint{uint(n), uint(s.Height), uint(s.Width), uint(s.Channels)}
}

// EncodeImage converts img to its raw representation in the container: height, width, channels,
// one byte per value. The image must have exactly the dimensions of the shape.
func EncodeImage(img image.Image, shape Shape) ([]uint8, error) {
	bounds := img.Bounds()
	if bounds.Dx() != shape.Width || bounds.Dy() != shape.Height {
		return nil, errors.Wrapf(ErrSchemaMismatch, "image is %dx%d, container stores %dx%d images",
			bounds.Dx(), bounds.Dy(), shape.Width, shape.Height)
	}
	pixels := make([]uint8, 0, shape.Size())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			switch shape.Channels {
			case 1:
				pixels = append(pixels, color.GrayModel.Convert(c).(color.Gray).Y)
			case 3:
				pixels = append(pixels, c.R, c.G, c.B)
			default:
				pixels = append(pixels, c.R, c.G, c.B, c.A)
			}
		}
	}
	return pixels, nil
}

// DecodeImage converts the raw representation of one image back to an image.Image: *image.Gray for
// one channel, *image.NRGBA otherwise.
func DecodeImage(pixels []uint8, shape Shape) (image.Image, error) {
	if len(pixels) != shape.Size() {
		return nil, errors.Wrapf(ErrSchemaMismatch, "got %d values for an image of shape %+v", len(pixels), shape)
	}
	rect := image.Rect(0, 0, shape.Width, shape.Height)
	switch shape.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, pixels)
		return img, nil
	case 4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, pixels)
		return img, nil
	}
	img := image.NewNRGBA(rect)
	for ii := range shape.Height * shape.Width {
		copy(img.Pix[4*ii:4*ii+3], pixels[3*ii:3*ii+3])
		img.Pix[4*ii+3] = 255
	}
	return img, nil
}

// EncodeClassLabels packs names into a zero-padded [len(names), maxLen] table.
func EncodeClassLabels(names []string) (table []uint8, maxLen int) {
	maxLen = 1
	for _, name := range names {
		maxLen = max(maxLen, len(name))
	}
	table = make([]uint8, len(names)*maxLen)
	for ii, name := range names {
		copy(table[ii*maxLen:], name)
	}
	return
}

// DecodeClassLabels is the inverse of EncodeClassLabels.
func DecodeClassLabels(table []uint8, numClasses, maxLen int) []string {
	names := make([]string, numClasses)
	for ii := range names {
		row := table[ii*maxLen : (ii+1)*maxLen]
		names[ii] = string(bytes.TrimRight(row, "\x00"))
	}
	return names
}
