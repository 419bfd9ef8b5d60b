// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"image"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/imageclassifier/pkg/container"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/pkg/errors"
)

// Batch of preprocessed images and their labels.
type Batch struct {
	Images []image.Image

	// Labels as integers and one-hot encoded.
	Labels []int
	OneHot [][]float32

	NumClasses int

	// Epoch this batch belongs to, counting from 0.
	Epoch int
}

// Len is the number of examples in the batch.
func (b *Batch) Len() int { return len(b.Images) }

// OneHot encodes labels as vectors of size numClasses with a 1 at the label's index.
// It fails with container.ErrSchemaMismatch if a label is out of range.
func OneHot(labels []int, numClasses int) ([][]float32, error) {
	oneHot := make([][]float32, len(labels))
	for ii, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, errors.Wrapf(container.ErrSchemaMismatch, "label %d out of range for %d classes", label, numClasses)
		}
		oneHot[ii] = make([]float32, numClasses)
		oneHot[ii][label] = 1
	}
	return oneHot, nil
}

// Tensors converts the batch to GoMLX tensors: images shaped `[batch, height, width, channels]` and labels shaped
// `[batch, numClasses]`, both float32. All images must have the same size.
func (b *Batch) Tensors(channels int) (images, labels *tensors.Tensor, err error) {
	if b.Len() == 0 {
		return nil, nil, errors.New("empty batch")
	}
	size := b.Images[0].Bounds().Size()
	flat := make([]float32, 0, b.Len()*size.X*size.Y*channels)
	for ii, img := range b.Images {
		if img.Bounds().Size() != size {
			return nil, nil, errors.Errorf("image #%d in batch is %v, but image #0 is %v", ii, img.Bounds().Size(), size)
		}
		flat = append(flat, preprocess.ToFloat32(img, channels)...)
	}
	images = tensors.FromFlatDataAndDimensions(flat, b.Len(), size.Y, size.X, channels)

	flatLabels := make([]float32, 0, b.Len()*b.NumClasses)
	for _, row := range b.OneHot {
		flatLabels = append(flatLabels, row...)
	}
	labels = tensors.FromFlatDataAndDimensions(flatLabels, b.Len(), b.NumClasses)
	return images, labels, nil
}
