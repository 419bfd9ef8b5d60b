// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package generator reads batches of images and one-hot labels from a container, applying a pipeline
// of preprocessors and an optional augmenter.
//
// Generator can be consumed in three ways: as a Go iterator (Batches), pulling batches one at a time
// (Next), or as a GoMLX train.Dataset (Yield/Reset), in which case each Reset starts a new epoch.
package generator

import (
	"image"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/imageclassifier/pkg/augment"
	"github.com/gomlx/imageclassifier/pkg/container"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/pkg/errors"
)

// Generator reads contiguous batches from a container, wrapping around at the end of the data.
//
// A Generator is not safe for concurrent use: its cursor is shared by all its consumers.
type Generator struct {
	name          string
	reader        *container.Reader
	batchSize     int
	numClasses    int
	preprocessors []preprocess.Preprocessor
	augmenter     augment.Augmenter
	dropRemainder bool

	// maxEpochs is the number of epochs Next yields before returning io.EOF. 0 for unbounded.
	maxEpochs int

	cursor, epoch int
	closed        bool
}

// Assert Generator implements train.Dataset.
var _ train.Dataset = (*Generator)(nil)

// Open the container at path, to read batches of batchSize images, with labels one-hot encoded
// with numClasses classes. Images go through the preprocessors in the order given.
//
// It fails with container.ErrNotFound if path doesn't exist, or container.ErrSchemaMismatch if numClasses is
// inconsistent with the class labels or with the labels stored in the container.
//
// By default, Next yields exactly one epoch: change it with Epochs.
func Open(path string, batchSize, numClasses int, preprocessors ...preprocess.Preprocessor) (*Generator, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	if numClasses <= 0 {
		return nil, errors.Wrapf(container.ErrSchemaMismatch, "invalid number of classes %d", numClasses)
	}
	reader, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	if classLabels := reader.ClassLabels(); classLabels != nil && len(classLabels) != numClasses {
		_ = reader.Close()
		return nil, errors.Wrapf(container.ErrSchemaMismatch, "container %q has %d class labels, generator configured with %d classes",
			path, len(classLabels), numClasses)
	}
	if reader.Len() == 0 {
		_ = reader.Close()
		return nil, errors.Errorf("container %q has no records", path)
	}
	if err = checkLabels(reader, numClasses); err != nil {
		_ = reader.Close()
		return nil, err
	}
	return &Generator{
		name:          strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		reader:        reader,
		batchSize:     batchSize,
		numClasses:    numClasses,
		preprocessors: preprocessors,
		maxEpochs:     1,
	}, nil
}

// checkLabels verifies all labels stored in the container are in [0, numClasses).
func checkLabels(reader *container.Reader, numClasses int) error {
	labels, err := reader.ReadLabels(0, reader.Len())
	if err != nil {
		return err
	}
	for ii, label := range labels {
		if label < 0 || label >= int64(numClasses) {
			return errors.Wrapf(container.ErrSchemaMismatch, "container %q: record %d has label %d, generator configured with %d classes",
				reader.Path(), ii, label, numClasses)
		}
	}
	return nil
}

// WithName sets the name of the generator, used as the train.Dataset name. Default is the container
// file name without extension.
func (g *Generator) WithName(name string) *Generator {
	g.name = name
	return g
}

// WithAugmenter sets an augmenter: it replaces each batch of images by an augmented variant before
// the last preprocessor is applied.
func (g *Generator) WithAugmenter(augmenter augment.Augmenter) *Generator {
	g.augmenter = augmenter
	return g
}

// DropRemainder configures the generator to skip the last batch of each epoch if it's not full.
func (g *Generator) DropRemainder(drop bool) *Generator {
	g.dropRemainder = drop
	return g
}

// Epochs sets the number of epochs Next yields before returning io.EOF. Use 0 for unbounded.
// It doesn't reset the cursor.
func (g *Generator) Epochs(epochs int) *Generator {
	g.maxEpochs = max(epochs, 0)
	return g
}

// Name implements train.Dataset.
func (g *Generator) Name() string { return g.name }

// Len is the number of records in the container.
func (g *Generator) Len() int { return g.reader.Len() }

// NumClasses used for the one-hot encoding.
func (g *Generator) NumClasses() int { return g.numClasses }

// ClassLabels stored in the container, or nil.
func (g *Generator) ClassLabels() []string { return g.reader.ClassLabels() }

// StepsPerEpoch is the number of batches in one epoch.
func (g *Generator) StepsPerEpoch() int {
	if g.dropRemainder {
		return g.Len() / g.batchSize
	}
	return (g.Len() + g.batchSize - 1) / g.batchSize
}

// Reset rewinds the cursor to the start of the data and the epoch count to 0.
func (g *Generator) Reset() {
	g.cursor = 0
	g.epoch = 0
}

// Next reads the next batch. At the end of the data it wraps around to the start, and after the configured
// number of epochs it returns io.EOF.
func (g *Generator) Next() (*Batch, error) {
	if g.closed {
		return nil, errors.Wrapf(container.ErrClosed, "generator %q", g.name)
	}
	total := g.Len()
	remaining := total - g.cursor
	if remaining <= 0 || (g.dropRemainder && remaining < g.batchSize) {
		g.cursor = 0
		g.epoch++
		remaining = total
	}
	if g.maxEpochs > 0 && g.epoch >= g.maxEpochs {
		return nil, io.EOF
	}
	if g.dropRemainder && total < g.batchSize {
		return nil, errors.Errorf("generator %q: %d records are not enough for one batch of %d with DropRemainder",
			g.name, total, g.batchSize)
	}

	n := min(g.batchSize, remaining)
	images, labels, err := g.reader.ReadImages(g.cursor, n)
	if err != nil {
		return nil, errors.WithMessagef(err, "generator %q", g.name)
	}
	batch := &Batch{Labels: labels, Epoch: g.epoch, NumClasses: g.numClasses}
	batch.OneHot, err = OneHot(labels, g.numClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "generator %q, records [%d, %d)", g.name, g.cursor, g.cursor+n)
	}
	batch.Images = g.preprocess(images)
	g.cursor += n
	return batch, nil
}

// preprocess runs the pipeline over the images, with the augmentation before the last preprocessor.
func (g *Generator) preprocess(images []image.Image) []image.Image {
	numPre := len(g.preprocessors)
	leading := g.preprocessors
	var last []preprocess.Preprocessor
	if g.augmenter != nil && numPre > 0 {
		leading, last = g.preprocessors[:numPre-1], g.preprocessors[numPre-1:]
	}
	out := make([]image.Image, len(images))
	for ii, img := range images {
		out[ii] = preprocess.Apply(img, leading...)
	}
	if g.augmenter != nil {
		out = g.augmenter.Augment(out)
	}
	for ii, img := range out {
		out[ii] = preprocess.Apply(img, last...)
	}
	return out
}

// Batches resets the generator and returns an iterator over its batches, for the given number of epochs,
// or unbounded if epochs <= 0. Iteration stops at the first error, which is yielded.
func (g *Generator) Batches(epochs int) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		if g.closed {
			yield(nil, errors.Wrapf(container.ErrClosed, "generator %q", g.name))
			return
		}
		saved := g.maxEpochs
		defer func() { g.maxEpochs = saved }()
		g.Epochs(epochs)
		g.Reset()
		for {
			batch, err := g.Next()
			if err == io.EOF {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// Yield implements train.Dataset: it yields one epoch, and then io.EOF until Reset is called.
// The inputs are the images tensor and the labels the one-hot labels tensor, see Batch.Tensors.
func (g *Generator) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	saved := g.maxEpochs
	g.maxEpochs = 1
	batch, err := g.Next()
	g.maxEpochs = saved
	if err != nil {
		return nil, nil, nil, err
	}
	imagesT, labelsT, err := batch.Tensors(g.reader.Shape().Channels)
	if err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "generator %q", g.name)
	}
	return g, []*tensors.Tensor{imagesT}, []*tensors.Tensor{labelsT}, nil
}

// Close releases the container. Further calls to Next, Batches or Yield fail with container.ErrClosed.
func (g *Generator) Close() error {
	if g.closed {
		return errors.Wrapf(container.ErrClosed, "generator %q", g.name)
	}
	g.closed = true
	return g.reader.Close()
}
