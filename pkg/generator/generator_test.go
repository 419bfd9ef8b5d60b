// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"image"
	"image/color"
	"io"
	"path/filepath"
	"testing"

	"github.com/gomlx/imageclassifier/pkg/augment"
	"github.com/gomlx/imageclassifier/pkg/container"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testShape = container.Shape{Height: 6, Width: 8, Channels: 3}

func uniform(value uint8) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, testShape.Width, testShape.Height))
	for y := range testShape.Height {
		for x := range testShape.Width {
			img.SetNRGBA(x, y, color.NRGBA{R: value, G: value, B: value, A: 255})
		}
	}
	return img
}

// createContainer writes n uniform images, image i with value i, labels alternating 0 and 1.
func createContainer(t *testing.T, n int) string {
	path := filepath.Join(t.TempDir(), "Train.hdf5")
	w, err := container.Build(path, n, testShape).BufferSize(3).WithClassLabels().Done()
	require.NoError(t, err)
	for ii := range n {
		require.NoError(t, w.Append([]image.Image{uniform(uint8(ii))}, []int{ii % 2}))
	}
	require.NoError(t, w.AddClassNames([]string{"cat", "dog"}))
	require.NoError(t, w.Close())
	return path
}

func batchSizes(t *testing.T, g *Generator, epochs int) (sizes []int) {
	for batch, err := range g.Batches(epochs) {
		require.NoError(t, err)
		sizes = append(sizes, batch.Len())
	}
	return
}

func TestBatchSizes(t *testing.T) {
	path := createContainer(t, 10)
	g, err := Open(path, 4, 2)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()
	assert.Equal(t, "Train", g.Name())
	assert.Equal(t, 3, g.StepsPerEpoch())

	assert.Equal(t, []int{4, 4, 2}, batchSizes(t, g, 1))
	assert.Equal(t, []int{4, 4, 2, 4, 4, 2}, batchSizes(t, g, 2))

	g.DropRemainder(true)
	assert.Equal(t, 2, g.StepsPerEpoch())
	assert.Equal(t, []int{4, 4, 4, 4}, batchSizes(t, g, 2))
}

func TestUnbounded(t *testing.T) {
	path := createContainer(t, 10)
	g, err := Open(path, 4, 2)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	var sizes, epochs []int
	for batch, err := range g.Batches(0) {
		require.NoError(t, err)
		sizes = append(sizes, batch.Len())
		epochs = append(epochs, batch.Epoch)
		if len(sizes) == 7 {
			break
		}
	}
	assert.Equal(t, []int{4, 4, 2, 4, 4, 2, 4}, sizes)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 2}, epochs)
}

func TestBatchesKeepsEpochs(t *testing.T) {
	path := createContainer(t, 10)
	g, err := Open(path, 4, 2)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	// Batches(0) is unbounded, but Next keeps the default of one epoch afterwards.
	for _, err := range g.Batches(0) {
		require.NoError(t, err)
		break
	}
	g.Reset()
	var count int
	for {
		_, err := g.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestRoundTrip(t *testing.T) {
	path := createContainer(t, 10)
	g, err := Open(path, 3, 2)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()
	assert.Equal(t, []string{"cat", "dog"}, g.ClassLabels())

	var labels []int
	var values []uint8
	for batch, err := range g.Batches(1) {
		require.NoError(t, err)
		labels = append(labels, batch.Labels...)
		for ii, img := range batch.Images {
			c := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
			values = append(values, c.R)
			expected := []float32{1, 0}
			if batch.Labels[ii] == 1 {
				expected = []float32{0, 1}
			}
			assert.Equal(t, expected, batch.OneHot[ii])
		}
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}, labels)
	assert.Equal(t, []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, values)
}

func TestPreprocessing(t *testing.T) {
	path := createContainer(t, 5)
	means := preprocess.Means{R: 2, G: 2, B: 2}
	g, err := Open(path, 5, 2, preprocess.NewResize(4, 4), preprocess.NewMean(means))
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	batch, err := g.Next()
	require.NoError(t, err)
	require.Equal(t, 5, batch.Len())
	images, labels, err := batch.Tensors(3)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4, 4, 3}, images.Shape().Dimensions)
	assert.Equal(t, []int{5, 2}, labels.Shape().Dimensions)

	// First image has value 0, minus mean 2.
	values := preprocess.ToFloat32(batch.Images[0], 3)
	assert.Equal(t, float32(-2), values[0])

	_, err = g.Next()
	require.ErrorIs(t, err, io.EOF)
}

// recordingPreprocessor records the order in which it is called, relative to the augmenter.
type recordingPreprocessor struct {
	name  string
	calls *[]string
}

func (p recordingPreprocessor) Preprocess(img image.Image) image.Image {
	*p.calls = append(*p.calls, p.name)
	return img
}

type recordingAugmenter struct {
	calls *[]string
}

func (a recordingAugmenter) Augment(images []image.Image) []image.Image {
	*a.calls = append(*a.calls, "augment")
	return augment.Flip{}.Augment(images)
}

func TestAugmenterBeforeLastPreprocessor(t *testing.T) {
	path := createContainer(t, 2)
	var calls []string
	g, err := Open(path, 2, 2,
		recordingPreprocessor{"first", &calls},
		recordingPreprocessor{"last", &calls})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()
	g.WithAugmenter(recordingAugmenter{&calls})

	batch, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, []string{"first", "first", "augment", "last", "last"}, calls)
}

func TestYield(t *testing.T) {
	path := createContainer(t, 10)
	g, err := Open(path, 4, 2, preprocess.NewResize(5, 5))
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	for range 2 {
		var steps int
		for {
			_, inputs, labels, err := g.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Len(t, inputs, 1)
			require.Len(t, labels, 1)
			assert.Equal(t, 5, inputs[0].Shape().Dimensions[1])
			steps++
		}
		assert.Equal(t, 3, steps)
		g.Reset()
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.hdf5"), 4, 2)
	require.ErrorIs(t, err, container.ErrNotFound)

	path := createContainer(t, 4)
	_, err = Open(path, 4, 3)
	require.ErrorIs(t, err, container.ErrSchemaMismatch)

	_, err = Open(path, 0, 2)
	require.Error(t, err)
}

func TestLabelOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unlabeled.hdf5")
	w, err := container.Build(path, 2, testShape).Done()
	require.NoError(t, err)
	require.NoError(t, w.Append([]image.Image{uniform(0), uniform(1)}, []int{0, 5}))
	require.NoError(t, w.Close())

	_, err = Open(path, 2, 2)
	require.ErrorIs(t, err, container.ErrSchemaMismatch)

	g, err := Open(path, 2, 6)
	require.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestClosed(t *testing.T) {
	path := createContainer(t, 4)
	g, err := Open(path, 4, 2)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	_, err = g.Next()
	require.ErrorIs(t, err, container.ErrClosed)
	for _, err := range g.Batches(1) {
		require.ErrorIs(t, err, container.ErrClosed)
	}
	_, _, _, err = g.Yield()
	require.ErrorIs(t, err, container.ErrClosed)
	require.ErrorIs(t, g.Close(), container.ErrClosed)
}
