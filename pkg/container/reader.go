// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package container

import (
	"image"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"
)

// Reader gives read access to a container written by Writer.
//
// Only records flushed by the writer (see CountAttribute) are visible. A Reader is not safe for concurrent use.
type Reader struct {
	path           string
	file           *hdf5.File
	images, labels *hdf5.Dataset
	shape          Shape
	capacity       int
	count          int
	classLabels    []string
	closed         bool
}

// Open a container for reading.
//
// It fails with ErrNotFound if path doesn't exist, and with ErrSchemaMismatch if it is not a container.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "container %q", path)
		}
		return nil, errors.Wrapf(err, "failed to check container %q", path)
	}
	r := &Reader{path: path}
	var err error
	r.file, err = hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(ErrSchemaMismatch, "%q is not a valid HDF5 file: %v", path, err)
	}
	if err = r.openDatasets(); err != nil {
		_ = r.closeHandles()
		return nil, err
	}
	return r, nil
}

func (r *Reader) openDatasets() error {
	var err error
	r.images, err = r.file.OpenDataset(ImagesDataset)
	if err != nil {
		return errors.Wrapf(ErrSchemaMismatch, "container %q has no %q dataset", r.path, ImagesDataset)
	}
	imagesDims, err := datasetDims(r.images)
	if err != nil {
		return errors.WithMessagef(err, "container %q", r.path)
	}
	if len(imagesDims) != 4 {
		return errors.Wrapf(ErrSchemaMismatch, "container %q: %q has rank %d, expected 4 (n, height, width, channels)",
			r.path, ImagesDataset, len(imagesDims))
	}
	r.capacity = int(imagesDims[0])
	r.shape = Shape{Height: int(imagesDims[1]), Width: int(imagesDims[2]), Channels: int(imagesDims[3])}
	if err = r.shape.Validate(); err != nil {
		return errors.WithMessagef(err, "container %q", r.path)
	}

	r.labels, err = r.file.OpenDataset(LabelsDataset)
	if err != nil {
		return errors.Wrapf(ErrSchemaMismatch, "container %q has no %q dataset", r.path, LabelsDataset)
	}
	labelsDims, err := datasetDims(r.labels)
	if err != nil {
		return errors.WithMessagef(err, "container %q", r.path)
	}
	if len(labelsDims) != 1 || int(labelsDims[0]) != r.capacity {
		return errors.Wrapf(ErrSchemaMismatch, "container %q: %q has dimensions %v, expected [%d]",
			r.path, LabelsDataset, labelsDims, r.capacity)
	}

	r.count = r.capacity
	if attr, err := r.images.OpenAttribute(CountAttribute); err == nil {
		var count int64
		err = attr.Read(&count, hdf5.T_NATIVE_INT64)
		_ = attr.Close()
		if err != nil {
			return errors.Wrapf(err, "container %q: failed to read %q attribute", r.path, CountAttribute)
		}
		if count < 0 || int(count) > r.capacity {
			return errors.Wrapf(ErrSchemaMismatch, "container %q: count %d out of range [0, %d]", r.path, count, r.capacity)
		}
		r.count = int(count)
	}
	return r.readClassLabels()
}

// readClassLabels loads the optional class labels table.
func (r *Reader) readClassLabels() error {
	dset, err := r.file.OpenDataset(ClassLabelsDataset)
	if err != nil {
		return nil
	}
	defer func() { _ = dset.Close() }()
	dims, err := datasetDims(dset)
	if err != nil {
		return errors.WithMessagef(err, "container %q", r.path)
	}
	if len(dims) != 2 {
		return errors.Wrapf(ErrSchemaMismatch, "container %q: %q has rank %d, expected 2",
			r.path, ClassLabelsDataset, len(dims))
	}
	numClasses, maxLen := int(dims[0]), int(dims[1])
	if numClasses == 0 {
		r.classLabels = []string{}
		return nil
	}
	table := make([]uint8, numClasses*maxLen)
	if err = dset.Read(&table); err != nil {
		return errors.Wrapf(err, "container %q: failed to read class labels", r.path)
	}
	r.classLabels = DecodeClassLabels(table, numClasses, maxLen)
	return nil
}

func datasetDims(dset *hdf5.Dataset) ([]uint, error) {
	space := dset.Space()
	defer func() { _ = space.Close() }()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset dimensions")
	}
	return dims, nil
}

// Path of the container file.
func (r *Reader) Path() string { return r.path }

// Shape of the images stored.
func (r *Reader) Shape() Shape { return r.shape }

// Capacity the container was created with.
func (r *Reader) Capacity() int { return r.capacity }

// Len is the number of records available for reading.
func (r *Reader) Len() int { return r.count }

// ClassLabels returns the class names stored in the container, or nil if it has no class labels table.
func (r *Reader) ClassLabels() []string { return r.classLabels }

// ReadRange reads n records starting at start. Images are returned in their raw form, concatenated: the
// i-th image is pixels[i*Shape().Size() : (i+1)*Shape().Size()].
func (r *Reader) ReadRange(start, n int) (pixels []uint8, labels []int64, err error) {
	if r.closed {
		return nil, nil, errors.Wrapf(ErrClosed, "read from container %q", r.path)
	}
	if start < 0 || n < 0 || start+n > r.count {
		return nil, nil, errors.Errorf("container %q: range [%d, %d) out of bounds, it has %d records",
			r.path, start, start+n, r.count)
	}
	if n == 0 {
		return []uint8{}, []int64{}, nil
	}

	pixels = make([]uint8, n*r.shape.Size())
	count := r.shape.dims(n)
	if err = readSubset(r.images, &pixels, []uint{uint(start), 0, 0, 0}, count); err != nil {
		return nil, nil, errors.WithMessagef(err, "container %q: reading images [%d, %d)", r.path, start, start+n)
	}
	if labels, err = r.readLabels(start, n); err != nil {
		return nil, nil, err
	}
	return pixels, labels, nil
}

// ReadLabels reads only the labels of the n records starting at start.
func (r *Reader) ReadLabels(start, n int) ([]int64, error) {
	if r.closed {
		return nil, errors.Wrapf(ErrClosed, "read from container %q", r.path)
	}
	if start < 0 || n < 0 || start+n > r.count {
		return nil, errors.Errorf("container %q: range [%d, %d) out of bounds, it has %d records",
			r.path, start, start+n, r.count)
	}
	if n == 0 {
		return []int64{}, nil
	}
	return r.readLabels(start, n)
}

func (r *Reader) readLabels(start, n int) ([]int64, error) {
	labels := make([]int64, n)
	if err := readSubset(r.labels, &labels, []uint{uint(start)}, []uint{uint(n)}); err != nil {
		return nil, errors.WithMessagef(err, "container %q: reading labels [%d, %d)", r.path, start, start+n)
	}
	return labels, nil
}

func readSubset(dset *hdf5.Dataset, data any, offset, count []uint) error {
	fileSpace := dset.Space()
	defer func() { _ = fileSpace.Close() }()
	if err := fileSpace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return errors.Wrap(err, "failed to select hyperslab")
	}
	memSpace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create memory dataspace")
	}
	defer func() { _ = memSpace.Close() }()
	if err = dset.ReadSubset(data, memSpace, fileSpace); err != nil {
		return errors.Wrap(err, "failed to read")
	}
	return nil
}

// ReadImages reads n records starting at start, decoded as images (see DecodeImage).
func (r *Reader) ReadImages(start, n int) (images []image.Image, labels []int, err error) {
	pixels, rawLabels, err := r.ReadRange(start, n)
	if err != nil {
		return nil, nil, err
	}
	size := r.shape.Size()
	images = make([]image.Image, n)
	labels = make([]int, n)
	for ii := range n {
		images[ii], err = DecodeImage(pixels[ii*size:(ii+1)*size], r.shape)
		if err != nil {
			return nil, nil, err
		}
		labels[ii] = int(rawLabels[ii])
	}
	return images, labels, nil
}

// Close the container. A second Close returns ErrClosed.
func (r *Reader) Close() error {
	if r.closed {
		return errors.Wrapf(ErrClosed, "close container %q", r.path)
	}
	r.closed = true
	return r.closeHandles()
}

func (r *Reader) closeHandles() error {
	var firstErr error
	for _, dset := range []*hdf5.Dataset{r.images, r.labels} {
		if dset != nil {
			if err := dset.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.images, r.labels = nil, nil
	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.file = nil
	}
	if firstErr != nil {
		return errors.Wrapf(firstErr, "failed to close container %q", r.path)
	}
	return nil
}
