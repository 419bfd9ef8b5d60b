// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package container

import (
	"image"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"
	"k8s.io/klog/v2"
)

// WriterConfig holds the configuration of a Writer being created. Create it with Build, set its options,
// and finish it with Done.
type WriterConfig struct {
	path            string
	capacity        int
	shape           Shape
	bufferSize      int
	overwrite       bool
	withClassLabels bool
}

// Build starts the configuration of a new container Writer at path, for capacity images of the given shape.
//
// Example:
//
//	w, err := container.Build("output/Train.hdf5", len(trainPaths), shape).WithClassLabels().Done()
func Build(path string, capacity int, shape Shape) *WriterConfig {
	return &WriterConfig{path: path, capacity: capacity, shape: shape, bufferSize: DefaultBufferSize}
}

// BufferSize sets the number of records buffered in memory before they are written. Default is DefaultBufferSize.
func (c *WriterConfig) BufferSize(n int) *WriterConfig {
	c.bufferSize = n
	return c
}

// Overwrite allows Done to truncate an existing file. Without it, Done fails with ErrPathExists.
func (c *WriterConfig) Overwrite(overwrite bool) *WriterConfig {
	c.overwrite = overwrite
	return c
}

// WithClassLabels declares the container will hold a class labels table, see Writer.AddClassNames.
func (c *WriterConfig) WithClassLabels() *WriterConfig {
	c.withClassLabels = true
	return c
}

// Done creates the file and returns the Writer.
func (c *WriterConfig) Done() (*Writer, error) {
	if c.capacity <= 0 {
		return nil, errors.Wrapf(ErrSchemaMismatch, "invalid capacity %d for container %q", c.capacity, c.path)
	}
	if err := c.shape.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "container %q", c.path)
	}
	if c.bufferSize <= 0 {
		return nil, errors.Errorf("invalid buffer size %d for container %q", c.bufferSize, c.path)
	}

	flags := hdf5.F_ACC_EXCL
	if _, err := os.Stat(c.path); err == nil {
		if !c.overwrite {
			return nil, errors.Wrapf(ErrPathExists, "cannot create container %q", c.path)
		}
		flags = hdf5.F_ACC_TRUNC
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to check container path %q", c.path)
	}

	w := &Writer{
		path:            c.path,
		capacity:        c.capacity,
		shape:           c.shape,
		bufferSize:      c.bufferSize,
		withClassLabels: c.withClassLabels,
	}
	var err error
	w.file, err = hdf5.CreateFile(c.path, flags)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create container %q", c.path)
	}
	if err = w.createDatasets(); err != nil {
		_ = w.closeHandles()
		return nil, err
	}
	return w, nil
}

// Writer fills a container created with Build. Records are appended to an in-memory buffer, which is
// written to the next contiguous range of the file whenever it reaches the configured size, and on Close.
//
// The number of records flushed is kept in the CountAttribute, so a crash only loses unflushed records.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	path            string
	capacity        int
	shape           Shape
	bufferSize      int
	withClassLabels bool

	file           *hdf5.File
	images, labels *hdf5.Dataset

	imagesBuf  []uint8
	labelsBuf  []int64
	flushed    int
	classNames bool
	closed     bool
}

func (w *Writer) createDatasets() error {
	space, err := hdf5.CreateSimpleDataspace(w.shape.dims(w.capacity), nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create images dataspace for %q", w.path)
	}
	defer func() { _ = space.Close() }()
	w.images, err = w.file.CreateDataset(ImagesDataset, hdf5.T_NATIVE_UINT8, space)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q dataset in %q", ImagesDataset, w.path)
	}

	labelsSpace, err := hdf5.CreateSimpleDataspace([]uint{uint(w.capacity)}, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create labels dataspace for %q", w.path)
	}
	defer func() { _ = labelsSpace.Close() }()
	w.labels, err = w.file.CreateDataset(LabelsDataset, hdf5.T_NATIVE_INT64, labelsSpace)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q dataset in %q", LabelsDataset, w.path)
	}

	scalar, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return errors.Wrap(err, "failed to create scalar dataspace")
	}
	defer func() { _ = scalar.Close() }()
	attr, err := w.images.CreateAttribute(CountAttribute, hdf5.T_NATIVE_INT64, scalar)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q attribute in %q", CountAttribute, w.path)
	}
	defer func() { _ = attr.Close() }()
	var zero int64
	if err = attr.Write(&zero, hdf5.T_NATIVE_INT64); err != nil {
		return errors.Wrapf(err, "failed to initialize %q attribute in %q", CountAttribute, w.path)
	}
	return nil
}

// Path of the container file.
func (w *Writer) Path() string { return w.path }

// Shape of the images stored.
func (w *Writer) Shape() Shape { return w.shape }

// Capacity is the maximum number of records the container holds.
func (w *Writer) Capacity() int { return w.capacity }

// Len is the number of records appended so far, flushed or not.
func (w *Writer) Len() int { return w.flushed + len(w.labelsBuf) }

// Flushed is the number of records already written to the file.
func (w *Writer) Flushed() int { return w.flushed }

// Append encodes the images (see EncodeImage) and appends them with their labels.
// It is all-or-nothing: on error nothing is appended.
func (w *Writer) Append(images []image.Image, labels []int) error {
	if w.closed {
		return errors.Wrapf(ErrClosed, "append to container %q", w.path)
	}
	pixels := make([][]uint8, len(images))
	for ii, img := range images {
		var err error
		pixels[ii], err = EncodeImage(img, w.shape)
		if err != nil {
			return errors.WithMessagef(err, "appending image #%d to container %q", w.Len()+ii, w.path)
		}
	}
	return w.AppendRaw(pixels, labels)
}

// AppendRaw appends images in their raw form (height, width, channels bytes each) with their labels.
// It is all-or-nothing: on error nothing is appended.
//
// It fails with ErrCapacityExceeded if the total number of records would exceed the capacity.
func (w *Writer) AppendRaw(images [][]uint8, labels []int) error {
	if w.closed {
		return errors.Wrapf(ErrClosed, "append to container %q", w.path)
	}
	if len(images) != len(labels) {
		return errors.Wrapf(ErrSchemaMismatch, "appending %d images with %d labels to %q",
			len(images), len(labels), w.path)
	}
	if w.Len()+len(images) > w.capacity {
		return errors.Wrapf(ErrCapacityExceeded, "appending %d records to %q, which holds %d of %d",
			len(images), w.path, w.Len(), w.capacity)
	}
	imageSize := w.shape.Size()
	for ii, pixels := range images {
		if len(pixels) != imageSize {
			return errors.Wrapf(ErrSchemaMismatch, "image #%d has %d values, container %q expects %d",
				ii, len(pixels), w.path, imageSize)
		}
		if labels[ii] < 0 {
			return errors.Wrapf(ErrSchemaMismatch, "image #%d has negative label %d", ii, labels[ii])
		}
	}

	for ii, pixels := range images {
		w.imagesBuf = append(w.imagesBuf, pixels...)
		w.labelsBuf = append(w.labelsBuf, int64(labels[ii]))
	}
	if len(w.labelsBuf) >= w.bufferSize {
		return w.flush()
	}
	return nil
}

// flush writes the buffered records to the next range of the file and updates the count.
func (w *Writer) flush() error {
	n := len(w.labelsBuf)
	if n == 0 {
		return nil
	}
	offset := uint(w.flushed)

	fileSpace := w.images.Space()
	defer func() { _ = fileSpace.Close() }()
	count := w.shape.dims(n)
	if err := fileSpace.SelectHyperslab([]uint{offset, 0, 0, 0}, nil, count, nil); err != nil {
		return errors.Wrapf(err, "failed to select images [%d, %d) in %q", offset, int(offset)+n, w.path)
	}
	memSpace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create images memory dataspace")
	}
	defer func() { _ = memSpace.Close() }()
	if err = w.images.WriteSubset(&w.imagesBuf, memSpace, fileSpace); err != nil {
		return errors.Wrapf(err, "failed to write %d images to %q", n, w.path)
	}

	labelsFileSpace := w.labels.Space()
	defer func() { _ = labelsFileSpace.Close() }()
	if err = labelsFileSpace.SelectHyperslab([]uint{offset}, nil, []uint{uint(n)}, nil); err != nil {
		return errors.Wrapf(err, "failed to select labels [%d, %d) in %q", offset, int(offset)+n, w.path)
	}
	labelsMemSpace, err := hdf5.CreateSimpleDataspace([]uint{uint(n)}, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create labels memory dataspace")
	}
	defer func() { _ = labelsMemSpace.Close() }()
	if err = w.labels.WriteSubset(&w.labelsBuf, labelsMemSpace, labelsFileSpace); err != nil {
		return errors.Wrapf(err, "failed to write %d labels to %q", n, w.path)
	}

	w.flushed += n
	w.imagesBuf = w.imagesBuf[:0]
	w.labelsBuf = w.labelsBuf[:0]
	if err = w.writeCount(); err != nil {
		return err
	}
	klog.V(2).Infof("container %q: flushed %d records (%d total)", w.path, n, w.flushed)
	return nil
}

func (w *Writer) writeCount() error {
	attr, err := w.images.OpenAttribute(CountAttribute)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q attribute in %q", CountAttribute, w.path)
	}
	defer func() { _ = attr.Close() }()
	count := int64(w.flushed)
	if err = attr.Write(&count, hdf5.T_NATIVE_INT64); err != nil {
		return errors.Wrapf(err, "failed to update %q attribute in %q", CountAttribute, w.path)
	}
	return nil
}

// AddClassNames writes the class labels table. It can only be called once, and only if the container
// was configured WithClassLabels.
func (w *Writer) AddClassNames(names []string) error {
	if w.closed {
		return errors.Wrapf(ErrClosed, "add class names to container %q", w.path)
	}
	if !w.withClassLabels {
		return errors.Wrapf(ErrSchemaMismatch, "container %q was not configured with class labels", w.path)
	}
	if w.classNames {
		return errors.Wrapf(ErrDuplicateWrite, "container %q", w.path)
	}
	table, maxLen := EncodeClassLabels(names)
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(names)), uint(maxLen)}, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create class labels dataspace")
	}
	defer func() { _ = space.Close() }()
	dset, err := w.file.CreateDataset(ClassLabelsDataset, hdf5.T_NATIVE_UINT8, space)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q dataset in %q", ClassLabelsDataset, w.path)
	}
	defer func() { _ = dset.Close() }()
	w.classNames = true
	if len(names) == 0 {
		return nil
	}
	if err = dset.Write(&table); err != nil {
		return errors.Wrapf(err, "failed to write %d class labels to %q", len(names), w.path)
	}
	return nil
}

// Close flushes any buffered records and closes the file. After Close every operation fails with ErrClosed,
// including a second Close.
func (w *Writer) Close() error {
	if w.closed {
		return errors.Wrapf(ErrClosed, "close container %q", w.path)
	}
	err := w.flush()
	w.closed = true
	if closeErr := w.closeHandles(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if klog.V(1).Enabled() {
		var size string
		if info, statErr := os.Stat(w.path); statErr == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		klog.Infof("container %q closed: %s of %s records, %s", w.path,
			humanize.Comma(int64(w.flushed)), humanize.Comma(int64(w.capacity)), size)
	}
	return nil
}

func (w *Writer) closeHandles() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.images != nil {
		keep(w.images.Close())
		w.images = nil
	}
	if w.labels != nil {
		keep(w.labels.Close())
		w.labels = nil
	}
	if w.file != nil {
		keep(w.file.Close())
		w.file = nil
	}
	if firstErr != nil {
		return errors.Wrapf(firstErr, "failed to close container %q", w.path)
	}
	return nil
}
