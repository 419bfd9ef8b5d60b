// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/imageclassifier/pkg/container"
	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"
	"k8s.io/klog/v2"
)

const modelScopeName = "model"

// ModelScope is the context scope where AlexNetModelGraph creates the model variables.
const ModelScope = context.ScopeSeparator + modelScopeName

// Convert exports the trained model in Config.ModelPath to portable files: the model variables to the HDF5 file
// Config.WeightsPath (one dataset per variable, in groups following the variable scopes, plus a "class_labels"
// table), and the class labels to Config.LabelsPath, one per line.
func Convert(ctx *context.Context, cfg *Config) error {
	fmt.Println("[INFO] Convert model...")
	classLabels, err := loadModel(ctx, cfg, true)
	if err != nil {
		return err
	}
	numVars, numValues, err := exportWeights(ctx, cfg.WeightsPath(), classLabels)
	if err != nil {
		return err
	}
	fmt.Printf("[INFO] Exported %d variables (%s values) to %s\n", numVars, humanize.Comma(int64(numValues)), cfg.WeightsPath())
	return writeLabels(cfg.LabelsPath(), classLabels)
}

// writeLabels writes one label per line.
func writeLabels(filePath string, labels []string) error {
	var sb strings.Builder
	for _, label := range labels {
		sb.WriteString(label)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(filePath, []byte(sb.String()), 0644); err != nil {
		return errors.Wrapf(err, "failed to write labels to %q", filePath)
	}
	return nil
}

// weightsFile writes variables to an HDF5 file, creating one group per scope.
type weightsFile struct {
	file   *hdf5.File
	groups map[string]*hdf5.Group
}

// exportWeights writes all variables under ModelScope to filePath, overwriting it.
func exportWeights(ctx *context.Context, filePath string, classLabels []string) (numVars, numValues int, err error) {
	file, err := hdf5.CreateFile(filePath, hdf5.F_ACC_TRUNC)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to create weights file %q", filePath)
	}
	wf := &weightsFile{file: file, groups: make(map[string]*hdf5.Group)}
	defer func() {
		if closeErr := wf.close(); err == nil {
			err = closeErr
		}
	}()

	for v := range ctx.IterVariables() {
		scope := v.Scope()
		if scope != ModelScope && !strings.HasPrefix(scope, ModelScope+context.ScopeSeparator) {
			continue
		}
		value, err := v.Value()
		if err != nil {
			return numVars, numValues, errors.WithMessagef(err, "variable %q", v.ScopeAndName())
		}
		written, err := wf.writeTensor(scope, v.Name(), value)
		if err != nil {
			return numVars, numValues, errors.WithMessagef(err, "variable %q", v.ScopeAndName())
		}
		if written {
			numVars++
			numValues += value.Size()
		}
	}
	if numVars == 0 {
		return 0, 0, errors.Errorf("no variables found in scope %q of the model", ModelScope)
	}

	table, maxLen := container.EncodeClassLabels(classLabels)
	labels := tensors.FromFlatDataAndDimensions(table, len(classLabels), maxLen)
	if _, err = wf.writeTensor(context.RootScope, container.ClassLabelsDataset, labels); err != nil {
		return numVars, numValues, err
	}
	return numVars, numValues, nil
}

// group returns the HDF5 group for the scope, creating it and its parents as needed. The root scope
// returns nil, meaning the file itself.
func (wf *weightsFile) group(scope string) (*hdf5.Group, error) {
	scope = strings.Trim(scope, context.ScopeSeparator)
	if scope == "" {
		return nil, nil
	}
	if g, found := wf.groups[scope]; found {
		return g, nil
	}
	parentScope, name := "", scope
	if idx := strings.LastIndex(scope, context.ScopeSeparator); idx >= 0 {
		parentScope, name = scope[:idx], scope[idx+1:]
	}
	parent, err := wf.group(parentScope)
	if err != nil {
		return nil, err
	}
	var g *hdf5.Group
	if parent == nil {
		g, err = wf.file.CreateGroup(name)
	} else {
		g, err = parent.CreateGroup(name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create group %q", scope)
	}
	wf.groups[scope] = g
	return g, nil
}

// writeTensor writes t as the dataset name in the group of scope. Tensors of dtypes without an HDF5
// equivalent are skipped, and it returns false.
func (wf *weightsFile) writeTensor(scope, name string, t *tensors.Tensor) (bool, error) {
	var dtype *hdf5.Datatype
	var data any
	switch t.DType() {
	case dtypes.Float32:
		dtype, data = hdf5.T_NATIVE_FLOAT, tensors.MustCopyFlatData[float32](t)
	case dtypes.Float64:
		dtype, data = hdf5.T_NATIVE_DOUBLE, tensors.MustCopyFlatData[float64](t)
	case dtypes.Int64:
		dtype, data = hdf5.T_NATIVE_INT64, tensors.MustCopyFlatData[int64](t)
	case dtypes.Uint8:
		dtype, data = hdf5.T_NATIVE_UINT8, tensors.MustCopyFlatData[uint8](t)
	default:
		klog.Warningf("skipping %s/%s: dtype %s not supported", scope, name, t.DType())
		return false, nil
	}

	var space *hdf5.Dataspace
	var err error
	if t.Shape().IsScalar() {
		space, err = hdf5.CreateDataspace(hdf5.S_SCALAR)
	} else {
		dims := make([]uint, len(t.Shape().Dimensions))
		for ii, dim := range t.Shape().Dimensions {
			dims[ii] = uint(dim)
		}
		space, err = hdf5.CreateSimpleDataspace(dims, nil)
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to create dataspace")
	}
	defer func() { _ = space.Close() }()

	g, err := wf.group(scope)
	if err != nil {
		return false, err
	}
	var dset *hdf5.Dataset
	if g == nil {
		dset, err = wf.file.CreateDataset(name, dtype, space)
	} else {
		dset, err = g.CreateDataset(name, dtype, space)
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to create dataset %q", name)
	}
	defer func() { _ = dset.Close() }()
	if t.Size() == 0 {
		return true, nil
	}
	if err = writeData(dset, data); err != nil {
		return false, errors.Wrapf(err, "failed to write dataset %q", name)
	}
	return true, nil
}

// writeData passes a pointer to the slice, as gonum's hdf5 expects.
func writeData(dset *hdf5.Dataset, data any) error {
	switch d := data.(type) {
	case []float32:
		return dset.Write(&d)
	case []float64:
		return dset.Write(&d)
	case []int64:
		return dset.Write(&d)
	case []uint8:
		return dset.Write(&d)
	}
	return errors.Errorf("unsupported data type %T", data)
}

func (wf *weightsFile) close() error {
	var firstErr error
	for _, g := range wf.groups {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	wf.groups = nil
	if err := wf.file.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "failed to close weights file")
	}
	return firstErr
}
