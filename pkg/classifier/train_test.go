// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/imageclassifier/pkg/generator"
	"github.com/gomlx/imageclassifier/pkg/imagefiles"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"
)

func TestIsCheckpointEpoch(t *testing.T) {
	var saved []int
	// Resuming after 3 epochs, training 8 more.
	for epoch := 4; epoch <= 11; epoch++ {
		if isCheckpointEpoch(epoch, 5) {
			saved = append(saved, epoch)
		}
	}
	assert.Equal(t, []int{5, 10}, saved)
	assert.False(t, isCheckpointEpoch(5, 0))
	assert.False(t, isCheckpointEpoch(0, 5))
}

// TestTrainerModelScope builds the model through the trainer, as TrainModel does, and checks the saved
// model can be used by the Predictor and exported by Convert.
func TestTrainerModelScope(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig(t)
	cfg.ImageWidth, cfg.ImageHeight = 100, 100
	cfg.InputWidth, cfg.InputHeight = 100, 100
	cfg.BatchSize = 2
	require.NoError(t, BuildDatasets(cfg))

	ctx := CreateDefaultContext(cfg)
	gen, err := generator.Open(cfg.TestContainerPath(), cfg.BatchSize, cfg.NumClasses,
		preprocess.NewResize(cfg.InputWidth, cfg.InputHeight))
	require.NoError(t, err)
	defer func() { require.NoError(t, gen.Close()) }()
	trainer := train.NewTrainer(backend, ctx, AlexNetModelGraph,
		losses.CategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{},
		[]metrics.Interface{NewMeanCategoricalAccuracy("Mean Accuracy", "#acc")})
	_, err = trainer.Eval(gen)
	require.NoError(t, err)

	var numModelVars int
	for v := range ctx.IterVariables() {
		assert.False(t, strings.HasPrefix(v.Scope(), "/000_"), "variable %q outside of the model scope", v.ScopeAndName())
		if strings.HasPrefix(v.Scope(), ModelScope+context.ScopeSeparator) {
			numModelVars++
		}
	}
	require.Greater(t, numModelVars, 10)

	ctx.SetParam(ParamClassLabels, []string{"cat", "dog"})
	require.NoError(t, saveModel(ctx, cfg.ModelPath()))

	p, err := NewPredictor(CreateDefaultContext(cfg), cfg)
	require.NoError(t, err)
	img, err := imagefiles.Load(filepath.Join(cfg.TrainingPath(), "dog.0.png"))
	require.NoError(t, err)
	classIdx, probabilities, err := p.Predict(img)
	require.NoError(t, err)
	assert.Len(t, probabilities, 2)
	assert.Contains(t, []int{0, 1}, classIdx)
	assert.Equal(t, []string{"cat", "dog"}, p.ClassLabels())

	require.NoError(t, Convert(CreateDefaultContext(cfg), cfg))
	f, err := hdf5.OpenFile(cfg.WeightsPath(), hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	assert.True(t, f.LinkExists(modelScopeName))
}
