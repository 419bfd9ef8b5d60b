// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
)

func TestConfigPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/cats"
	assert.Equal(t, filepath.Join("/tmp/cats", "training"), cfg.TrainingPath())
	assert.Equal(t, filepath.Join("/tmp/cats", "validation"), cfg.ValidationPath())
	assert.Equal(t, filepath.Join("/tmp/cats", "invalid"), cfg.QuarantinePath())
	assert.Equal(t, filepath.Join("/tmp/cats", "output", "Train.hdf5"), cfg.TrainContainerPath())
	assert.Equal(t, filepath.Join("/tmp/cats", "output", "Test.hdf5"), cfg.TestContainerPath())
	assert.Equal(t, filepath.Join("/tmp/cats", "output", "CatsVsDogs_mean.json"), cfg.MeanPath())
	assert.Equal(t, filepath.Join("/tmp/cats", "output", "Model"), cfg.ModelPath())
	assert.Equal(t, filepath.Join("/tmp/cats", "output", "Model_weights.h5"), cfg.WeightsPath())
	assert.Equal(t, filepath.Join("/tmp/cats", "output", "Label.txt"), cfg.LabelsPath())
}

func TestConfigFromContext(t *testing.T) {
	cfg := DefaultConfig()
	ctx := CreateDefaultContext(cfg)
	assert.Equal(t, cfg.Seed, context.GetParamOr(ctx, context.ParamInitialSeed, int64(0)))
	assert.Equal(t, "adam", context.GetParamOr(ctx, optimizers.ParamOptimizer, ""))

	ctx.SetParam(ParamBatchSize, 8)
	ctx.SetParam(ParamNumEpochs, 3)
	ctx.SetParam(optimizers.ParamLearningRate, 0.01)
	cfg.FromContext(ctx)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, 2, cfg.NumClasses)
	assert.InDelta(t, 0.01, cfg.LearningRate, 1e-9)
}
