// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

const (
	// ParamBatchSize is the context hyperparameter with the batch size used in training.
	ParamBatchSize = "batch_size"

	// ParamNumEpochs is the number of epochs trained in each call to TrainModel.
	ParamNumEpochs = "num_epochs"

	// ParamNumClasses is the number of classes predicted by the model.
	ParamNumClasses = "num_classes"

	// ParamClassLabels holds the names of the classes, in the order of the model's logits.
	// It is saved with the model checkpoint.
	ParamClassLabels = "class_labels"

	// ParamEpoch is the last epoch completed, saved with the checkpoints.
	ParamEpoch = "epoch"

	// ParamConvDropoutRate is the dropout rate after each convolution block of AlexNet.
	ParamConvDropoutRate = "alexnet_conv_dropout_rate"

	// ParamDenseDropoutRate is the dropout rate after each hidden dense layer of AlexNet.
	ParamDenseDropoutRate = "alexnet_dense_dropout_rate"
)

// CreateDefaultContext sets the context with default hyperparameters taken from cfg, to use with
// TrainModel, Predict and Convert.
func CreateDefaultContext(cfg *Config) *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		context.ParamInitialSeed: cfg.Seed,

		ParamBatchSize:   cfg.BatchSize,
		ParamNumEpochs:   cfg.Epochs,
		ParamNumClasses:  cfg.NumClasses,
		ParamClassLabels: []string{},

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: cfg.LearningRate,
		regularizers.ParamL2:         2e-4,

		ParamConvDropoutRate:  0.25,
		ParamDenseDropoutRate: 0.5,
	})
	return ctx
}

// FromContext updates the training settings of the configuration with the hyperparameters in ctx,
// after they have been changed from the command line or loaded from a checkpoint.
func (c *Config) FromContext(ctx *context.Context) {
	c.BatchSize = context.GetParamOr(ctx, ParamBatchSize, c.BatchSize)
	c.Epochs = context.GetParamOr(ctx, ParamNumEpochs, c.Epochs)
	c.NumClasses = context.GetParamOr(ctx, ParamNumClasses, c.NumClasses)
	c.LearningRate = context.GetParamOr(ctx, optimizers.ParamLearningRate, c.LearningRate)
}
