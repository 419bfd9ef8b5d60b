// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// AlexNetModelGraph implements train.ModelFn and returns the logits, shaped `[batchSize, numClasses]`, given
// the batch of images shaped `[batchSize, height, width, channels]`.
//
// It's an AlexNet-style CNN: five convolutions in three blocks, each followed by batch normalization,
// max-pooling and dropout, and two hidden dense layers of 4096 units. The number of classes and dropout
// rates are taken from the context hyperparameters (ParamNumClasses, ParamConvDropoutRate and
// ParamDenseDropoutRate), and the L2 regularization from regularizers.ParamL2.
//
// All variables are created under ModelScope.
func AlexNetModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	ctx = ctx.In(modelScopeName)
	batchedImages := inputs[0]
	if batchedImages.Rank() != 4 {
		exceptions.Panicf("AlexNet expects images shaped [batch, height, width, channels], got %s", batchedImages.Shape())
	}
	g := batchedImages.Graph()
	dtype := batchedImages.DType()
	batchSize := batchedImages.Shape().Dimensions[0]
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 2)
	convDropout := graph.Scalar(g, dtype, context.GetParamOr(ctx, ParamConvDropoutRate, 0.25))
	denseDropout := graph.Scalar(g, dtype, context.GetParamOr(ctx, ParamDenseDropoutRate, 0.5))

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}
	convBlock := func(x *graph.Node, channels, kernelSize, strides int) *graph.Node {
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(kernelSize).Strides(strides).PadSame().Done()
		x = activations.Relu(x)
		return batchnorm.New(nextCtx("batchnorm"), x, -1).Done()
	}
	poolAndDropout := func(x *graph.Node) *graph.Node {
		x = graph.MaxPool(x).Window(3).Strides(2).Done()
		return layers.DropoutNormalize(nextCtx("dropout"), x, convDropout, true)
	}

	logits := batchedImages
	logits = convBlock(logits, 96, 11, 4)
	logits = poolAndDropout(logits)

	logits = convBlock(logits, 256, 5, 1)
	logits = poolAndDropout(logits)

	logits = convBlock(logits, 384, 3, 1)
	logits = convBlock(logits, 384, 3, 1)
	logits = convBlock(logits, 256, 3, 1)
	logits = poolAndDropout(logits)

	logits = graph.Reshape(logits, batchSize, -1)
	for range 2 {
		logits = layers.Dense(nextCtx("dense"), logits, true, 4096)
		logits = activations.Relu(logits)
		logits = batchnorm.New(nextCtx("batchnorm"), logits, -1).Done()
		logits = layers.DropoutNormalize(nextCtx("dropout"), logits, denseDropout, true)
	}
	logits = layers.Dense(nextCtx("dense"), logits, true, numClasses)
	logits.AssertDims(batchSize, numClasses)
	return []*graph.Node{logits}
}
