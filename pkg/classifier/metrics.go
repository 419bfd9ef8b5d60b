// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gopjrt/dtypes"
)

// CategoricalAccuracyGraph returns the fraction of examples where argmax(logits) matches argmax(labels),
// with labels one-hot encoded. It works for both probabilities or logits.
func CategoricalAccuracyGraph(_ *context.Context, labels, logits []*Node) *Node {
	logits0, labels0 := logits[0], labels[0]
	if !logits0.Shape().Equal(labels0.Shape()) {
		exceptions.Panicf("logits (%s) and one-hot labels (%s) must have the same shape", logits0.Shape(), labels0.Shape())
	}
	modelChoices := ArgMax(logits0, -1, dtypes.Int32)
	trueChoices := ArgMax(labels0, -1, dtypes.Int32)
	correctExamples := ConvertDType(Equal(modelChoices, trueChoices), logits0.DType())
	return ReduceAllMean(correctExamples)
}

func accuracyPPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f%%", scalarValue(value)*100.0)
}

// scalarValue converts a float metric tensor to float64.
func scalarValue(value *tensors.Tensor) float64 {
	switch value.DType() {
	case dtypes.Float64:
		return tensors.ToScalar[float64](value)
	case dtypes.Float32:
		return float64(tensors.ToScalar[float32](value))
	default:
		exceptions.Panicf("unsupported metric dtype %s", value.DType())
		panic(nil)
	}
}

// NewMeanCategoricalAccuracy returns a categorical accuracy metric, averaged over the whole dataset.
func NewMeanCategoricalAccuracy(name, shortName string) *metrics.MeanMetric {
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, CategoricalAccuracyGraph, accuracyPPrint)
}

// NewMovingAverageCategoricalAccuracy returns a categorical accuracy metric, as an exponential moving average
// over the batches. A typical value of newExampleWeight is 0.01.
func NewMovingAverageCategoricalAccuracy(name, shortName string, newExampleWeight float64) metrics.Interface {
	return metrics.NewExponentialMovingAverageMetric(name, shortName, metrics.AccuracyMetricType,
		CategoricalAccuracyGraph, accuracyPPrint, newExampleWeight)
}
