// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/stretchr/testify/assert"
)

func TestCategoricalAccuracyGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := graph.MustNewExec(backend, func(labels, logits *graph.Node) *graph.Node {
		return CategoricalAccuracyGraph(nil, []*graph.Node{labels}, []*graph.Node{logits})
	})
	labels := tensors.FromValue([][]float32{{1, 0}, {0, 1}, {0, 1}, {1, 0}})
	logits := tensors.FromValue([][]float32{{2, -1}, {0.5, 3}, {4, 1}, {-1, -2}})
	accuracy := exec.MustExec1(labels, logits)
	assert.InDelta(t, 0.75, scalarValue(accuracy), 1e-6)
	assert.Equal(t, "75.00%", accuracyPPrint(accuracy))
}

func TestMetricKey(t *testing.T) {
	assert.Equal(t, "acc", metricKey(NewMeanCategoricalAccuracy("Mean Accuracy", "#acc")))
	assert.Equal(t, "acc", metricKey(NewMovingAverageCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)))
	loss := metrics.NewMeanMetric("Loss", "#loss", metrics.LossMetricType, CategoricalAccuracyGraph, nil)
	assert.Equal(t, "loss", metricKey(loss))
	other := metrics.NewMeanMetric("Top Accuracy", "#Top", "top", CategoricalAccuracyGraph, nil)
	assert.Equal(t, "top", metricKey(other))
}
