// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var metricTypes = map[string]string{
	"train_loss": "loss", "val_loss": "loss", "train_acc": "accuracy", "val_acc": "accuracy",
}

func epochValues(epoch int) map[string]float64 {
	e := float64(epoch)
	return map[string]float64{"train_loss": 1 / e, "val_loss": 1.2 / e, "train_acc": 0.5 + e/100, "val_acc": 0.4 + e/100}
}

func TestMonitor(t *testing.T) {
	dir := t.TempDir()
	figurePath := filepath.Join(dir, "history.png")
	jsonPath := filepath.Join(dir, "history.json")

	m, err := New(figurePath, jsonPath, 0)
	require.NoError(t, err)
	for epoch := 1; epoch <= 4; epoch++ {
		require.NoError(t, m.Add(epoch, epochValues(epoch), metricTypes))
	}
	assert.FileExists(t, figurePath)
	assert.Equal(t, []int{1, 2, 3, 4}, m.Points().Epochs())
	assert.Equal(t, []string{"train_acc", "val_acc", "train_loss", "val_loss"}, m.Points().MetricsNames())
	assert.Len(t, m.Points().Series("val_loss"), 4)
	assert.Contains(t, m.Points().Table(), "train_loss")

	loaded, err := LoadPoints(jsonPath)
	require.NoError(t, err)
	assert.Len(t, loaded, 16)

	// Resuming at epoch 3 drops epochs 3 and 4.
	resumed, err := New(figurePath, jsonPath, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, resumed.Points().Epochs())
	require.NoError(t, resumed.Add(3, epochValues(3), metricTypes))
	loaded, err = LoadPoints(jsonPath)
	require.NoError(t, err)
	assert.Len(t, loaded, 12)

	// Resuming without history starts empty.
	fresh, err := New("", filepath.Join(dir, "missing.json"), 5)
	require.NoError(t, err)
	assert.Empty(t, fresh.Points())
}
