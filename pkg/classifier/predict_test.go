// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmax(t *testing.T) {
	probs := softmax([]float32{1, 1})
	assert.InDeltaSlice(t, []float32{0.5, 0.5}, probs, 1e-6)

	// Large logits must not overflow.
	probs = softmax([]float32{1000, 0, -1000})
	assert.InDelta(t, 1.0, probs[0], 1e-6)
	assert.InDelta(t, 0.0, probs[2], 1e-6)

	var sum float32
	for _, p := range softmax([]float32{0.3, -2, 5, 1}) {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestSavePredictions(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "predictions.csv")
	require.NoError(t, savePredictions(filePath,
		[]string{"validation/0.jpg", "validation/1.jpg"},
		[]string{"cat", "dog"},
		[]float64{0.75, 0.5}))

	f, err := os.Open(filePath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f)
	require.NoError(t, df.Err)
	assert.Equal(t, []string{"image", "prediction", "probability"}, df.Names())
	assert.Equal(t, []string{"cat", "dog"}, df.Col("prediction").Records())
	assert.Equal(t, []float64{0.75, 0.5}, df.Col("probability").Float())
}

func TestPredictWithoutModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	err := Predict(CreateDefaultContext(cfg), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-train")
}
