// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/imageclassifier/pkg/container"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSolidPNG(t *testing.T, filePath string, c color.NRGBA, width, height int) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetNRGBA(x, y, c)
		}
	}
	f, err := os.Create(filePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// testConfig creates a data directory with 4 red "cat" and 4 blue "dog" images.
func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ImageWidth, cfg.ImageHeight = 8, 8
	cfg.InputWidth, cfg.InputHeight = 6, 6
	cfg.TestFraction = 0.5
	cfg.BufferSize = 3
	for ii := range 4 {
		writeSolidPNG(t, filepath.Join(cfg.TrainingPath(), fmt.Sprintf("cat.%d.png", ii)),
			color.NRGBA{R: 255, A: 255}, 12, 10)
		writeSolidPNG(t, filepath.Join(cfg.TrainingPath(), fmt.Sprintf("dog.%d.png", ii)),
			color.NRGBA{B: 255, A: 255}, 10, 12)
	}
	return cfg
}

func TestBuildDatasets(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, BuildDatasets(cfg))

	train, err := container.Open(cfg.TrainContainerPath())
	require.NoError(t, err)
	defer func() { require.NoError(t, train.Close()) }()
	assert.Equal(t, 4, train.Len())
	assert.Equal(t, container.Shape{Height: 8, Width: 8, Channels: 3}, train.Shape())
	assert.Equal(t, []string{"cat", "dog"}, train.ClassLabels())
	_, labels, err := train.ReadRange(0, train.Len())
	require.NoError(t, err)
	counts := make(map[int64]int)
	for _, label := range labels {
		counts[label]++
	}
	assert.Equal(t, map[int64]int{0: 2, 1: 2}, counts)

	test, err := container.Open(cfg.TestContainerPath())
	require.NoError(t, err)
	defer func() { require.NoError(t, test.Close()) }()
	assert.Equal(t, 4, test.Len())
	assert.Empty(t, test.ClassLabels())

	means, err := preprocess.LoadMeans(cfg.MeanPath())
	require.NoError(t, err)
	assert.InDelta(t, 127.5, means.R, 0.5)
	assert.InDelta(t, 0, means.G, 0.5)
	assert.InDelta(t, 127.5, means.B, 0.5)

	// Containers are not overwritten unless asked to.
	require.Error(t, BuildDatasets(cfg))
	cfg.Overwrite = true
	require.NoError(t, BuildDatasets(cfg))
}

func TestBuildDatasetsFilterInvalid(t *testing.T) {
	cfg := testConfig(t)
	badPath := filepath.Join(cfg.TrainingPath(), "cat.bad.png")
	require.NoError(t, os.WriteFile(badPath, []byte("not a png"), 0644))
	require.Error(t, BuildDatasets(cfg))

	cfg.FilterInvalid = true
	cfg.Overwrite = true
	require.NoError(t, BuildDatasets(cfg))
	assert.NoFileExists(t, badPath)
	assert.FileExists(t, filepath.Join(cfg.QuarantinePath(), "cat.bad.png"))
}

func TestBuildDatasetsMissingInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	require.Error(t, BuildDatasets(cfg))
}
