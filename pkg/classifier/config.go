// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier implements the phases of the image classifier application: building the
// datasets, training the AlexNet model, predicting and converting the trained model.
//
// Each phase is a function taking the Config (paths, image sizes and training settings), and the
// ones using the model also take a GoMLX context.Context with its hyperparameters.
package classifier

import (
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
)

// Config holds the settings of the application. All paths are relative to DataDir, except DataDir itself.
type Config struct {
	// DataDir holds the training and validation images, and the output directory.
	DataDir string

	// TrainingDir and ValidationDir are sub-directories of DataDir with the images.
	// Training images are labeled by their sub-directory (or file name prefix), validation
	// images are named "<n>.jpg".
	TrainingDir, ValidationDir string

	// OutputDir, under DataDir, where the containers, means, model and history are saved.
	OutputDir string

	// Channels of the images, and size they are stored in the containers.
	Channels                int
	ImageWidth, ImageHeight int

	// InputWidth and InputHeight of the model.
	InputWidth, InputHeight int

	NumClasses   int
	BatchSize    int
	Epochs       int
	LearningRate float64

	// ModelName is the name of the model artifact directory in the output directory.
	ModelName string

	// TrainContainer and TestContainer are the names (without extension) of the dataset containers.
	TrainContainer, TestContainer string

	// MeanFile is the name of the JSON file with the channel means of the training images.
	MeanFile string

	// TestFraction of the training images held out for the test container.
	TestFraction float64

	// BufferSize of the container writers, in images.
	BufferSize int

	// CheckpointEvery number of epochs a checkpoint is saved during training.
	CheckpointEvery int

	// NumPredictImages is the number of validation images ("0.jpg", "1.jpg", ...) used by Predict.
	NumPredictImages int

	// Seed for the random shuffling, split, patch extraction and augmentation.
	Seed int64

	// FilterInvalid moves unreadable training images to a quarantine directory before building the datasets.
	FilterInvalid bool

	// Overwrite existing containers when building the datasets.
	Overwrite bool

	// ParamsSet lists the context hyperparameters set from the command line: they are not overwritten
	// by the values saved in a checkpoint.
	ParamsSet []string
}

// DefaultConfig returns the default configuration, classifying cats vs dogs.
func DefaultConfig() *Config {
	return &Config{
		DataDir:          "data",
		TrainingDir:      "training",
		ValidationDir:    "validation",
		OutputDir:        "output",
		Channels:         3,
		ImageWidth:       256,
		ImageHeight:      256,
		InputWidth:       100,
		InputHeight:      100,
		NumClasses:       2,
		BatchSize:        32,
		Epochs:           1,
		LearningRate:     1e-6,
		ModelName:        "Model",
		TrainContainer:   "Train",
		TestContainer:    "Test",
		MeanFile:         "CatsVsDogs_mean.json",
		TestFraction:     0.25,
		BufferSize:       1000,
		CheckpointEvery:  5,
		NumPredictImages: 100,
		Seed:             42,
	}
}

// dataPath joins elements under the data directory, expanding "~".
func (c *Config) dataPath(elems ...string) string {
	return filepath.Join(append([]string{fsutil.MustReplaceTildeInDir(c.DataDir)}, elems...)...)
}

// TrainingPath is the directory with the labeled training images.
func (c *Config) TrainingPath() string { return c.dataPath(c.TrainingDir) }

// ValidationPath is the directory with the images used by Predict.
func (c *Config) ValidationPath() string { return c.dataPath(c.ValidationDir) }

// OutputPath is the directory with all generated files.
func (c *Config) OutputPath() string { return c.dataPath(c.OutputDir) }

// QuarantinePath is where FilterInvalid moves unreadable images to.
func (c *Config) QuarantinePath() string { return c.dataPath("invalid") }

// TrainContainerPath is the path to the training split container.
func (c *Config) TrainContainerPath() string {
	return filepath.Join(c.OutputPath(), c.TrainContainer+".hdf5")
}

// TestContainerPath is the path to the test split container.
func (c *Config) TestContainerPath() string {
	return filepath.Join(c.OutputPath(), c.TestContainer+".hdf5")
}

// MeanPath is the path to the JSON file with the channel means.
func (c *Config) MeanPath() string { return filepath.Join(c.OutputPath(), c.MeanFile) }

// ModelPath is the checkpoint directory of the final trained model.
func (c *Config) ModelPath() string { return filepath.Join(c.OutputPath(), c.ModelName) }

// CheckpointsPath is the directory of the checkpoints saved during training.
func (c *Config) CheckpointsPath() string { return filepath.Join(c.OutputPath(), "checkpoints") }

// WeightsPath is the HDF5 file written by Convert.
func (c *Config) WeightsPath() string {
	return filepath.Join(c.OutputPath(), c.ModelName+"_weights.h5")
}

// LabelsPath is the text file with one class label per line, written by Convert.
func (c *Config) LabelsPath() string { return filepath.Join(c.OutputPath(), "Label.txt") }

// PredictionsPath is the CSV file written by Predict.
func (c *Config) PredictionsPath() string { return filepath.Join(c.OutputPath(), "predictions.csv") }

// HistoryPath is the JSON-lines file with the training metrics per epoch.
func (c *Config) HistoryPath() string { return filepath.Join(c.OutputPath(), "history.json") }

// FigurePath is the PNG plot of the training metrics per epoch.
func (c *Config) FigurePath() string { return filepath.Join(c.OutputPath(), "history.png") }
