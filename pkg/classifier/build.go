// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"fmt"
	"image"
	"math/rand"
	"os"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/imageclassifier/pkg/container"
	"github.com/gomlx/imageclassifier/pkg/imagefiles"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// BuildDatasets lists the labeled training images, shuffles them and splits them (stratified) into the
// train and test containers, resized to the stored image size. The class labels are stored in the train
// container only, and the channel means of the train split are saved to Config.MeanPath.
//
// An unreadable image aborts the build: use Config.FilterInvalid to move them out of the way first.
func BuildDatasets(cfg *Config) error {
	trainingPath := cfg.TrainingPath()
	exists, err := fsutil.FileExists(trainingPath)
	if err != nil {
		return errors.WithMessagef(err, "input directory %q", trainingPath)
	}
	if !exists {
		return errors.Errorf("input directory %q does not exist", trainingPath)
	}
	if err = os.MkdirAll(cfg.OutputPath(), 0755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %q", cfg.OutputPath())
	}

	if cfg.FilterInvalid {
		moved, err := imagefiles.FilterInvalid(trainingPath, cfg.QuarantinePath(), true)
		if err != nil {
			return err
		}
		if moved > 0 {
			fmt.Printf("[INFO] Moved %d unreadable images to %q\n", moved, cfg.QuarantinePath())
		}
	}

	entries, err := imagefiles.List(trainingPath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.Errorf("no images found in %q", trainingPath)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	fmt.Println("[INFO] Shuffle data...")
	imagefiles.Shuffle(entries, rng)

	encoder := imagefiles.NewLabelEncoder(imagefiles.Labels(entries))
	labels, err := encoder.EncodeAll(imagefiles.Labels(entries))
	if err != nil {
		return err
	}
	fmt.Printf("[INFO] Found %d classes: %q\n", encoder.NumClasses(), encoder.Classes())
	if encoder.NumClasses() != cfg.NumClasses {
		klog.Warningf("found %d classes in %q, but the model is configured with %d classes",
			encoder.NumClasses(), trainingPath, cfg.NumClasses)
	}

	trainIdx, testIdx, err := imagefiles.StratifiedSplit(labels, cfg.TestFraction, rng)
	if err != nil {
		return err
	}

	var means preprocess.MeanAccumulator
	splits := []struct {
		name, path  string
		indices     []int
		classLabels []string
		means       *preprocess.MeanAccumulator
	}{
		{cfg.TrainContainer, cfg.TrainContainerPath(), trainIdx, encoder.Classes(), &means},
		{cfg.TestContainer, cfg.TestContainerPath(), testIdx, nil, nil},
	}
	for _, split := range splits {
		fmt.Printf("[INFO] Building dataset %q...\n", split.name)
		splitEntries := make([]imagefiles.Entry, len(split.indices))
		splitLabels := make([]int, len(split.indices))
		for ii, idx := range split.indices {
			splitEntries[ii] = entries[idx]
			splitLabels[ii] = labels[idx]
		}
		if err = writeContainer(cfg, split.path, splitEntries, splitLabels, split.classLabels, split.means); err != nil {
			return err
		}
	}

	fmt.Println("[INFO] Serializing means...")
	return means.Means().Save(cfg.MeanPath())
}

// writeContainer writes the images of entries with their labels to a new container at path. If classLabels
// is not nil they are stored as its class labels table, and if means is not nil every image is accumulated in it.
func writeContainer(cfg *Config, path string, entries []imagefiles.Entry, labels []int, classLabels []string,
	means *preprocess.MeanAccumulator) error {
	if len(entries) == 0 {
		return errors.Errorf("no images for container %q, not enough training images for the split", path)
	}
	shape := container.Shape{Height: cfg.ImageHeight, Width: cfg.ImageWidth, Channels: cfg.Channels}
	builder := container.Build(path, len(entries), shape).BufferSize(cfg.BufferSize).Overwrite(cfg.Overwrite)
	if classLabels != nil {
		builder = builder.WithClassLabels()
	}
	w, err := builder.Done()
	if err != nil {
		return err
	}

	err = appendImages(w, preprocess.NewAspectAware(cfg.ImageWidth, cfg.ImageHeight), entries, labels, means)
	if err == nil && classLabels != nil {
		err = w.AddClassNames(classLabels)
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	return err
}

func appendImages(w *container.Writer, aspect preprocess.Preprocessor, entries []imagefiles.Entry, labels []int,
	means *preprocess.MeanAccumulator) error {
	pBar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("    Progress"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	defer func() {
		_ = pBar.Close()
		fmt.Println()
	}()
	for ii, entry := range entries {
		img, err := imagefiles.Load(entry.Path)
		if err != nil {
			return errors.WithMessage(err, "use -filter_invalid to move unreadable images out of the training directory")
		}
		img = aspect.Preprocess(img)
		if means != nil {
			means.Add(img)
		}
		if err = w.Append([]image.Image{img}, []int{labels[ii]}); err != nil {
			return errors.WithMessagef(err, "while writing %q", entry.Path)
		}
		_ = pBar.Add(1)
	}
	return nil
}
