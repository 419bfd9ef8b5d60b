// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagefiles discovers labeled image files on disk, encodes their labels and splits them
// into training and test sets.
//
// Two layouts are supported: one subdirectory per class (`training/cat/001.jpg`), or a flat
// directory where the label is the prefix of the file name up to the first "." (`training/cat.1.jpg`).
package imagefiles

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Extensions of the image files recognized, in lower case.
var Extensions = []string{".jpg", ".jpeg", ".png"}

// IsImageFile returns whether the name has one of the recognized Extensions.
func IsImageFile(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// Entry is an image file and its label.
type Entry struct {
	Path  string
	Label string
}

// LabelFromPath returns the label of an image under baseDir: the name of its first subdirectory,
// or, for files directly in baseDir, the file name up to its first ".".
func LabelFromPath(baseDir, filePath string) (string, error) {
	rel, err := filepath.Rel(baseDir, filePath)
	if err != nil {
		return "", errors.Wrapf(err, "file %q not under %q", filePath, baseDir)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 1 {
		return parts[0], nil
	}
	name := parts[0]
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx], nil
	}
	return "", errors.Errorf("cannot infer a label for %q: no class subdirectory and no \"<label>.\" prefix", filePath)
}

// List walks baseDir recursively and returns all image files with their labels, sorted by path.
func List(baseDir string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(baseDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImageFile(d.Name()) {
			return nil
		}
		label, err := LabelFromPath(baseDir, filePath)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: filePath, Label: label})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list images in %q", baseDir)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return entries, nil
}

// Load decodes the image at filePath, applying the EXIF orientation if present.
func Load(filePath string) (image.Image, error) {
	img, err := imaging.Open(filePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %q", filePath)
	}
	return img, nil
}

// Shuffle entries in place.
func Shuffle(entries []Entry, rng *rand.Rand) {
	rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
}

// Paths returns the paths of the entries.
func Paths(entries []Entry) []string {
	paths := make([]string, len(entries))
	for ii, e := range entries {
		paths[ii] = e.Path
	}
	return paths
}

// Labels returns the labels of the entries.
func Labels(entries []Entry) []string {
	labels := make([]string, len(entries))
	for ii, e := range entries {
		labels[ii] = e.Label
	}
	return labels
}

// FilterInvalid tries to decode every image under baseDir, and moves the ones that can't be read to
// quarantineDir, keeping their relative path. It returns the number of files moved.
//
// If showProgress is true a progress bar is displayed.
func FilterInvalid(baseDir, quarantineDir string, showProgress bool) (moved int, err error) {
	entries, err := List(baseDir)
	if err != nil {
		return 0, err
	}
	var pBar *progressbar.ProgressBar
	if showProgress {
		pBar = progressbar.NewOptions(len(entries),
			progressbar.OptionSetDescription("Checking images"),
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
	}
	for _, entry := range entries {
		if pBar != nil {
			_ = pBar.Add(1)
		}
		if _, loadErr := Load(entry.Path); loadErr == nil {
			continue
		}
		rel, err := filepath.Rel(baseDir, entry.Path)
		if err != nil {
			return moved, errors.Wrapf(err, "file %q not under %q", entry.Path, baseDir)
		}
		target := filepath.Join(quarantineDir, rel)
		if err = os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return moved, errors.Wrapf(err, "failed to create quarantine directory for %q", target)
		}
		klog.Warningf("failed to read %q, moving it to %q", entry.Path, target)
		if err = os.Rename(entry.Path, target); err != nil {
			return moved, errors.Wrapf(err, "failed to move %q to %q", entry.Path, target)
		}
		moved++
	}
	return moved, nil
}
