// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefiles

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, filePath string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})
	f, err := os.Create(filePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestListFlat(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"dog.2.png", "cat.1.png", "cat.10.PNG", "notes.txt"} {
		if filepath.Ext(name) == ".txt" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
			continue
		}
		writePNG(t, filepath.Join(dir, name))
	}
	entries, err := List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"cat", "cat", "dog"}, Labels(entries))
	assert.Equal(t, filepath.Join(dir, "cat.1.png"), Paths(entries)[0])
}

func TestListSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "truck", "a.png"))
	writePNG(t, filepath.Join(dir, "airplane", "b.png"))
	writePNG(t, filepath.Join(dir, "airplane", "nested", "c.png"))
	entries, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"airplane", "airplane", "truck"}, Labels(entries))

	img, err := Load(entries[0].Path)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(4, 3), img.Bounds().Size())
}

func TestListUnlabeled(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "nolabel.png"))
	entries, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, "nolabel", entries[0].Label)

	_, err = LabelFromPath(dir, filepath.Join(dir, ".png"))
	require.Error(t, err)
}

func TestFilterInvalid(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "cat", "good.png"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cat", "bad.png"), []byte("not an image"), 0644))
	quarantine := filepath.Join(t.TempDir(), "invalid")

	moved, err := FilterInvalid(dir, quarantine, false)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.FileExists(t, filepath.Join(quarantine, "cat", "bad.png"))
	assert.NoFileExists(t, filepath.Join(dir, "cat", "bad.png"))

	_, err = Load(filepath.Join(quarantine, "cat", "bad.png"))
	require.Error(t, err)
}

func TestLabelEncoder(t *testing.T) {
	enc := NewLabelEncoder([]string{"dog", "cat", "dog", "bird"})
	assert.Equal(t, []string{"bird", "cat", "dog"}, enc.Classes())
	assert.Equal(t, 3, enc.NumClasses())
	encoded, err := enc.EncodeAll([]string{"dog", "bird", "cat"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, encoded)
	_, err = enc.Encode("horse")
	require.Error(t, err)

	name, err := enc.Decode(1)
	require.NoError(t, err)
	assert.Equal(t, "cat", name)
	_, err = enc.Decode(3)
	require.Error(t, err)

	restored := NewLabelEncoderFromClasses(enc.Classes())
	idx, err := restored.Encode("dog")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestStratifiedSplit(t *testing.T) {
	// 40 items of class 0, 20 items of class 1 and a single item of class 2.
	var labels []int
	for ii := range 60 {
		labels = append(labels, min(ii/40, 1))
	}
	labels = append(labels, 2)

	train, test, err := StratifiedSplit(labels, 0.25, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Len(t, test, 10+5)
	assert.Len(t, train, 30+15+1)

	counts := map[int]int{}
	for _, idx := range test {
		counts[labels[idx]]++
	}
	assert.Equal(t, map[int]int{0: 10, 1: 5}, counts)

	// Train and test are disjoint and cover everything.
	seen := make(map[int]bool)
	for _, idx := range append(train, test...) {
		require.False(t, seen[idx])
		seen[idx] = true
	}
	assert.Len(t, seen, len(labels))

	_, _, err = StratifiedSplit(labels, 1.0, nil)
	require.Error(t, err)
}
