// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefiles

import (
	"math"
	"math/rand"
	"slices"

	"github.com/pkg/errors"
)

// LabelEncoder maps class names to integer labels, in sorted order of the names.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// NewLabelEncoder creates a LabelEncoder for the unique values in labels.
func NewLabelEncoder(labels []string) *LabelEncoder {
	classes := slices.Clone(labels)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	return NewLabelEncoderFromClasses(classes)
}

// NewLabelEncoderFromClasses creates a LabelEncoder with the given classes, in the given order.
// The classifier's Predictor uses it to decode predictions with the class labels saved with the model.
func NewLabelEncoderFromClasses(classes []string) *LabelEncoder {
	e := &LabelEncoder{classes: slices.Clone(classes), index: make(map[string]int, len(classes))}
	for ii, c := range e.classes {
		e.index[c] = ii
	}
	return e
}

// Classes returns the class names; the label of Classes()[i] is i.
func (e *LabelEncoder) Classes() []string { return e.classes }

// NumClasses is the number of distinct classes.
func (e *LabelEncoder) NumClasses() int { return len(e.classes) }

// Encode returns the integer label of a class name.
func (e *LabelEncoder) Encode(label string) (int, error) {
	idx, found := e.index[label]
	if !found {
		return 0, errors.Errorf("unknown class %q, known classes are %q", label, e.classes)
	}
	return idx, nil
}

// EncodeAll encodes all labels.
func (e *LabelEncoder) EncodeAll(labels []string) ([]int, error) {
	encoded := make([]int, len(labels))
	for ii, label := range labels {
		var err error
		encoded[ii], err = e.Encode(label)
		if err != nil {
			return nil, err
		}
	}
	return encoded, nil
}

// Decode returns the class name of an integer label.
func (e *LabelEncoder) Decode(label int) (string, error) {
	if label < 0 || label >= len(e.classes) {
		return "", errors.Errorf("label %d out of range, there are %d classes", label, len(e.classes))
	}
	return e.classes[label], nil
}

// StratifiedSplit splits the indices of labels in a train and a test set, keeping the proportion of each
// class in both sets. Each class contributes round(testFraction * count) items to the test set, at least
// one if it has two or more items and testFraction > 0.
//
// The order within each class follows the order of labels, shuffled by rng if it is not nil. The returned
// sets are in increasing index order.
func StratifiedSplit(labels []int, testFraction float64, rng *rand.Rand) (train, test []int, err error) {
	if testFraction < 0 || testFraction >= 1 {
		return nil, nil, errors.Errorf("test fraction must be in [0, 1), got %g", testFraction)
	}
	byClass := make(map[int][]int)
	for idx, label := range labels {
		byClass[label] = append(byClass[label], idx)
	}
	classes := make([]int, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	slices.Sort(classes)

	for _, label := range classes {
		indices := byClass[label]
		if rng != nil {
			rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}
		numTest := int(math.Round(testFraction * float64(len(indices))))
		if numTest == 0 && testFraction > 0 && len(indices) >= 2 {
			numTest = 1
		}
		if numTest >= len(indices) {
			numTest = len(indices) - 1
		}
		test = append(test, indices[:numTest]...)
		train = append(train, indices[numTest:]...)
	}
	slices.Sort(train)
	slices.Sort(test)
	return train, test, nil
}
