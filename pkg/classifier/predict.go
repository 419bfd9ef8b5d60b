// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/imageclassifier/pkg/imagefiles"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Predictor holds the trained model compiled, and classifies individual images.
// It will use XLA with GPU if available or CPU by default. But the backend can be configured with GOMLX_BACKEND.
type Predictor struct {
	cfg *Config

	// ctx with the model's weights.
	ctx *context.Context

	// exec executes the model, returning the logits.
	exec *context.Exec

	labels        *imagefiles.LabelEncoder
	preprocessors []preprocess.Preprocessor
}

// loadModel loads the model saved by TrainModel into ctx, and returns its class labels.
// If immediate is true, all variables are loaded right away, instead of when the model is built.
func loadModel(ctx *context.Context, cfg *Config, immediate bool) ([]string, error) {
	modelPath := cfg.ModelPath()
	exists, err := fsutil.FileExists(modelPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("model path %q does not exist, train the model first with -train", modelPath)
	}
	fmt.Println("[INFO] Read model...")
	loader := checkpoints.Load(ctx).Dir(modelPath)
	if immediate {
		loader = loader.Immediate()
	}
	if _, err = loader.Done(); err != nil {
		return nil, errors.WithMessagef(err, "failed while loading model from %q", modelPath)
	}
	classLabels := context.GetParamOr(ctx, ParamClassLabels, []string(nil))
	if len(classLabels) == 0 {
		return nil, errors.Errorf("model in %q has no class labels (%q hyperparameter)", modelPath, ParamClassLabels)
	}
	return classLabels, nil
}

// NewPredictor loads the trained model from Config.ModelPath into ctx and compiles it.
//
// Images are resized to the model's input size, and the channel means are subtracted if the means file
// from the build phase is available.
func NewPredictor(ctx *context.Context, cfg *Config) (*Predictor, error) {
	classLabels, err := loadModel(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	cfg.FromContext(ctx)
	if cfg.NumClasses != len(classLabels) {
		return nil, errors.Errorf("model has %d classes but %d class labels", cfg.NumClasses, len(classLabels))
	}
	p := &Predictor{
		cfg:           cfg,
		ctx:           ctx.Reuse(), // Mark it to reuse variables: it will be an error to create a new variable.
		labels:        imagefiles.NewLabelEncoderFromClasses(classLabels),
		preprocessors: []preprocess.Preprocessor{preprocess.NewResize(cfg.InputWidth, cfg.InputHeight)},
	}
	if means, err := preprocess.LoadMeans(cfg.MeanPath()); err == nil {
		p.preprocessors = append(p.preprocessors, preprocess.NewMean(means))
	} else {
		klog.Warningf("predicting without subtracting the channel means: %v", err)
	}

	backend := backends.MustNew()
	p.exec, err = context.NewExec(backend, p.ctx, func(ctx *context.Context, images *graph.Node) *graph.Node {
		return AlexNetModelGraph(ctx, nil, []*graph.Node{images})[0]
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create model executor")
	}
	return p, nil
}

// ClassLabels of the model, in the order of its outputs.
func (p *Predictor) ClassLabels() []string { return p.labels.Classes() }

// Predict returns the index of the most probable class for img, and the probabilities of all classes.
func (p *Predictor) Predict(img image.Image) (classIdx int, probabilities []float32, err error) {
	input := preprocess.Apply(img, p.preprocessors...)
	size := input.Bounds().Size()
	channels := p.cfg.Channels
	inputT := tensors.FromFlatDataAndDimensions(preprocess.ToFloat32(input, channels), 1, size.Y, size.X, channels)
	var logitsT *tensors.Tensor
	var execErr error
	err = exceptions.TryCatch[error](func() { logitsT, execErr = p.exec.Exec1(inputT) })
	if err == nil {
		err = execErr
	}
	if err != nil {
		return 0, nil, errors.WithMessage(err, "failed to execute model")
	}
	probabilities = softmax(tensors.MustCopyFlatData[float32](logitsT))
	for ii, prob := range probabilities {
		if prob > probabilities[classIdx] {
			classIdx = ii
		}
	}
	return classIdx, probabilities, nil
}

func softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		maxLogit = max(maxLogit, l)
	}
	probabilities := make([]float32, len(logits))
	var sum float64
	for ii, l := range logits {
		e := math.Exp(float64(l - maxLogit))
		probabilities[ii] = float32(e)
		sum += e
	}
	for ii := range probabilities {
		probabilities[ii] = float32(float64(probabilities[ii]) / sum)
	}
	return probabilities
}

// Predict classifies the validation images "0.jpg" to "<n-1>.jpg" (with n = Config.NumPredictImages), skipping the
// ones that can't be read. It prints each prediction, and saves them all to Config.PredictionsPath.
func Predict(ctx *context.Context, cfg *Config) error {
	p, err := NewPredictor(ctx, cfg)
	if err != nil {
		return err
	}

	var paths, predictions []string
	var confidences []float64
	for ii := range cfg.NumPredictImages {
		imagePath := filepath.Join(cfg.ValidationPath(), fmt.Sprintf("%d.jpg", ii))
		img, err := imagefiles.Load(imagePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				klog.V(1).Infof("skipping %q: %v", imagePath, err)
			} else {
				klog.Warningf("skipping %q: %v", imagePath, err)
			}
			continue
		}
		classIdx, probabilities, err := p.Predict(img)
		if err != nil {
			return errors.WithMessagef(err, "while predicting %q", imagePath)
		}
		label, err := p.labels.Decode(classIdx)
		if err != nil {
			return errors.WithMessagef(err, "while predicting %q", imagePath)
		}
		fmt.Printf("[INFO] Read image %s...\n", imagePath)
		fmt.Printf("[INFO] Prediction: %s - Accuracy: %.2f%%\n", label, probabilities[classIdx]*100)
		paths = append(paths, imagePath)
		predictions = append(predictions, label)
		confidences = append(confidences, float64(probabilities[classIdx]))
	}
	if len(paths) == 0 {
		klog.Warningf("no images found in %q", cfg.ValidationPath())
		return nil
	}
	return savePredictions(cfg.PredictionsPath(), paths, predictions, confidences)
}

// savePredictions writes the predictions as a CSV file with the columns "image", "prediction" and "probability".
func savePredictions(filePath string, paths, predictions []string, probabilities []float64) error {
	df := dataframe.New(
		series.New(paths, series.String, "image"),
		series.New(predictions, series.String, "prediction"),
		series.New(probabilities, series.Float, "probability"),
	)
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to create predictions table")
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write predictions to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to write predictions to %q", filePath)
}
