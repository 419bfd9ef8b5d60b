// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imageclassifier builds the image datasets, trains an AlexNet classifier on them, predicts the
// validation images and converts the trained model. The phases run in that order, for each flag given:
//
//	imageclassifier -write                 # Build the train/test HDF5 containers from data/training.
//	imageclassifier -train                 # Train a new model for -epochs epochs.
//	imageclassifier -train -checkpoint=data/output/checkpoints -start=5
//	                                       # Resume training from the latest checkpoint.
//	imageclassifier -predict               # Classify data/validation/0.jpg ... 99.jpg.
//	imageclassifier -convert               # Export the weights to HDF5 and the class labels to Label.txt.
//
// Hyperparameters can be changed with -set, e.g. -set="learning_rate=1e-4;alexnet_dense_dropout_rate=0.3".
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/imageclassifier/pkg/classifier"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagWrite   = flag.Bool("write", false, "Build the train and test dataset containers from the training images.")
	flagTrain   = flag.Bool("train", false, "Train the model on the dataset containers.")
	flagPredict = flag.Bool("predict", false, "Classify the validation images with the trained model.")
	flagConvert = flag.Bool("convert", false, "Export the trained model weights and class labels.")

	flagCheckpoint = flag.String("checkpoint", "", "Checkpoint directory to resume training from. "+
		"If empty, a new model is trained and checkpoints are saved to <output>/checkpoints.")
	flagStart = flag.Int("start", 0, "Number of epochs already trained when resuming from -checkpoint.")

	flagDataDir       = flag.String("data", "data", "Directory with the training and validation images.")
	flagOutputDir     = flag.String("output", "output", "Directory, relative to -data, for all generated files.")
	flagEpochs        = flag.Int("epochs", 0, "Number of epochs to train. If 0 uses the \"num_epochs\" hyperparameter.")
	flagBatchSize     = flag.Int("batch", 0, "Batch size. If 0 uses the \"batch_size\" hyperparameter.")
	flagFilterInvalid = flag.Bool("filter_invalid", false, "With -write, move unreadable images out of the training directory first.")
	flagOverwrite     = flag.Bool("overwrite", false, "With -write, overwrite existing dataset containers.")
)

func main() {
	cfg := classifier.DefaultConfig()
	ctx := classifier.CreateDefaultContext(cfg)
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	if !*flagWrite && !*flagTrain && !*flagPredict && !*flagConvert {
		fmt.Fprintln(os.Stderr, "Nothing to do: select at least one of -write, -train, -predict or -convert.")
		flag.Usage()
		os.Exit(1)
	}

	cfg.DataDir = *flagDataDir
	cfg.OutputDir = *flagOutputDir
	cfg.FilterInvalid = *flagFilterInvalid
	cfg.Overwrite = *flagOverwrite
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if *flagEpochs > 0 {
		ctx.SetParam(classifier.ParamNumEpochs, *flagEpochs)
		paramsSet = append(paramsSet, classifier.ParamNumEpochs)
	}
	if *flagBatchSize > 0 {
		ctx.SetParam(classifier.ParamBatchSize, *flagBatchSize)
		paramsSet = append(paramsSet, classifier.ParamBatchSize)
	}
	cfg.ParamsSet = paramsSet
	cfg.FromContext(ctx)

	if *flagWrite {
		exitOnError("building datasets", classifier.BuildDatasets(cfg))
	}
	if *flagTrain {
		exitOnError("training", classifier.TrainModel(ctx, cfg, *flagCheckpoint, *flagStart))
	}
	if *flagPredict {
		exitOnError("predicting", classifier.Predict(newModelContext(cfg), cfg))
	}
	if *flagConvert {
		exitOnError("converting model", classifier.Convert(newModelContext(cfg), cfg))
	}
}

// newModelContext returns a fresh context to load the trained model into.
func newModelContext(cfg *classifier.Config) *context.Context {
	return classifier.CreateDefaultContext(cfg)
}

func exitOnError(phase string, err error) {
	if err == nil {
		return
	}
	klog.Errorf("Failed %s: %+v", phase, err)
	os.Exit(1)
}
