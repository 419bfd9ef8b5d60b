// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/imageclassifier/pkg/augment"
	"github.com/gomlx/imageclassifier/pkg/generator"
	"github.com/gomlx/imageclassifier/pkg/monitor"
	"github.com/gomlx/imageclassifier/pkg/preprocess"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainModel trains the AlexNet model on the train container for Config.Epochs epochs, evaluating on the
// train and test containers after each epoch. The metrics are recorded by a monitor.Monitor, and a checkpoint
// is saved every Config.CheckpointEvery epochs. At the end the model is saved to Config.ModelPath, with the
// class labels as the ParamClassLabels hyperparameter.
//
// If checkpointDir is given, training resumes from its latest checkpoint (it must exist), and new checkpoints are
// saved there. The learning rate (and any parameter in Config.ParamsSet) is taken from ctx, not from the checkpoint.
// startEpoch is the number of epochs already trained, used to number the epochs and to trim the history.
func TrainModel(ctx *context.Context, cfg *Config, checkpointDir string, startEpoch int) error {
	var trainErr error
	err := exceptions.TryCatch[error](func() { trainErr = trainModel(ctx, cfg, checkpointDir, startEpoch) })
	if err != nil {
		return errors.WithMessage(err, "training failed")
	}
	return trainErr
}

func trainModel(ctx *context.Context, cfg *Config, checkpointDir string, startEpoch int) error {
	if startEpoch < 0 {
		return errors.Errorf("invalid start epoch %d", startEpoch)
	}
	if startEpoch > 0 && checkpointDir == "" {
		klog.Warningf("start epoch %d given without a checkpoint, training a new model", startEpoch)
	}
	means, err := preprocess.LoadMeans(cfg.MeanPath())
	if err != nil {
		return errors.WithMessage(err, "build the datasets first with -write")
	}

	rng := rand.New(rand.NewSource(cfg.Seed + int64(startEpoch)))
	trainGen, trainEvalGen, testGen, err := openGenerators(cfg, means, rng)
	if err != nil {
		return err
	}
	defer func() {
		for _, g := range []*generator.Generator{trainGen, trainEvalGen, testGen} {
			_ = g.Close()
		}
	}()
	classLabels := trainGen.ClassLabels()
	fmt.Printf("[INFO] Found %d classes: %q\n", len(classLabels), classLabels)
	ctx.SetParam(ParamClassLabels, classLabels)

	checkpoint, err := trainingCheckpoint(ctx, cfg, checkpointDir)
	if err != nil {
		return err
	}
	fmt.Printf("[INFO] Learning rate: %g\n", context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0))

	// Metrics we are interested.
	meanAccuracyMetric := NewMeanCategoricalAccuracy("Mean Accuracy", "#acc")
	movingAccuracyMetric := NewMovingAverageCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)

	backend := backends.MustNew()
	trainer := train.NewTrainer(backend, ctx, AlexNetModelGraph,
		losses.CategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracyMetric}, // trainMetrics
		[]metrics.Interface{meanAccuracyMetric})   // evalMetrics
	if optimizers.GetGlobalStep(ctx) > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)

	mon, err := monitor.New(cfg.FigurePath(), cfg.HistoryPath(), startEpoch)
	if err != nil {
		return err
	}

	fmt.Println("[INFO] Start training...")
	lastEpoch := startEpoch + cfg.Epochs
	for ii := range cfg.Epochs {
		epoch := startEpoch + ii + 1
		fmt.Printf("Epoch %d/%d\n", epoch, lastEpoch)
		if _, err = loop.RunEpochs(trainGen, 1); err != nil {
			return errors.WithMessagef(err, "epoch %d", epoch)
		}
		values := make(map[string]float64)
		types := make(map[string]string)
		if err = evalMetrics(trainer, "train", trainEvalGen, values, types); err == nil {
			err = evalMetrics(trainer, "val", testGen, values, types)
		}
		if err != nil {
			return errors.WithMessagef(err, "epoch %d", epoch)
		}
		if err = mon.Add(epoch, values, types); err != nil {
			return err
		}
		if isCheckpointEpoch(epoch, cfg.CheckpointEvery) {
			ctx.SetParam(ParamEpoch, epoch)
			if err = checkpoint.Save(); err != nil {
				return err
			}
			klog.V(1).Infof("epoch %d checkpoint saved to %s", epoch, checkpoint.Dir())
		}
	}
	fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
		loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())

	trainEvalGen.Reset()
	updated, err := batchnorm.UpdateAverages(trainer, trainEvalGen)
	if err != nil {
		return err
	}
	if updated {
		fmt.Println("\tUpdated batch normalization mean/variances averages.")
	}
	fmt.Println(mon.Points().Table())

	fmt.Println("[INFO] Save model...")
	ctx.SetParam(ParamEpoch, lastEpoch)
	return saveModel(ctx, cfg.ModelPath())
}

// openGenerators opens the containers for training (augmented, only full batches), evaluation on the
// training data and evaluation on the test data.
func openGenerators(cfg *Config, means preprocess.Means, rng *rand.Rand) (trainGen, trainEvalGen, testGen *generator.Generator, err error) {
	pipeline := []preprocess.Preprocessor{
		preprocess.NewResize(cfg.InputWidth, cfg.InputHeight),
		preprocess.NewPatch(cfg.InputWidth, cfg.InputHeight, rng),
		preprocess.NewMean(means),
	}
	var opened []*generator.Generator
	open := func(path, name string) *generator.Generator {
		if err != nil {
			return nil
		}
		var g *generator.Generator
		g, err = generator.Open(path, cfg.BatchSize, cfg.NumClasses, pipeline...)
		if err != nil {
			err = errors.WithMessage(err, "build the datasets first with -write")
			return nil
		}
		opened = append(opened, g)
		return g.WithName(name)
	}
	trainGen = open(cfg.TrainContainerPath(), "Train")
	trainEvalGen = open(cfg.TrainContainerPath(), "Train (eval)")
	testGen = open(cfg.TestContainerPath(), "Test")
	if err != nil {
		for _, g := range opened {
			_ = g.Close()
		}
		return nil, nil, nil, err
	}
	trainGen.WithAugmenter(augment.NewRandom(rng)).DropRemainder(true)
	return trainGen, trainEvalGen, testGen, nil
}

// trainingCheckpoint creates the checkpoint handler used during training. If checkpointDir is given, the latest
// checkpoint there is loaded. Otherwise, a new model is trained and checkpoints are saved to Config.CheckpointsPath,
// discarding previous ones.
func trainingCheckpoint(ctx *context.Context, cfg *Config, checkpointDir string) (*checkpoints.Handler, error) {
	if checkpointDir != "" {
		checkpointDir = fsutil.MustReplaceTildeInDir(checkpointDir)
		exists, err := fsutil.FileExists(checkpointDir)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("checkpoint path %q does not exist", checkpointDir)
		}
		fmt.Printf("[INFO] Load checkpoint %s...\n", checkpointDir)
		excluded := append([]string{optimizers.ParamLearningRate, ParamNumEpochs, ParamBatchSize, ParamClassLabels},
			cfg.ParamsSet...)
		return checkpoints.Load(ctx).Dir(checkpointDir).Keep(-1).ExcludeParams(excluded...).Done()
	}

	fmt.Println("[INFO] Compiling model...")
	checkpointDir = cfg.CheckpointsPath()
	if entries, err := os.ReadDir(checkpointDir); err == nil && len(entries) > 0 {
		klog.Warningf("removing previous checkpoints in %q, use -checkpoint to resume training instead", checkpointDir)
	}
	if err := os.RemoveAll(checkpointDir); err != nil {
		return nil, errors.Wrapf(err, "failed to remove previous checkpoints in %q", checkpointDir)
	}
	return checkpoints.Build(ctx).Dir(checkpointDir).Keep(-1).Done()
}

// isCheckpointEpoch reports whether a checkpoint is due after epoch, counting epochs from the start of
// training, including those trained before resuming.
func isCheckpointEpoch(epoch, every int) bool {
	return every > 0 && epoch > 0 && epoch%every == 0
}

// evalMetrics evaluates the trainer's eval metrics on ds, and records them in values and types, keyed by
// "<prefix>_<metric>".
func evalMetrics(trainer *train.Trainer, prefix string, ds *generator.Generator, values map[string]float64, types map[string]string) error {
	ds.Reset()
	results, err := trainer.Eval(ds)
	ds.Reset()
	if err != nil {
		return errors.WithMessagef(err, "evaluating %q", ds.Name())
	}
	for ii, metric := range trainer.EvalMetrics() {
		key := prefix + "_" + metricKey(metric)
		values[key] = scalarValue(results[ii])
		types[key] = metric.MetricType()
	}
	return nil
}

func metricKey(metric metrics.Interface) string {
	switch metric.MetricType() {
	case metrics.LossMetricType:
		return "loss"
	case metrics.AccuracyMetricType:
		return "acc"
	default:
		return strings.ToLower(strings.Trim(metric.ShortName(), "#~ "))
	}
}

// saveModel saves all variables and hyperparameters of ctx as a new checkpoint in modelDir, replacing
// whatever was there.
func saveModel(ctx *context.Context, modelDir string) error {
	if err := os.RemoveAll(modelDir); err != nil {
		return errors.Wrapf(err, "failed to remove previous model in %q", modelDir)
	}
	handler, err := checkpoints.Build(ctx).Dir(modelDir).Keep(1).Done()
	if err != nil {
		return err
	}
	return handler.Save()
}
