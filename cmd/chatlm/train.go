package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatlm/internal/data"
	"github.com/samcharles93/chatlm/internal/dialogue"
	"github.com/samcharles93/chatlm/internal/logger"
	"github.com/samcharles93/chatlm/internal/model"
	"github.com/samcharles93/chatlm/internal/optim"
	"github.com/samcharles93/chatlm/internal/tokenizer"
	"github.com/samcharles93/chatlm/internal/train"
)

const (
	demoPrompt    = tokenizer.User + "merhabalar" + tokenizer.Bot
	snapshotName  = "snapshot.safetensors"
	demoNewTokens = 100
)

type trainFlags struct {
	data          string
	outDir        string
	seed          int64
	batchSize     int
	contextLength int
	layers        int
	heads         int
	embeddingDim  int
	dropout       float64
	bias          bool
	maxIters      int
	evalInterval  int
	evalIters     int
	maxNonFinite  int
	lr            float64
	weightDecay   float64
	gradClip      float64
	progress      bool
	demo          bool
}

func defaultTrainFlags() trainFlags {
	mc := model.DefaultConfig()
	tc := train.DefaultOptions()
	oc := optim.DefaultConfig()
	return trainFlags{
		data:          "data.json",
		outDir:        "model",
		seed:          42,
		batchSize:     8,
		contextLength: 16,
		layers:        mc.LayerCount,
		heads:         mc.HeadCount,
		embeddingDim:  mc.EmbeddingDim,
		dropout:       0.2,
		bias:          mc.UseBias,
		maxIters:      tc.MaxIters,
		evalInterval:  tc.EvalInterval,
		evalIters:     tc.EvalIters,
		maxNonFinite:  tc.MaxNonFinite,
		lr:            float64(oc.LR),
		weightDecay:   float64(oc.WeightDecay),
		gradClip:      float64(oc.GradClip),
		progress:      true,
		demo:          true,
	}
}

func (o *trainFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "dialogue corpus (JSON)", Value: o.data, Destination: &o.data},
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory for the checkpoint", Value: o.outDir, Destination: &o.outDir},
		tokenizerFlag(),
		&cli.Int64Flag{Name: "seed", Usage: "seed for initialization, batching and dropout", Value: o.seed, Destination: &o.seed},
		&cli.IntFlag{Name: "batch-size", Usage: "sequences per batch", Value: o.batchSize, Destination: &o.batchSize},
		&cli.IntFlag{Name: "context-length", Aliases: []string{"ctx"}, Usage: "maximum sequence length", Value: o.contextLength, Destination: &o.contextLength},
		&cli.IntFlag{Name: "layers", Usage: "number of transformer blocks", Value: o.layers, Destination: &o.layers},
		&cli.IntFlag{Name: "heads", Usage: "attention heads per block", Value: o.heads, Destination: &o.heads},
		&cli.IntFlag{Name: "embedding-dim", Usage: "model width", Value: o.embeddingDim, Destination: &o.embeddingDim},
		&cli.FloatFlag{Name: "dropout", Usage: "dropout rate during training", Value: o.dropout, Destination: &o.dropout},
		&cli.BoolFlag{Name: "bias", Usage: "add bias terms to linear and norm layers", Value: o.bias, Destination: &o.bias},
		&cli.IntFlag{Name: "max-iters", Usage: "training iterations", Value: o.maxIters, Destination: &o.maxIters},
		&cli.IntFlag{Name: "eval-interval", Usage: "iterations between loss estimates", Value: o.evalInterval, Destination: &o.evalInterval},
		&cli.IntFlag{Name: "eval-iters", Usage: "batches per split in each estimate", Value: o.evalIters, Destination: &o.evalIters},
		&cli.IntFlag{Name: "max-non-finite", Usage: "abort after this many consecutive non-finite losses (0 never aborts)", Value: o.maxNonFinite, Destination: &o.maxNonFinite},
		&cli.FloatFlag{Name: "lr", Usage: "AdamW learning rate", Value: o.lr, Destination: &o.lr},
		&cli.FloatFlag{Name: "weight-decay", Usage: "AdamW decoupled weight decay", Value: o.weightDecay, Destination: &o.weightDecay},
		&cli.FloatFlag{Name: "grad-clip", Usage: "clip the global gradient norm (0 disables)", Value: o.gradClip, Destination: &o.gradClip},
		&cli.BoolFlag{Name: "progress", Usage: "show a progress bar", Value: o.progress, Destination: &o.progress},
		&cli.BoolFlag{Name: "demo", Usage: "sample from the trained model before exiting", Value: o.demo, Destination: &o.demo},
	}
}

func (o *trainFlags) modelConfig(vocab int) model.Config {
	cfg := model.DefaultConfig()
	cfg.ContextLength = o.contextLength
	cfg.VocabSize = vocab
	cfg.LayerCount = o.layers
	cfg.HeadCount = o.heads
	cfg.EmbeddingDim = o.embeddingDim
	cfg.DropoutRate = float32(o.dropout)
	cfg.UseBias = o.bias
	return cfg
}

func (o *trainFlags) optimConfig() optim.Config {
	cfg := optim.DefaultConfig()
	cfg.LR = float32(o.lr)
	cfg.WeightDecay = float32(o.weightDecay)
	cfg.GradClip = float32(o.gradClip)
	return cfg
}

func (o *trainFlags) trainOptions() train.Options {
	opts := train.DefaultOptions()
	opts.MaxIters = o.maxIters
	opts.EvalInterval = o.evalInterval
	opts.EvalIters = o.evalIters
	opts.MaxNonFinite = o.maxNonFinite
	opts.ShowProgress = o.progress
	opts.ProgressWriter = os.Stderr
	return opts
}

func trainCmd() *cli.Command {
	o := defaultTrainFlags()

	return &cli.Command{
		Name:  "train",
		Usage: "Train a model on a dialogue corpus and save a checkpoint",
		Flags: o.flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyTokenizerConfig(cmd, fileConfig)
			applyTrainConfig(cmd, fileConfig.Train, &o)
			return runTrain(ctx, &o)
		},
	}
}

func runTrain(ctx context.Context, o *trainFlags) error {
	log := logger.FromContext(ctx)

	tok, err := tokenizer.Load(tokenizerPath)
	if err != nil {
		return err
	}
	seq, err := dialogue.Preprocess(o.data, tok)
	if err != nil {
		return err
	}
	trainSeq, valSeq := data.Split(seq, data.TrainFraction)
	log.Info("corpus loaded", "path", o.data, "tokens", len(seq), "train", len(trainSeq), "val", len(valSeq))

	batches, err := data.NewSampler(trainSeq, valSeq, o.batchSize, o.contextLength, o.seed)
	if err != nil {
		return err
	}
	log.Debug("batch sampler", "batch", batches.BatchSize(), "context", batches.ContextLength())
	m, err := model.New(o.modelConfig(tok.VocabSize()), o.seed)
	if err != nil {
		return err
	}
	log.Info("model initialized", "params_m", fmt.Sprintf("%.2f", float64(m.NumParams())/1e6))

	opt := optim.NewAdamW(m.Parameters(), o.optimConfig())
	trainer, err := train.New(o.trainOptions(), m, batches, opt, log)
	if err != nil {
		return err
	}

	summary, runErr := trainer.Run(ctx)
	log.Info("training stopped",
		"iteration", trainer.Iteration(),
		"steps", summary.Steps,
		"last_loss", summary.LastLoss,
		"skipped", summary.SkippedSteps,
		"elapsed", summary.Elapsed,
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	// An interrupted run still leaves a usable checkpoint.
	path := filepath.Join(o.outDir, snapshotName)
	if err := trainer.Finalize(path); err != nil {
		return err
	}
	if runErr != nil || !o.demo {
		return runErr
	}

	text, err := sample(context.Background(), m, tok, demoPrompt, demoNewTokens, samplingFlags{seed: o.seed})
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}
