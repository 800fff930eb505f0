// Package train drives optimization of a model over sampled batches, with
// periodic loss estimation on both data splits.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/samcharles93/chatlm/internal/checkpoint"
	"github.com/samcharles93/chatlm/internal/data"
	"github.com/samcharles93/chatlm/internal/logger"
	"github.com/samcharles93/chatlm/internal/model"
	"github.com/samcharles93/chatlm/internal/nn"
	"github.com/samcharles93/chatlm/internal/tensor"
)

// ErrNumericInstability is returned when too many consecutive training steps
// produce a non-finite loss.
var ErrNumericInstability = errors.New("training loss is not finite")

// BatchSource yields training and validation batches.
type BatchSource interface {
	Sample(split data.SplitKind) (data.Batch, error)
}

// Optimizer applies accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step() float64
}

// Options controls the schedule.
type Options struct {
	MaxIters     int
	EvalInterval int
	EvalIters    int
	// MaxNonFinite aborts after this many consecutive non-finite losses; 0 never aborts.
	MaxNonFinite int

	ShowProgress   bool
	ProgressWriter io.Writer
}

// DefaultOptions returns the stock schedule: 30000 iterations, evaluating
// every 100 over 50 batches per split.
func DefaultOptions() Options {
	return Options{
		MaxIters:     30000,
		EvalInterval: 100,
		EvalIters:    50,
		MaxNonFinite: 10,
	}
}

func (o Options) validate() error {
	switch {
	case o.MaxIters <= 0:
		return fmt.Errorf("max iters must be positive, got %d", o.MaxIters)
	case o.EvalInterval <= 0:
		return fmt.Errorf("eval interval must be positive, got %d", o.EvalInterval)
	case o.EvalIters <= 0:
		return fmt.Errorf("eval iters must be positive, got %d", o.EvalIters)
	case o.MaxNonFinite < 0:
		return fmt.Errorf("max non-finite must not be negative, got %d", o.MaxNonFinite)
	}
	return nil
}

// State is the trainer's position in its lifecycle.
type State int

const (
	Running State = iota
	Evaluating
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Evaluating:
		return "evaluating"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EvalResult is one loss estimate. A mean is NaN when every batch of that
// split was non-finite.
type EvalResult struct {
	Step           int
	TrainLoss      float64
	ValLoss        float64
	TrainNonFinite int
	ValNonFinite   int
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	Steps        int
	LastLoss     float32
	SkippedSteps int
	Evals        []EvalResult
	Elapsed      time.Duration
}

// Trainer owns the iteration counter and lifecycle state for one run.
type Trainer struct {
	opts    Options
	model   *model.Model
	batches BatchSource
	opt     Optimizer
	log     logger.Logger

	state     State
	iter      int
	nonFinite int
	summary   Summary
}

// New validates opts and returns a trainer in the Running state.
func New(opts Options, m *model.Model, batches BatchSource, opt Optimizer, log logger.Logger) (*Trainer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Trainer{
		opts:    opts,
		model:   m,
		batches: batches,
		opt:     opt,
		log:     log.With("component", "train"),
		state:   Running,
	}, nil
}

// State reports the lifecycle state.
func (t *Trainer) State() State { return t.state }

// Iteration reports the next iteration index.
func (t *Trainer) Iteration() int { return t.iter }

// Run executes the remaining iterations. Cancelling ctx stops the loop
// between iterations and returns ctx.Err() with the partial summary.
func (t *Trainer) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { t.summary.Elapsed += time.Since(start) }()

	var bar *progressbar.ProgressBar
	if t.opts.ShowProgress {
		bar = t.newProgressBar()
		defer bar.Finish()
	}

	for t.iter < t.opts.MaxIters {
		if err := ctx.Err(); err != nil {
			return t.summary, err
		}
		if t.iter%t.opts.EvalInterval == 0 || t.iter == t.opts.MaxIters-1 {
			res, err := t.evaluate()
			if err != nil {
				return t.summary, err
			}
			if bar != nil {
				bar.Describe(fmt.Sprintf("train %.4f val %.4f", res.TrainLoss, res.ValLoss))
			}
		}
		if err := t.Step(); err != nil {
			return t.summary, err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	t.state = Done
	return t.summary, nil
}

func (t *Trainer) newProgressBar() *progressbar.ProgressBar {
	opts := []progressbar.Option{
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100 * time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	}
	if t.opts.ProgressWriter != nil {
		opts = append(opts, progressbar.OptionSetWriter(t.opts.ProgressWriter))
	}
	bar := progressbar.NewOptions(t.opts.MaxIters, opts...)
	_ = bar.Set(t.iter)
	return bar
}

func (t *Trainer) evaluate() (EvalResult, error) {
	t.state = Evaluating
	defer func() { t.state = Running }()

	res, err := t.EstimateLoss()
	if err != nil {
		return res, err
	}
	res.Step = t.iter
	t.summary.Evals = append(t.summary.Evals, res)

	t.log.Info("eval", "step", t.iter, "train_loss", fmt.Sprintf("%.4f", res.TrainLoss), "val_loss", fmt.Sprintf("%.4f", res.ValLoss))
	if n := res.TrainNonFinite + res.ValNonFinite; n > 0 {
		t.log.Warn("non-finite eval batches excluded", "step", t.iter, "train", res.TrainNonFinite, "val", res.ValNonFinite)
	}
	if math.IsNaN(res.TrainLoss) || math.IsNaN(res.ValLoss) {
		t.log.Warn("eval loss undefined, every batch was non-finite", "step", t.iter)
	}
	return res, nil
}

// EstimateLoss averages the loss over EvalIters batches of each split in
// inference mode, without recording gradients.
func (t *Trainer) EstimateLoss() (EvalResult, error) {
	var res EvalResult
	for _, split := range []data.SplitKind{data.Train, data.Val} {
		mean, bad, err := t.meanLoss(split)
		if err != nil {
			return res, err
		}
		if split == data.Train {
			res.TrainLoss, res.TrainNonFinite = mean, bad
		} else {
			res.ValLoss, res.ValNonFinite = mean, bad
		}
	}
	return res, nil
}

func (t *Trainer) meanLoss(split data.SplitKind) (float64, int, error) {
	var sum float64
	good, bad := 0, 0
	for k := 0; k < t.opts.EvalIters; k++ {
		b, err := t.batches.Sample(split)
		if err != nil {
			return 0, 0, fmt.Errorf("sample %s batch: %w", split, err)
		}
		out, err := t.model.Forward(nil, model.Input{Tokens: b.Input, Targets: b.Target, B: b.B, T: b.T}, model.Inference)
		if err != nil {
			return 0, 0, fmt.Errorf("eval forward: %w", err)
		}
		if !tensor.IsFinite(*out.Loss) {
			bad++
			continue
		}
		sum += float64(*out.Loss)
		good++
	}
	if good == 0 {
		return math.NaN(), bad, nil
	}
	return sum / float64(good), bad, nil
}

// Step runs one optimization iteration: sample a training batch, forward in
// training mode, backpropagate and update. A non-finite loss skips the update.
func (t *Trainer) Step() error {
	b, err := t.batches.Sample(data.Train)
	if err != nil {
		return fmt.Errorf("sample train batch: %w", err)
	}
	tape := nn.NewTape()
	out, err := t.model.Forward(tape, model.Input{Tokens: b.Input, Targets: b.Target, B: b.B, T: b.T}, model.Training)
	if err != nil {
		return fmt.Errorf("step %d: %w", t.iter, err)
	}
	step := t.iter
	t.iter++
	t.summary.Steps = t.iter
	t.summary.LastLoss = *out.Loss

	t.opt.ZeroGrad()
	if !tensor.IsFinite(*out.Loss) {
		t.nonFinite++
		t.summary.SkippedSteps++
		t.log.Warn("non-finite training loss, update skipped", "step", step, "loss", *out.Loss, "consecutive", t.nonFinite)
		if t.opts.MaxNonFinite > 0 && t.nonFinite >= t.opts.MaxNonFinite {
			return fmt.Errorf("step %d: %d consecutive non-finite losses: %w", step, t.nonFinite, ErrNumericInstability)
		}
		return nil
	}
	t.nonFinite = 0

	if err := tape.Backward(out.LossVar); err != nil {
		return fmt.Errorf("step %d: %w", step, err)
	}
	norm := t.opt.Step()
	t.log.Debug("step", "step", step, "loss", *out.Loss, "grad_norm", norm)
	return nil
}

// Finalize writes the model to a checkpoint at path.
func (t *Trainer) Finalize(path string) error {
	if err := checkpoint.Save(path, t.model.Config, t.model.Parameters()); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	t.log.Info("checkpoint saved", "path", path, "steps", t.iter)
	return nil
}
