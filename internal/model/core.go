package model

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/chatlm/internal/nn"
	"github.com/samcharles93/chatlm/internal/tensor"
)

// Input is a batch of B sequences of T token ids, flattened row-major.
// Targets, when set, holds the next-token id for every input position.
type Input struct {
	Tokens  []int
	Targets []int
	B, T    int
}

// Output is the result of one forward pass.
type Output struct {
	// Logits is (B*T, vocab); row b*T+t holds the scores for position t of sequence b.
	Logits tensor.Mat
	B, T   int
	// Loss is the mean cross-entropy, nil when no targets were given.
	Loss *float32
	// LossVar is the loss node for Tape.Backward, nil without targets.
	LossVar *nn.Var
}

// LogitsAt returns the vocabulary scores at position t of sequence b.
func (o *Output) LogitsAt(b, t int) []float32 {
	return o.Logits.Row(b*o.T + t)
}

// Forward runs the model over in. With a non-nil tape every operation is
// recorded so Backward on LossVar accumulates parameter gradients; pass a nil
// tape for evaluation and generation. Dropout is active only in Training mode.
func (m *Model) Forward(t *nn.Tape, in Input, mode Mode) (*Output, error) {
	if in.B <= 0 || in.T <= 0 {
		return nil, fmt.Errorf("forward: empty batch %dx%d", in.B, in.T)
	}
	if in.T > m.Config.ContextLength {
		return nil, &InputLengthError{Length: in.T, Max: m.Config.ContextLength}
	}
	if len(in.Tokens) != in.B*in.T {
		return nil, fmt.Errorf("forward: %d tokens for a %dx%d batch", len(in.Tokens), in.B, in.T)
	}
	if in.Targets != nil && len(in.Targets) != len(in.Tokens) {
		return nil, fmt.Errorf("forward: %d targets for %d tokens", len(in.Targets), len(in.Tokens))
	}

	var rng *rand.Rand
	if mode == Training {
		rng = m.dropout
	}
	cfg := m.Config

	x, err := nn.Embedding(t, m.TokEmb.Var, in.Tokens)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	x = nn.AddPositional(t, x, m.PosEmb.Var, in.T)
	x = nn.Dropout(t, x, cfg.DropoutRate, rng)

	shape := nn.AttentionShape{Batch: in.B, SeqLen: in.T, Heads: cfg.HeadCount, HeadDim: cfg.HeadDim()}
	for _, b := range m.Blocks {
		x = b.Forward(t, x, shape, cfg, rng)
	}
	x = m.NormF.forward(t, x, cfg.NormEpsilon)
	logits := m.Head.forward(t, x)

	out := &Output{Logits: logits.Value, B: in.B, T: in.T}
	if in.Targets == nil {
		return out, nil
	}
	loss, err := nn.CrossEntropy(t, logits, in.Targets)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	v := loss.Scalar()
	out.Loss = &v
	out.LossVar = loss
	return out, nil
}
