// Package generate extends a token sequence autoregressively.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/chatlm/internal/logits"
	"github.com/samcharles93/chatlm/internal/model"
)

// ErrEmptySeed is returned when there is nothing to condition on.
var ErrEmptySeed = errors.New("generate: empty seed")

// Options configures a Generator.
type Options struct {
	Sampler logits.SamplerConfig
	// OnToken is called with every new id; returning false stops generation.
	OnToken func(id int) bool
}

// Generator samples continuations from a model in inference mode.
type Generator struct {
	model   *model.Model
	sampler *logits.Sampler
	onToken func(int) bool
}

// New returns a generator over m.
func New(m *model.Model, opts Options) *Generator {
	return &Generator{
		model:   m,
		sampler: logits.NewSampler(opts.Sampler),
		onToken: opts.OnToken,
	}
}

// Generate appends up to maxNewTokens sampled ids to a copy of seed and
// returns it. Each step conditions on the last ContextLength tokens only, so
// seeds longer than the context are accepted. ctx is checked between steps.
func (g *Generator) Generate(ctx context.Context, seed []int, maxNewTokens int) ([]int, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	if maxNewTokens < 0 {
		return nil, fmt.Errorf("generate: negative token count %d", maxNewTokens)
	}
	window := g.model.Config.ContextLength
	seq := make([]int, len(seed), len(seed)+maxNewTokens)
	copy(seq, seed)

	for range maxNewTokens {
		if err := ctx.Err(); err != nil {
			return seq, err
		}
		in := seq[max(0, len(seq)-window):]
		out, err := g.model.Forward(nil, model.Input{Tokens: in, B: 1, T: len(in)}, model.Inference)
		if err != nil {
			return seq, fmt.Errorf("generate: %w", err)
		}
		id := g.sampler.Sample(out.LogitsAt(0, len(in)-1))
		seq = append(seq, id)
		if g.onToken != nil && !g.onToken(id) {
			break
		}
	}
	return seq, nil
}
