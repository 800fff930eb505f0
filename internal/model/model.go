// Package model implements the decoder-only transformer: token and learned
// positional embeddings, a stack of pre-norm causal attention blocks, a final
// LayerNorm and a projection to vocabulary logits, with optional
// cross-entropy loss against next-token targets.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/chatlm/internal/nn"
	"github.com/samcharles93/chatlm/internal/tensor"
)

const initStd = 0.02

// Model owns every trainable parameter. Parameters change only through an
// optimizer step or LoadParameters.
type Model struct {
	Config Config

	TokEmb *nn.Param // (vocab, C)
	PosEmb *nn.Param // (context, C)
	Blocks []*Block
	NormF  norm
	Head   linear // (C, vocab)

	params  []*nn.Param
	byName  map[string]*nn.Param
	dropout *rand.Rand
}

// New validates cfg and returns a randomly initialized model. The seed fixes
// both the initial weights and the dropout stream.
func New(cfg Config, seed int64) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := cfg.EmbeddingDim
	m := &Model{
		Config:  cfg,
		TokEmb:  nn.NewParam("tok_emb.weight", cfg.VocabSize, c),
		PosEmb:  nn.NewParam("pos_emb.weight", cfg.ContextLength, c),
		Blocks:  make([]*Block, cfg.LayerCount),
		NormF:   newNorm("ln_f", c, cfg.UseBias),
		Head:    newLinear("lm_head", c, cfg.VocabSize, cfg.UseBias),
		dropout: rand.New(rand.NewSource(seed ^ 0x5eed)),
	}
	for i := range m.Blocks {
		m.Blocks[i] = newBlock(i, cfg)
	}

	m.params = append(m.params, m.TokEmb, m.PosEmb)
	for _, b := range m.Blocks {
		m.params = append(m.params, b.params()...)
	}
	m.params = append(m.params, m.NormF.params()...)
	m.params = append(m.params, m.Head.params()...)

	m.byName = make(map[string]*nn.Param, len(m.params))
	for _, p := range m.params {
		m.byName[p.Name] = p
	}
	m.initWeights(rand.New(rand.NewSource(seed)))
	return m, nil
}

// initWeights draws matrices from N(0, 0.02), scales the residual output
// projections by 1/sqrt(2*layers), and sets norms to identity.
func (m *Model) initWeights(rng *rand.Rand) {
	residualStd := float32(initStd / math.Sqrt(2*float64(m.Config.LayerCount)))
	tensor.FillNormal(m.TokEmb.Value.Data, initStd, rng)
	tensor.FillNormal(m.PosEmb.Value.Data, initStd, rng)
	for _, b := range m.Blocks {
		tensor.Fill(b.Norm1.Scale.Value.Data, 1)
		tensor.Fill(b.Norm2.Scale.Value.Data, 1)
		tensor.FillNormal(b.QKV.Weight.Value.Data, initStd, rng)
		tensor.FillNormal(b.Proj.Weight.Value.Data, residualStd, rng)
		tensor.FillNormal(b.FC.Weight.Value.Data, initStd, rng)
		tensor.FillNormal(b.Out.Weight.Value.Data, residualStd, rng)
	}
	tensor.Fill(m.NormF.Scale.Value.Data, 1)
	tensor.FillNormal(m.Head.Weight.Value.Data, initStd, rng)
}

// Parameters returns every trainable parameter in a stable order.
func (m *Model) Parameters() []*nn.Param {
	return m.params
}

// Parameter looks a parameter up by its checkpoint name.
func (m *Model) Parameter(name string) (*nn.Param, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// NumParams counts scalar parameters.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += p.NumElements()
	}
	return n
}

// LoadParameters overwrites parameter values from a name -> data map. Every
// parameter must be present with the right element count.
func (m *Model) LoadParameters(values map[string][]float32) error {
	for _, p := range m.params {
		data, ok := values[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %s", p.Name)
		}
		if len(data) != p.NumElements() {
			return fmt.Errorf("parameter %s: got %d values, want %d", p.Name, len(data), p.NumElements())
		}
		copy(p.Value.Data, data)
	}
	return nil
}
