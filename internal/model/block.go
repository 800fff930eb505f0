package model

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/chatlm/internal/nn"
)

// norm is a LayerNorm's learned scale and optional shift.
type norm struct {
	Scale *nn.Param
	Shift *nn.Param // nil when the config disables bias
}

func newNorm(prefix string, dim int, bias bool) norm {
	n := norm{Scale: nn.NewParam(prefix+".weight", dim)}
	if bias {
		n.Shift = nn.NewParam(prefix+".bias", dim)
	}
	return n
}

func (n norm) forward(t *nn.Tape, x *nn.Var, eps float32) *nn.Var {
	return nn.LayerNorm(t, x, n.Scale.Var, varOf(n.Shift), eps)
}

func (n norm) params() []*nn.Param {
	return appendNonNil(nil, n.Scale, n.Shift)
}

// linear is a weight (in, out) and optional bias (out).
type linear struct {
	Weight *nn.Param
	Bias   *nn.Param
}

func newLinear(prefix string, in, out int, bias bool) linear {
	l := linear{Weight: nn.NewParam(prefix+".weight", in, out)}
	if bias {
		l.Bias = nn.NewParam(prefix+".bias", out)
	}
	return l
}

func (l linear) forward(t *nn.Tape, x *nn.Var) *nn.Var {
	return nn.Linear(t, x, l.Weight.Var, varOf(l.Bias))
}

func (l linear) params() []*nn.Param {
	return appendNonNil(nil, l.Weight, l.Bias)
}

// Block is one transformer layer:
//
//	x = x + Dropout(Proj(Attn(LN1(x))))
//	x = x + Dropout(FC2(GELU(FC1(LN2(x)))))
//
// Attention weights are also dropped out during training.
type Block struct {
	Norm1 norm
	QKV   linear // (C, 3C) fused query/key/value projection
	Proj  linear // (C, C) attention output projection
	Norm2 norm
	FC    linear // (C, 4C)
	Out   linear // (4C, C)
}

func newBlock(i int, cfg Config) *Block {
	p := fmt.Sprintf("blocks.%d", i)
	c, bias := cfg.EmbeddingDim, cfg.UseBias
	return &Block{
		Norm1: newNorm(p+".ln1", c, bias),
		QKV:   newLinear(p+".attn.qkv", c, 3*c, bias),
		Proj:  newLinear(p+".attn.proj", c, c, bias),
		Norm2: newNorm(p+".ln2", c, bias),
		FC:    newLinear(p+".ffn.fc", c, cfg.HiddenDim(), bias),
		Out:   newLinear(p+".ffn.proj", cfg.HiddenDim(), c, bias),
	}
}

// Forward maps (B*T, C) to (B*T, C). rng is nil in inference mode, which
// disables every dropout in the block.
func (b *Block) Forward(t *nn.Tape, x *nn.Var, shape nn.AttentionShape, cfg Config, rng *rand.Rand) *nn.Var {
	h := b.Norm1.forward(t, x, cfg.NormEpsilon)
	h = b.QKV.forward(t, h)
	h = nn.CausalSelfAttention(t, h, shape, cfg.DropoutRate, rng)
	h = b.Proj.forward(t, h)
	h = nn.Dropout(t, h, cfg.DropoutRate, rng)
	x = nn.Add(t, x, h)

	h = b.Norm2.forward(t, x, cfg.NormEpsilon)
	h = b.FC.forward(t, h)
	h = nn.GELU(t, h)
	h = b.Out.forward(t, h)
	h = nn.Dropout(t, h, cfg.DropoutRate, rng)
	return nn.Add(t, x, h)
}

func (b *Block) params() []*nn.Param {
	var out []*nn.Param
	out = append(out, b.Norm1.params()...)
	out = append(out, b.QKV.params()...)
	out = append(out, b.Proj.params()...)
	out = append(out, b.Norm2.params()...)
	out = append(out, b.FC.params()...)
	out = append(out, b.Out.params()...)
	return out
}

func varOf(p *nn.Param) *nn.Var {
	if p == nil {
		return nil
	}
	return p.Var
}

func appendNonNil(dst []*nn.Param, ps ...*nn.Param) []*nn.Param {
	for _, p := range ps {
		if p != nil {
			dst = append(dst, p)
		}
	}
	return dst
}
