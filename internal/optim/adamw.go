// Package optim updates model parameters from accumulated gradients.
package optim

import (
	"math"

	"github.com/samcharles93/chatlm/internal/nn"
)

// Config holds AdamW hyperparameters.
type Config struct {
	LR          float32
	Beta1       float32
	Beta2       float32
	Eps         float32
	WeightDecay float32
	// GradClip is the maximum global L2 norm; 0 disables clipping.
	GradClip float32
}

// DefaultConfig returns learning rate 1e-4 with the usual AdamW moments.
func DefaultConfig() Config {
	return Config{
		LR:          1e-4,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: 0.01,
	}
}

type moments struct {
	m, v []float32
}

// AdamW is Adam with decoupled weight decay:
//
//	m = b1*m + (1-b1)*g
//	v = b2*v + (1-b2)*g^2
//	w -= lr * (m/(1-b1^t) / (sqrt(v/(1-b2^t)) + eps) + wd*w)
type AdamW struct {
	cfg    Config
	params []*nn.Param
	state  []moments
	step   int
}

// NewAdamW allocates zeroed moment buffers for params.
func NewAdamW(params []*nn.Param, cfg Config) *AdamW {
	state := make([]moments, len(params))
	for i, p := range params {
		state[i] = moments{
			m: make([]float32, p.NumElements()),
			v: make([]float32, p.NumElements()),
		}
	}
	return &AdamW{cfg: cfg, params: params, state: state}
}

// Config returns the hyperparameters.
func (o *AdamW) Config() Config { return o.cfg }

// Steps reports how many updates have been applied.
func (o *AdamW) Steps() int { return o.step }

// ZeroGrad clears every parameter gradient.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm of all gradients.
func (o *AdamW) GradNorm() float64 {
	var sq float64
	for _, p := range o.params {
		for _, g := range p.Grad {
			sq += float64(g) * float64(g)
		}
	}
	return math.Sqrt(sq)
}

// Step applies one update and returns the gradient norm measured before
// clipping.
func (o *AdamW) Step() float64 {
	o.step++
	norm := o.GradNorm()
	clip := float32(1)
	if o.cfg.GradClip > 0 && norm > float64(o.cfg.GradClip) {
		clip = float32(float64(o.cfg.GradClip) / (norm + 1e-12))
	}

	t := float64(o.step)
	mCorr := float32(1 / (1 - math.Pow(float64(o.cfg.Beta1), t)))
	vCorr := float32(1 / (1 - math.Pow(float64(o.cfg.Beta2), t)))
	b1, b2, eps, wd, lr := o.cfg.Beta1, o.cfg.Beta2, o.cfg.Eps, o.cfg.WeightDecay, o.cfg.LR

	for i, p := range o.params {
		if p.Grad == nil {
			continue
		}
		w, m, v := p.Value.Data, o.state[i].m, o.state[i].v
		for j := range w {
			g := p.Grad[j] * clip
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			vHat := float64(v[j] * vCorr)
			w[j] -= lr * (m[j]*mCorr/(float32(math.Sqrt(vHat))+eps) + wd*w[j])
		}
	}
	return norm
}
