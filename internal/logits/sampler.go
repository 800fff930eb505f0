// Package logits turns a row of vocabulary scores into a token id.
package logits

import (
	"math"
	"math/rand"
	"sort"
)

// SamplerConfig configures the behaviour of a Sampler. The zero value other
// than Seed samples from the plain softmax distribution.
type SamplerConfig struct {
	Seed int64
	// Temperature scales logits before the softmax. Zero means 1; a negative
	// value selects greedy argmax, as does Greedy.
	Temperature float32
	Greedy      bool
	// TopK keeps the k highest-scoring tokens; 0 keeps all.
	TopK int
	// TopP keeps the smallest prefix whose cumulative probability reaches p; 0 or 1 keeps all.
	TopP float32
}

// Sampler draws token ids. It is not safe for concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	idx    []int
	prob   []float64
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Greedy || cfg.Temperature < 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK < 0 {
		cfg.TopK = 0
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Config returns the normalized configuration.
func (s *Sampler) Config() SamplerConfig { return s.cfg }

// Sample draws one index from softmax(logits / temperature), restricted to the
// top-k and top-p candidates when those are set. logits is not modified.
func (s *Sampler) Sample(logits []float32) int {
	if len(logits) == 0 {
		return 0
	}
	if s.greedy || s.cfg.TopK == 1 {
		return argmax(logits)
	}

	n := len(logits)
	if cap(s.prob) < n {
		s.prob = make([]float64, n)
		s.idx = make([]int, n)
	}
	prob, idx := s.prob[:n], s.idx[:n]

	invTemp := 1 / float64(s.cfg.Temperature)
	maxv := math.Inf(-1)
	for _, l := range logits {
		if v := float64(l) * invTemp; v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l)*invTemp - maxv)
		prob[i] = e
		idx[i] = i
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return argmax(logits)
	}

	cut := n
	if s.cfg.TopK > 0 || s.cfg.TopP < 1 {
		sort.SliceStable(idx, func(a, b int) bool { return prob[idx[a]] > prob[idx[b]] })
		if s.cfg.TopK > 0 && s.cfg.TopK < cut {
			cut = s.cfg.TopK
		}
		if s.cfg.TopP < 1 {
			var c float64
			for i := 0; i < cut; i++ {
				c += prob[idx[i]] / sum
				if c >= float64(s.cfg.TopP) {
					cut = i + 1
					break
				}
			}
		}
		sum = 0
		for _, i := range idx[:cut] {
			sum += prob[i]
		}
	}

	r := s.rng.Float64() * sum
	var c float64
	for _, i := range idx[:cut] {
		c += prob[i]
		if r < c {
			return i
		}
	}
	return idx[cut-1]
}

// argmax returns the index of the maximum value, the first on ties.
func argmax(x []float32) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
