package model

import "fmt"

// Config holds the architecture hyperparameters. It is created once and never
// mutated; every size the model allocates is derived from it.
type Config struct {
	ContextLength int     `json:"context_length" yaml:"context_length"`
	VocabSize     int     `json:"vocab_size" yaml:"vocab_size"`
	LayerCount    int     `json:"layer_count" yaml:"layer_count"`
	HeadCount     int     `json:"head_count" yaml:"head_count"`
	EmbeddingDim  int     `json:"embedding_dim" yaml:"embedding_dim"`
	DropoutRate   float32 `json:"dropout_rate" yaml:"dropout_rate"`
	UseBias       bool    `json:"use_bias" yaml:"use_bias"`
	NormEpsilon   float32 `json:"norm_epsilon" yaml:"norm_epsilon"`
}

// DefaultConfig mirrors the stock model arguments: a single-layer,
// single-head 768-wide model over a 32002-token vocabulary.
func DefaultConfig() Config {
	return Config{
		ContextLength: 1024,
		VocabSize:     32002,
		LayerCount:    1,
		HeadCount:     1,
		EmbeddingDim:  768,
		DropoutRate:   0,
		UseBias:       false,
		NormEpsilon:   1e-4,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch {
	case c.ContextLength <= 0:
		return configErr("context_length", fmt.Sprintf("must be positive, got %d", c.ContextLength))
	case c.VocabSize <= 0:
		return configErr("vocab_size", fmt.Sprintf("must be positive, got %d", c.VocabSize))
	case c.LayerCount <= 0:
		return configErr("layer_count", fmt.Sprintf("must be positive, got %d", c.LayerCount))
	case c.HeadCount <= 0:
		return configErr("head_count", fmt.Sprintf("must be positive, got %d", c.HeadCount))
	case c.EmbeddingDim <= 0:
		return configErr("embedding_dim", fmt.Sprintf("must be positive, got %d", c.EmbeddingDim))
	case c.EmbeddingDim%c.HeadCount != 0:
		return configErr("embedding_dim", fmt.Sprintf("%d is not divisible by head_count %d", c.EmbeddingDim, c.HeadCount))
	case c.DropoutRate < 0 || c.DropoutRate >= 1:
		return configErr("dropout_rate", fmt.Sprintf("must be in [0, 1), got %g", c.DropoutRate))
	case c.NormEpsilon <= 0:
		return configErr("norm_epsilon", fmt.Sprintf("must be positive, got %g", c.NormEpsilon))
	}
	return nil
}

// HeadDim is the width of one attention head.
func (c Config) HeadDim() int {
	return c.EmbeddingDim / c.HeadCount
}

// HiddenDim is the feed-forward expansion width.
func (c Config) HiddenDim() int {
	return 4 * c.EmbeddingDim
}

// Mode selects training behaviour (dropout active) or inference behaviour.
// It is passed to every forward call instead of living on the model.
type Mode int

const (
	Training Mode = iota
	Inference
)

func (m Mode) String() string {
	switch m {
	case Training:
		return "training"
	case Inference:
		return "inference"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}
