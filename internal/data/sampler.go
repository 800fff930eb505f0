// Package data turns a token sequence into fixed-length training windows.
package data

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrInsufficientData is returned when a split is too short to yield a single
// window of context length plus one target token.
var ErrInsufficientData = errors.New("insufficient data for context length")

// TrainFraction is the share of the sequence used for training.
const TrainFraction = 0.9

// Split partitions seq once into a training prefix of int(frac*len) tokens and
// the validation suffix. The halves share seq's backing array.
func Split(seq []int, frac float64) (train, val []int) {
	n := int(frac * float64(len(seq)))
	n = max(0, min(n, len(seq)))
	return seq[:n], seq[n:]
}

// SplitKind names one side of the split.
type SplitKind int

const (
	Train SplitKind = iota
	Val
)

func (s SplitKind) String() string {
	switch s {
	case Train:
		return "train"
	case Val:
		return "val"
	default:
		return fmt.Sprintf("SplitKind(%d)", int(s))
	}
}

// Batch holds B windows of T tokens flattened row-major. Target[b*T+t] is the
// element that follows Input[b*T+t] in the source sequence.
type Batch struct {
	Input  []int
	Target []int
	B, T   int
}

// Sampler draws random windows from the train and validation splits.
type Sampler struct {
	train, val    []int
	batchSize     int
	contextLength int
	rng           *rand.Rand
}

// NewSampler validates that both splits can produce at least one window and
// returns a sampler seeded with seed.
func NewSampler(train, val []int, batchSize, contextLength int, seed int64) (*Sampler, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if contextLength <= 0 {
		return nil, fmt.Errorf("context length must be positive, got %d", contextLength)
	}
	s := &Sampler{
		train:         train,
		val:           val,
		batchSize:     batchSize,
		contextLength: contextLength,
		rng:           rand.New(rand.NewSource(seed)),
	}
	for _, k := range []SplitKind{Train, Val} {
		if err := s.check(k); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sampler) seq(k SplitKind) []int {
	if k == Val {
		return s.val
	}
	return s.train
}

func (s *Sampler) check(k SplitKind) error {
	if n := len(s.seq(k)); n < s.contextLength+1 {
		return fmt.Errorf("%s split has %d tokens, need at least %d: %w", k, n, s.contextLength+1, ErrInsufficientData)
	}
	return nil
}

// Sample draws batchSize offsets uniformly from [0, len-contextLength) of the
// chosen split. Offsets may repeat.
func (s *Sampler) Sample(k SplitKind) (Batch, error) {
	if err := s.check(k); err != nil {
		return Batch{}, err
	}
	seq := s.seq(k)
	B, T := s.batchSize, s.contextLength
	b := Batch{
		Input:  make([]int, B*T),
		Target: make([]int, B*T),
		B:      B,
		T:      T,
	}
	for row := 0; row < B; row++ {
		i := s.rng.Intn(len(seq) - T)
		copy(b.Input[row*T:(row+1)*T], seq[i:i+T])
		copy(b.Target[row*T:(row+1)*T], seq[i+1:i+T+1])
	}
	return b, nil
}

// BatchSize reports B.
func (s *Sampler) BatchSize() int { return s.batchSize }

// ContextLength reports T.
func (s *Sampler) ContextLength() int { return s.contextLength }
