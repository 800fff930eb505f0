package logits

import (
	"math"
	"testing"
)

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical sequences.
func TestSamplerDeterminism(t *testing.T) {
	logs := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 50; i++ {
		if a, b := s1.Sample(logs), s2.Sample(logs); a != b {
			t.Fatalf("draw %d: %d vs %d", i, a, b)
		}
	}
}

func TestSamplerGreedy(t *testing.T) {
	logs := []float32{-1, 5, 3, 7, 2}
	for _, cfg := range []SamplerConfig{
		{Seed: 1, Greedy: true},
		{Seed: 1, Temperature: -1},
		{Seed: 1, TopK: 1},
	} {
		if idx := NewSampler(cfg).Sample(logs); idx != 3 {
			t.Fatalf("%+v: expected greedy index 3, got %d", cfg, idx)
		}
	}
}

// TestSamplerMatchesSoftmax checks the default configuration draws from the
// unmodified softmax distribution.
func TestSamplerMatchesSoftmax(t *testing.T) {
	logs := []float32{0, 1, 2}
	s := NewSampler(SamplerConfig{Seed: 7})
	const draws = 30000
	counts := make([]int, len(logs))
	for i := 0; i < draws; i++ {
		counts[s.Sample(logs)]++
	}
	var z float64
	for _, l := range logs {
		z += math.Exp(float64(l))
	}
	for i, l := range logs {
		want := math.Exp(float64(l)) / z
		got := float64(counts[i]) / draws
		if math.Abs(got-want) > 0.015 {
			t.Fatalf("index %d frequency %.4f, want %.4f", i, got, want)
		}
	}
}

func TestSamplerTopP(t *testing.T) {
	// The first candidate alone exceeds the nucleus threshold.
	logs := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, TopP: 0.5})
	for i := 0; i < 20; i++ {
		if idx := s.Sample(logs); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestSamplerTopK(t *testing.T) {
	logs := []float32{3, 2.9, -5, 2.8, -5}
	s := NewSampler(SamplerConfig{Seed: 3, TopK: 2})
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[s.Sample(logs)] = true
	}
	if len(seen) != 2 || !seen[0] || !seen[1] {
		t.Fatalf("top-k=2 drew %v", seen)
	}
}

func TestSamplerDoesNotModifyLogits(t *testing.T) {
	logs := []float32{1, 2, 3}
	NewSampler(SamplerConfig{Seed: 1, Temperature: 0.5, TopK: 2}).Sample(logs)
	if logs[0] != 1 || logs[1] != 2 || logs[2] != 3 {
		t.Fatalf("logits changed: %v", logs)
	}
}
