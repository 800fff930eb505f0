package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/chatlm/internal/logits"
	"github.com/samcharles93/chatlm/internal/model"
	"github.com/samcharles93/chatlm/internal/tokenizer"
)

type plainTokenizer struct{}

func (plainTokenizer) Encode(text string) ([]int, error) { return []int{1}, nil }
func (plainTokenizer) Decode(ids []int) (string, error) { return "", nil }
func (plainTokenizer) VocabSize() int                   { return 2 }

func newSession(t *testing.T, opts Options) (*Session, *tokenizer.ByteTokenizer) {
	t.Helper()
	tok := tokenizer.NewByte()
	m, err := model.New(model.Config{
		ContextLength: 8,
		VocabSize:     tok.VocabSize(),
		LayerCount:    1,
		HeadCount:     2,
		EmbeddingDim:  8,
		NormEpsilon:   1e-5,
	}, 5)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	s, err := NewSession(m, tok, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, tok
}

func TestReplyBuildsDialogueHistory(t *testing.T) {
	t.Parallel()

	s, tok := newSession(t, Options{MaxNewTokens: 6, Sampler: logits.SamplerConfig{Greedy: true}})
	user, _ := tok.SpecialID(tokenizer.User)
	bot, _ := tok.SpecialID(tokenizer.Bot)
	eos, _ := tok.SpecialID(tokenizer.EOS)

	reply, err := s.Reply(context.Background(), "  hi ")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	h := s.History()
	if h[0] != user || h[1] != 'h' || h[2] != 'i' || h[3] != bot {
		t.Fatalf("history does not start with the user turn: %v", h[:4])
	}
	if h[len(h)-1] != eos {
		t.Fatalf("history should end with <eos>, got %v", h)
	}
	body := h[4 : len(h)-1]
	if len(body) > 6 {
		t.Fatalf("reply has %d tokens, want at most 6", len(body))
	}
	for _, id := range body {
		if id == eos || id == user {
			t.Fatalf("stop marker kept in reply: %v", body)
		}
	}
	if want, _ := tok.Decode(body); reply != want {
		t.Fatalf("reply %q, want %q", reply, want)
	}

	first := len(h)
	if _, err := s.Reply(context.Background(), "again"); err != nil {
		t.Fatalf("second Reply: %v", err)
	}
	if s.Turns() != 2 || len(s.History()) <= first || s.History()[first] != user {
		t.Fatalf("second turn not appended after the first: turns %d", s.Turns())
	}

	s.Reset()
	if s.Turns() != 0 || len(s.History()) != 0 {
		t.Fatal("Reset should clear the conversation")
	}
}

func TestReplyBoundsHistory(t *testing.T) {
	t.Parallel()

	s, _ := newSession(t, Options{MaxNewTokens: 4, MaxHistory: 10})
	for range 5 {
		if _, err := s.Reply(context.Background(), "hello there"); err != nil {
			t.Fatalf("Reply: %v", err)
		}
	}
	if n := len(s.History()); n > 10 {
		t.Fatalf("history has %d tokens, want at most 10", n)
	}
}

func TestReplyErrors(t *testing.T) {
	t.Parallel()

	s, _ := newSession(t, Options{})
	if _, err := s.Reply(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Reply(ctx, "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Turns() != 0 {
		t.Fatal("failed turns must not be recorded")
	}
}

func TestNewSessionRequiresMarkers(t *testing.T) {
	t.Parallel()

	m, err := model.New(model.Config{ContextLength: 4, VocabSize: 2, LayerCount: 1, HeadCount: 1, EmbeddingDim: 4, NormEpsilon: 1e-5}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSession(m, plainTokenizer{}, Options{}); err == nil {
		t.Fatal("expected error for a tokenizer without special ids")
	}
	if _, err := NewSession(m, tokenizer.NewByte(), Options{}); err == nil {
		t.Fatal("expected error when markers fall outside the model vocabulary")
	}
}
