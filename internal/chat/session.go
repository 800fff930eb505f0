// Package chat runs an interactive conversation with a trained model. A
// Session keeps the dialogue as token ids in the same <user>/<bot>/<eos>
// layout the model was trained on; the terminal front end in tui.go drives it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/chatlm/internal/generate"
	"github.com/samcharles93/chatlm/internal/logits"
	"github.com/samcharles93/chatlm/internal/model"
	"github.com/samcharles93/chatlm/internal/tokenizer"
)

// ErrEmptyMessage is returned by Reply for blank input.
var ErrEmptyMessage = errors.New("chat: empty message")

// Options configures a Session.
type Options struct {
	Sampler      logits.SamplerConfig
	MaxNewTokens int
	// MaxHistory bounds the kept token history; 0 means eight context windows.
	MaxHistory int
}

// Session is one conversation. It is not safe for concurrent use.
type Session struct {
	model   *model.Model
	tok     tokenizer.Tokenizer
	opts    Options
	user    int
	bot     int
	eos     int
	history []int
	turns   int
}

// NewSession requires a tokenizer that encodes every role marker as one id.
func NewSession(m *model.Model, tok tokenizer.Tokenizer, opts Options) (*Session, error) {
	sp, ok := tok.(tokenizer.SpecialIDs)
	if !ok {
		return nil, fmt.Errorf("chat: tokenizer has no special token ids")
	}
	ids := make([]int, 0, 3)
	for _, marker := range []string{tokenizer.User, tokenizer.Bot, tokenizer.EOS} {
		id, ok := sp.SpecialID(marker)
		if !ok {
			return nil, fmt.Errorf("chat: tokenizer lacks %s", marker)
		}
		if id >= m.Config.VocabSize {
			return nil, fmt.Errorf("chat: %s id %d outside model vocabulary %d", marker, id, m.Config.VocabSize)
		}
		ids = append(ids, id)
	}
	if opts.MaxNewTokens <= 0 {
		opts.MaxNewTokens = 100
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 8 * m.Config.ContextLength
	}
	return &Session{
		model: m,
		tok:   tok,
		opts:  opts,
		user:  ids[0],
		bot:   ids[1],
		eos:   ids[2],
	}, nil
}

// Reply appends text as a user turn and generates the bot turn. Generation
// stops at <eos>, at a <user> marker or after MaxNewTokens. The reply is kept
// in the history so later turns condition on it.
func (s *Session) Reply(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	ids, err := s.tok.Encode(text)
	if err != nil {
		return "", fmt.Errorf("chat: encode: %w", err)
	}
	seed := append(append(append(s.history[:len(s.history):len(s.history)], s.user), ids...), s.bot)

	sc := s.opts.Sampler
	sc.Seed += int64(s.turns)
	gen := generate.New(s.model, generate.Options{
		Sampler: sc,
		OnToken: func(id int) bool { return id != s.eos && id != s.user },
	})
	seq, err := gen.Generate(ctx, seed, s.opts.MaxNewTokens)
	if err != nil {
		return "", err
	}
	reply := seq[len(seed):]
	if n := len(reply); n > 0 && (reply[n-1] == s.eos || reply[n-1] == s.user) {
		reply = reply[:n-1]
	}
	out, err := s.tok.Decode(reply)
	if err != nil {
		return "", fmt.Errorf("chat: decode: %w", err)
	}

	s.history = append(append(seed, reply...), s.eos)
	if over := len(s.history) - s.opts.MaxHistory; over > 0 {
		s.history = s.history[over:]
	}
	s.turns++
	return out, nil
}

// Reset forgets the conversation.
func (s *Session) Reset() {
	s.history = nil
	s.turns = 0
}

func (s *Session) Turns() int { return s.turns }

// ContextUsage reports the share of the context window the history fills, in [0, 1].
func (s *Session) ContextUsage() float64 {
	return min(1, float64(len(s.history))/float64(s.model.Config.ContextLength))
}

// History returns a copy of the token history.
func (s *Session) History() []int {
	return append([]int(nil), s.history...)
}
