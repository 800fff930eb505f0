// Package dialogue turns a JSON corpus of conversations into one token
// sequence for training.
//
// The corpus is an array of dialogues, each an array of turns:
//
//	[
//	  [{"role": "user", "text": "merhaba"}, {"role": "bot", "text": "selam"}],
//	  ...
//	]
//
// Each turn is encoded as its role marker followed by the text, and every
// dialogue ends with <eos>.
package dialogue

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/chatlm/internal/tokenizer"
)

// ErrEmptyCorpus is returned when a corpus has no turns.
var ErrEmptyCorpus = errors.New("dialogue corpus is empty")

// Turn is one utterance.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Dialogue is an ordered conversation.
type Dialogue []Turn

// Load parses a corpus from r.
func Load(r io.Reader) ([]Dialogue, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyCorpus
	}
	var out []Dialogue
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse dialogues: %w", err)
	}
	turns := 0
	for i, d := range out {
		for j, t := range d {
			if _, err := marker(t.Role); err != nil {
				return nil, fmt.Errorf("dialogue %d turn %d: %w", i, j, err)
			}
		}
		turns += len(d)
	}
	if turns == 0 {
		return nil, ErrEmptyCorpus
	}
	return out, nil
}

func marker(role string) (string, error) {
	switch role {
	case "user":
		return tokenizer.User, nil
	case "bot":
		return tokenizer.Bot, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// Format renders one dialogue as marked-up text.
func Format(d Dialogue) (string, error) {
	var b bytes.Buffer
	for _, t := range d {
		m, err := marker(t.Role)
		if err != nil {
			return "", err
		}
		b.WriteString(m)
		b.WriteString(t.Text)
	}
	b.WriteString(tokenizer.EOS)
	return b.String(), nil
}

// Encode concatenates every dialogue's token ids in order.
func Encode(dialogues []Dialogue, tok tokenizer.Tokenizer) ([]int, error) {
	var seq []int
	for i, d := range dialogues {
		if len(d) == 0 {
			continue
		}
		text, err := Format(d)
		if err != nil {
			return nil, fmt.Errorf("dialogue %d: %w", i, err)
		}
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("dialogue %d: %w", i, err)
		}
		seq = append(seq, ids...)
	}
	return seq, nil
}

// Preprocess reads the corpus at path and returns its token sequence.
func Preprocess(path string, tok tokenizer.Tokenizer) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	dialogues, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Encode(dialogues, tok)
}
