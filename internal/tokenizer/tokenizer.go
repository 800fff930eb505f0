// Package tokenizer maps dialogue text to token ids and back.
package tokenizer

import (
	"fmt"
	"strings"
)

// Role and sequence markers. Every tokenizer recognizes them literally in
// input text and encodes each as a single id.
const (
	Pad  = "<pad>"
	User = "<user>"
	Bot  = "<bot>"
	EOS  = "<eos>"
)

// Specials lists the markers in id order for tokenizers that append them.
var Specials = []string{Pad, User, Bot, EOS}

// Tokenizer defines the minimal interface used by training and generation.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	VocabSize() int
}

// SpecialIDs reports the id of each marker.
type SpecialIDs interface {
	SpecialID(token string) (int, bool)
}

// Load returns the byte tokenizer for an empty path or "byte", and otherwise
// reads a BPE tokenizer.json from path.
func Load(path string) (Tokenizer, error) {
	switch strings.TrimSpace(path) {
	case "", "byte":
		return NewByte(), nil
	}
	tok, err := LoadBPE(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return tok, nil
}
