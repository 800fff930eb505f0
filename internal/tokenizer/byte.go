package tokenizer

import "fmt"

const byteVocab = 256

// ByteTokenizer encodes UTF-8 text as raw bytes (ids 0-255) followed by the
// markers in Specials (ids 256-259). It needs no vocabulary file.
type ByteTokenizer struct {
	special map[string]int
	ordered []string
}

// NewByte returns the byte-level tokenizer.
func NewByte() *ByteTokenizer {
	t := &ByteTokenizer{special: make(map[string]int, len(Specials))}
	for i, s := range Specials {
		t.special[s] = byteVocab + i
	}
	t.ordered = longestFirst(Specials)
	return t
}

func (t *ByteTokenizer) VocabSize() int { return byteVocab + len(Specials) }

func (t *ByteTokenizer) SpecialID(token string) (int, bool) {
	id, ok := t.special[token]
	return id, ok
}

func (t *ByteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, part := range splitSpecials(text, t.ordered) {
		if part.isSpecial {
			ids = append(ids, t.special[part.text])
			continue
		}
		for i := 0; i < len(part.text); i++ {
			ids = append(ids, int(part.text[i]))
		}
	}
	return ids, nil
}

// Decode concatenates bytes and marker strings. Byte runs that are not valid
// UTF-8 are passed through as is.
func (t *ByteTokenizer) Decode(ids []int) (string, error) {
	b := make([]byte, 0, len(ids))
	for _, id := range ids {
		switch {
		case id >= 0 && id < byteVocab:
			b = append(b, byte(id))
		case id >= byteVocab && id < t.VocabSize():
			b = append(b, Specials[id-byteVocab]...)
		default:
			return "", fmt.Errorf("token id out of range: %d", id)
		}
	}
	return string(b), nil
}
