package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// BPETokenizer is a byte-level BPE tokenizer read from a Hugging Face
// tokenizer.json. Markers missing from the file are appended after the
// largest existing id.
type BPETokenizer struct {
	encoder     map[string]int
	decoder     []string
	ranks       map[Pair]int
	cache       map[string][]string
	byteEncoder map[byte]string
	byteDecoder map[string]byte
	pattern     *regexp.Regexp
	unkID       int
	special     map[string]int
	ordered     []string
}

type bpeFile struct {
	Model struct {
		Type     string         `json:"type"`
		Vocab    map[string]int `json:"vocab"`
		Merges   []any          `json:"merges"`
		UnkToken string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer struct {
		Type          string `json:"type"`
		Pretokenizers []struct {
			Type    string `json:"type"`
			Pattern struct {
				Regex string `json:"Regex"`
			} `json:"pattern"`
		} `json:"pretokenizers"`
	} `json:"pre_tokenizer"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`

// LoadBPE reads a tokenizer.json file.
func LoadBPE(path string) (*BPETokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBPE(data)
}

// ParseBPE builds a tokenizer from tokenizer.json contents.
func ParseBPE(data []byte) (*BPETokenizer, error) {
	var f bpeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tokenizer json: %w", err)
	}
	if !strings.EqualFold(f.Model.Type, "BPE") {
		return nil, fmt.Errorf("unsupported tokenizer model: %q", f.Model.Type)
	}

	t := &BPETokenizer{
		encoder: make(map[string]int, len(f.Model.Vocab)+len(f.AddedTokens)),
		ranks:   make(map[Pair]int, len(f.Model.Merges)),
		cache:   make(map[string][]string),
		unkID:   -1,
		special: make(map[string]int),
	}
	maxID := -1
	for tok, id := range f.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative id %d for %q", id, tok)
		}
		t.encoder[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range f.AddedTokens {
		t.encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
		if at.Special {
			t.special[at.Content] = at.ID
		}
	}
	for _, s := range Specials {
		if _, ok := t.encoder[s]; !ok {
			maxID++
			t.encoder[s] = maxID
		}
		t.special[s] = t.encoder[s]
	}
	t.decoder = make([]string, maxID+1)
	for tok, id := range t.encoder {
		t.decoder[id] = tok
	}

	for _, raw := range f.Model.Merges {
		var a, b string
		switch v := raw.(type) {
		case string:
			fields := strings.Split(strings.TrimSpace(v), " ")
			if len(fields) != 2 {
				continue
			}
			a, b = fields[0], fields[1]
		case []any:
			if len(v) != 2 {
				continue
			}
			a, _ = v[0].(string)
			b, _ = v[1].(string)
		}
		if a == "" || b == "" {
			continue
		}
		p := Pair{A: a, B: b}
		if _, ok := t.ranks[p]; !ok {
			t.ranks[p] = len(t.ranks)
		}
	}

	if f.Model.UnkToken != "" {
		if id, ok := t.encoder[f.Model.UnkToken]; ok {
			t.unkID = id
		}
	}
	t.byteEncoder, t.byteDecoder = bytesToUnicode()

	pat := gpt2Pattern
	if f.PreTokenizer.Type == "Sequence" {
		for _, p := range f.PreTokenizer.Pretokenizers {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		// Lookahead patterns are not supported by RE2.
		re = regexp.MustCompile(gpt2Pattern)
	}
	t.pattern = re

	names := make([]string, 0, len(t.special))
	for s := range t.special {
		names = append(names, s)
	}
	t.ordered = longestFirst(names)
	return t, nil
}

func (t *BPETokenizer) VocabSize() int { return len(t.decoder) }

func (t *BPETokenizer) SpecialID(token string) (int, bool) {
	id, ok := t.special[token]
	return id, ok
}

func (t *BPETokenizer) Encode(text string) ([]int, error) {
	var ids []int
	for _, part := range splitSpecials(text, t.ordered) {
		if part.isSpecial {
			ids = append(ids, t.special[part.text])
			continue
		}
		for _, piece := range t.pattern.FindAllString(part.text, -1) {
			for _, sym := range t.bpe(t.byteEncode(piece)) {
				id, ok := t.encoder[sym]
				if !ok {
					if t.unkID < 0 {
						return nil, fmt.Errorf("unknown token: %q", sym)
					}
					id = t.unkID
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (t *BPETokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		tok := t.decoder[id]
		if _, ok := t.special[tok]; ok {
			b = append(b, tok...)
			continue
		}
		for _, r := range tok {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *BPETokenizer) byteEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		b.WriteString(t.byteEncoder[s[i]])
	}
	return b.String()
}

func (t *BPETokenizer) bpe(token string) []string {
	if v, ok := t.cache[token]; ok {
		return v
	}
	word := splitRunes(token)
	for len(word) > 1 {
		best, bestRank := Pair{}, -1
		for p := range getPairs(word) {
			if r, ok := t.ranks[p]; ok && (bestRank < 0 || r < bestRank) {
				best, bestRank = p, r
			}
		}
		if bestRank < 0 {
			break
		}
		word = mergePair(word, best)
	}
	t.cache[token] = word
	return word
}
