package dialogue

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/chatlm/internal/tokenizer"
)

const corpus = `[
	[{"role": "user", "text": "merhaba"}, {"role": "bot", "text": "selam"}],
	[],
	[{"role": "user", "text": "naber"}]
]`

func TestPreprocess(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(corpus), 0o644); err != nil {
		t.Fatal(err)
	}
	tok := tokenizer.NewByte()
	seq, err := Preprocess(path, tok)
	if err != nil {
		t.Fatal(err)
	}
	text, err := tok.Decode(seq)
	if err != nil {
		t.Fatal(err)
	}
	want := "<user>merhaba<bot>selam<eos><user>naber<eos>"
	if text != want {
		t.Fatalf("got %q, want %q", text, want)
	}
	eos, _ := tok.SpecialID(tokenizer.EOS)
	if seq[len(seq)-1] != eos {
		t.Fatal("sequence should end with <eos>")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		empty bool
	}{
		{name: "blank", input: "  \n", empty: true},
		{name: "no-turns", input: "[[], []]", empty: true},
		{name: "bad-role", input: `[[{"role": "system", "text": "x"}]]`},
		{name: "not-json", input: "hello"},
		{name: "wrong-shape", input: `{"role": "user"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.empty != errors.Is(err, ErrEmptyCorpus) {
				t.Fatalf("ErrEmptyCorpus match = %v, err %v", !tt.empty, err)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	got, err := Format(Dialogue{{Role: "bot", Text: "a"}, {Role: "user", Text: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "<bot>a<user>b<eos>" {
		t.Fatalf("got %q", got)
	}
}

func TestPreprocessMissingFile(t *testing.T) {
	if _, err := Preprocess(filepath.Join(t.TempDir(), "nope.json"), tokenizer.NewByte()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}
