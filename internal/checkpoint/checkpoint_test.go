package checkpoint

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/chatlm/internal/model"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	cfg := model.Config{
		ContextLength: 8,
		VocabSize:     30,
		LayerCount:    2,
		HeadCount:     2,
		EmbeddingDim:  8,
		DropoutRate:   0.1,
		UseBias:       true,
		NormEpsilon:   1e-4,
	}
	m, err := model.New(cfg, 3)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	m := testModel(t)
	path := filepath.Join(t.TempDir(), "nested", "model", "snapshot.safetensors")
	if err := Save(path, m.Config, m.Parameters()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Config != m.Config {
		t.Fatalf("config %+v, want %+v", got.Config, m.Config)
	}
	for _, p := range m.Parameters() {
		q, ok := got.Parameter(p.Name)
		if !ok {
			t.Fatalf("missing %s", p.Name)
		}
		for i := range p.Value.Data {
			if p.Value.Data[i] != q.Value.Data[i] {
				t.Fatalf("%s[%d] = %v, want %v", p.Name, i, q.Value.Data[i], p.Value.Data[i])
			}
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestOpenMetadataAndLayout(t *testing.T) {
	t.Parallel()
	m := testModel(t)
	path := filepath.Join(t.TempDir(), "snapshot.safetensors")
	if err := Save(path, m.Config, m.Parameters()); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if hlen := binary.LittleEndian.Uint64(raw[:8]); hlen%8 != 0 {
		t.Fatalf("header length %d not 8-byte aligned", hlen)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if f.Metadata["format"] != FormatName {
		t.Fatalf("format = %q", f.Metadata["format"])
	}
	if f.Metadata["num_params"] == "" || f.Metadata["xxh64"] == "" {
		t.Fatalf("metadata incomplete: %v", f.Metadata)
	}
	names := f.Names()
	if len(names) != len(m.Parameters()) {
		t.Fatalf("%d tensors, want %d", len(names), len(m.Parameters()))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatal("names not sorted")
		}
	}
	info := f.Tensors["blocks.0.attn.qkv.weight"]
	if len(info.Shape) != 2 || info.Shape[0] != 8 || info.Shape[1] != 24 {
		t.Fatalf("qkv shape %v", info.Shape)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	t.Parallel()
	m := testModel(t)
	path := filepath.Join(t.TempDir(), "snapshot.safetensors")
	if err := Save(path, m.Config, m.Parameters()); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-3] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestOpenRejectsCorruptFiles(t *testing.T) {
	t.Parallel()
	m := testModel(t)
	blob, err := Encode(m.Config, m.Parameters())
	if err != nil {
		t.Fatal(err)
	}
	hugeHeader := append([]byte(nil), blob...)
	binary.LittleEndian.PutUint64(hugeHeader, uint64(len(blob)))

	badJSON := append([]byte(nil), blob...)
	badJSON[8] = '['

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: []byte{1, 2, 3}},
		{name: "header-too-long", data: hugeHeader},
		{name: "bad-json", data: badJSON},
		{name: "truncated", data: blob[:len(blob)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.safetensors")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Open(path)
			if !errors.Is(err, ErrCorrupt) && !errors.Is(err, ErrDigestMismatch) {
				t.Fatalf("expected corruption error, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsForeignFormat(t *testing.T) {
	hdr := []byte(`{"__metadata__":{"format":"pt"}}`)
	buf := make([]byte, 8, 8+len(hdr))
	binary.LittleEndian.PutUint64(buf, uint64(len(hdr)))
	buf = append(buf, hdr...)
	if _, err := Decode(buf); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.safetensors"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
