// Package checkpoint persists model parameters as a safetensors file with the
// model config and a digest of the tensor data in the header metadata.
//
// Layout:
//
//	[8]byte   little-endian header length N
//	[N]byte   JSON header, space padded to a multiple of 8
//	[...]byte tensor data, F32 little-endian, in parameter order
package checkpoint

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samcharles93/chatlm/internal/model"
)

const (
	// FormatName identifies files written by Save.
	FormatName = "chatlm"
	// DefaultPath is relative to the working directory.
	DefaultPath = "model/snapshot.safetensors"

	metaFormat    = "format"
	metaConfig    = "config"
	metaDigest    = "xxh64"
	metaNumParams = "num_params"
	metadataKey   = "__metadata__"
)

var (
	ErrCorrupt        = errors.New("corrupt checkpoint")
	ErrDigestMismatch = errors.New("checkpoint digest mismatch")
)

// TensorInfo locates one tensor in the data section.
type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// Load opens a checkpoint and restores the model it describes.
func Load(path string) (*model.Model, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return f.Model()
}

// Model builds a model from the stored config and copies every tensor in.
func (f *File) Model() (*model.Model, error) {
	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}
	m, err := model.New(cfg, 0)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", f.Path, err)
	}
	values := make(map[string][]float32, len(f.Tensors))
	for _, p := range m.Parameters() {
		info, ok := f.Tensors[p.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint %s: missing tensor %s: %w", f.Path, p.Name, ErrCorrupt)
		}
		if !sameShape(info.Shape, p.Shape) {
			return nil, fmt.Errorf("checkpoint %s: tensor %s has shape %v, want %v: %w", f.Path, p.Name, info.Shape, p.Shape, ErrCorrupt)
		}
		data, err := f.TensorF32(p.Name)
		if err != nil {
			return nil, err
		}
		values[p.Name] = data
	}
	if err := m.LoadParameters(values); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", f.Path, err)
	}
	return m, nil
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
