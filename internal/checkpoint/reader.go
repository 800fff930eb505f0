package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/chatlm/internal/model"
)

// File is an opened checkpoint. Tensor data may be memory mapped; Close
// releases it.
type File struct {
	Path     string
	Metadata map[string]string
	Tensors  map[string]TensorInfo

	raw    []byte
	data   []byte
	mapped bool
}

// Open maps path read-only, parses the header and verifies the data digest.
// Without mmap support the file is read into memory instead.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	st, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("checkpoint %s: size %d: %w", path, size64, ErrCorrupt)
	}
	raw, mapped, err := mapFile(fh, int(size64))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	f, err := parse(raw)
	if err != nil {
		if mapped {
			_ = unmap(raw)
		}
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	f.Path = path
	f.mapped = mapped
	return f, nil
}

// Decode parses an in-memory checkpoint.
func Decode(b []byte) (*File, error) {
	return parse(b)
}

func parse(raw []byte) (*File, error) {
	if len(raw) < 8 {
		return nil, ErrCorrupt
	}
	hlen := binary.LittleEndian.Uint64(raw[:8])
	if hlen > uint64(len(raw)-8) {
		return nil, fmt.Errorf("header length %d exceeds file: %w", hlen, ErrCorrupt)
	}
	hdr := raw[8 : 8+hlen]
	data := raw[8+hlen:]

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(hdr, &entries); err != nil {
		return nil, fmt.Errorf("parse header: %v: %w", err, ErrCorrupt)
	}
	f := &File{raw: raw, data: data, Tensors: make(map[string]TensorInfo, len(entries))}
	if meta, ok := entries[metadataKey]; ok {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %v: %w", err, ErrCorrupt)
		}
		delete(entries, metadataKey)
	}
	if f.Metadata[metaFormat] != FormatName {
		return nil, fmt.Errorf("format %q, want %q: %w", f.Metadata[metaFormat], FormatName, ErrCorrupt)
	}

	for name, msg := range entries {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %v: %w", name, err, ErrCorrupt)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets: %w", name, ErrCorrupt)
		}
		info := TensorInfo{DType: th.DType, Shape: th.Shape, Start: th.DataOffsets[0], End: th.DataOffsets[1]}
		if info.Start < 0 || info.End < info.Start || info.End > int64(len(data)) {
			return nil, fmt.Errorf("tensor %s: offsets [%d, %d) outside data: %w", name, info.Start, info.End, ErrCorrupt)
		}
		f.Tensors[name] = info
	}

	if want, got := f.Metadata[metaDigest], digest(data); want != got {
		return nil, fmt.Errorf("stored %s, computed %s: %w", want, got, ErrDigestMismatch)
	}
	return f, nil
}

// Config decodes the model config stored in the metadata.
func (f *File) Config() (model.Config, error) {
	var cfg model.Config
	if err := json.Unmarshal([]byte(f.Metadata[metaConfig]), &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %v: %w", err, ErrCorrupt)
	}
	return cfg, nil
}

// TensorF32 returns a copy of the named tensor's values.
func (f *File) TensorF32(name string) ([]float32, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	if info.DType != "F32" {
		return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	raw := f.data[info.Start:info.End]
	if len(raw) != n*4 {
		return nil, fmt.Errorf("tensor %s: %d bytes for %d values: %w", name, len(raw), n, ErrCorrupt)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	if f == nil || f.raw == nil {
		return nil
	}
	var err error
	if f.mapped {
		err = unmap(f.raw)
	}
	f.raw, f.data, f.mapped = nil, nil, false
	return err
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
