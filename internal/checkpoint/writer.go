package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/samcharles93/chatlm/internal/model"
	"github.com/samcharles93/chatlm/internal/nn"
)

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Save writes params and cfg to path, creating the parent directory. The file
// is written to a temporary name and renamed into place.
func Save(path string, cfg model.Config, params []*nn.Param) error {
	blob, err := Encode(cfg, params)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Encode serializes the checkpoint into memory.
func Encode(cfg model.Config, params []*nn.Param) ([]byte, error) {
	var data bytes.Buffer
	header := make(map[string]any, len(params)+1)
	var off int64
	total := 0
	for _, p := range params {
		if _, dup := header[p.Name]; dup {
			return nil, fmt.Errorf("duplicate tensor name %s", p.Name)
		}
		n := int64(p.NumElements()) * 4
		header[p.Name] = tensorHeader{
			DType:       "F32",
			Shape:       p.Shape,
			DataOffsets: []int64{off, off + n},
		}
		var buf [4]byte
		for _, v := range p.Value.Data {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			data.Write(buf[:])
		}
		off += n
		total += p.NumElements()
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	header[metadataKey] = map[string]string{
		metaFormat:    FormatName,
		metaConfig:    string(cfgJSON),
		metaDigest:    digest(data.Bytes()),
		metaNumParams: strconv.Itoa(total),
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if pad := len(hdr) % 8; pad != 0 {
		hdr = append(hdr, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	out := make([]byte, 8, 8+len(hdr)+data.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	out = append(out, hdr...)
	out = append(out, data.Bytes()...)
	return out, nil
}

func digest(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}
