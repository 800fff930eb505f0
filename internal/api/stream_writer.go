package api

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter sends generated text as server-sent events:
//
//	event: delta     {"id": ..., "delta": "..."}   one per decodable token run
//	event: done      the final GenerateResponse
//	data: [DONE]
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	id      string
	pending []byte
}

func NewSSEStreamWriter(c *echo.Context, id string) (*SSEStreamWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{w: res, flusher: flusher.Flush, id: id}, nil
}

// EmitText buffers piece and sends everything up to the last complete UTF-8
// sequence, so a multi-byte character split across tokens is sent whole.
func (s *SSEStreamWriter) EmitText(piece string) error {
	s.pending = append(s.pending, piece...)
	cut := completePrefix(s.pending)
	if cut == 0 {
		return nil
	}
	delta := string(s.pending[:cut])
	s.pending = append(s.pending[:0], s.pending[cut:]...)
	return s.send("delta", streamDelta{ID: s.id, Delta: delta})
}

func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func (s *SSEStreamWriter) Complete(resp GenerateResponse) error {
	if len(s.pending) > 0 {
		if err := s.send("delta", streamDelta{ID: s.id, Delta: string(s.pending)}); err != nil {
			return err
		}
		s.pending = s.pending[:0]
	}
	if err := s.send("done", resp); err != nil {
		return err
	}
	_, err := io.WriteString(s.w, "data: [DONE]\n\n")
	s.flusher()
	return err
}

func (s *SSEStreamWriter) Failed(err error) error {
	return s.send("error", map[string]any{"error": ErrorBody{Message: err.Error(), Type: "server_error"}})
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	s.flusher()
	return nil
}
