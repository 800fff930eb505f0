// Package api serves a trained model over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/chatlm/internal/generate"
	"github.com/samcharles93/chatlm/internal/logger"
	"github.com/samcharles93/chatlm/internal/logits"
	"github.com/samcharles93/chatlm/internal/model"
	"github.com/samcharles93/chatlm/internal/tokenizer"
)

// Options holds the per-request defaults and limits.
type Options struct {
	MaxNewTokens      int
	MaxNewTokensLimit int
	Sampler           logits.SamplerConfig
	StoreSize         int
	TokenizerName     string
}

func DefaultOptions() Options {
	return Options{
		MaxNewTokens:      100,
		MaxNewTokensLimit: 1024,
		StoreSize:         128,
		TokenizerName:     "byte",
	}
}

// Server answers generation requests. Requests are served one at a time.
type Server struct {
	model  *model.Model
	tok    tokenizer.Tokenizer
	opts   Options
	store  *GenerationStore
	log    logger.Logger
	mu     sync.Mutex
	eos    int
	hasEOS bool
}

func NewServer(m *model.Model, tok tokenizer.Tokenizer, opts Options, log logger.Logger) (*Server, error) {
	if tok.VocabSize() > m.Config.VocabSize {
		return nil, fmt.Errorf("tokenizer vocabulary %d exceeds model vocabulary %d", tok.VocabSize(), m.Config.VocabSize)
	}
	if log == nil {
		log = logger.Discard()
	}
	if opts.MaxNewTokensLimit <= 0 {
		opts.MaxNewTokensLimit = DefaultOptions().MaxNewTokensLimit
	}
	if opts.MaxNewTokens <= 0 || opts.MaxNewTokens > opts.MaxNewTokensLimit {
		opts.MaxNewTokens = min(DefaultOptions().MaxNewTokens, opts.MaxNewTokensLimit)
	}
	s := &Server{
		model: m,
		tok:   tok,
		opts:  opts,
		store: NewGenerationStore(opts.StoreSize),
		log:   log,
	}
	if sp, ok := tok.(tokenizer.SpecialIDs); ok {
		s.eos, s.hasEOS = sp.SpecialID(tokenizer.EOS)
	}
	return s, nil
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelResponse{
		Object:     "model",
		Config:     s.model.Config,
		Parameters: s.model.NumParams(),
		Tokenizer:  s.opts.TokenizerName,
		VocabSize:  s.tok.VocabSize(),
	})
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, fmt.Sprintf("generation %q not found", id))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	job, err := s.prepare(req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	ctx := c.Request().Context()
	if !req.Stream {
		resp, err := s.run(ctx, job, nil)
		if err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
		return c.JSON(http.StatusOK, resp)
	}

	sw, err := NewSSEStreamWriter(c, job.resp.ID)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	c.Response().WriteHeader(http.StatusOK)
	resp, err := s.run(ctx, job, sw)
	if err != nil {
		s.log.Warn("stream generation failed", "id", job.resp.ID, "error", err)
		return sw.Failed(err)
	}
	return sw.Complete(resp)
}

type job struct {
	resp    GenerateResponse
	seed    []int
	maxNew  int
	sampler logits.SamplerConfig
}

func (s *Server) prepare(req GenerateRequest) (*job, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, newInvalidRequest("prompt must not be empty")
	}
	maxNew := s.opts.MaxNewTokens
	if req.MaxNewTokens != nil {
		maxNew = *req.MaxNewTokens
		if maxNew < 0 || maxNew > s.opts.MaxNewTokensLimit {
			return nil, newInvalidRequest(fmt.Sprintf("max_new_tokens must be between 0 and %d", s.opts.MaxNewTokensLimit))
		}
	}
	sc := s.opts.Sampler
	if req.Seed != nil {
		sc.Seed = *req.Seed
	} else {
		sc.Seed = time.Now().UnixNano()
	}
	if req.Temperature != nil {
		sc.Temperature = *req.Temperature
		sc.Greedy = false
	}
	if req.TopK != nil {
		if *req.TopK < 0 {
			return nil, newInvalidRequest("top_k must not be negative")
		}
		sc.TopK = *req.TopK
	}
	if req.TopP != nil {
		if *req.TopP < 0 || *req.TopP > 1 {
			return nil, newInvalidRequest("top_p must be in [0, 1]")
		}
		sc.TopP = *req.TopP
	}

	ids, err := s.tok.Encode(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	return &job{
		resp: GenerateResponse{
			ID:           newGenerationID(),
			Object:       "generation",
			Created:      time.Now().Unix(),
			Prompt:       req.Prompt,
			PromptTokens: len(ids),
		},
		seed:    ids,
		maxNew:  maxNew,
		sampler: sc,
	}, nil
}

// run generates until maxNew tokens or <eos>, streaming decoded pieces to sw
// when it is non-nil, and records the result in the store.
func (s *Server) run(ctx context.Context, j *job, sw *SSEStreamWriter) (GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var streamErr error
	start := time.Now()
	gen := generate.New(s.model, generate.Options{
		Sampler: j.sampler,
		OnToken: func(id int) bool {
			if s.hasEOS && id == s.eos {
				return false
			}
			if sw != nil {
				piece, err := s.tok.Decode([]int{id})
				if err == nil {
					err = sw.EmitText(piece)
				}
				if err != nil {
					streamErr = err
					return false
				}
			}
			return true
		},
	})
	seq, err := gen.Generate(ctx, j.seed, j.maxNew)
	if err != nil {
		return GenerateResponse{}, err
	}
	if streamErr != nil {
		return GenerateResponse{}, streamErr
	}
	completion := seq[len(j.seed):]
	if s.hasEOS && len(completion) > 0 && completion[len(completion)-1] == s.eos {
		completion = completion[:len(completion)-1]
	}
	text, err := s.tok.Decode(completion)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("decode completion: %w", err)
	}

	resp := j.resp
	resp.Text = text
	resp.CompletionTokens = len(completion)
	s.store.Put(resp)
	s.log.Info("generation",
		"id", resp.ID,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"elapsed", time.Since(start),
	)
	return resp, nil
}
