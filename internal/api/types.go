package api

import "github.com/samcharles93/chatlm/internal/model"

// GenerateRequest is the body of POST /v1/generate. Unset fields fall back to
// the server defaults.
type GenerateRequest struct {
	Prompt       string   `json:"prompt"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	TopK         *int     `json:"top_k,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	Stream       bool     `json:"stream,omitempty"`
}

// GenerateResponse is returned by POST /v1/generate and GET /v1/generations/:id.
type GenerateResponse struct {
	ID               string `json:"id"`
	Object           string `json:"object"`
	Created          int64  `json:"created"`
	Prompt           string `json:"prompt"`
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// ModelResponse describes the served model.
type ModelResponse struct {
	Object     string       `json:"object"`
	Config     model.Config `json:"config"`
	Parameters int          `json:"parameters"`
	Tokenizer  string       `json:"tokenizer"`
	VocabSize  int          `json:"vocab_size"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type streamDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}
