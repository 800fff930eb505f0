package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatlm/internal/checkpoint"
	"github.com/samcharles93/chatlm/internal/generate"
	"github.com/samcharles93/chatlm/internal/logger"
	"github.com/samcharles93/chatlm/internal/logits"
	"github.com/samcharles93/chatlm/internal/model"
	"github.com/samcharles93/chatlm/internal/tokenizer"
)

type samplingFlags struct {
	temperature  float64
	topK         int
	topP         float64
	greedy       bool
	seed         int64
	maxNewTokens int
}

func defaultSamplingFlags() samplingFlags {
	return samplingFlags{temperature: 1, seed: 42, maxNewTokens: demoNewTokens}
}

func (o *samplingFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{Name: "temperature", Aliases: []string{"temp", "t"}, Usage: "softmax temperature", Value: o.temperature, Destination: &o.temperature},
		&cli.IntFlag{Name: "top-k", Usage: "keep the k most likely tokens (0 keeps all)", Value: o.topK, Destination: &o.topK},
		&cli.FloatFlag{Name: "top-p", Usage: "nucleus sampling threshold (0 or 1 keeps all)", Value: o.topP, Destination: &o.topP},
		&cli.BoolFlag{Name: "greedy", Usage: "always pick the most likely token", Destination: &o.greedy},
		&cli.Int64Flag{Name: "sample-seed", Aliases: []string{"seed"}, Usage: "sampler seed", Value: o.seed, Destination: &o.seed},
		&cli.IntFlag{Name: "max-new-tokens", Aliases: []string{"n"}, Usage: "tokens to generate", Value: o.maxNewTokens, Destination: &o.maxNewTokens},
	}
}

func (o samplingFlags) samplerConfig() logits.SamplerConfig {
	return logits.SamplerConfig{
		Seed:        o.seed,
		Temperature: float32(o.temperature),
		Greedy:      o.greedy,
		TopK:        o.topK,
		TopP:        float32(o.topP),
	}
}

func generateCmd() *cli.Command {
	var (
		prompt string
		stream bool
	)
	so := defaultSamplingFlags()

	return &cli.Command{
		Name:  "generate",
		Usage: "Continue a prompt with a trained model",
		Flags: append(append(checkpointFlags(), so.flags()...),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "text to continue; role markers are recognized literally",
				Value:       demoPrompt,
				Destination: &prompt,
			},
			&cli.BoolFlag{
				Name:        "stream",
				Usage:       "print tokens as they are generated",
				Destination: &stream,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCheckpointConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig.Sampling, &so)
			log := logger.FromContext(ctx)

			m, tok, err := loadModel(checkpointPath, tokenizerPath)
			if err != nil {
				return err
			}
			log.Debug("model loaded", "path", checkpointPath, "params", m.NumParams())

			if stream {
				return streamSample(ctx, os.Stdout, m, tok, prompt, so)
			}
			text, err := sample(ctx, m, tok, prompt, so.maxNewTokens, so)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func loadModel(path, tokPath string) (*model.Model, tokenizer.Tokenizer, error) {
	tok, err := tokenizer.Load(tokPath)
	if err != nil {
		return nil, nil, err
	}
	m, err := checkpoint.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if tok.VocabSize() > m.Config.VocabSize {
		return nil, nil, fmt.Errorf("tokenizer vocabulary %d exceeds model vocabulary %d", tok.VocabSize(), m.Config.VocabSize)
	}
	return m, tok, nil
}

// sample encodes prompt, generates maxNew tokens and decodes the whole
// sequence, prompt included.
func sample(ctx context.Context, m *model.Model, tok tokenizer.Tokenizer, prompt string, maxNew int, so samplingFlags) (string, error) {
	ids, err := tok.Encode(prompt)
	if err != nil {
		return "", err
	}
	seq, err := generate.New(m, generate.Options{Sampler: so.samplerConfig()}).Generate(ctx, ids, maxNew)
	if err != nil {
		return "", err
	}
	return tok.Decode(seq)
}

func streamSample(ctx context.Context, w io.Writer, m *model.Model, tok tokenizer.Tokenizer, prompt string, so samplingFlags) error {
	ids, err := tok.Encode(prompt)
	if err != nil {
		return err
	}
	_, _ = io.WriteString(w, prompt)
	var werr error
	gen := generate.New(m, generate.Options{
		Sampler: so.samplerConfig(),
		OnToken: func(id int) bool {
			piece, err := tok.Decode([]int{id})
			if err == nil {
				_, err = io.WriteString(w, piece)
			}
			werr = err
			return err == nil
		},
	})
	if _, err := gen.Generate(ctx, ids, so.maxNewTokens); err != nil {
		return err
	}
	_, _ = io.WriteString(w, "\n")
	return werr
}
