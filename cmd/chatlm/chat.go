package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatlm/internal/chat"
	"github.com/samcharles93/chatlm/internal/logger"
)

func chatCmd() *cli.Command {
	var maxHistory int
	so := defaultSamplingFlags()

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to a trained model in the terminal",
		Flags: append(append(checkpointFlags(), so.flags()...),
			&cli.IntFlag{
				Name:        "max-history",
				Usage:       "tokens of conversation to keep (0 keeps eight context windows)",
				Destination: &maxHistory,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCheckpointConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig.Sampling, &so)

			m, tok, err := loadModel(checkpointPath, tokenizerPath)
			if err != nil {
				return err
			}
			s, err := chat.NewSession(m, tok, chat.Options{
				Sampler:      so.samplerConfig(),
				MaxNewTokens: so.maxNewTokens,
				MaxHistory:   maxHistory,
			})
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Debug("chat session", "path", checkpointPath, "params", m.NumParams())

			title := fmt.Sprintf("chatlm · %s · %.2fM params", filepath.Base(checkpointPath), float64(m.NumParams())/1e6)
			return chat.Run(ctx, s, title)
		},
	}
}
