package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatlm/internal/api"
	"github.com/samcharles93/chatlm/internal/logger"
	"github.com/samcharles93/chatlm/internal/webui"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxLimit    int
		ui          bool
	)
	so := defaultSamplingFlags()

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation API over HTTP",
		Flags: append(append(checkpointFlags(), so.flags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "ui",
				Usage:       "serve the browser playground at /",
				Value:       true,
				Destination: &ui,
			},
			&cli.IntFlag{
				Name:        "max-new-tokens-limit",
				Usage:       "largest max_new_tokens a request may ask for",
				Value:       api.DefaultOptions().MaxNewTokensLimit,
				Destination: &maxLimit,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCheckpointConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig.Sampling, &so)
			if fileConfig.Server.Address != "" && !cmd.IsSet("addr") {
				addr = fileConfig.Server.Address
			}
			log := logger.FromContext(ctx)

			m, tok, err := loadModel(checkpointPath, tokenizerPath)
			if err != nil {
				return err
			}
			opts := api.DefaultOptions()
			opts.MaxNewTokens = so.maxNewTokens
			opts.MaxNewTokensLimit = maxLimit
			opts.Sampler = so.samplerConfig()
			opts.TokenizerName = tokenizerPath
			server, err := api.NewServer(m, tok, opts, log.With("component", "api"))
			if err != nil {
				return err
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			if ui {
				webui.Register(e)
			}
			log.Info("starting server", "address", addr, "checkpoint", checkpointPath, "params", m.NumParams())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
