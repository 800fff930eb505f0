package main

import (
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatlm/internal/checkpoint"
	"github.com/samcharles93/chatlm/internal/logger"
)

var (
	configFile     string
	fileConfig     Config
	checkpointPath string
	tokenizerPath  string
	logLevel       string
	logFormat      string
	debug          bool
)

func checkpointFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"m"},
			Usage:       "path to a .safetensors checkpoint",
			Value:       checkpoint.DefaultPath,
			Destination: &checkpointPath,
		},
		tokenizerFlag(),
	}
}

func tokenizerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "tokenizer",
		Usage:       `"byte" or path to a tokenizer.json`,
		Value:       "byte",
		Destination: &tokenizerPath,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (" + strings.Join(logger.Formats, ", ") + ")",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
