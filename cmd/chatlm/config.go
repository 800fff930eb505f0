package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the chatlm configuration file
// ($XDG_CONFIG_HOME/chatlm/config.yaml). Pointer fields distinguish "not
// set" from zero values; a set CLI flag always wins over the file.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Checkpoint string `yaml:"checkpoint"`
	Tokenizer  string `yaml:"tokenizer"`

	Train    TrainConfig    `yaml:"train"`
	Sampling SamplingConfig `yaml:"sampling"`
	Server   ServerConfig   `yaml:"server"`
}

type TrainConfig struct {
	Data          string   `yaml:"data"`
	OutDir        string   `yaml:"out_dir"`
	Seed          *int64   `yaml:"seed"`
	BatchSize     *int     `yaml:"batch_size"`
	ContextLength *int     `yaml:"context_length"`
	LayerCount    *int     `yaml:"layer_count"`
	HeadCount     *int     `yaml:"head_count"`
	EmbeddingDim  *int     `yaml:"embedding_dim"`
	Dropout       *float64 `yaml:"dropout"`
	Bias          *bool    `yaml:"bias"`
	MaxIters      *int     `yaml:"max_iters"`
	EvalInterval  *int     `yaml:"eval_interval"`
	EvalIters     *int     `yaml:"eval_iters"`
	MaxNonFinite  *int     `yaml:"max_non_finite"`
	LR            *float64 `yaml:"lr"`
	WeightDecay   *float64 `yaml:"weight_decay"`
	GradClip      *float64 `yaml:"grad_clip"`
}

type SamplingConfig struct {
	Temperature  *float64 `yaml:"temperature"`
	TopK         *int     `yaml:"top_k"`
	TopP         *float64 `yaml:"top_p"`
	Greedy       *bool    `yaml:"greedy"`
	Seed         *int64   `yaml:"seed"`
	MaxNewTokens *int     `yaml:"max_new_tokens"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chatlm", "config.yaml")
}

// LoadConfig reads the config file at path, or at configPath() when path is
// empty. A missing default file yields a zero Config; a missing explicit file
// is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyCheckpointConfig(c *cli.Command, cfg Config) {
	if cfg.Checkpoint != "" && !c.IsSet("checkpoint") {
		checkpointPath = cfg.Checkpoint
	}
	applyTokenizerConfig(c, cfg)
}

func applyTokenizerConfig(c *cli.Command, cfg Config) {
	if cfg.Tokenizer != "" && !c.IsSet("tokenizer") {
		tokenizerPath = cfg.Tokenizer
	}
}

// applyTrainConfig applies config file defaults to train flags that were not
// explicitly set.
func applyTrainConfig(c *cli.Command, cfg TrainConfig, o *trainFlags) {
	setString(c, "data", cfg.Data, &o.data)
	setString(c, "out", cfg.OutDir, &o.outDir)
	setValue(c, "seed", cfg.Seed, &o.seed)
	setValue(c, "batch-size", cfg.BatchSize, &o.batchSize)
	setValue(c, "context-length", cfg.ContextLength, &o.contextLength)
	setValue(c, "layers", cfg.LayerCount, &o.layers)
	setValue(c, "heads", cfg.HeadCount, &o.heads)
	setValue(c, "embedding-dim", cfg.EmbeddingDim, &o.embeddingDim)
	setValue(c, "dropout", cfg.Dropout, &o.dropout)
	setValue(c, "bias", cfg.Bias, &o.bias)
	setValue(c, "max-iters", cfg.MaxIters, &o.maxIters)
	setValue(c, "eval-interval", cfg.EvalInterval, &o.evalInterval)
	setValue(c, "eval-iters", cfg.EvalIters, &o.evalIters)
	setValue(c, "max-non-finite", cfg.MaxNonFinite, &o.maxNonFinite)
	setValue(c, "lr", cfg.LR, &o.lr)
	setValue(c, "weight-decay", cfg.WeightDecay, &o.weightDecay)
	setValue(c, "grad-clip", cfg.GradClip, &o.gradClip)
}

func applySamplingConfig(c *cli.Command, cfg SamplingConfig, o *samplingFlags) {
	setValue(c, "temperature", cfg.Temperature, &o.temperature)
	setValue(c, "top-k", cfg.TopK, &o.topK)
	setValue(c, "top-p", cfg.TopP, &o.topP)
	setValue(c, "greedy", cfg.Greedy, &o.greedy)
	setValue(c, "sample-seed", cfg.Seed, &o.seed)
	setValue(c, "max-new-tokens", cfg.MaxNewTokens, &o.maxNewTokens)
}

func setValue[T any](c *cli.Command, flag string, v *T, dst *T) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}

func setString(c *cli.Command, flag, v string, dst *string) {
	if v != "" && !c.IsSet(flag) {
		*dst = v
	}
}
