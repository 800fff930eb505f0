package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/samcharles93/chatlm/internal/checkpoint"
	"github.com/samcharles93/chatlm/internal/model"
)

type inspectOptions struct {
	tensors bool
	stats   bool
	filter  string
	asJSON  bool
}

type tensorReport struct {
	Name  string   `json:"name"`
	DType string   `json:"dtype"`
	Shape []int    `json:"shape"`
	Bytes int64    `json:"bytes"`
	Mean  *float64 `json:"mean,omitempty"`
	Std   *float64 `json:"std,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

type inspectReport struct {
	Path     string            `json:"path"`
	Metadata map[string]string `json:"metadata"`
	Config   model.Config      `json:"config"`
	Tensors  []tensorReport    `json:"tensors,omitempty"`
}

func inspectCmd() *cli.Command {
	var opts inspectOptions

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"m"},
				Usage:       "path to a .safetensors checkpoint",
				Value:       checkpoint.DefaultPath,
				Destination: &checkpointPath,
			},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensors", Destination: &opts.tensors},
			&cli.BoolFlag{Name: "stats", Usage: "list tensors with value statistics", Destination: &opts.stats},
			&cli.StringFlag{Name: "filter", Usage: "only tensors whose name contains this string", Destination: &opts.filter},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &opts.asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if fileConfig.Checkpoint != "" && !cmd.IsSet("checkpoint") {
				checkpointPath = fileConfig.Checkpoint
			}
			f, err := checkpoint.Open(checkpointPath)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			return writeInspect(os.Stdout, f, opts)
		},
	}
}

func buildReport(f *checkpoint.File, opts inspectOptions) (inspectReport, error) {
	cfg, err := f.Config()
	if err != nil {
		return inspectReport{}, err
	}
	rep := inspectReport{Path: f.Path, Metadata: f.Metadata, Config: cfg}
	if !opts.tensors && !opts.stats {
		return rep, nil
	}
	for _, name := range f.Names() {
		if opts.filter != "" && !strings.Contains(name, opts.filter) {
			continue
		}
		info := f.Tensors[name]
		tr := tensorReport{Name: name, DType: info.DType, Shape: info.Shape, Bytes: info.End - info.Start}
		if opts.stats {
			vals, err := f.TensorF32(name)
			if err != nil {
				return rep, err
			}
			x := make([]float64, len(vals))
			for i, v := range vals {
				x[i] = float64(v)
			}
			mean, std := stat.MeanStdDev(x, nil)
			lo, hi := floats.Min(x), floats.Max(x)
			if math.IsNaN(std) {
				std = 0
			}
			tr.Mean, tr.Std, tr.Min, tr.Max = &mean, &std, &lo, &hi
		}
		rep.Tensors = append(rep.Tensors, tr)
	}
	return rep, nil
}

func writeInspect(w io.Writer, f *checkpoint.File, opts inspectOptions) error {
	rep, err := buildReport(f, opts)
	if err != nil {
		return err
	}
	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	c := rep.Config
	_, _ = fmt.Fprintf(w, "checkpoint: %s\n", rep.Path)
	_, _ = fmt.Fprintf(w, "format:     %s\n", rep.Metadata["format"])
	_, _ = fmt.Fprintf(w, "params:     %s\n", rep.Metadata["num_params"])
	_, _ = fmt.Fprintf(w, "digest:     %s\n", rep.Metadata["xxh64"])
	_, _ = fmt.Fprintf(w, "model:      ctx=%d vocab=%d layers=%d heads=%d dim=%d dropout=%g bias=%t\n",
		c.ContextLength, c.VocabSize, c.LayerCount, c.HeadCount, c.EmbeddingDim, c.DropoutRate, c.UseBias)
	if len(rep.Tensors) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if opts.stats {
		_, _ = fmt.Fprintln(tw, "\nNAME\tDTYPE\tSHAPE\tMEAN\tSTD\tMIN\tMAX")
	} else {
		_, _ = fmt.Fprintln(tw, "\nNAME\tDTYPE\tSHAPE\tBYTES")
	}
	for _, t := range rep.Tensors {
		if opts.stats {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%v\t%.5f\t%.5f\t%.5f\t%.5f\n", t.Name, t.DType, t.Shape, *t.Mean, *t.Std, *t.Min, *t.Max)
		} else {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%v\t%d\n", t.Name, t.DType, t.Shape, t.Bytes)
		}
	}
	return tw.Flush()
}
