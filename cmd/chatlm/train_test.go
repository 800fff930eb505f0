package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/chatlm/internal/checkpoint"
	"github.com/samcharles93/chatlm/internal/dialogue"
	"github.com/samcharles93/chatlm/internal/logger"
)

func writeCorpus(t *testing.T, dir string) string {
	t.Helper()
	var ds []dialogue.Dialogue
	for i := range 40 {
		ds = append(ds, dialogue.Dialogue{
			{Role: "user", Text: fmt.Sprintf("merhaba %d", i)},
			{Role: "bot", Text: "selam"},
		})
	}
	raw, err := json.Marshal(ds)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTrainGenerateInspect(t *testing.T) {
	dir := t.TempDir()
	o := defaultTrainFlags()
	o.data = writeCorpus(t, dir)
	o.outDir = filepath.Join(dir, "model")
	o.batchSize = 2
	o.contextLength = 8
	o.layers, o.heads, o.embeddingDim = 1, 2, 8
	o.maxIters, o.evalInterval, o.evalIters = 3, 2, 2
	o.progress, o.demo = false, false
	tokenizerPath = "byte"

	ctx := logger.WithContext(context.Background(), logger.Discard())
	if err := runTrain(ctx, &o); err != nil {
		t.Fatalf("runTrain: %v", err)
	}
	path := filepath.Join(o.outDir, snapshotName)

	m, tok, err := loadModel(path, "byte")
	if err != nil {
		t.Fatalf("loadModel: %v", err)
	}
	if m.Config.VocabSize != tok.VocabSize() || m.Config.ContextLength != 8 {
		t.Fatalf("unexpected restored config %+v", m.Config)
	}

	so := defaultSamplingFlags()
	so.greedy = true
	text, err := sample(ctx, m, tok, demoPrompt, 20, so)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !strings.HasPrefix(text, demoPrompt) {
		t.Fatalf("output %q does not start with the prompt", text)
	}
	again, err := sample(ctx, m, tok, demoPrompt, 20, so)
	if err != nil || again != text {
		t.Fatalf("greedy sampling not reproducible: %q vs %q (%v)", again, text, err)
	}

	var streamed bytes.Buffer
	so.maxNewTokens = 20
	if err := streamSample(ctx, &streamed, m, tok, demoPrompt, so); err != nil {
		t.Fatalf("streamSample: %v", err)
	}
	if got := strings.TrimSuffix(streamed.String(), "\n"); got != text {
		t.Fatalf("streamed %q, want %q", got, text)
	}

	f, err := checkpoint.Open(path)
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	defer func() { _ = f.Close() }()

	var out bytes.Buffer
	if err := writeInspect(&out, f, inspectOptions{stats: true, filter: "tok_emb"}); err != nil {
		t.Fatalf("writeInspect: %v", err)
	}
	for _, want := range []string{"format:     chatlm", "ctx=8 vocab=260", "tok_emb.weight", "MEAN"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "lm_head") {
		t.Fatal("filter not applied")
	}

	out.Reset()
	if err := writeInspect(&out, f, inspectOptions{tensors: true, asJSON: true}); err != nil {
		t.Fatalf("writeInspect json: %v", err)
	}
	var rep inspectReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(rep.Tensors) != len(m.Parameters()) || rep.Config != m.Config {
		t.Fatalf("report has %d tensors, config %+v", len(rep.Tensors), rep.Config)
	}
}

func TestRunTrainMissingCorpus(t *testing.T) {
	o := defaultTrainFlags()
	o.data = filepath.Join(t.TempDir(), "missing.json")
	o.progress, o.demo = false, false
	tokenizerPath = "byte"
	ctx := logger.WithContext(context.Background(), logger.Discard())
	if err := runTrain(ctx, &o); err == nil {
		t.Fatal("expected error for a missing corpus")
	}
}
