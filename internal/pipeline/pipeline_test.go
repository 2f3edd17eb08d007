package pipeline

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/knowledgeflow-backend/internal/convert"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/probe"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testService(t *testing.T, d tasks.Dispatcher) *Service {
	t.Helper()
	log := testLogger(t)
	svc := NewService(log, Settings{
		SamplePages:          5,
		SamplePageRatio:      0.2,
		SampleCharLimit:      5000,
		ConversionTimeoutSec: 60,
		ProbeTimeoutSec:      180,
		UploadPrefix:         "uploads",
	}, nil, d)
	svc.workDir = t.TempDir()
	return svc
}

func TestSelectPagesSmallDocument(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	got := SelectPages(3, 0.2, 5, rnd)
	if len(got) != 3 {
		t.Fatalf("small doc selection = %v, want all 3 pages", got)
	}
	for i, idx := range got {
		if idx != i {
			t.Fatalf("selection %v not the identity over 0..2", got)
		}
	}
}

func TestSelectPagesBounds(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for _, total := range []int{20, 57, 200} {
		got := SelectPages(total, 0.2, 5, rnd)
		if len(got) == 0 || len(got) > 10 {
			t.Fatalf("total=%d selected %d pages, want 1..10", total, len(got))
		}
		seen := map[int]bool{}
		last := -1
		for _, idx := range got {
			if idx < 0 || idx >= total {
				t.Fatalf("total=%d index %d out of range", total, idx)
			}
			if seen[idx] {
				t.Fatalf("total=%d duplicate index %d", total, idx)
			}
			if idx <= last {
				t.Fatalf("total=%d selection %v not sorted", total, got)
			}
			seen[idx] = true
			last = idx
		}
	}
}

func TestSelectPagesHonorsHint(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	// ratio alone would give 2 pages; the hint raises the floor to 5.
	got := SelectPages(12, 0.1, 5, rnd)
	if len(got) < 5 {
		t.Fatalf("selected %d pages, hint requires at least 5", len(got))
	}
}

func TestCapSamples(t *testing.T) {
	texts := []string{"aaaa", "bbbb", "cccc"}
	got := CapSamples(texts, 6)
	if len(got) != 2 || got[0] != "aaaa" || got[1] != "bb" {
		t.Fatalf("capped = %v, want [aaaa bb]", got)
	}
	if got := CapSamples(texts, 0); len(got) != 3 {
		t.Fatalf("cap disabled must keep all pages, got %v", got)
	}
	if got := CapSamples(texts, 100); len(got) != 3 {
		t.Fatalf("under-limit input must be unchanged, got %v", got)
	}
}

func TestSampleMarkdown(t *testing.T) {
	svc := testService(t, nil)
	path := filepath.Join(t.TempDir(), "doc.md")
	content := "# One\n\nParagraph one.\n\nParagraph two.\n\nParagraph three.\n\nParagraph four.\n\nParagraph five.\n\nParagraph six."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	samples, indices, err := svc.SampleMarkdown(path)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(samples) != 5 {
		t.Fatalf("samples = %d, want sample_pages cap of 5", len(samples))
	}
	if samples[0] != "# One" {
		t.Fatalf("first sample = %q", samples[0])
	}
	if len(indices) != 5 || indices[0] != 0 {
		t.Fatalf("indices = %v", indices)
	}
}

func TestSampleMarkdownEmptyFile(t *testing.T) {
	svc := testService(t, nil)
	path := filepath.Join(t.TempDir(), "empty.md")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	samples, indices, err := svc.SampleMarkdown(path)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(samples) != 1 || samples[0] != "" || indices[0] != 0 {
		t.Fatalf("empty artifact = %v %v", samples, indices)
	}
}

func TestPreparePayloadDefaults(t *testing.T) {
	svc := testService(t, nil)
	payload := svc.preparePayload(convert.JobPayload{Files: []convert.FileSpec{
		{SourceFormat: "HTML", TargetFormat: "pdf"},
		{SourceFormat: "png", TargetFormat: "pdf"},
	}})
	if payload.Files[0].TargetFormat != "md" {
		t.Fatalf("textual source target = %s, want md", payload.Files[0].TargetFormat)
	}
	if payload.Files[1].TargetFormat != "pdf" {
		t.Fatalf("binary source target = %s, want pdf", payload.Files[1].TargetFormat)
	}
	for _, f := range payload.Files {
		if f.PageLimit == nil || *f.PageLimit != 5 {
			t.Fatalf("page_limit default = %v, want 5", f.PageLimit)
		}
	}
}

func TestAllPDFPassthrough(t *testing.T) {
	ok := []convert.FileSpec{{SourceFormat: "pdf", TargetFormat: "pdf", ObjectKey: "x.pdf"}}
	if !allPDFPassthrough(ok) {
		t.Fatal("pdf->pdf with object_key must pass through")
	}
	for _, files := range [][]convert.FileSpec{
		nil,
		{{SourceFormat: "pdf", TargetFormat: "pdf"}},
		{{SourceFormat: "doc", TargetFormat: "pdf", ObjectKey: "x"}},
		{{SourceFormat: "pdf", TargetFormat: "md", ObjectKey: "x"}},
	} {
		if allPDFPassthrough(files) {
			t.Fatalf("files %v must not pass through", files)
		}
	}
}

func registerProbeAndPipeline(t *testing.T, svc *Service, reg *tasks.Registry) {
	t.Helper()
	if err := probe.RegisterTasks(reg); err != nil {
		t.Fatalf("register probe: %v", err)
	}
	if err := RegisterTasks(reg, svc); err != nil {
		t.Fatalf("register pipeline: %v", err)
	}
}

func TestExtractAndProbeFromLocalMarkdown(t *testing.T) {
	log := testLogger(t)
	reg := tasks.NewRegistry()
	dispatcher := tasks.NewEagerDispatcher(log, reg)
	svc := testService(t, dispatcher)
	registerProbeAndPipeline(t, svc, reg)

	path := filepath.Join(t.TempDir(), "out.md")
	content := "# Heading\n\n- item one\n- item two\n\nBody paragraph with several words."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := svc.ExtractAndProbe(context.Background(), convert.BatchResult{
		TaskID: "t1",
		Status: convert.StatusSuccess,
		Results: []convert.FileResult{{
			Source:     "html",
			Target:     "md",
			Status:     convert.StatusSuccess,
			OutputPath: path,
		}},
	})
	if err != nil {
		t.Fatalf("extract and probe: %v", err)
	}
	if res.Recommendation.StrategyID == "" {
		t.Fatal("recommendation missing strategy_id")
	}
	if res.Recommendation.ModeID < 1 || res.Recommendation.ModeID > 3 {
		t.Fatalf("mode_id = %d, want 1..3", res.Recommendation.ModeID)
	}
	if res.Conversion.TaskID != "t1" {
		t.Fatalf("conversion echo lost: %+v", res.Conversion)
	}
}

func TestExtractAndProbeNoSuccess(t *testing.T) {
	svc := testService(t, nil)
	_, err := svc.ExtractAndProbe(context.Background(), convert.BatchResult{
		Results: []convert.FileResult{{Status: convert.StatusFailed}},
	})
	if err == nil {
		t.Fatal("batch without a successful artifact must fail")
	}
}

func TestRunDocumentPipelinePassthrough(t *testing.T) {
	log := testLogger(t)
	reg := tasks.NewRegistry()

	// Only the probe stage is registered; a dispatched conversion would
	// fail, so success proves the fast path skipped it.
	probeCalled := false
	if err := reg.Register(tasks.TaskExtractAndProbe, func(ctx context.Context, payload json.RawMessage) (any, error) {
		probeCalled = true
		var conversion convert.BatchResult
		if err := json.Unmarshal(payload, &conversion); err != nil {
			return nil, err
		}
		if len(conversion.Results) != 1 {
			t.Fatalf("stub results = %+v", conversion.Results)
		}
		return Result{Conversion: conversion}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	svc := testService(t, tasks.NewEagerDispatcher(log, reg))
	res, err := svc.RunDocumentPipeline(context.Background(), convert.JobPayload{
		Files: []convert.FileSpec{{SourceFormat: "pdf", TargetFormat: "pdf", ObjectKey: "x.pdf"}},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if !probeCalled {
		t.Fatal("probe stage not reached")
	}
	if res.Conversion.Results[0].Metadata["note"] != "passthrough pdf" {
		t.Fatalf("passthrough note missing: %+v", res.Conversion.Results[0].Metadata)
	}
}
