package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/llm"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testSettings() Settings {
	return Settings{
		MaxChunks:      30,
		SummaryWords:   120,
		PromptTemplate: defaultPromptTemplate,
		OutputPrefix:   "meta",
	}
}

func TestParseExtractionDegrades(t *testing.T) {
	got := parseExtraction(`{"summary":"s","tags":["t1"],"keywords":[],"questions":["q"]}`)
	if got.Summary != "s" || len(got.Tags) != 1 || len(got.Questions) != 1 {
		t.Fatalf("parsed = %+v", got)
	}

	got = parseExtraction("  plain model babble  ")
	if got.Summary != "plain model babble" {
		t.Fatalf("degraded summary = %q", got.Summary)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Fatalf("degraded tags = %v", got.Tags)
	}
}

func TestNormalizeTextFieldsFromSegments(t *testing.T) {
	chunk := map[string]any{
		"temporal": map[string]any{"start_time": 0.0, "end_time": 30.0},
		"content": map[string]any{
			"text": map[string]any{
				"segments": []any{
					map[string]any{"text": "hello "},
					map[string]any{"text": "world"},
				},
			},
		},
	}
	text := NormalizeTextFields(chunk)
	if text["full_text"] != "hello world" {
		t.Fatalf("full_text = %v", text["full_text"])
	}
}

func TestNormalizeTextFieldsFromFullText(t *testing.T) {
	chunk := map[string]any{
		"temporal": map[string]any{"start_time": 5.0, "end_time": 35.0},
		"content": map[string]any{
			"text": map[string]any{"full_text": "only text"},
		},
	}
	text := NormalizeTextFields(chunk)
	segments, ok := text["segments"].([]any)
	if !ok || len(segments) != 1 {
		t.Fatalf("segments = %v", text["segments"])
	}
	seg := segments[0].(map[string]any)
	if seg["text"] != "only text" || seg["start_time"] != 5.0 || seg["end_time"] != 35.0 {
		t.Fatalf("backfilled segment = %v", seg)
	}
}

func TestNormalizeTextFieldsFromKeyframes(t *testing.T) {
	chunk := map[string]any{
		"temporal": map[string]any{"start_time": 0.0, "end_time": 10.0},
		"keyframes": []any{
			map[string]any{"description": "a desk"},
			map[string]any{"description": ""},
			map[string]any{"description": "a chart"},
		},
	}
	text := NormalizeTextFields(chunk)
	if text["full_text"] != "a desk a chart" {
		t.Fatalf("full_text = %v", text["full_text"])
	}
	if _, ok := text["segments"]; !ok {
		t.Fatal("segments must be backfilled from the rebuilt full_text")
	}
}

func TestAggregateDocMetadataFirstSeenOrder(t *testing.T) {
	manifest := map[string]any{
		"chunks": []any{
			map[string]any{"metadata": map[string]any{"extraction": map[string]any{
				"summary":  "first",
				"tags":     []any{"b", "a"},
				"keywords": []any{"k1"},
			}}},
			map[string]any{},
			map[string]any{"metadata": map[string]any{"extraction": map[string]any{
				"summary":  "second",
				"tags":     []any{"a", "c"},
				"keywords": []any{"k1", "k2"},
			}}},
		},
	}
	docMeta := AggregateDocMetadata(manifest)
	extraction := docMeta["extraction"].(map[string]any)
	if extraction["summary"] != "first\nsecond" {
		t.Fatalf("summary = %v", extraction["summary"])
	}
	tags := extraction["tags"].([]string)
	if len(tags) != 3 || tags[0] != "b" || tags[1] != "a" || tags[2] != "c" {
		t.Fatalf("tags order = %v", tags)
	}
	if extraction["chunks_with_extraction"] != 2 {
		t.Fatalf("count = %v", extraction["chunks_with_extraction"])
	}
}

func TestAggregateDocMetadataEmpty(t *testing.T) {
	manifest := map[string]any{"chunks": []any{}}
	docMeta := AggregateDocMetadata(manifest)
	extraction := docMeta["extraction"].(map[string]any)
	if extraction["summary"] != nil {
		t.Fatalf("empty summary = %v", extraction["summary"])
	}
	if len(extraction["tags"].([]string)) != 0 {
		t.Fatalf("tags = %v", extraction["tags"])
	}
}

func TestRenderPromptIncludesContext(t *testing.T) {
	svc := NewService(testLogger(t), testSettings(), nil, nil)
	chunk := map[string]any{
		"temporal": map[string]any{"start_time": 0.0, "end_time": 30.0},
		"content": map[string]any{
			"text": map[string]any{"full_text": "lecture notes"},
		},
		"keyframes": []any{
			map[string]any{"timestamp": 2.0, "description": "slide one"},
		},
	}
	prompt, err := svc.renderPrompt(chunk, map[string]any{"title": "Intro"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Intro", "lecture notes", "slide one", "120"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRenderPromptTitleFallback(t *testing.T) {
	svc := NewService(testLogger(t), testSettings(), nil, nil)
	prompt, err := svc.renderPrompt(map[string]any{}, map[string]any{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(prompt, "未知文档") {
		t.Fatal("missing default title")
	}
}

func TestProcessEnrichesManifest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req llm.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %+v", req.ResponseFormat)
		}
		content := `{"summary":"chunk summary","tags":["tag"],"keywords":["kw"],"questions":[]}`
		if calls == 2 {
			content = "not json at all"
		}
		json.NewEncoder(w).Encode(llm.ChatResponse{Choices: []llm.Choice{{
			Message: llm.AssistantMessage{Content: content},
		}}})
	}))
	defer srv.Close()

	manifest := map[string]any{
		"document_metadata": map[string]any{
			"source_info": map[string]any{"title": "Doc"},
		},
		"chunks": []any{
			map[string]any{
				"chunk_id": "c1",
				"temporal": map[string]any{"start_time": 0.0, "end_time": 30.0},
				"content": map[string]any{
					"text": map[string]any{"full_text": "first chunk"},
				},
			},
			map[string]any{
				"chunk_id": "c2",
				"temporal": map[string]any{"start_time": 30.0, "end_time": 60.0},
				"content": map[string]any{
					"text": map[string]any{"full_text": "second chunk"},
				},
			},
		},
	}
	raw, _ := json.Marshal(manifest)
	manifestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(raw)
	}))
	defer manifestSrv.Close()

	client := llm.NewClient(testLogger(t), llm.Config{APIBase: srv.URL, Model: "m"})
	svc := NewService(testLogger(t), testSettings(), nil, client)
	svc.workDir = t.TempDir()

	out, err := svc.Process(context.Background(), Request{
		TaskID:      "m1",
		ManifestURL: manifestSrv.URL + "/mm-schema.json",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if calls != 2 {
		t.Fatalf("llm calls = %d", calls)
	}
	if out.TaskID != "m1" {
		t.Fatalf("task id = %s", out.TaskID)
	}
	if out.Output.ObjectKey != "meta/m1/mm-schema.meta.json" {
		t.Fatalf("output key = %s", out.Output.ObjectKey)
	}
}

func TestProcessOutputKeyNextToManifest(t *testing.T) {
	got := deriveOutputKey("t1", "meta", "mm/video/t1/json/mm-schema.json", "")
	if got != "mm/video/t1/json/mm-schema.meta.json" {
		t.Fatalf("derived key = %s", got)
	}
	got = deriveOutputKey("t1", "meta", "", "")
	if got != "meta/t1/mm-schema.meta.json" {
		t.Fatalf("fallback key = %s", got)
	}
	got = deriveOutputKey("t1", "meta", "x/y.json", "custom/out.json")
	if got != "custom/out.json" {
		t.Fatalf("explicit key = %s", got)
	}
}

func TestProcessRequiresLocator(t *testing.T) {
	svc := NewService(testLogger(t), testSettings(), nil, nil)
	svc.workDir = t.TempDir()
	if _, err := svc.Process(context.Background(), Request{}); err == nil {
		t.Fatal("missing manifest locator must fail")
	}
}

func TestEnrichManifestHonorsMaxChunks(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(llm.ChatResponse{Choices: []llm.Choice{{
			Message: llm.AssistantMessage{Content: `{"summary":"s","tags":[],"keywords":[],"questions":[]}`},
		}}})
	}))
	defer srv.Close()

	cfg := testSettings()
	cfg.MaxChunks = 1
	client := llm.NewClient(testLogger(t), llm.Config{APIBase: srv.URL, Model: "m"})
	svc := NewService(testLogger(t), cfg, nil, client)

	manifest := map[string]any{
		"chunks": []any{
			map[string]any{"content": map[string]any{"text": map[string]any{"full_text": "a"}}},
			map[string]any{"content": map[string]any{"text": map[string]any{"full_text": "b"}}},
		},
	}
	enriched := svc.EnrichManifest(context.Background(), manifest)
	if calls != 1 {
		t.Fatalf("llm calls = %d, want 1", calls)
	}
	processing := enriched["processing"].(map[string]any)["metadata_extraction"].(map[string]any)
	if processing["processed_chunks"] != 1 {
		t.Fatalf("processed_chunks = %v", processing["processed_chunks"])
	}
}
