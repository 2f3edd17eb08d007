package vector

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

func TestStringListAcceptsScalarAndList(t *testing.T) {
	var p EmbedPayload
	if err := json.Unmarshal([]byte(`{"input":"solo"}`), &p); err != nil {
		t.Fatalf("scalar: %v", err)
	}
	if len(p.texts()) != 1 || p.texts()[0] != "solo" {
		t.Fatalf("texts = %v", p.texts())
	}

	p = EmbedPayload{}
	if err := json.Unmarshal([]byte(`{"inputs":["a","b"]}`), &p); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(p.texts()) != 2 {
		t.Fatalf("texts = %v", p.texts())
	}
}

func TestEmbedRequiresInput(t *testing.T) {
	svc := NewService(testLogger(t), llm.NewClient(testLogger(t), llm.Config{APIBase: "http://unused"}))
	if _, err := svc.Embed(context.Background(), EmbedPayload{}); err == nil {
		t.Fatal("empty input must fail")
	}
}

func TestEmbedDelegates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llm.EmbeddingsResponse{
			Model: "text-embedding-v1",
			Data:  []llm.Embedding{{Index: 0, Embedding: []float64{1, 2}}},
		})
	}))
	defer srv.Close()

	svc := NewService(testLogger(t), llm.NewClient(testLogger(t), llm.Config{
		APIBase: srv.URL, EmbedModel: "text-embedding-v1",
	}))
	got, err := svc.Embed(context.Background(), EmbedPayload{Input: StringList{"hello"}})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if got.Model != "text-embedding-v1" || len(got.Data) != 1 {
		t.Fatalf("result = %+v", got)
	}
}

func TestRerankPromptListsPassages(t *testing.T) {
	prompt := rerankPrompt("q", []string{"first", "second"})
	if !strings.Contains(prompt, "[0] first") || !strings.Contains(prompt, "[1] second") {
		t.Fatalf("prompt = %s", prompt)
	}
	if !strings.Contains(prompt, "查询: q") {
		t.Fatalf("prompt missing query: %s", prompt)
	}
}

func TestParseRanked(t *testing.T) {
	ranked := parseRanked(`[{"index":1,"score":0.9,"text":"b"},{"index":0,"score":0.4,"text":"a"}]`)
	if len(ranked) != 2 || ranked[0].Index != 1 {
		t.Fatalf("ranked = %+v", ranked)
	}

	ranked = parseRanked(`{"result":[{"index":0,"score":1,"text":"a"}]}`)
	if len(ranked) != 1 {
		t.Fatalf("wrapped ranked = %+v", ranked)
	}

	if parseRanked("garbage") != nil {
		t.Fatal("garbage must parse to nil")
	}
}

func TestRerankCapsTopK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %+v", req.ResponseFormat)
		}
		json.NewEncoder(w).Encode(llm.ChatResponse{Choices: []llm.Choice{{
			Message: llm.AssistantMessage{Content: `[
				{"index":2,"score":0.9,"text":"c"},
				{"index":0,"score":0.5,"text":"a"},
				{"index":1,"score":0.1,"text":"b"}
			]`},
		}}})
	}))
	defer srv.Close()

	svc := NewService(testLogger(t), llm.NewClient(testLogger(t), llm.Config{APIBase: srv.URL, Model: "qwen-plus"}))
	got, err := svc.Rerank(context.Background(), RerankPayload{
		Query:    "q",
		Passages: []string{"a", "b", "c"},
		TopK:     2,
	})
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(got.Ranked) != 2 || got.Ranked[0].Index != 2 {
		t.Fatalf("ranked = %+v", got.Ranked)
	}
	if got.Model != "qwen-plus" {
		t.Fatalf("model = %s", got.Model)
	}
}

func TestRerankDegradesOnBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llm.ChatResponse{Choices: []llm.Choice{{
			Message: llm.AssistantMessage{Content: "sorry, I cannot rank these"},
		}}})
	}))
	defer srv.Close()

	svc := NewService(testLogger(t), llm.NewClient(testLogger(t), llm.Config{APIBase: srv.URL, Model: "m"}))
	got, err := svc.Rerank(context.Background(), RerankPayload{Query: "q", Passages: []string{"a"}})
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(got.Ranked) != 0 {
		t.Fatalf("ranked = %+v", got.Ranked)
	}
}

func TestRerankRequiresQueryAndPassages(t *testing.T) {
	svc := NewService(testLogger(t), llm.NewClient(testLogger(t), llm.Config{APIBase: "http://unused"}))
	if _, err := svc.Rerank(context.Background(), RerankPayload{Query: "q"}); err == nil {
		t.Fatal("missing passages must fail")
	}
	if _, err := svc.Rerank(context.Background(), RerankPayload{Passages: []string{"a"}}); err == nil {
		t.Fatal("missing query must fail")
	}
}
