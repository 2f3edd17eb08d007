package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/llm"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

const rerankSystemPrompt = "你是严格的排序器，只输出 JSON。"

// StringList accepts either a single string or a list in task payloads.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// EmbedPayload carries texts to embed. "inputs" is accepted as an alias.
type EmbedPayload struct {
	Input  StringList `json:"input,omitempty"`
	Inputs StringList `json:"inputs,omitempty"`
	Model  string     `json:"model,omitempty"`
}

func (p EmbedPayload) texts() []string {
	if len(p.Input) > 0 {
		return p.Input
	}
	return p.Inputs
}

type EmbedResult struct {
	Model string          `json:"model"`
	Data  []llm.Embedding `json:"data"`
	Usage map[string]any  `json:"usage,omitempty"`
}

type RerankPayload struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
	TopK     int      `json:"top_k,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// RankedItem is one rerank entry: the passage's original index and its
// relevance score.
type RankedItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

type RerankResult struct {
	Model  string       `json:"model"`
	Ranked []RankedItem `json:"ranked"`
}

// Service embeds and reranks through an OpenAI-compatible endpoint.
type Service struct {
	log    *logger.Logger
	client *llm.Client
}

func NewService(log *logger.Logger, client *llm.Client) *Service {
	return &Service{log: log.With("service", "VectorService"), client: client}
}

func (s *Service) Embed(ctx context.Context, payload EmbedPayload) (EmbedResult, error) {
	texts := payload.texts()
	if len(texts) == 0 {
		return EmbedResult{}, fmt.Errorf("input list is required")
	}
	resp, err := s.client.Embeddings(ctx, texts, payload.Model)
	if err != nil {
		return EmbedResult{}, err
	}
	return EmbedResult{Model: resp.Model, Data: resp.Data, Usage: resp.Usage}, nil
}

func rerankPrompt(query string, passages []string) string {
	var b strings.Builder
	b.WriteString("你是排序助手。给定查询和多个候选文本，请按相关度从高到低排序，输出 JSON 数组，每个元素包含: index(原序号), score(0-1之间), text。")
	b.WriteString("禁止输出其他说明。\n")
	b.WriteString("查询: " + query + "\n候选: \n")
	for idx, passage := range passages {
		fmt.Fprintf(&b, "[%d] %s\n", idx, passage)
	}
	return b.String()
}

// parseRanked decodes the model output, tolerating a wrapping object with
// a single array value. Anything else yields an empty ranking.
func parseRanked(content string) []RankedItem {
	var ranked []RankedItem
	if err := json.Unmarshal([]byte(content), &ranked); err == nil {
		return ranked
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &wrapper); err == nil {
		for _, raw := range wrapper {
			if err := json.Unmarshal(raw, &ranked); err == nil {
				return ranked
			}
		}
	}
	return nil
}

func (s *Service) Rerank(ctx context.Context, payload RerankPayload) (RerankResult, error) {
	if payload.Query == "" || len(payload.Passages) == 0 {
		return RerankResult{}, fmt.Errorf("query and passages are required")
	}
	topK := payload.TopK
	if topK <= 0 {
		topK = 5
	}
	model := payload.Model
	if model == "" {
		model = s.client.Config().Model
	}

	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			llm.TextMessage("system", rerankSystemPrompt),
			llm.TextMessage("user", rerankPrompt(payload.Query, payload.Passages)),
		},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return RerankResult{}, err
	}

	ranked := parseRanked(resp.Text())
	if ranked == nil {
		s.log.Warn("Rerank output was not a JSON ranking, returning empty list")
		ranked = []RankedItem{}
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return RerankResult{Model: model, Ranked: ranked}, nil
}

// RegisterTasks exposes both operations on the vector queue.
func RegisterTasks(reg *tasks.Registry, svc *Service) error {
	if err := reg.Register(tasks.TaskVectorEmbed, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req EmbedPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return svc.Embed(ctx, req)
	}); err != nil {
		return err
	}
	return reg.Register(tasks.TaskVectorRerank, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req RerankPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return svc.Rerank(ctx, req)
	})
}
