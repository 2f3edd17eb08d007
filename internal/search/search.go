package search

import (
	"context"
	"fmt"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// SearchService builds and dispatches kb_chunks queries: full text,
// kNN over the embedding field, and a weighted hybrid of both.
type SearchService struct {
	log    *logger.Logger
	cfg    SearchSettings
	client *Client
}

func NewSearchService(log *logger.Logger, cfg SearchSettings, client *Client) *SearchService {
	return &SearchService{
		log:    log.With("service", "ESSearchService"),
		cfg:    cfg,
		client: client,
	}
}

type TextSearchPayload struct {
	Query             string           `json:"query"`
	Index             string           `json:"index,omitempty"`
	Fields            []string         `json:"fields,omitempty"`
	Filters           []map[string]any `json:"filters,omitempty"`
	PermissionFilters []map[string]any `json:"permission_filters,omitempty"`
	From              int              `json:"from,omitempty"`
	Size              int              `json:"size,omitempty"`
	HighlightFields   []string         `json:"highlight_fields,omitempty"`
	Source            []string         `json:"source,omitempty"`
}

type VectorSearchPayload struct {
	Vector            []float64        `json:"vector"`
	Index             string           `json:"index,omitempty"`
	Field             string           `json:"field,omitempty"`
	Size              int              `json:"size,omitempty"`
	NumCandidates     int              `json:"num_candidates,omitempty"`
	Filters           []map[string]any `json:"filters,omitempty"`
	PermissionFilters []map[string]any `json:"permission_filters,omitempty"`
	Source            []string         `json:"source,omitempty"`
}

type HybridSearchPayload struct {
	Query             string           `json:"query"`
	Vector            []float64        `json:"vector"`
	Ratio             *float64         `json:"ratio,omitempty"`
	TextWeight        *float64         `json:"text_weight,omitempty"`
	VectorWeight      *float64         `json:"vector_weight,omitempty"`
	Index             string           `json:"index,omitempty"`
	Field             string           `json:"field,omitempty"`
	Fields            []string         `json:"fields,omitempty"`
	Filters           []map[string]any `json:"filters,omitempty"`
	PermissionFilters []map[string]any `json:"permission_filters,omitempty"`
	From              int              `json:"from,omitempty"`
	Size              int              `json:"size,omitempty"`
	Source            []string         `json:"source,omitempty"`
}

// combineFilters keeps permission clauses ahead of caller filters so
// access restriction is always part of the query.
func combineFilters(permission, filters []map[string]any) []any {
	out := make([]any, 0, len(permission)+len(filters))
	for _, clause := range permission {
		out = append(out, clause)
	}
	for _, clause := range filters {
		out = append(out, clause)
	}
	return out
}

func (s *SearchService) textBoolQuery(payload TextSearchPayload) map[string]any {
	fields := payload.Fields
	if len(fields) == 0 {
		fields = s.cfg.TextFields
	}
	boolQuery := map[string]any{
		"must": []any{
			map[string]any{
				"multi_match": map[string]any{
					"query":  payload.Query,
					"fields": fields,
					"type":   "best_fields",
				},
			},
		},
	}
	if clauses := combineFilters(payload.PermissionFilters, payload.Filters); len(clauses) > 0 {
		boolQuery["filter"] = clauses
	}
	return boolQuery
}

// BuildTextQuery assembles the multi_match request body.
func (s *SearchService) BuildTextQuery(payload TextSearchPayload) map[string]any {
	size := payload.Size
	if size <= 0 {
		size = 10
	}
	body := map[string]any{
		"from":  payload.From,
		"size":  size,
		"query": map[string]any{"bool": s.textBoolQuery(payload)},
	}
	if len(payload.HighlightFields) > 0 {
		fields := map[string]any{}
		for _, name := range payload.HighlightFields {
			fields[name] = map[string]any{}
		}
		body["highlight"] = map[string]any{"fields": fields}
	}
	if len(payload.Source) > 0 {
		body["_source"] = payload.Source
	}
	return body
}

// BuildVectorQuery assembles a kNN request body.
func (s *SearchService) BuildVectorQuery(payload VectorSearchPayload) map[string]any {
	size := payload.Size
	if size <= 0 {
		size = 10
	}
	field := payload.Field
	if field == "" {
		field = s.cfg.VectorField
	}
	numCandidates := payload.NumCandidates
	if numCandidates <= 0 {
		numCandidates = s.cfg.DefaultNumCandidates
	}
	knn := map[string]any{
		"field":          field,
		"query_vector":   payload.Vector,
		"k":              size,
		"num_candidates": numCandidates,
	}
	if clauses := combineFilters(payload.PermissionFilters, payload.Filters); len(clauses) > 0 {
		knn["filter"] = map[string]any{"bool": map[string]any{"filter": clauses}}
	}
	body := map[string]any{
		"size": size,
		"knn":  knn,
	}
	if len(payload.Source) > 0 {
		body["_source"] = payload.Source
	}
	return body
}

// hybridWeights resolves the text/vector balance. A ratio r from the
// caller means r of the score comes from the vector side.
func hybridWeights(payload HybridSearchPayload) (textWeight, vectorWeight float64) {
	if payload.Ratio != nil {
		r := *payload.Ratio
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		return 1 - r, r
	}
	textWeight, vectorWeight = 1.0, 1.0
	if payload.TextWeight != nil {
		textWeight = *payload.TextWeight
	}
	if payload.VectorWeight != nil {
		vectorWeight = *payload.VectorWeight
	}
	return textWeight, vectorWeight
}

// BuildHybridQuery wraps the text query in a script_score that blends
// cosine similarity against the embedding field with the BM25 score.
func (s *SearchService) BuildHybridQuery(payload HybridSearchPayload) map[string]any {
	size := payload.Size
	if size <= 0 {
		size = 10
	}
	field := payload.Field
	if field == "" {
		field = s.cfg.VectorField
	}
	textWeight, vectorWeight := hybridWeights(payload)

	boolQuery := s.textBoolQuery(TextSearchPayload{
		Query:             payload.Query,
		Fields:            payload.Fields,
		Filters:           payload.Filters,
		PermissionFilters: payload.PermissionFilters,
	})
	body := map[string]any{
		"from": payload.From,
		"size": size,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"bool": boolQuery},
				"script": map[string]any{
					"source": "cosineSimilarity(params.vector, params.field) * params.vector_weight + _score * params.text_weight",
					"params": map[string]any{
						"vector":        payload.Vector,
						"field":         field,
						"vector_weight": vectorWeight,
						"text_weight":   textWeight,
					},
				},
			},
		},
	}
	if len(payload.Source) > 0 {
		body["_source"] = payload.Source
	}
	return body
}

func (s *SearchService) index(override string) string {
	if override != "" {
		return override
	}
	return s.cfg.ReadAlias
}

// Hit is one normalized search result.
type Hit struct {
	ID        string         `json:"id"`
	Score     float64        `json:"score"`
	Source    map[string]any `json:"source,omitempty"`
	Highlight map[string]any `json:"highlight,omitempty"`
}

type Hits struct {
	Total    int     `json:"total"`
	MaxScore float64 `json:"max_score"`
	Items    []Hit   `json:"items"`
}

// SearchResult is the task-facing envelope for a query.
type SearchResult struct {
	Status int  `json:"status"`
	Hits   Hits `json:"hits"`
}

// NormalizeHits flattens the Elasticsearch hits envelope into
// {total, max_score, items[]}.
func NormalizeHits(resp Response) Hits {
	out := Hits{Items: []Hit{}}
	body, ok := resp.Body.(map[string]any)
	if !ok {
		return out
	}
	hits, ok := body["hits"].(map[string]any)
	if !ok {
		return out
	}
	switch total := hits["total"].(type) {
	case map[string]any:
		if v, ok := toFloat(total["value"]); ok {
			out.Total = int(v)
		}
	default:
		if v, ok := toFloat(total); ok {
			out.Total = int(v)
		}
	}
	if v, ok := toFloat(hits["max_score"]); ok {
		out.MaxScore = v
	}
	items, _ := hits["hits"].([]any)
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		hit := Hit{}
		if id, ok := item["_id"].(string); ok {
			hit.ID = id
		}
		if v, ok := toFloat(item["_score"]); ok {
			hit.Score = v
		}
		if source, ok := item["_source"].(map[string]any); ok {
			hit.Source = source
		}
		if highlight, ok := item["highlight"].(map[string]any); ok {
			hit.Highlight = highlight
		}
		out.Items = append(out.Items, hit)
	}
	return out
}

func (s *SearchService) run(ctx context.Context, index string, body map[string]any) (SearchResult, error) {
	resp, err := s.client.Search(ctx, index, body)
	if err != nil {
		return SearchResult{}, err
	}
	if err := resp.Err("search " + index); err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Status: resp.Status, Hits: NormalizeHits(resp)}, nil
}

func (s *SearchService) Search(ctx context.Context, payload TextSearchPayload) (SearchResult, error) {
	if payload.Query == "" {
		return SearchResult{}, fmt.Errorf("query is required")
	}
	return s.run(ctx, s.index(payload.Index), s.BuildTextQuery(payload))
}

func (s *SearchService) SearchVector(ctx context.Context, payload VectorSearchPayload) (SearchResult, error) {
	if len(payload.Vector) == 0 {
		return SearchResult{}, fmt.Errorf("vector is required")
	}
	return s.run(ctx, s.index(payload.Index), s.BuildVectorQuery(payload))
}

func (s *SearchService) SearchHybrid(ctx context.Context, payload HybridSearchPayload) (SearchResult, error) {
	if payload.Query == "" || len(payload.Vector) == 0 {
		return SearchResult{}, fmt.Errorf("query and vector are required")
	}
	return s.run(ctx, s.index(payload.Index), s.BuildHybridQuery(payload))
}
