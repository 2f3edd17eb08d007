package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// IndexService owns the kb_chunks index lifecycle: mapping creation,
// alias flips, bulk ingest, and rebuilds.
type IndexService struct {
	log    *logger.Logger
	cfg    IndexSettings
	client *Client
}

func NewIndexService(log *logger.Logger, cfg IndexSettings, client *Client) *IndexService {
	return &IndexService{
		log:    log.With("service", "ESIndexService"),
		cfg:    cfg,
		client: client,
	}
}

type CreateIndexPayload struct {
	Index     string         `json:"index,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

type AliasSwitchPayload struct {
	NewIndex   string `json:"new_index"`
	OldIndex   string `json:"old_index,omitempty"`
	ReadAlias  string `json:"read_alias,omitempty"`
	WriteAlias string `json:"write_alias,omitempty"`
}

type BulkIndexPayload struct {
	Index   string           `json:"index,omitempty"`
	Docs    []map[string]any `json:"docs"`
	Refresh string           `json:"refresh,omitempty"`
}

type IngestDocindexPayload struct {
	Index   string           `json:"index,omitempty"`
	Records []map[string]any `json:"records"`
	Refresh string           `json:"refresh,omitempty"`
}

type RebuildFullPayload struct {
	Version     string         `json:"version,omitempty"`
	SourceIndex string         `json:"source_index,omitempty"`
	Overrides   map[string]any `json:"overrides,omitempty"`
}

type RebuildPartialPayload struct {
	Index   string           `json:"index,omitempty"`
	Query   map[string]any   `json:"query"`
	Docs    []map[string]any `json:"docs,omitempty"`
	Records []map[string]any `json:"records,omitempty"`
	Refresh string           `json:"refresh,omitempty"`
}

type DeleteByQueryPayload struct {
	Index string         `json:"index,omitempty"`
	Query map[string]any `json:"query"`
}

type BulkResult struct {
	Status   int `json:"status"`
	Body     any `json:"body"`
	Ingested int `json:"ingested"`
}

type RebuildResult struct {
	NewIndex    string   `json:"new_index"`
	CreateEcho  Response `json:"create"`
	AliasSwitch Response `json:"alias_switch"`
}

// CreateIndex renders the mapping template with overrides and creates
// the index. The ES response is passed back verbatim.
func (s *IndexService) CreateIndex(ctx context.Context, payload CreateIndexPayload) (Response, error) {
	index := payload.Index
	if index == "" {
		index = s.cfg.DefaultIndex
	}
	template, err := LoadMapping(s.cfg.MappingPath, map[string]string{
		"index_name":  index,
		"vector_dims": strconv.Itoa(s.cfg.VectorDims),
		"similarity":  s.cfg.Similarity,
	})
	if err != nil {
		return Response{}, err
	}
	body, err := RenderMapping(template, payload.Overrides)
	if err != nil {
		return Response{}, err
	}
	resp, err := s.client.CreateIndex(ctx, index, body)
	if err != nil {
		return Response{}, err
	}
	if !resp.Ok() && indexAlreadyExists(resp) {
		s.log.Info("Index already exists", "index", index)
		return Response{Status: 200, Body: map[string]any{"acknowledged": true, "index": index, "existed": true}}, nil
	}
	s.log.Info("Create index", "index", index, "status", resp.Status)
	return resp, nil
}

func indexAlreadyExists(resp Response) bool {
	raw, err := json.Marshal(resp.Body)
	if err != nil {
		return false
	}
	return strings.Contains(string(raw), "resource_already_exists_exception")
}

// AliasSwitch repoints both aliases at the new index atomically.
func (s *IndexService) AliasSwitch(ctx context.Context, payload AliasSwitchPayload) (Response, error) {
	if payload.NewIndex == "" {
		return Response{}, fmt.Errorf("new_index is required")
	}
	readAlias := payload.ReadAlias
	if readAlias == "" {
		readAlias = s.cfg.ReadAlias
	}
	writeAlias := payload.WriteAlias
	if writeAlias == "" {
		writeAlias = s.cfg.WriteAlias
	}
	resp, err := s.client.AliasSwitch(ctx, readAlias, writeAlias, payload.NewIndex, payload.OldIndex)
	if err != nil {
		return Response{}, err
	}
	s.log.Info("Alias switch", "new_index", payload.NewIndex, "old_index", payload.OldIndex, "status", resp.Status)
	return resp, nil
}

// BulkIngest indexes pre-shaped kb_chunks documents. An empty batch is
// a successful no-op and never reaches Elasticsearch.
func (s *IndexService) BulkIngest(ctx context.Context, payload BulkIndexPayload) (BulkResult, error) {
	if len(payload.Docs) == 0 {
		return BulkResult{Status: 200, Body: map[string]any{"took": 0}, Ingested: 0}, nil
	}
	index := payload.Index
	if index == "" {
		index = s.cfg.WriteAlias
	}
	resp, err := s.client.Bulk(ctx, index, payload.Docs, payload.Refresh)
	if err != nil {
		return BulkResult{}, err
	}
	if failed := bulkFailures(resp.Body); failed > 0 {
		s.log.Warn("Bulk ingest had item failures", "index", index, "failed", failed, "total", len(payload.Docs))
	}
	return BulkResult{Status: resp.Status, Body: resp.Body, Ingested: len(payload.Docs)}, nil
}

// bulkFailures counts per-item errors in a _bulk reply with errors:true.
func bulkFailures(body any) int {
	m, ok := body.(map[string]any)
	if !ok {
		return 0
	}
	if hasErrors, _ := m["errors"].(bool); !hasErrors {
		return 0
	}
	items, _ := m["items"].([]any)
	failed := 0
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, action := range item {
			if entry, ok := action.(map[string]any); ok {
				if _, bad := entry["error"]; bad {
					failed++
				}
			}
		}
	}
	return failed
}

// IngestDocindex translates legacy docindex records and bulk-indexes
// whatever survives translation.
func (s *IndexService) IngestDocindex(ctx context.Context, payload IngestDocindexPayload) (BulkResult, error) {
	docs := TranslateDocIndexBatch(payload.Records)
	if dropped := len(payload.Records) - len(docs); dropped > 0 {
		s.log.Info("Docindex records dropped in translation", "dropped", dropped, "kept", len(docs))
	}
	return s.BulkIngest(ctx, BulkIndexPayload{
		Index:   payload.Index,
		Docs:    docs,
		Refresh: payload.Refresh,
	})
}

// versionedIndex appends the version to the base name unless the base
// already carries it.
func versionedIndex(base, version string) string {
	if strings.HasSuffix(base, "_"+version) {
		return base
	}
	return base + "_" + version
}

// RebuildFull creates a fresh versioned index and flips the aliases
// onto it. Non-2xx replies abort the rebuild.
func (s *IndexService) RebuildFull(ctx context.Context, payload RebuildFullPayload) (RebuildResult, error) {
	version := payload.Version
	if version == "" {
		version = "v2"
	}
	newIndex := versionedIndex(s.cfg.BaseIndex, version)

	created, err := s.CreateIndex(ctx, CreateIndexPayload{Index: newIndex, Overrides: payload.Overrides})
	if err != nil {
		return RebuildResult{}, err
	}
	if err := created.Err("create index " + newIndex); err != nil {
		return RebuildResult{}, err
	}

	switched, err := s.AliasSwitch(ctx, AliasSwitchPayload{
		NewIndex: newIndex,
		OldIndex: payload.SourceIndex,
	})
	if err != nil {
		return RebuildResult{}, err
	}
	if err := switched.Err("alias switch to " + newIndex); err != nil {
		return RebuildResult{}, err
	}

	return RebuildResult{NewIndex: newIndex, CreateEcho: created, AliasSwitch: switched}, nil
}

// RebuildPartial deletes the matching slice of an index and re-ingests
// replacement documents. Docs and legacy records may be mixed.
func (s *IndexService) RebuildPartial(ctx context.Context, payload RebuildPartialPayload) (BulkResult, error) {
	if payload.Query == nil {
		return BulkResult{}, fmt.Errorf("query is required")
	}
	index := payload.Index
	if index == "" {
		index = s.cfg.WriteAlias
	}
	deleted, err := s.client.DeleteByQuery(ctx, index, map[string]any{"query": payload.Query})
	if err != nil {
		return BulkResult{}, err
	}
	if err := deleted.Err("delete_by_query " + index); err != nil {
		return BulkResult{}, err
	}

	docs := payload.Docs
	if len(payload.Records) > 0 {
		docs = append(docs, TranslateDocIndexBatch(payload.Records)...)
	}
	result, err := s.BulkIngest(ctx, BulkIndexPayload{Index: index, Docs: docs, Refresh: payload.Refresh})
	if err != nil {
		return BulkResult{}, err
	}
	if result.Status < 200 || result.Status >= 300 {
		return BulkResult{}, fmt.Errorf("bulk ingest failed: %d", result.Status)
	}
	return result, nil
}

// DeleteByQuery removes documents matching the query.
func (s *IndexService) DeleteByQuery(ctx context.Context, payload DeleteByQueryPayload) (Response, error) {
	if payload.Query == nil {
		return Response{}, fmt.Errorf("query is required")
	}
	index := payload.Index
	if index == "" {
		index = s.cfg.WriteAlias
	}
	return s.client.DeleteByQuery(ctx, index, map[string]any{"query": payload.Query})
}
