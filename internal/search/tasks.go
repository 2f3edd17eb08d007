package search

import (
	"context"
	"encoding/json"

	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

func decodeInto[T any](payload json.RawMessage) (T, error) {
	var req T
	err := json.Unmarshal(payload, &req)
	return req, err
}

// RegisterIndexTasks exposes the index lifecycle on the es_index queue.
func RegisterIndexTasks(reg *tasks.Registry, svc *IndexService) error {
	handlers := map[string]tasks.Handler{
		tasks.TaskESCreateIndex: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[CreateIndexPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.CreateIndex(ctx, req)
		},
		tasks.TaskESAliasSwitch: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[AliasSwitchPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.AliasSwitch(ctx, req)
		},
		tasks.TaskESBulkIndex: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[BulkIndexPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.BulkIngest(ctx, req)
		},
		tasks.TaskESIngestDocindex: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[IngestDocindexPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.IngestDocindex(ctx, req)
		},
		tasks.TaskESRebuildFull: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[RebuildFullPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.RebuildFull(ctx, req)
		},
		tasks.TaskESRebuildPartial: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[RebuildPartialPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.RebuildPartial(ctx, req)
		},
		tasks.TaskESDeleteByQuery: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[DeleteByQueryPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.DeleteByQuery(ctx, req)
		},
	}
	for name, handler := range handlers {
		if err := reg.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSearchTasks exposes the query operations on the es_search queue.
func RegisterSearchTasks(reg *tasks.Registry, svc *SearchService) error {
	handlers := map[string]tasks.Handler{
		tasks.TaskESSearch: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[TextSearchPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.Search(ctx, req)
		},
		tasks.TaskESSearchVector: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[VectorSearchPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.SearchVector(ctx, req)
		},
		tasks.TaskESSearchHybrid: func(ctx context.Context, payload json.RawMessage) (any, error) {
			req, err := decodeInto[HybridSearchPayload](payload)
			if err != nil {
				return nil, err
			}
			return svc.SearchHybrid(ctx, req)
		},
	}
	for name, handler := range handlers {
		if err := reg.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}
