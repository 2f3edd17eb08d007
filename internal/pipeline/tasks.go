package pipeline

import (
	"context"
	"encoding/json"

	"github.com/yungbote/knowledgeflow-backend/internal/convert"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// RegisterTasks exposes the orchestrator on the pipeline queue.
func RegisterTasks(reg *tasks.Registry, svc *Service) error {
	if err := reg.Register(tasks.TaskExtractAndProbe, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var conversion convert.BatchResult
		if err := json.Unmarshal(payload, &conversion); err != nil {
			return nil, err
		}
		return svc.ExtractAndProbe(ctx, conversion)
	}); err != nil {
		return err
	}

	return reg.Register(tasks.TaskRunDocumentPipeline, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var job convert.JobPayload
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, err
		}
		return svc.RunDocumentPipeline(ctx, job)
	})
}
