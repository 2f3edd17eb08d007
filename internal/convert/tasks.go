package convert

import (
	"context"
	"encoding/json"

	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// RegisterTasks exposes the batch worker on the conversion queue.
func RegisterTasks(reg *tasks.Registry, w *Worker) error {
	return reg.Register(tasks.TaskConvertBatch, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var job JobPayload
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, err
		}
		return w.HandleBatch(ctx, job)
	})
}
