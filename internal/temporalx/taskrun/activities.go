package taskrun

import (
	"context"
	"encoding/json"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

type Activities struct {
	Log      *logger.Logger
	Registry *tasks.Registry
	Results  *tasks.ResultStore
}

// Execute looks up and runs the named task handler. The terminal state is
// mirrored to the result backend keyed by workflow id, best-effort.
func (a *Activities) Execute(ctx context.Context, in tasks.TaskInput) (raw json.RawMessage, err error) {
	if a == nil || a.Registry == nil {
		return nil, fmt.Errorf("taskrun: activity not configured")
	}
	workflowID := ""
	if activity.IsActivity(ctx) {
		workflowID = activity.GetInfo(ctx).WorkflowExecution.ID
	}
	log := a.Log.With("task", in.Name, "task_id", workflowID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Task handler panic", "panic", r)
			err = fmt.Errorf("task %s panicked", in.Name)
		}
		a.mirror(ctx, workflowID, in.Name, raw, err)
	}()

	reg, err := a.Registry.Get(in.Name)
	if err != nil {
		return nil, err
	}
	result, err := reg.Handler(ctx, in.Payload)
	if err != nil {
		log.Error("Task failed", "error", err)
		return nil, err
	}
	raw, err = json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result of %s: %w", in.Name, err)
	}
	log.Debug("Task completed")
	return raw, nil
}

func (a *Activities) mirror(ctx context.Context, workflowID, name string, raw json.RawMessage, runErr error) {
	if a.Results == nil || workflowID == "" {
		return
	}
	state := tasks.State{ID: workflowID, Name: name, Status: tasks.StatusSuccess, Result: raw}
	if runErr != nil {
		state.Status = tasks.StatusFailure
		state.Error = runErr.Error()
		state.Result = nil
	}
	if err := a.Results.Set(context.WithoutCancel(ctx), state); err != nil {
		a.Log.Warn("Task result mirror failed", "task_id", workflowID, "error", err)
	}
}
