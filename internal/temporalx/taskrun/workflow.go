package taskrun

import (
	"encoding/json"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// Workflow runs exactly one named task as an activity on the task's home
// queue. Retries are the caller's concern, not the workflow's.
func Workflow(ctx workflow.Context, in tasks.TaskInput) (json.RawMessage, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		TaskQueue:           tasks.QueueFor(in.Name),
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var out json.RawMessage
	if err := workflow.ExecuteActivity(ctx, tasks.ActivityRunTask, in).Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
