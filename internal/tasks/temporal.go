package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/knowledgeflow-backend/internal/monitoring"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// Workflow and activity names shared with the worker runtime.
const (
	WorkflowRunTask = "task_run"
	ActivityRunTask = "task_run_execute"
)

// TaskInput is the single argument of the generic task workflow.
type TaskInput struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// TemporalDispatcher starts one generic workflow per task on the task's
// queue. Results are mirrored to redis by the activity so Status can answer
// without replaying history.
type TemporalDispatcher struct {
	log     *logger.Logger
	tc      temporalsdkclient.Client
	results *ResultStore
}

func NewTemporalDispatcher(log *logger.Logger, tc temporalsdkclient.Client, results *ResultStore) (*TemporalDispatcher, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal dispatcher requires a client")
	}
	return &TemporalDispatcher{
		log:     log.With("service", "TemporalDispatcher"),
		tc:      tc,
		results: results,
	}, nil
}

func (d *TemporalDispatcher) start(ctx context.Context, name string, payload any) (temporalsdkclient.WorkflowRun, string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload for %s: %w", name, err)
	}
	id := "task-" + uuid.NewString()
	run, err := d.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        id,
		TaskQueue: QueueFor(name),
	}, WorkflowRunTask, TaskInput{Name: name, Payload: raw})
	if err != nil {
		return nil, "", fmt.Errorf("start task %s: %w", name, err)
	}
	monitoring.RecordQueueTask(QueueFor(name), name)
	return run, id, nil
}

func (d *TemporalDispatcher) Submit(ctx context.Context, name string, payload any) (string, error) {
	_, id, err := d.start(ctx, name, payload)
	if err != nil {
		return "", err
	}
	d.log.Debug("Task submitted", "task", name, "task_id", id, "queue", QueueFor(name))
	return id, nil
}

func (d *TemporalDispatcher) Call(ctx context.Context, name string, payload any, timeout time.Duration, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	run, id, err := d.start(ctx, name, payload)
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if err := run.Get(ctx, &raw); err != nil {
		return fmt.Errorf("task %s (%s): %w", name, id, err)
	}
	return decodeResult(raw, out)
}

func (d *TemporalDispatcher) Status(ctx context.Context, id string) (State, error) {
	if d.results != nil {
		if state, ok, err := d.results.Get(ctx, id); err == nil && ok {
			return state, nil
		}
	}

	desc, err := d.tc.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return State{ID: id, Status: StatusPending}, nil
	}
	info := desc.GetWorkflowExecutionInfo()
	if info == nil {
		return State{ID: id, Status: StatusPending}, nil
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return State{ID: id, Status: StatusStarted}, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var raw json.RawMessage
		if err := d.tc.GetWorkflow(ctx, id, "").Get(ctx, &raw); err != nil {
			return State{ID: id, Status: StatusFailure, Error: err.Error()}, nil
		}
		return State{ID: id, Status: StatusSuccess, Result: raw}, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return State{ID: id, Status: StatusFailure, Error: info.GetStatus().String()}, nil
	default:
		return State{ID: id, Status: StatusPending}, nil
	}
}
