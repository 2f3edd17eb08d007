package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/knowledgeflow-backend/internal/monitoring"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// EagerDispatcher runs handlers inline in the calling goroutine. It backs
// the single-binary mode and tests; results are held in memory.
type EagerDispatcher struct {
	log *logger.Logger
	reg *Registry

	mu     sync.RWMutex
	states map[string]State
}

func NewEagerDispatcher(log *logger.Logger, reg *Registry) *EagerDispatcher {
	return &EagerDispatcher{
		log:    log.With("service", "EagerDispatcher"),
		reg:    reg,
		states: map[string]State{},
	}
}

func (d *EagerDispatcher) run(ctx context.Context, name string, payload any) (string, State) {
	id := uuid.NewString()
	state := State{ID: id, Name: name, Status: StatusStarted}
	monitoring.RecordQueueTask(QueueFor(name), name)

	reg, err := d.reg.Get(name)
	if err != nil {
		state.Status = StatusFailure
		state.Error = err.Error()
		return id, state
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		state.Status = StatusFailure
		state.Error = fmt.Sprintf("encode payload: %v", err)
		return id, state
	}

	result, err := reg.Handler(ctx, raw)
	if err != nil {
		d.log.Error("Task failed", "task", name, "task_id", id, "error", err)
		state.Status = StatusFailure
		state.Error = err.Error()
		return id, state
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		state.Status = StatusFailure
		state.Error = fmt.Sprintf("encode result: %v", err)
		return id, state
	}
	state.Status = StatusSuccess
	state.Result = encoded
	return id, state
}

func (d *EagerDispatcher) store(state State) {
	d.mu.Lock()
	d.states[state.ID] = state
	d.mu.Unlock()
}

func (d *EagerDispatcher) Submit(ctx context.Context, name string, payload any) (string, error) {
	id, state := d.run(ctx, name, payload)
	d.store(state)
	return id, nil
}

func (d *EagerDispatcher) Call(ctx context.Context, name string, payload any, timeout time.Duration, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	id, state := d.run(ctx, name, payload)
	d.store(state)
	if state.Status == StatusFailure {
		return fmt.Errorf("task %s (%s): %s", name, id, state.Error)
	}
	return decodeResult(state.Result, out)
}

func (d *EagerDispatcher) Status(ctx context.Context, id string) (State, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	state, ok := d.states[id]
	if !ok {
		return State{ID: id, Status: StatusPending}, nil
	}
	return state, nil
}
