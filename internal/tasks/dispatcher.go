package tasks

import (
	"context"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// State is the externally visible record of one dispatched task.
type State struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Dispatcher routes named tasks onto their queues. Submit is fire-and-forget
// returning a job id; Call blocks for the result within the timeout.
type Dispatcher interface {
	Submit(ctx context.Context, name string, payload any) (string, error)
	Call(ctx context.Context, name string, payload any, timeout time.Duration, out any) error
	Status(ctx context.Context, id string) (State, error)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeResult(raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
