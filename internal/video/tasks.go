package video

import (
	"context"
	"encoding/json"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/asr"
	"github.com/yungbote/knowledgeflow-backend/internal/clients/llm"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// RegisterTasks exposes the slicing pipeline on the video queue.
func RegisterTasks(reg *tasks.Registry, svc *Service) error {
	return reg.Register(tasks.TaskVideoSlice, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return svc.Process(ctx, req)
	})
}

// RegisterASRTasks exposes segment transcription on the video_asr queue.
func RegisterASRTasks(reg *tasks.Registry, client *asr.Client) error {
	return reg.Register(tasks.TaskVideoTranscribe, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req TranscribePayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return client.TranscribeURL(ctx, req.InputURL)
	})
}

// RegisterVisionTasks exposes frame captioning on the video_vision queue.
func RegisterVisionTasks(reg *tasks.Registry, client *llm.Client, cfg Settings) error {
	return reg.Register(tasks.TaskVideoCaption, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req CaptionPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		prompt := req.Prompt
		if prompt == "" {
			prompt = cfg.FramePrompt
		}
		text, err := client.CaptionImage(ctx, req.URL, prompt)
		if err != nil {
			return nil, err
		}
		return CaptionResult{Text: text}, nil
	})
}
