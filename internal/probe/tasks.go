package probe

import (
	"context"
	"encoding/json"

	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// ExtractSignalsPayload is the probe.extract_signals task argument.
type ExtractSignalsPayload struct {
	Samples []string `json:"samples"`
}

// RecommendPayload is the probe.recommend_strategy task argument.
type RecommendPayload struct {
	Profile        Profile       `json:"profile"`
	Samples        []string      `json:"samples,omitempty"`
	Custom         *CustomConfig `json:"custom,omitempty"`
	EmitCandidates bool          `json:"emit_candidates,omitempty"`
	SourceFormat   string        `json:"source_format,omitempty"`
}

// RegisterTasks exposes the probe engine on the probe queue.
func RegisterTasks(reg *tasks.Registry) error {
	if err := reg.Register(tasks.TaskProbeExtractSignals, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in ExtractSignalsPayload
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		profile, err := ExtractSignals(in.Samples)
		if err != nil {
			return nil, err
		}
		return profile.Rounded(), nil
	}); err != nil {
		return err
	}

	return reg.Register(tasks.TaskProbeRecommend, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in RecommendPayload
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		rec := RecommendStrategy(in.Profile, RecommendOptions{
			Samples:        in.Samples,
			Custom:         in.Custom,
			EmitCandidates: in.EmitCandidates,
			SourceFormat:   in.SourceFormat,
		})
		return rec, nil
	})
}
