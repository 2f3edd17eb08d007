package video

import (
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// Settings tunes segmentation, keyframe sampling, and the fan-out waits.
type Settings struct {
	FrameSampleFPS       float64
	FixedSegmentSeconds  int
	SceneChangeThreshold float64
	SceneMinDurationSec  float64
	FrameCaptionMax      int
	FramePrompt          string
	ASRTimeoutSec        int
	VisionTimeoutSec     int
}

func LoadSettings(log *logger.Logger) Settings {
	return Settings{
		FrameSampleFPS:       utils.GetEnvAsFloat("VIDEO_FRAME_SAMPLE_FPS", 0.5, log),
		FixedSegmentSeconds:  utils.GetEnvAsInt("VIDEO_FIXED_SEGMENT_SECONDS", 30, log),
		SceneChangeThreshold: utils.GetEnvAsFloat("VIDEO_SCENE_CHANGE_THRESHOLD", 0.35, log),
		SceneMinDurationSec:  utils.GetEnvAsFloat("VIDEO_SCENE_MIN_DURATION_SEC", 5.0, log),
		FrameCaptionMax:      utils.GetEnvAsInt("VIDEO_FRAME_CAPTION_MAX", 8, log),
		FramePrompt:          utils.GetEnv("VIDEO_FRAME_PROMPT", "请用一句话描述画面主体与场景", log),
		ASRTimeoutSec:        utils.GetEnvAsInt("VIDEO_ASR_TIMEOUT_SEC", 300, log),
		VisionTimeoutSec:     utils.GetEnvAsInt("VIDEO_VISION_TIMEOUT_SEC", 180, log),
	}
}
