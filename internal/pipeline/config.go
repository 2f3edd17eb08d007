package pipeline

import (
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// Settings controls sampling and the orchestrator's wait budget.
type Settings struct {
	SamplePages          int     `yaml:"sample_pages"`
	SamplePageRatio      float64 `yaml:"sample_page_ratio"`
	SampleCharLimit      int     `yaml:"sample_char_limit"`
	ConversionTimeoutSec int     `yaml:"conversion_timeout_sec"`
	ProbeTimeoutSec      int     `yaml:"probe_timeout_sec"`
	UploadPrefix         string  `yaml:"upload_prefix"`
}

func LoadSettings(log *logger.Logger) Settings {
	return Settings{
		SamplePages:          utils.GetEnvAsInt("PIPELINE_SAMPLE_PAGES", 5, log),
		SamplePageRatio:      utils.GetEnvAsFloat("PIPELINE_SAMPLE_PAGE_RATIO", 0.2, log),
		SampleCharLimit:      utils.GetEnvAsInt("PIPELINE_SAMPLE_CHAR_LIMIT", 5000, log),
		ConversionTimeoutSec: utils.GetEnvAsInt("PIPELINE_CONVERSION_TIMEOUT_SEC", 60, log),
		ProbeTimeoutSec:      utils.GetEnvAsInt("PIPELINE_PROBE_TIMEOUT_SEC", 180, log),
		UploadPrefix:         utils.GetEnv("PIPELINE_UPLOAD_PREFIX", "uploads", log),
	}
}
