package meta

import (
	"github.com/yungbote/knowledgeflow-backend/internal/clients/llm"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// Settings bounds the enrichment walk and shapes the extraction prompt.
type Settings struct {
	MaxChunks      int
	SummaryWords   int
	PromptTemplate string
	OutputPrefix   string
}

func LoadSettings(log *logger.Logger) Settings {
	return Settings{
		MaxChunks:      utils.GetEnvAsInt("META_MAX_CHUNKS", 30, log),
		SummaryWords:   utils.GetEnvAsInt("META_SUMMARY_WORDS", 120, log),
		PromptTemplate: utils.GetEnv("META_PROMPT_TEMPLATE", defaultPromptTemplate, log),
		OutputPrefix:   utils.GetEnv("META_OUTPUT_PREFIX", "meta", log),
	}
}

// LoadLLMConfig reads the META_ endpoint settings for the extraction model.
func LoadLLMConfig(log *logger.Logger) llm.Config {
	return llm.Config{
		APIBase:           utils.GetEnv("META_API_BASE", "https://dashscope.aliyuncs.com/compatible-mode/v1", log),
		APIKey:            utils.GetEnvFirst([]string{"META_API_KEY", "DASHSCOPE_API_KEY"}, "", log),
		Model:             utils.GetEnv("META_MODEL", "qwen-plus", log),
		RequestTimeoutSec: utils.GetEnvAsInt("META_REQUEST_TIMEOUT_SEC", 60, log),
	}
}
