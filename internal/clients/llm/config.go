package llm

import (
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// Config points at an OpenAI-compatible chat/embeddings endpoint.
type Config struct {
	APIBase           string
	APIKey            string
	Model             string
	VisionModel       string
	EmbedModel        string
	Stream            bool
	EnableThinking    bool
	RequestTimeoutSec int
}

// LoadConfig reads the LLM_ environment. The API key falls back to
// DASHSCOPE_API_KEY so a single credential can serve every worker.
func LoadConfig(log *logger.Logger) Config {
	return Config{
		APIBase:           utils.GetEnv("LLM_API_BASE", "https://dashscope.aliyuncs.com/compatible-mode/v1", log),
		APIKey:            utils.GetEnvFirst([]string{"LLM_API_KEY", "DASHSCOPE_API_KEY"}, "", log),
		Model:             utils.GetEnv("LLM_MODEL", "qwen-plus", log),
		VisionModel:       utils.GetEnv("LLM_VISION_MODEL", "qwen-vl-plus", log),
		EmbedModel:        utils.GetEnv("LLM_EMBED_MODEL", "text-embedding-v1", log),
		Stream:            utils.GetEnvAsBool("LLM_STREAM", false, log),
		EnableThinking:    utils.GetEnvAsBool("LLM_ENABLE_THINKING", false, log),
		RequestTimeoutSec: utils.GetEnvAsInt("LLM_REQUEST_TIMEOUT_SEC", 60, log),
	}
}

// LoadVectorConfig reads the VECTOR_ environment for the embedding and
// rerank worker, which talks to the same style of endpoint.
func LoadVectorConfig(log *logger.Logger) Config {
	return Config{
		APIBase:           utils.GetEnv("VECTOR_API_BASE", "https://dashscope.aliyuncs.com/compatible-mode/v1", log),
		APIKey:            utils.GetEnvFirst([]string{"VECTOR_API_KEY", "DASHSCOPE_API_KEY"}, "", log),
		Model:             utils.GetEnv("VECTOR_RERANK_MODEL", "qwen-plus", log),
		EmbedModel:        utils.GetEnv("VECTOR_EMBED_MODEL", "text-embedding-v1", log),
		RequestTimeoutSec: utils.GetEnvAsInt("VECTOR_REQUEST_TIMEOUT_SEC", 60, log),
	}
}
