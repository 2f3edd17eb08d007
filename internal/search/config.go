package search

import (
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// IndexSettings drives index lifecycle operations. Env keys use the
// ES_INDEX_SERVICE_ prefix; the older ES_SERVICE_ prefix is honored as
// a fallback so existing deployments keep working.
type IndexSettings struct {
	Client       ClientConfig
	BaseIndex    string
	DefaultIndex string
	ReadAlias    string
	WriteAlias   string
	MappingPath  string
	VectorDims   int
	Similarity   string
}

// SearchSettings drives query building and dispatch.
type SearchSettings struct {
	Client               ClientConfig
	ReadAlias            string
	VectorField          string
	DefaultNumCandidates int
	TextFields           []string
}

func loadClientConfig(prefix string, log *logger.Logger) ClientConfig {
	return ClientConfig{
		Endpoint:          utils.GetEnvFirst([]string{prefix + "ENDPOINT", "ES_SERVICE_ENDPOINT"}, "http://localhost:9200", log),
		Username:          utils.GetEnvFirst([]string{prefix + "USERNAME", "ES_SERVICE_USERNAME"}, "", log),
		Password:          utils.GetEnvFirst([]string{prefix + "PASSWORD", "ES_SERVICE_PASSWORD"}, "", log),
		VerifySSL:         utils.GetEnvAsBool(prefix+"VERIFY_SSL", true, log),
		RequestTimeoutSec: utils.GetEnvAsInt(prefix+"REQUEST_TIMEOUT_SEC", 30, log),
	}
}

func LoadIndexSettings(log *logger.Logger) IndexSettings {
	return IndexSettings{
		Client:       loadClientConfig("ES_INDEX_SERVICE_", log),
		BaseIndex:    utils.GetEnvFirst([]string{"ES_INDEX_SERVICE_BASE_INDEX", "ES_SERVICE_BASE_INDEX"}, "kb_chunks", log),
		DefaultIndex: utils.GetEnvFirst([]string{"ES_INDEX_SERVICE_DEFAULT_INDEX", "ES_SERVICE_DEFAULT_INDEX"}, "kb_chunks_v1", log),
		ReadAlias:    utils.GetEnvFirst([]string{"ES_INDEX_SERVICE_READ_ALIAS", "ES_SERVICE_READ_ALIAS"}, "kb_chunks", log),
		WriteAlias:   utils.GetEnvFirst([]string{"ES_INDEX_SERVICE_WRITE_ALIAS", "ES_SERVICE_WRITE_ALIAS"}, "kb_chunks_write", log),
		MappingPath:  utils.GetEnv("ES_INDEX_SERVICE_MAPPING_PATH", "config/kb_chunks_v1_mapping.json", log),
		VectorDims:   utils.GetEnvAsInt("ES_INDEX_SERVICE_VECTOR_DIMS", 1536, log),
		Similarity:   utils.GetEnv("ES_INDEX_SERVICE_SIMILARITY", "cosine", log),
	}
}

func LoadSearchSettings(log *logger.Logger) SearchSettings {
	return SearchSettings{
		Client:               loadClientConfig("ES_SEARCH_SERVICE_", log),
		ReadAlias:            utils.GetEnvFirst([]string{"ES_SEARCH_SERVICE_READ_ALIAS", "ES_SERVICE_READ_ALIAS"}, "kb_chunks", log),
		VectorField:          utils.GetEnv("ES_SEARCH_SERVICE_VECTOR_FIELD", "embedding", log),
		DefaultNumCandidates: utils.GetEnvAsInt("ES_SEARCH_SERVICE_NUM_CANDIDATES", 200, log),
		TextFields: utils.GetEnvAsStringSlice("ES_SEARCH_SERVICE_TEXT_FIELDS", []string{
			"title^2", "content^3", "summary", "keywords^1.5", "content_values",
		}, log),
	}
}
