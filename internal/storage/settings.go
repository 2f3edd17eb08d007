package storage

import (
	"strings"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// Settings describes one S3-style object store target. Loaded from the
// RAG_MINIO__* environment block; per-job overrides derive copies of it.
type Settings struct {
	Endpoint         string `yaml:"endpoint"`
	PublicEndpoint   string `yaml:"public_endpoint"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Bucket           string `yaml:"bucket"`
	TimeoutSec       int    `yaml:"timeout"`
	PresignExpirySec int    `yaml:"presign_expiry_sec"`
}

func LoadSettings(log *logger.Logger) Settings {
	return Settings{
		Endpoint:         utils.GetEnv("RAG_MINIO__ENDPOINT", "http://minio:9000", log),
		PublicEndpoint:   utils.GetEnv("RAG_MINIO__PUBLIC_ENDPOINT", "", log),
		AccessKey:        utils.GetEnv("RAG_MINIO__ACCESS_KEY", "access_key", log),
		SecretKey:        utils.GetEnv("RAG_MINIO__SECRET_KEY", "secret_key", log),
		Bucket:           utils.GetEnv("RAG_MINIO__BUCKET", "qadata", log),
		TimeoutSec:       utils.GetEnvAsInt("RAG_MINIO__TIMEOUT", 30, log),
		PresignExpirySec: utils.GetEnvAsInt("RAG_MINIO__PRESIGN_EXPIRY_SEC", 0, log),
	}
}

// Override is the per-job storage override carried in a conversion request.
// Empty fields keep the base setting.
type Override struct {
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
}

func (o *Override) Empty() bool {
	return o == nil || (o.Endpoint == "" && o.AccessKey == "" && o.SecretKey == "" && o.Bucket == "")
}

// WithOverride returns a derived copy; the receiver is never mutated.
func (s Settings) WithOverride(o *Override) Settings {
	if o.Empty() {
		return s
	}
	derived := s
	if o.Endpoint != "" {
		derived.Endpoint = o.Endpoint
	}
	if o.AccessKey != "" {
		derived.AccessKey = o.AccessKey
	}
	if o.SecretKey != "" {
		derived.SecretKey = o.SecretKey
	}
	if o.Bucket != "" {
		derived.Bucket = o.Bucket
	}
	return derived
}

func (s Settings) cacheKey() string {
	return strings.Join([]string{s.Endpoint, s.AccessKey, s.Bucket}, "|")
}
