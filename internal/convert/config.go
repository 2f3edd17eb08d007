package convert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

type FileLimitSettings struct {
	DefaultMaxSizeMB     int            `yaml:"default_max_size_mb"`
	PerFormatMaxSizeMB   map[string]int `yaml:"per_format_max_size_mb"`
	MaxTotalUploadSizeMB int            `yaml:"max_total_upload_size_mb"`
	MaxFilesPerTask      int            `yaml:"max_files_per_task"`
}

// MaxSizeMBFor returns the per-format cap, falling back to the default.
func (l FileLimitSettings) MaxSizeMBFor(format string) int {
	if v, ok := l.PerFormatMaxSizeMB[NormalizeFormat(format)]; ok {
		return v
	}
	return l.DefaultMaxSizeMB
}

type AuthSettings struct {
	Required       bool   `yaml:"required"`
	AppSecretsPath string `yaml:"app_secrets_path"`
	HeaderAppID    string `yaml:"header_appid"`
	HeaderKey      string `yaml:"header_key"`
}

type FormatMapping struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Plugin string `yaml:"plugin,omitempty"`
}

// Settings is the conversion engine configuration: defaults, then the YAML
// file named by RAG_CONFIG_FILE, then RAG_* environment overrides.
type Settings struct {
	ServiceName       string           `yaml:"service_name"`
	Environment       string           `yaml:"environment"`
	BaseURL           string           `yaml:"base_url"`
	FileLimits        FileLimitSettings `yaml:"file_limits"`
	Minio             storage.Settings `yaml:"minio"`
	ConvertFormats    []FormatMapping  `yaml:"convert_formats"`
	PluginModulesFile string           `yaml:"plugin_modules_file"`
	TestArtifactsDir  string           `yaml:"test_artifacts_dir"`
	Auth              AuthSettings     `yaml:"api_auth"`
	PrometheusPort    int              `yaml:"prometheus_port"`
}

func defaultSettings() Settings {
	return Settings{
		ServiceName: "rag-conversion-engine",
		Environment: "dev",
		BaseURL:     "/api/v1",
		FileLimits: FileLimitSettings{
			DefaultMaxSizeMB:     100,
			PerFormatMaxSizeMB:   map[string]int{},
			MaxTotalUploadSizeMB: 500,
			MaxFilesPerTask:      10,
		},
		Minio: storage.Settings{
			Endpoint:         "http://minio:9000",
			AccessKey:        "access_key",
			SecretKey:        "secret_key",
			Bucket:           "qadata",
			TimeoutSec:       30,
			PresignExpirySec: 0,
		},
		PluginModulesFile: "./config/plugins.yaml",
		Auth: AuthSettings{
			Required:       true,
			AppSecretsPath: "./secrets/appkeys.json",
			HeaderAppID:    "X-Appid",
			HeaderKey:      "X-Key",
		},
		PrometheusPort: 9091,
	}
}

// LoadConfig layers defaults, the optional YAML file, and the environment.
func LoadConfig(log *logger.Logger) (Settings, error) {
	cfg := defaultSettings()

	if path := os.Getenv("RAG_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("configuration file not found: %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse configuration %s: %w", path, err)
		}
	}

	cfg.ServiceName = utils.GetEnv("RAG_SERVICE_NAME", cfg.ServiceName, log)
	cfg.Environment = utils.GetEnv("RAG_ENVIRONMENT", cfg.Environment, log)
	cfg.BaseURL = utils.GetEnv("RAG_BASE_URL", cfg.BaseURL, log)

	cfg.FileLimits.DefaultMaxSizeMB = utils.GetEnvAsInt("RAG_FILE_LIMITS__DEFAULT_MAX_SIZE_MB", cfg.FileLimits.DefaultMaxSizeMB, log)
	cfg.FileLimits.MaxTotalUploadSizeMB = utils.GetEnvAsInt("RAG_FILE_LIMITS__MAX_TOTAL_UPLOAD_SIZE_MB", cfg.FileLimits.MaxTotalUploadSizeMB, log)
	cfg.FileLimits.MaxFilesPerTask = utils.GetEnvAsInt("RAG_FILE_LIMITS__MAX_FILES_PER_TASK", cfg.FileLimits.MaxFilesPerTask, log)

	cfg.Minio.Endpoint = utils.GetEnv("RAG_MINIO__ENDPOINT", cfg.Minio.Endpoint, log)
	cfg.Minio.PublicEndpoint = utils.GetEnv("RAG_MINIO__PUBLIC_ENDPOINT", cfg.Minio.PublicEndpoint, log)
	cfg.Minio.AccessKey = utils.GetEnv("RAG_MINIO__ACCESS_KEY", cfg.Minio.AccessKey, log)
	cfg.Minio.SecretKey = utils.GetEnv("RAG_MINIO__SECRET_KEY", cfg.Minio.SecretKey, log)
	cfg.Minio.Bucket = utils.GetEnv("RAG_MINIO__BUCKET", cfg.Minio.Bucket, log)
	cfg.Minio.TimeoutSec = utils.GetEnvAsInt("RAG_MINIO__TIMEOUT", cfg.Minio.TimeoutSec, log)
	cfg.Minio.PresignExpirySec = utils.GetEnvAsInt("RAG_MINIO__PRESIGN_EXPIRY_SEC", cfg.Minio.PresignExpirySec, log)

	cfg.PluginModulesFile = utils.GetEnv("RAG_PLUGIN_MODULES_FILE", cfg.PluginModulesFile, log)
	cfg.TestArtifactsDir = utils.GetEnv("RAG_TEST_ARTIFACTS_DIR", cfg.TestArtifactsDir, log)

	cfg.Auth.Required = utils.GetEnvAsBool("RAG_API_AUTH__REQUIRED", cfg.Auth.Required, log)
	cfg.Auth.AppSecretsPath = utils.GetEnv("RAG_API_AUTH__APP_SECRETS_PATH", cfg.Auth.AppSecretsPath, log)
	cfg.Auth.HeaderAppID = utils.GetEnv("RAG_API_AUTH__HEADER_APPID", cfg.Auth.HeaderAppID, log)
	cfg.Auth.HeaderKey = utils.GetEnv("RAG_API_AUTH__HEADER_KEY", cfg.Auth.HeaderKey, log)

	cfg.PrometheusPort = utils.GetEnvAsInt("RAG_MONITORING__PROMETHEUS_PORT", cfg.PrometheusPort, log)

	return cfg, nil
}
