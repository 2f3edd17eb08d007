package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/llm"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// Request locates a manifest to enrich and where to store the result.
type Request struct {
	TaskID            string `json:"task_id,omitempty"`
	ManifestObjectKey string `json:"manifest_object_key,omitempty"`
	ManifestURL       string `json:"manifest_url,omitempty"`
	InputURL          string `json:"input_url,omitempty"`
	OutputObjectKey   string `json:"output_object_key,omitempty"`
}

type StoredOutput struct {
	ObjectKey string `json:"object_key"`
	URL       string `json:"url,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
}

type Output struct {
	TaskID string       `json:"task_id"`
	Output StoredOutput `json:"output"`
}

// Service enriches mm-schema manifests with LLM-extracted metadata.
type Service struct {
	log     *logger.Logger
	cfg     Settings
	store   *storage.Store
	llm     *llm.Client
	workDir string
}

func NewService(log *logger.Logger, cfg Settings, store *storage.Store, client *llm.Client) *Service {
	return &Service{
		log:     log.With("service", "MetaEnricher"),
		cfg:     cfg,
		store:   store,
		llm:     client,
		workDir: filepath.Join(os.TempDir(), "knowledgeflow", "meta"),
	}
}

// deriveOutputKey places the enriched manifest next to the original when
// its object key is known, else under the meta prefix.
func deriveOutputKey(taskID, prefix, manifestObjectKey, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if manifestObjectKey != "" {
		return path.Join(path.Dir(manifestObjectKey), "mm-schema.meta.json")
	}
	return fmt.Sprintf("%s/%s/mm-schema.meta.json", prefix, taskID)
}

// Process downloads the manifest, enriches it, and uploads the annotated
// copy next to the original (or under the meta prefix).
func (s *Service) Process(ctx context.Context, req Request) (Output, error) {
	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return Output{}, err
	}
	workdir, err := os.MkdirTemp(s.workDir, "meta-")
	if err != nil {
		return Output{}, err
	}
	defer os.RemoveAll(workdir)

	inputURL := req.ManifestURL
	if inputURL == "" {
		inputURL = req.InputURL
	}
	if req.ManifestObjectKey == "" && inputURL == "" {
		return Output{}, fmt.Errorf("manifest_object_key or manifest_url is required")
	}
	mat := storage.NewMaterializer(s.log, s.store, nil, workdir)
	manifestPath, err := mat.Materialize(ctx, storage.Locator{
		ObjectKey: req.ManifestObjectKey,
		InputURL:  inputURL,
	})
	if err != nil {
		return Output{}, fmt.Errorf("load manifest: %w", err)
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return Output{}, err
	}
	var manifest map[string]any
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Output{}, fmt.Errorf("parse manifest: %w", err)
	}

	enriched := s.EnrichManifest(ctx, manifest)

	outputKey := deriveOutputKey(taskID, s.cfg.OutputPrefix, req.ManifestObjectKey, req.OutputObjectKey)

	encoded, err := json.MarshalIndent(enriched, "", "  ")
	if err != nil {
		return Output{}, fmt.Errorf("encode manifest: %w", err)
	}
	outPath := filepath.Join(workdir, "mm-schema.meta.json")
	if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
		return Output{}, err
	}

	stored := StoredOutput{ObjectKey: outputKey}
	if s.store != nil {
		if err := s.store.PutFile(ctx, outputKey, outPath); err != nil {
			return Output{}, fmt.Errorf("upload enriched manifest: %w", err)
		}
		stored.Bucket = s.store.Bucket()
		if url, err := s.store.DownloadURL(ctx, outputKey); err == nil {
			stored.URL = url
		} else {
			s.log.Warn("Download URL failed", "object_key", outputKey, "error", err)
		}
	}

	s.log.Info("Manifest enriched", "task_id", taskID, "output_key", outputKey)
	return Output{TaskID: taskID, Output: stored}, nil
}

// RegisterTasks exposes the enricher on the meta queue.
func RegisterTasks(reg *tasks.Registry, svc *Service) error {
	return reg.Register(tasks.TaskMetaEnrich, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return svc.Process(ctx, req)
	})
}
