package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/knowledgeflow-backend/internal/convert"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/probe"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// Result is the orchestrator's composite output.
type Result struct {
	Conversion     convert.BatchResult  `json:"conversion"`
	Profile        probe.Profile        `json:"profile"`
	Recommendation probe.Recommendation `json:"recommendation"`
}

// Service is the pipeline orchestrator: the only component that crosses
// queues. It chains conversion into probing and owns PDF/MD sampling.
type Service struct {
	log        *logger.Logger
	cfg        Settings
	store      *storage.Store
	dispatcher tasks.Dispatcher
	rnd        *rand.Rand
	workDir    string
}

func NewService(log *logger.Logger, cfg Settings, store *storage.Store, dispatcher tasks.Dispatcher) *Service {
	return &Service{
		log:        log.With("service", "PipelineOrchestrator"),
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		workDir:    filepath.Join(os.TempDir(), "knowledgeflow", "pipeline"),
	}
}

func (s *Service) probeTimeout() time.Duration {
	return time.Duration(s.cfg.ProbeTimeoutSec) * time.Second
}

// ChainTimeout bounds a synchronous conversion+probe wait.
func (s *Service) ChainTimeout() time.Duration {
	return time.Duration(s.cfg.ConversionTimeoutSec+s.cfg.ProbeTimeoutSec) * time.Second
}

func firstSuccess(results []convert.FileResult) *convert.FileResult {
	for i := range results {
		r := &results[i]
		if r.Status == convert.StatusSuccess && (r.ObjectKey != "" || r.OutputPath != "") {
			return r
		}
	}
	return nil
}

func (s *Service) downloadToTemp(ctx context.Context, objectKey string) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("object store is not configured")
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(s.workDir, randomHex(8)+filepath.Ext(objectKey))
	if err := s.store.GetToFile(ctx, objectKey, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rand.Intn(256))
	}
	return hex.EncodeToString(buf)
}

// ExtractAndProbe samples the first successful conversion artifact and runs
// the probe tasks on the probe queue.
func (s *Service) ExtractAndProbe(ctx context.Context, conversion convert.BatchResult) (Result, error) {
	picked := firstSuccess(conversion.Results)
	if picked == nil {
		return Result{}, fmt.Errorf("no successful conversion result with object_key or output_path")
	}

	artifactPath := ""
	if picked.OutputPath != "" {
		if _, err := os.Stat(picked.OutputPath); err == nil {
			artifactPath = picked.OutputPath
		}
	}
	if artifactPath == "" {
		if picked.ObjectKey == "" {
			return Result{}, fmt.Errorf("missing object_key for converted artifact")
		}
		path, err := s.downloadToTemp(ctx, picked.ObjectKey)
		if err != nil {
			return Result{}, fmt.Errorf("fetch artifact %s: %w", picked.ObjectKey, err)
		}
		artifactPath = path
	}

	sourceFormat := ""
	if picked.Source != "" {
		sourceFormat = convert.NormalizeSourceFormat(picked.Source)
	}
	targetFormat := picked.Target
	if targetFormat == "" {
		targetFormat = strings.TrimPrefix(filepath.Ext(artifactPath), ".")
	}
	targetFormat = convert.NormalizeTargetFormat(targetFormat)

	var samples []string
	var selectedPages []int
	var err error
	if convert.IsMarkdownTarget(targetFormat) || strings.EqualFold(filepath.Ext(artifactPath), ".md") {
		samples, selectedPages, err = s.SampleMarkdown(artifactPath)
	} else {
		samples, selectedPages, err = s.SamplePDF(artifactPath, s.cfg.SamplePages)
	}
	if err != nil {
		return Result{}, fmt.Errorf("sample artifact %s: %w", artifactPath, err)
	}
	s.log.Info("Samples ready", "pages", selectedPages, "sample_count", len(samples))

	var profile probe.Profile
	if err := s.dispatcher.Call(ctx, tasks.TaskProbeExtractSignals,
		probe.ExtractSignalsPayload{Samples: samples}, s.probeTimeout(), &profile); err != nil {
		return Result{}, fmt.Errorf("probe signals: %w", err)
	}
	profile = profile.Rounded()

	var recommendation probe.Recommendation
	if err := s.dispatcher.Call(ctx, tasks.TaskProbeRecommend, probe.RecommendPayload{
		Profile:        profile,
		Samples:        samples,
		EmitCandidates: true,
		SourceFormat:   sourceFormat,
	}, s.probeTimeout(), &recommendation); err != nil {
		return Result{}, fmt.Errorf("probe recommendation: %w", err)
	}
	recommendation.Profile = recommendation.Profile.Rounded()

	s.log.Info("Recommendation ready", "strategy", recommendation.StrategyID, "mode_id", recommendation.ModeID)
	return Result{
		Conversion:     conversion,
		Profile:        profile,
		Recommendation: recommendation,
	}, nil
}

// preparePayload normalizes formats, prefers markdown over rendered pdf for
// textual sources, and defaults page_limit to the sampling window.
func (s *Service) preparePayload(payload convert.JobPayload) convert.JobPayload {
	files := make([]convert.FileSpec, len(payload.Files))
	for i, f := range payload.Files {
		f.SourceFormat = convert.NormalizeSourceFormat(f.SourceFormat)
		f.TargetFormat = convert.PreferMarkdownTarget(f.SourceFormat, f.TargetFormat)
		if f.PageLimit == nil {
			limit := s.cfg.SamplePages
			f.PageLimit = &limit
		}
		files[i] = f
	}
	payload.Files = files
	return payload
}

func allPDFPassthrough(files []convert.FileSpec) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if f.SourceFormat != "pdf" || convert.NormalizeTargetFormat(f.TargetFormat) != "pdf" || f.ObjectKey == "" {
			return false
		}
	}
	return true
}

// RunDocumentPipeline chains conversion.handle_batch into extract_and_probe.
// An all-pdf payload with existing object keys skips conversion entirely.
func (s *Service) RunDocumentPipeline(ctx context.Context, payload convert.JobPayload) (Result, error) {
	payload = s.preparePayload(payload)

	if allPDFPassthrough(payload.Files) {
		stub := convert.BatchResult{Status: convert.StatusSuccess}
		for _, f := range payload.Files {
			stub.Results = append(stub.Results, convert.FileResult{
				Source:    f.SourceFormat,
				Target:    convert.NormalizeTargetFormat(f.TargetFormat),
				Status:    convert.StatusSuccess,
				ObjectKey: f.ObjectKey,
				Metadata:  map[string]any{"note": "passthrough pdf"},
			})
		}
		var out Result
		if err := s.dispatcher.Call(ctx, tasks.TaskExtractAndProbe, stub, s.probeTimeout(), &out); err != nil {
			return Result{}, err
		}
		return out, nil
	}

	var conversion convert.BatchResult
	if err := s.dispatcher.Call(ctx, tasks.TaskConvertBatch, payload,
		time.Duration(s.cfg.ConversionTimeoutSec)*time.Second, &conversion); err != nil {
		return Result{}, fmt.Errorf("conversion stage: %w", err)
	}
	var out Result
	if err := s.dispatcher.Call(ctx, tasks.TaskExtractAndProbe, conversion, s.probeTimeout(), &out); err != nil {
		return Result{}, fmt.Errorf("probe stage: %w", err)
	}
	return out, nil
}

// Bucket names the default upload bucket, empty when no store is wired.
func (s *Service) Bucket() string {
	if s.store == nil {
		return ""
	}
	return s.store.Bucket()
}

// SaveUpload stores an uploaded file under the uploads prefix and returns
// its object key.
func (s *Service) SaveUpload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("object store is not configured")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	base := filepath.Base(filename)
	if base == "" || base == "." || base == "/" {
		base = "upload.bin"
	}
	key := fmt.Sprintf("%s/%s_%s", strings.TrimSuffix(s.cfg.UploadPrefix, "/"), randomHex(8), base)
	if err := s.store.PutBytes(ctx, key, data, "application/octet-stream"); err != nil {
		return "", err
	}
	return key, nil
}
