package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yungbote/knowledgeflow-backend/internal/monitoring"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
)

// Worker consumes conversion jobs. One instance serves the whole process;
// jobs with a storage override get a fresh uncached store for their run.
type Worker struct {
	log      *logger.Logger
	cfg      Settings
	registry *Registry
	attach   *storage.AttachClient
	workDir  string
}

func NewWorker(log *logger.Logger, cfg Settings, registry *Registry, attach *storage.AttachClient) (*Worker, error) {
	if registry == nil {
		return nil, fmt.Errorf("conversion worker requires a plugin registry")
	}
	return &Worker{
		log:      log.With("service", "ConversionWorker"),
		cfg:      cfg,
		registry: registry,
		attach:   attach,
		workDir:  filepath.Join(os.TempDir(), "knowledgeflow", "convert"),
	}, nil
}

func (w *Worker) storeFor(override *storage.Override) (*storage.Store, bool, error) {
	derived := w.cfg.Minio.WithOverride(override)
	if override.Empty() {
		s, err := storage.NewStore(w.log, derived)
		return s, true, err
	}
	s, err := storage.NewUncachedStore(w.log, derived)
	return s, false, err
}

// HandleBatch processes every file in order. Per-file failures are recorded
// and never abort the batch.
func (w *Worker) HandleBatch(ctx context.Context, payload JobPayload) (BatchResult, error) {
	taskID := payload.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	log := w.log.With("task_id", taskID)

	store, cached, err := w.storeFor(payload.Storage)
	if err != nil {
		return BatchResult{TaskID: taskID, Status: StatusFailed}, fmt.Errorf("storage init: %w", err)
	}
	log.Debug("Conversion batch started", "files", len(payload.Files), "cached_store", cached)

	mat := storage.NewMaterializer(w.log, store, w.attach, w.workDir)
	monitoring.ActiveConversions.Inc()
	defer monitoring.ActiveConversions.Dec()

	results := make([]FileResult, 0, len(payload.Files))
	for _, file := range payload.Files {
		results = append(results, w.convertFile(ctx, log, store, mat, taskID, file))
	}
	return BatchResult{TaskID: taskID, Status: StatusSuccess, Results: results}, nil
}

func (w *Worker) convertFile(ctx context.Context, log *logger.Logger, store *storage.Store, mat *storage.Materializer, taskID string, file FileSpec) FileResult {
	source := NormalizeFormat(file.SourceFormat)
	target := NormalizeFormat(file.TargetFormat)
	locator := file.Locator()

	fail := func(reason string) FileResult {
		log.Error("Conversion failed", "source", source, "target", target, "reason", reason)
		monitoring.RecordTaskCompleted(StatusFailed)
		return FileResult{Source: source, Target: target, Status: StatusFailed, Reason: reason}
	}

	passthrough := target == "" || NormalizeSourceFormat(source) == NormalizeSourceFormat(target)

	var plugin Plugin
	if !passthrough {
		p, err := w.registry.Get(source, target)
		if err != nil {
			return fail(fmt.Sprintf("Unsupported format %s->%s (source=%s)", source, target, locator.Describe()))
		}
		plugin = p
	}

	inputPath, err := mat.Materialize(ctx, locator)
	if err != nil {
		return fail(fmt.Sprintf("Input preparation failed (source=%s): %v", locator.Describe(), err))
	}

	if passthrough {
		return w.finishFile(ctx, log, store, taskID, FileResult{
			Source: source,
			Target: source,
			Status: StatusSuccess,
			Metadata: map[string]any{
				"passthrough": true,
			},
		}, inputPath, file)
	}

	in := ConversionInput{
		SourceFormat: source,
		TargetFormat: target,
		InputPath:    inputPath,
		InputURL:     file.InputURL,
		ObjectKey:    file.ObjectKey,
		Metadata: map[string]any{
			"page_limit":       file.PageLimit,
			"duration_seconds": file.DurationSeconds,
		},
	}

	out, err := plugin.Convert(ctx, in)
	if err != nil {
		return fail(err.Error())
	}

	if out.OutputPath != "" && target == "pdf" && file.PageLimit != nil && *file.PageLimit > 0 {
		if err := TrimPDFPages(out.OutputPath, *file.PageLimit); err != nil {
			log.Warn("Page trim failed", "path", out.OutputPath, "error", err)
		}
	}

	res := FileResult{
		Source:     source,
		Target:     target,
		Status:     StatusSuccess,
		OutputPath: out.OutputPath,
		ObjectKey:  out.ObjectKey,
		Metadata:   out.Metadata,
	}
	return w.finishFile(ctx, log, store, taskID, res, out.OutputPath, file)
}

// finishFile uploads the output, composes the download URL, mirrors to the
// attach server best-effort, and copies test artifacts when configured.
func (w *Worker) finishFile(ctx context.Context, log *logger.Logger, store *storage.Store, taskID string, res FileResult, outputPath string, file FileSpec) FileResult {
	if res.OutputPath == "" {
		res.OutputPath = outputPath
	}
	if store == nil {
		w.storeTestArtifact(log, outputPath, taskID)
		monitoring.RecordTaskCompleted(res.Status)
		return res
	}
	if res.ObjectKey == "" && outputPath != "" {
		key := fmt.Sprintf("converted/%s/%s", taskID, filepath.Base(outputPath))
		if err := store.PutFile(ctx, key, outputPath); err != nil {
			log.Warn("Output upload failed", "object_key", key, "error", err)
		} else {
			res.ObjectKey = key
		}
	}
	if res.ObjectKey != "" {
		url, err := store.DownloadURL(ctx, res.ObjectKey)
		if err != nil {
			log.Warn("Download URL composition failed", "object_key", res.ObjectKey, "error", err)
		} else {
			res.DownloadURL = url
		}
	}

	// Legacy consumers read from the attach server; its failures never fail
	// the file.
	if w.attach != nil && outputPath != "" {
		up, err := w.attach.Upload(ctx, outputPath, file.Filename)
		if err != nil {
			log.Warn("Attach mirror upload failed", "path", outputPath, "error", err)
		} else {
			res.ExternalFileID = up.FileID
		}
	}

	w.storeTestArtifact(log, outputPath, taskID)
	monitoring.RecordTaskCompleted(res.Status)
	return res
}

func (w *Worker) storeTestArtifact(log *logger.Logger, path, taskID string) {
	dir := w.cfg.TestArtifactsDir
	if dir == "" || path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Debug("Unable to create test artifacts dir", "dir", dir, "error", err)
		return
	}
	destName := filepath.Base(path)
	if taskID != "" {
		destName = taskID + "_" + destName
	}
	if err := copyFile(path, filepath.Join(dir, destName)); err != nil {
		log.Debug("Unable to persist test artifact", "path", path, "error", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
