package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/asr"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

// Request describes one video slicing job.
type Request struct {
	TaskID     string `json:"task_id,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	InputURL   string `json:"input_url,omitempty"`
	KBID       string `json:"kb_id,omitempty"`
	KBType     string `json:"kb_type,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status,omitempty"`
	Language   string `json:"language,omitempty"`

	SceneCut            bool    `json:"scene_cut,omitempty"`
	SceneThreshold      float64 `json:"scene_threshold,omitempty"`
	SceneMinDurationSec float64 `json:"scene_min_duration_sec,omitempty"`
	SegmentSeconds      float64 `json:"segment_seconds,omitempty"`
	FrameSampleFPS      float64 `json:"frame_sample_fps,omitempty"`
	FrameCaptionMax     *int    `json:"frame_caption_max,omitempty"`
	FramePrompt         string  `json:"frame_prompt,omitempty"`
}

// Output points at the stored manifest and embeds it for callers that want
// the chunks inline.
type Output struct {
	TaskID      string   `json:"task_id"`
	Bucket      string   `json:"bucket,omitempty"`
	ManifestKey string   `json:"manifest_key"`
	ManifestURL string   `json:"manifest_url,omitempty"`
	Prefix      string   `json:"prefix"`
	Doc         Manifest `json:"doc"`
}

// TranscribePayload is the video_asr task input.
type TranscribePayload struct {
	InputURL string `json:"input_url"`
}

// CaptionPayload is the video_vision task input.
type CaptionPayload struct {
	URL       string  `json:"url"`
	Timestamp float64 `json:"timestamp"`
	Prompt    string  `json:"prompt,omitempty"`
}

// CaptionResult is the video_vision task output.
type CaptionResult struct {
	Text string `json:"text"`
}

// Service runs the slicing pipeline. ASR and captioning run as tasks on
// their own queues; everything else happens in-process.
type Service struct {
	log        *logger.Logger
	cfg        Settings
	store      *storage.Store
	dispatcher tasks.Dispatcher
	tools      *AVTools
	workDir    string
}

func NewService(log *logger.Logger, cfg Settings, store *storage.Store, dispatcher tasks.Dispatcher, tools *AVTools) *Service {
	if tools == nil {
		tools = NewAVTools()
	}
	return &Service{
		log:        log.With("service", "VideoPipeline"),
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		tools:      tools,
		workDir:    filepath.Join(os.TempDir(), "knowledgeflow", "video"),
	}
}

func (s *Service) asrTimeout() time.Duration {
	return time.Duration(s.cfg.ASRTimeoutSec) * time.Second
}

func (s *Service) visionTimeout() time.Duration {
	return time.Duration(s.cfg.VisionTimeoutSec) * time.Second
}

// upload stores path under objectKey and resolves a download URL. With no
// store configured (tests) the artifact keeps its key and an empty URL.
func (s *Service) upload(ctx context.Context, objectKey, path string) (string, error) {
	if s.store == nil {
		return "", nil
	}
	if err := s.store.PutFile(ctx, objectKey, path); err != nil {
		return "", err
	}
	url, err := s.store.DownloadURL(ctx, objectKey)
	if err != nil {
		s.log.Warn("Download URL failed", "object_key", objectKey, "error", err)
		return "", nil
	}
	return url, nil
}

// Process downloads the media, slices it, fans out ASR and captioning, and
// uploads the mm-schema manifest. External worker failures degrade the
// manifest; local failures (download, probe, ffmpeg) fail the job.
func (s *Service) Process(ctx context.Context, req Request) (Output, error) {
	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	log := s.log.With("task_id", taskID)
	startedAt := time.Now()

	workdir, err := os.MkdirTemp(s.workDirBase(), "video-mm-")
	if err != nil {
		return Output{}, err
	}
	defer os.RemoveAll(workdir)

	mat := storage.NewMaterializer(s.log, s.store, nil, workdir)
	videoPath, err := mat.Materialize(ctx, storage.Locator{ObjectKey: req.ObjectKey, InputURL: req.InputURL})
	if err != nil {
		return Output{}, fmt.Errorf("materialize media: %w", err)
	}

	duration, err := s.tools.ProbeDuration(ctx, videoPath)
	if err != nil || duration <= 0 {
		if err != nil {
			log.Warn("Duration probe failed, using fallback", "error", err)
		}
		duration = float64(s.cfg.FixedSegmentSeconds * 3)
	}

	segmentSeconds := req.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = float64(s.cfg.FixedSegmentSeconds)
	}
	fps := req.FrameSampleFPS
	if fps <= 0 {
		fps = s.cfg.FrameSampleFPS
	}

	var segments []Span
	if req.SceneCut {
		threshold := req.SceneThreshold
		if threshold <= 0 {
			threshold = s.cfg.SceneChangeThreshold
		}
		minDuration := req.SceneMinDurationSec
		if minDuration <= 0 {
			minDuration = s.cfg.SceneMinDurationSec
		}
		cuts, err := s.tools.SceneCuts(ctx, videoPath, threshold, duration)
		if err != nil {
			log.Warn("Scene detection failed, falling back to fixed windows", "error", err)
		} else {
			segments = SceneSegments(cuts, minDuration, duration)
		}
		if len(segments) == 0 {
			log.Warn("Scene cut found no segments, falling back to fixed windows", "window_sec", segmentSeconds)
		}
	}
	if len(segments) == 0 {
		segments = FixedSegments(duration, segmentSeconds)
	}
	if len(segments) == 0 {
		segments = []Span{{Start: 0, End: duration}}
	}

	basePrefix := "mm/video/" + taskID

	originalKey := basePrefix + "/video/original" + filepath.Ext(videoPath)
	originalURL, err := s.upload(ctx, originalKey, videoPath)
	if err != nil {
		return Output{}, fmt.Errorf("upload original: %w", err)
	}

	audioPath := filepath.Join(workdir, "audio_full.m4a")
	if err := s.tools.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return Output{}, fmt.Errorf("extract audio: %w", err)
	}
	fullAudioURL, err := s.upload(ctx, basePrefix+"/audio/full.m4a", audioPath)
	if err != nil {
		return Output{}, fmt.Errorf("upload audio: %w", err)
	}

	videoSlices, err := s.sliceMedia(ctx, videoPath, segments, basePrefix+"/video/slices", "video_seg", ".mp4", workdir)
	if err != nil {
		return Output{}, fmt.Errorf("slice video: %w", err)
	}
	audioSlices, err := s.sliceMedia(ctx, audioPath, segments, basePrefix+"/audio/slices", "audio_seg", ".m4a", workdir)
	if err != nil {
		return Output{}, fmt.Errorf("slice audio: %w", err)
	}

	frames, err := s.extractFrames(ctx, videoPath, fps, basePrefix, workdir)
	if err != nil {
		return Output{}, fmt.Errorf("extract frames: %w", err)
	}

	transcripts := s.transcribeSlices(ctx, log, audioSlices)

	prompt := req.FramePrompt
	if prompt == "" {
		prompt = s.cfg.FramePrompt
	}
	captions := s.captionFrames(ctx, log, s.pickCaptionFrames(segments, frames, req.FrameCaptionMax), prompt)

	manifest := BuildManifest(ManifestInput{
		TaskID:         taskID,
		Request:        req,
		Duration:       duration,
		Segments:       segments,
		OriginalKey:    originalKey,
		OriginalURL:    originalURL,
		FullAudioURL:   fullAudioURL,
		VideoSlices:    videoSlices,
		AudioSlices:    audioSlices,
		Frames:         frames,
		Transcripts:    transcripts,
		Captions:       captions,
		ProcessingTime: float64(time.Since(startedAt).Milliseconds()) / 1000,
	})

	manifestPath := filepath.Join(workdir, "mm-schema.json")
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Output{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, raw, 0o644); err != nil {
		return Output{}, err
	}
	manifestKey := basePrefix + "/json/mm-schema.json"
	manifestURL, err := s.upload(ctx, manifestKey, manifestPath)
	if err != nil {
		return Output{}, fmt.Errorf("upload manifest: %w", err)
	}

	bucket := ""
	if s.store != nil {
		bucket = s.store.Bucket()
	}
	log.Info("Video pipeline done",
		"segments", len(segments), "frames", len(frames), "manifest_key", manifestKey)
	return Output{
		TaskID:      taskID,
		Bucket:      bucket,
		ManifestKey: manifestKey,
		ManifestURL: manifestURL,
		Prefix:      basePrefix,
		Doc:         manifest,
	}, nil
}

func (s *Service) workDirBase() string {
	_ = os.MkdirAll(s.workDir, 0o755)
	return s.workDir
}

func (s *Service) sliceMedia(ctx context.Context, inPath string, segments []Span, keyPrefix, baseName, ext, workdir string) ([]SliceArtifact, error) {
	results := make([]SliceArtifact, 0, len(segments))
	for idx, seg := range segments {
		outPath := filepath.Join(workdir, fmt.Sprintf("%s_%04d%s", baseName, idx, ext))
		if err := s.tools.SliceCopy(ctx, inPath, seg.Start, seg.Duration(), outPath); err != nil {
			return nil, err
		}
		objectKey := fmt.Sprintf("%s/seg_%04d%s", keyPrefix, idx, ext)
		url, err := s.upload(ctx, objectKey, outPath)
		if err != nil {
			return nil, err
		}
		results = append(results, SliceArtifact{
			Span:      seg,
			Duration:  seg.Duration(),
			ObjectKey: objectKey,
			URL:       url,
		})
	}
	return results, nil
}

func (s *Service) extractFrames(ctx context.Context, videoPath string, fps float64, basePrefix, workdir string) ([]Frame, error) {
	paths, err := s.tools.ExtractFrames(ctx, videoPath, fps, filepath.Join(workdir, "frames"))
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(paths))
	for idx, path := range paths {
		objectKey := fmt.Sprintf("%s/frames/frame_%06d.jpg", basePrefix, idx)
		url, err := s.upload(ctx, objectKey, path)
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{
			Timestamp: float64(idx) / fps,
			ObjectKey: objectKey,
			URL:       url,
		})
	}
	return frames, nil
}

// transcribeSlices collects ASR results sequentially, in segment order.
// A failed or missing transcript degrades to an empty one.
func (s *Service) transcribeSlices(ctx context.Context, log *logger.Logger, audioSlices []SliceArtifact) []asr.Transcript {
	transcripts := make([]asr.Transcript, len(audioSlices))
	for i, slice := range audioSlices {
		if slice.URL == "" {
			continue
		}
		var transcript asr.Transcript
		if err := s.dispatcher.Call(ctx, tasks.TaskVideoTranscribe,
			TranscribePayload{InputURL: slice.URL}, s.asrTimeout(), &transcript); err != nil {
			log.Warn("ASR task failed", "segment", i, "error", err)
			continue
		}
		transcripts[i] = transcript
	}
	return transcripts
}

// pickCaptionFrames chooses the frames to caption per chunk. capOverride
// nil (or <= 0) means caption every frame in the chunk; otherwise evenly
// pick up to that many. Overlapping picks dedupe by timestamp.
func (s *Service) pickCaptionFrames(segments []Span, frames []Frame, capOverride *int) []Frame {
	var selected []Frame
	for _, seg := range segments {
		var inChunk []Frame
		for _, f := range frames {
			if f.Timestamp >= seg.Start && f.Timestamp < seg.End {
				inChunk = append(inChunk, f)
			}
		}
		limit := len(inChunk)
		if capOverride != nil && *capOverride > 0 {
			limit = *capOverride
		}
		selected = append(selected, evenlyPickFrames(inChunk, limit)...)
	}

	seen := map[float64]bool{}
	var unique []Frame
	for _, f := range selected {
		if f.URL == "" || seen[f.Timestamp] {
			continue
		}
		seen[f.Timestamp] = true
		unique = append(unique, f)
	}
	return unique
}

// captionFrames dispatches every caption task concurrently and collects
// the results. Per-frame failures are logged and dropped.
func (s *Service) captionFrames(ctx context.Context, log *logger.Logger, frames []Frame, prompt string) map[float64]string {
	captions := make(map[float64]string, len(frames))
	if len(frames) == 0 {
		return captions
	}
	var mu sync.Mutex
	var g errgroup.Group
	for _, frame := range frames {
		frame := frame
		g.Go(func() error {
			var res CaptionResult
			if err := s.dispatcher.Call(ctx, tasks.TaskVideoCaption, CaptionPayload{
				URL:       frame.URL,
				Timestamp: frame.Timestamp,
				Prompt:    prompt,
			}, s.visionTimeout(), &res); err != nil {
				log.Warn("Frame caption failed", "timestamp", frame.Timestamp, "error", err)
				return nil
			}
			if res.Text != "" {
				mu.Lock()
				captions[frame.Timestamp] = res.Text
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return captions
}
