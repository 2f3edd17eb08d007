package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CommandRunner abstracts ffmpeg/ffprobe invocation so the pipeline can be
// tested without the binaries.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("required binary not found: %s", name)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

// AVTools wraps the ffmpeg/ffprobe operations the pipeline needs.
type AVTools struct {
	run CommandRunner
}

func NewAVTools() *AVTools {
	return &AVTools{run: execRunner{}}
}

func NewAVToolsWithRunner(run CommandRunner) *AVTools {
	return &AVTools{run: run}
}

// ProbeDuration returns the container duration in seconds.
func (t *AVTools) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := t.run.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nk=1:nw=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

type probeFrames struct {
	Frames []struct {
		PktPtsTime string `json:"pkt_pts_time"`
	} `json:"frames"`
}

// SceneCuts runs scene-score detection and returns the cut timestamps in
// (0, total), sorted and deduplicated.
func (t *AVTools) SceneCuts(ctx context.Context, path string, threshold, total float64) ([]float64, error) {
	filter := fmt.Sprintf("movie=%s,select=gt(scene\\,%g)", path, threshold)
	out, err := t.run.Run(ctx, "ffprobe",
		"-hide_banner",
		"-show_frames",
		"-of", "json",
		"-f", "lavfi",
		filter,
	)
	if err != nil {
		return nil, err
	}
	var data probeFrames
	if len(out) > 0 {
		if err := json.Unmarshal(out, &data); err != nil {
			return nil, fmt.Errorf("parse scene frames: %w", err)
		}
	}
	seen := map[float64]bool{}
	var cuts []float64
	for _, f := range data.Frames {
		ts, err := strconv.ParseFloat(strings.TrimSpace(f.PktPtsTime), 64)
		if err != nil {
			continue
		}
		if ts > 0 && ts < total && !seen[ts] {
			seen[ts] = true
			cuts = append(cuts, ts)
		}
	}
	sort.Float64s(cuts)
	return cuts, nil
}

// ExtractAudio strips the video track into an AAC M4A.
func (t *AVTools) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	_, err := t.run.Run(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "aac",
		outPath,
	)
	return err
}

// SliceCopy cuts [start, start+duration) via stream copy, no transcode.
func (t *AVTools) SliceCopy(ctx context.Context, inPath string, start, duration float64, outPath string) error {
	_, err := t.run.Run(ctx, "ffmpeg",
		"-y",
		"-ss", formatSeconds(start),
		"-i", inPath,
		"-t", formatSeconds(duration),
		"-c", "copy",
		outPath,
	)
	return err
}

// ExtractFrames samples keyframes at fps into dir and returns the sorted
// frame paths. fps <= 0 disables keyframe extraction.
func (t *AVTools) ExtractFrames(ctx context.Context, videoPath string, fps float64, dir string) ([]string, error) {
	if fps <= 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if _, err := t.run.Run(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g", fps),
		filepath.Join(dir, "frame_%06d.jpg"),
	); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
