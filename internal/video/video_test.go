package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/asr"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testSettings() Settings {
	return Settings{
		FrameSampleFPS:       0.5,
		FixedSegmentSeconds:  30,
		SceneChangeThreshold: 0.35,
		SceneMinDurationSec:  5.0,
		FrameCaptionMax:      8,
		FramePrompt:          "describe the frame",
		ASRTimeoutSec:        5,
		VisionTimeoutSec:     5,
	}
}

// fakeRunner simulates ffmpeg/ffprobe: it emits canned probe output and
// creates the files real invocations would produce.
type fakeRunner struct {
	duration   string
	sceneJSON  string
	frameCount int
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	joined := strings.Join(args, " ")
	switch {
	case name == "ffprobe" && strings.Contains(joined, "format=duration"):
		return []byte(f.duration + "\n"), nil
	case name == "ffprobe" && strings.Contains(joined, "lavfi"):
		return []byte(f.sceneJSON), nil
	case name == "ffmpeg" && strings.Contains(joined, "-vf"):
		dir := filepath.Dir(args[len(args)-1])
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		for i := 1; i <= f.frameCount; i++ {
			path := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i))
			if err := os.WriteFile(path, []byte("jpg"), 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case name == "ffmpeg":
		// audio extraction and stream-copy slicing both end with the
		// output path
		return nil, os.WriteFile(args[len(args)-1], []byte("media"), 0o644)
	}
	return nil, fmt.Errorf("unexpected command %s %s", name, joined)
}

func TestFixedSegments(t *testing.T) {
	got := FixedSegments(95, 30)
	want := []Span{{0, 30}, {30, 60}, {60, 90}, {90, 95}}
	if len(got) != len(want) {
		t.Fatalf("segments = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d = %v, want %v", i, got[i], want[i])
		}
	}
	if FixedSegments(0, 30) != nil || FixedSegments(10, 0) != nil {
		t.Fatal("degenerate inputs must yield no segments")
	}
}

func TestSceneSegmentsMergeAndExtend(t *testing.T) {
	got := SceneSegments([]float64{10, 12, 40}, 5, 60)
	want := []Span{{0, 12}, {12, 40}, {40, 60}}
	if len(got) != len(want) {
		t.Fatalf("segments = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSceneSegmentsExtendFinal(t *testing.T) {
	// trailing short segment merges into the previous one and the result
	// still reaches the total duration
	got := SceneSegments([]float64{20, 58}, 5, 60)
	if len(got) != 2 {
		t.Fatalf("segments = %v", got)
	}
	if got[len(got)-1].End != 60 {
		t.Fatalf("final segment must reach total: %v", got)
	}
}

func TestSceneSegmentsNoCuts(t *testing.T) {
	if got := SceneSegments(nil, 5, 60); got != nil {
		t.Fatalf("no cuts must yield nil, got %v", got)
	}
}

func TestEvenlyPickFrames(t *testing.T) {
	frames := make([]Frame, 10)
	for i := range frames {
		frames[i] = Frame{Timestamp: float64(i)}
	}
	picked := evenlyPickFrames(frames, 3)
	if len(picked) != 3 {
		t.Fatalf("picked %d frames", len(picked))
	}
	if picked[0].Timestamp != 0 || picked[1].Timestamp != 3 || picked[2].Timestamp != 6 {
		t.Fatalf("picks biased: %v", picked)
	}
	if got := evenlyPickFrames(frames, 0); len(got) != 10 {
		t.Fatalf("limit 0 must keep all, got %d", len(got))
	}
	if got := evenlyPickFrames(frames, 20); len(got) != 10 {
		t.Fatalf("limit above len must keep all, got %d", len(got))
	}
}

func TestProbeDuration(t *testing.T) {
	tools := NewAVToolsWithRunner(&fakeRunner{duration: "12.34"})
	got, err := tools.ProbeDuration(context.Background(), "in.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got != 12.34 {
		t.Fatalf("duration = %v", got)
	}

	tools = NewAVToolsWithRunner(&fakeRunner{duration: "n/a"})
	if _, err := tools.ProbeDuration(context.Background(), "in.mp4"); err == nil {
		t.Fatal("unparseable duration must fail")
	}
}

func TestSceneCuts(t *testing.T) {
	sceneJSON := `{"frames":[
		{"pkt_pts_time":"3.2"},
		{"pkt_pts_time":"1.1"},
		{"pkt_pts_time":"3.2"},
		{"pkt_pts_time":"80.0"},
		{"pkt_pts_time":"bogus"}
	]}`
	tools := NewAVToolsWithRunner(&fakeRunner{sceneJSON: sceneJSON})
	cuts, err := tools.SceneCuts(context.Background(), "in.mp4", 0.35, 60)
	if err != nil {
		t.Fatalf("scene cuts: %v", err)
	}
	if len(cuts) != 2 || cuts[0] != 1.1 || cuts[1] != 3.2 {
		t.Fatalf("cuts = %v", cuts)
	}
}

func TestPickCaptionFrames(t *testing.T) {
	svc := NewService(testLogger(t), testSettings(), nil, nil, NewAVToolsWithRunner(&fakeRunner{}))
	segments := []Span{{0, 10}, {10, 20}}
	frames := []Frame{
		{Timestamp: 0, URL: "u0"},
		{Timestamp: 2, URL: "u2"},
		{Timestamp: 4, URL: "u4"},
		{Timestamp: 12, URL: "u12"},
		{Timestamp: 14, URL: ""},
	}

	// nil override captions every frame with a URL
	got := svc.pickCaptionFrames(segments, frames, nil)
	if len(got) != 4 {
		t.Fatalf("default policy picked %d frames", len(got))
	}

	one := 1
	got = svc.pickCaptionFrames(segments, frames, &one)
	if len(got) != 2 {
		t.Fatalf("cap=1 per chunk picked %d frames", len(got))
	}
	if got[0].Timestamp != 0 || got[1].Timestamp != 12 {
		t.Fatalf("picks = %v", got)
	}
}

func TestBuildManifest(t *testing.T) {
	in := ManifestInput{
		TaskID:       "task1",
		Request:      Request{KBID: "kb9", Language: "zh"},
		Duration:     60,
		Segments:     []Span{{0, 30}, {30, 60}},
		OriginalKey:  "mm/video/task1/video/original.mp4",
		OriginalURL:  "http://store/original.mp4",
		FullAudioURL: "http://store/full.m4a",
		VideoSlices: []SliceArtifact{
			{Span: Span{0, 30}, URL: "http://store/v0"},
			{Span: Span{30, 60}, URL: "http://store/v1"},
		},
		AudioSlices: []SliceArtifact{
			{Span: Span{0, 30}, URL: "http://store/a0"},
			{Span: Span{30, 60}, URL: "http://store/a1"},
		},
		Frames: []Frame{
			{Timestamp: 0, URL: "http://store/f0"},
			{Timestamp: 2, URL: "http://store/f2"},
			{Timestamp: 32, URL: "http://store/f32"},
		},
		Transcripts: []asr.Transcript{
			{Text: "hello", Language: "en", Segments: []asr.Segment{{Start: 0, End: 1.5, Text: "hello"}}},
			{},
		},
		Captions:       map[float64]string{2: "a whiteboard"},
		ProcessingTime: 3.25,
	}

	m := BuildManifest(in)
	if m.DocumentID != "task1" || m.KBID != "kb9" || m.KBType != "enterprise" {
		t.Fatalf("document identity = %+v", m)
	}
	if m.DocumentMetadata.Format != "mp4" || m.DocumentMetadata.TotalChunks != 2 {
		t.Fatalf("metadata = %+v", m.DocumentMetadata)
	}
	if m.DocumentMetadata.Audio == nil || m.DocumentMetadata.Audio.URL != "http://store/full.m4a" {
		t.Fatalf("full audio ref = %+v", m.DocumentMetadata.Audio)
	}
	if m.VectorStatus != "pending" || m.Status != "active" {
		t.Fatalf("status = %s/%s", m.VectorStatus, m.Status)
	}

	if len(m.Chunks) != 2 {
		t.Fatalf("chunks = %d", len(m.Chunks))
	}
	first := m.Chunks[0]
	if first.ChunkID != "task1_seg_0000" || first.Temporal.ChunkIndex != 1 {
		t.Fatalf("first chunk = %+v", first)
	}
	if first.Content.Text.FullText != "hello" || first.Content.Text.Language != "en" {
		t.Fatalf("first text = %+v", first.Content.Text)
	}
	if len(first.Content.Text.Segments) != 1 || first.Content.Text.Segments[0].Index != 1 {
		t.Fatalf("text segments = %+v", first.Content.Text.Segments)
	}
	if len(first.Keyframes) != 2 {
		t.Fatalf("first keyframes = %+v", first.Keyframes)
	}
	if first.Keyframes[1].Description != "a whiteboard" {
		t.Fatalf("caption lost: %+v", first.Keyframes[1])
	}

	second := m.Chunks[1]
	if second.Temporal.ChunkIndex != 2 || second.Content.Text.FullText != "" {
		t.Fatalf("second chunk = %+v", second)
	}
	// empty transcript falls back to the request language
	if second.Content.Text.Language != "zh" {
		t.Fatalf("language fallback = %s", second.Content.Text.Language)
	}
	if len(second.Keyframes) != 1 || second.Keyframes[0].Timestamp != 32 {
		t.Fatalf("second keyframes = %+v", second.Keyframes)
	}

	if m.DocumentSummary == nil || len(m.DocumentSummary.KeyPoints) != 3 {
		t.Fatalf("summary = %+v", m.DocumentSummary)
	}
	if m.DocumentSummary.KeyPoints[1] != "frame@2" {
		t.Fatalf("key points = %v", m.DocumentSummary.KeyPoints)
	}
}

func TestProcessEndToEnd(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake mp4 bytes"))
	}))
	defer media.Close()

	runner := &fakeRunner{duration: "95.0", frameCount: 3}
	svc := NewService(testLogger(t), testSettings(), nil, nil, NewAVToolsWithRunner(runner))
	svc.workDir = t.TempDir()

	out, err := svc.Process(context.Background(), Request{
		TaskID:   "vt1",
		InputURL: media.URL + "/clip.mp4",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Prefix != "mm/video/vt1" {
		t.Fatalf("prefix = %s", out.Prefix)
	}
	if out.ManifestKey != "mm/video/vt1/json/mm-schema.json" {
		t.Fatalf("manifest key = %s", out.ManifestKey)
	}
	// 95s at 30s windows
	if len(out.Doc.Chunks) != 4 {
		t.Fatalf("chunks = %d", len(out.Doc.Chunks))
	}
	if out.Doc.Chunks[3].Temporal.EndTime != 95 {
		t.Fatalf("final chunk = %+v", out.Doc.Chunks[3].Temporal)
	}
	for i, c := range out.Doc.Chunks {
		want := fmt.Sprintf("vt1_seg_%04d", i)
		if c.ChunkID != want || c.Temporal.ChunkIndex != i+1 {
			t.Fatalf("chunk %d identity = %+v", i, c)
		}
	}
	// frames at 0.5 fps: timestamps 0, 2, 4 all land in the first chunk
	if len(out.Doc.Chunks[0].Keyframes) != 3 {
		t.Fatalf("keyframes = %+v", out.Doc.Chunks[0].Keyframes)
	}
	if out.Doc.DocumentSummary == nil || len(out.Doc.DocumentSummary.KeyPoints) != 3 {
		t.Fatalf("summary = %+v", out.Doc.DocumentSummary)
	}
}

func TestProcessRequiresSource(t *testing.T) {
	svc := NewService(testLogger(t), testSettings(), nil, nil, NewAVToolsWithRunner(&fakeRunner{duration: "10"}))
	svc.workDir = t.TempDir()
	if _, err := svc.Process(context.Background(), Request{TaskID: "x"}); err == nil {
		t.Fatal("missing object_key and input_url must fail")
	}
}

func TestFanOutDegradesOnFailure(t *testing.T) {
	log := testLogger(t)
	reg := tasks.NewRegistry()
	if err := reg.Register(tasks.TaskVideoTranscribe, func(_ context.Context, payload json.RawMessage) (any, error) {
		var req TranscribePayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if strings.Contains(req.InputURL, "bad") {
			return nil, fmt.Errorf("worker crashed")
		}
		return asr.Transcript{Text: "spoken words"}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(tasks.TaskVideoCaption, func(_ context.Context, payload json.RawMessage) (any, error) {
		var req CaptionPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.Timestamp == 2 {
			return nil, fmt.Errorf("vision timeout")
		}
		return CaptionResult{Text: "caption " + req.URL}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	dispatcher := tasks.NewEagerDispatcher(log, reg)
	svc := NewService(log, testSettings(), nil, dispatcher, NewAVToolsWithRunner(&fakeRunner{}))

	transcripts := svc.transcribeSlices(context.Background(), log, []SliceArtifact{
		{URL: "http://store/a0"},
		{URL: "http://store/bad"},
		{URL: ""},
	})
	if len(transcripts) != 3 {
		t.Fatalf("transcripts = %d", len(transcripts))
	}
	if transcripts[0].Text != "spoken words" {
		t.Fatalf("first transcript = %+v", transcripts[0])
	}
	if transcripts[1].Text != "" || transcripts[2].Text != "" {
		t.Fatalf("failures must degrade to empty transcripts: %+v", transcripts)
	}

	captions := svc.captionFrames(context.Background(), log, []Frame{
		{Timestamp: 0, URL: "f0"},
		{Timestamp: 2, URL: "f2"},
		{Timestamp: 4, URL: "f4"},
	}, "prompt")
	if len(captions) != 2 {
		t.Fatalf("captions = %v", captions)
	}
	if captions[0] != "caption f0" || captions[4] != "caption f4" {
		t.Fatalf("captions = %v", captions)
	}
	if _, ok := captions[2]; ok {
		t.Fatal("failed caption must be dropped")
	}
}
