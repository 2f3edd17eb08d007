package video

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/asr"
)

// Frame is one uploaded keyframe.
type Frame struct {
	Timestamp float64 `json:"timestamp"`
	ObjectKey string  `json:"object_key"`
	URL       string  `json:"url"`
}

// SliceArtifact is one uploaded media slice.
type SliceArtifact struct {
	Span
	Duration  float64 `json:"duration"`
	ObjectKey string  `json:"object_key"`
	URL       string  `json:"url"`
}

type TextSegment struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

type ChunkText struct {
	FullText string        `json:"full_text"`
	Segments []TextSegment `json:"segments"`
	Language string        `json:"language"`
}

type ChunkMedia struct {
	URL      string  `json:"url"`
	Format   string  `json:"format"`
	Duration float64 `json:"duration"`
}

type ChunkContent struct {
	Text  ChunkText  `json:"text"`
	Audio ChunkMedia `json:"audio"`
	Video ChunkMedia `json:"video"`
}

type Keyframe struct {
	Timestamp    float64 `json:"timestamp"`
	ThumbnailURL string  `json:"thumbnail_url"`
	Description  string  `json:"description"`
}

type ChunkTemporal struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Duration   float64 `json:"duration"`
	ChunkIndex int     `json:"chunk_index"`
}

type ChunkProcessing struct {
	Status          string  `json:"status"`
	ProcessingTime  float64 `json:"processing_time"`
	PipelineVersion string  `json:"pipeline_version"`
}

type Chunk struct {
	ChunkID    string          `json:"chunk_id"`
	MediaType  string          `json:"media_type"`
	Temporal   ChunkTemporal   `json:"temporal"`
	Content    ChunkContent    `json:"content"`
	Keyframes  []Keyframe      `json:"keyframes"`
	Processing ChunkProcessing `json:"processing"`
}

type SourceInfo struct {
	FileName   string  `json:"file_name"`
	StorageURL string  `json:"storage_url"`
	BundleURL  *string `json:"bundle_url"`
}

type AudioRef struct {
	URL string `json:"url"`
}

type DocumentMetadata struct {
	Title       string     `json:"title"`
	Format      string     `json:"format"`
	Duration    float64    `json:"duration"`
	TotalChunks int        `json:"total_chunks"`
	SourceInfo  SourceInfo `json:"source_info"`
	Audio       *AudioRef  `json:"audio,omitempty"`
}

type DocumentSummary struct {
	KeyPoints []string `json:"key_points"`
}

// Manifest is the mm-schema document describing every sliced chunk.
type Manifest struct {
	DocumentID       string           `json:"document_id"`
	KBID             string           `json:"kb_id"`
	KBType           string           `json:"kb_type"`
	DocumentMetadata DocumentMetadata `json:"document_metadata"`
	VectorStatus     string           `json:"vector_status"`
	Status           string           `json:"status"`
	Chunks           []Chunk          `json:"chunks"`
	DocumentSummary  *DocumentSummary `json:"document_summary,omitempty"`
}

// ManifestInput carries everything the assembly step consumed upstream.
type ManifestInput struct {
	TaskID         string
	Request        Request
	Duration       float64
	Segments       []Span
	OriginalKey    string
	OriginalURL    string
	FullAudioURL   string
	VideoSlices    []SliceArtifact
	AudioSlices    []SliceArtifact
	Frames         []Frame
	Transcripts    []asr.Transcript
	Captions       map[float64]string
	ProcessingTime float64
}

// BuildManifest assembles one chunk per segment. Chunk i corresponds to
// segment i; chunk_index is 1-based. Missing transcripts or captions leave
// their fields empty rather than failing the build.
func BuildManifest(in ManifestInput) Manifest {
	kbID := in.Request.KBID
	if kbID == "" {
		kbID = "default"
	}
	docID := in.Request.DocumentID
	if docID == "" {
		docID = in.TaskID
	}
	title := in.Request.Title
	if title == "" {
		title = filepath.Base(in.OriginalKey)
	}
	kbType := in.Request.KBType
	if kbType == "" {
		kbType = "enterprise"
	}
	status := in.Request.Status
	if status == "" {
		status = "active"
	}

	chunks := make([]Chunk, 0, len(in.Segments))
	for idx, seg := range in.Segments {
		var videoURL, audioURL string
		if idx < len(in.VideoSlices) {
			videoURL = in.VideoSlices[idx].URL
		}
		if idx < len(in.AudioSlices) {
			audioURL = in.AudioSlices[idx].URL
		}

		var transcript asr.Transcript
		if idx < len(in.Transcripts) {
			transcript = in.Transcripts[idx]
		}
		textSegments := make([]TextSegment, 0, len(transcript.Segments))
		for i, ts := range transcript.Segments {
			textSegments = append(textSegments, TextSegment{
				Index:     i + 1,
				StartTime: ts.Start,
				EndTime:   ts.End,
				Text:      ts.Text,
			})
		}
		language := transcript.Language
		if language == "" {
			language = in.Request.Language
		}
		if language == "" {
			language = "unknown"
		}

		var keyframes []Keyframe
		for _, f := range in.Frames {
			if f.Timestamp < seg.Start || f.Timestamp >= seg.End {
				continue
			}
			keyframes = append(keyframes, Keyframe{
				Timestamp:    f.Timestamp,
				ThumbnailURL: f.URL,
				Description:  in.Captions[f.Timestamp],
			})
		}

		chunks = append(chunks, Chunk{
			ChunkID:   fmt.Sprintf("%s_seg_%04d", in.TaskID, idx),
			MediaType: "video",
			Temporal: ChunkTemporal{
				StartTime:  seg.Start,
				EndTime:    seg.End,
				Duration:   seg.Duration(),
				ChunkIndex: idx + 1,
			},
			Content: ChunkContent{
				Text: ChunkText{
					FullText: transcript.Text,
					Segments: textSegments,
					Language: language,
				},
				Audio: ChunkMedia{URL: audioURL, Format: "m4a", Duration: seg.Duration()},
				Video: ChunkMedia{URL: videoURL, Format: "mp4", Duration: seg.Duration()},
			},
			Keyframes: keyframes,
			Processing: ChunkProcessing{
				Status:          "success",
				ProcessingTime:  in.ProcessingTime,
				PipelineVersion: "video-service-1",
			},
		})
	}

	manifest := Manifest{
		DocumentID: docID,
		KBID:       kbID,
		KBType:     kbType,
		DocumentMetadata: DocumentMetadata{
			Title:       title,
			Format:      strings.TrimPrefix(filepath.Ext(in.OriginalKey), "."),
			Duration:    in.Duration,
			TotalChunks: len(chunks),
			SourceInfo: SourceInfo{
				FileName:   title,
				StorageURL: in.OriginalURL,
			},
		},
		VectorStatus: "pending",
		Status:       status,
		Chunks:       chunks,
	}

	if len(in.Frames) > 0 {
		n := len(in.Frames)
		if n > 5 {
			n = 5
		}
		points := make([]string, 0, n)
		for _, f := range in.Frames[:n] {
			points = append(points, "frame@"+formatTimestamp(f.Timestamp))
		}
		manifest.DocumentSummary = &DocumentSummary{KeyPoints: points}
	}
	if in.FullAudioURL != "" {
		manifest.DocumentMetadata.Audio = &AudioRef{URL: in.FullAudioURL}
	}
	return manifest
}

func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(math.Round(ts*100)/100, 'f', -1, 64)
}
