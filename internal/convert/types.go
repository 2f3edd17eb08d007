package convert

import (
	"context"

	"github.com/yungbote/knowledgeflow-backend/internal/storage"
)

// FileSpec is one input file in a conversion job. The locator fields mirror
// storage.Locator; exactly one must be set.
type FileSpec struct {
	SourceFormat    string  `json:"source_format"`
	TargetFormat    string  `json:"target_format,omitempty"`
	SizeMB          float64 `json:"size_mb"`
	Filename        string  `json:"filename,omitempty"`
	Base64Data      string  `json:"base64_data,omitempty"`
	LocalPath       string  `json:"local_path,omitempty"`
	ObjectKey       string  `json:"object_key,omitempty"`
	InputURL        string  `json:"input_url,omitempty"`
	AttachID        string  `json:"attach_id,omitempty"`
	PageLimit       *int    `json:"page_limit,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
}

func (f FileSpec) Locator() storage.Locator {
	return storage.Locator{
		SourceFormat: f.SourceFormat,
		Filename:     f.Filename,
		Base64Data:   f.Base64Data,
		LocalPath:    f.LocalPath,
		ObjectKey:    f.ObjectKey,
		InputURL:     f.InputURL,
		AttachID:     f.AttachID,
	}
}

// JobPayload is the envelope placed on the conversion queue.
type JobPayload struct {
	TaskID      string            `json:"task_id"`
	Priority    string            `json:"priority,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
	Storage     *storage.Override `json:"storage,omitempty"`
	Files       []FileSpec        `json:"files"`
}

// ConversionInput is the plugin-facing contract.
type ConversionInput struct {
	SourceFormat string
	TargetFormat string
	InputPath    string
	InputURL     string
	ObjectKey    string
	Metadata     map[string]any
}

// ConversionResult is what a plugin returns; the worker fills in object key
// and download URL when the plugin leaves them empty.
type ConversionResult struct {
	OutputPath string         `json:"output_path,omitempty"`
	OutputURL  string         `json:"output_url,omitempty"`
	ObjectKey  string         `json:"object_key,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// FileResult is the per-file record appended to the batch result.
type FileResult struct {
	Source         string         `json:"source"`
	Target         string         `json:"target"`
	Status         string         `json:"status"`
	OutputPath     string         `json:"output_path,omitempty"`
	ObjectKey      string         `json:"object_key,omitempty"`
	DownloadURL    string         `json:"download_url,omitempty"`
	ExternalFileID string         `json:"external_fileid,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusIgnored = "ignored"
)

// BatchResult is the conversion task's return envelope.
type BatchResult struct {
	TaskID  string       `json:"task_id"`
	Status  string       `json:"status"`
	Results []FileResult `json:"results"`
}

// Descriptor identifies a registered plugin.
type Descriptor struct {
	Slug         string `json:"slug"`
	SourceFormat string `json:"source"`
	TargetFormat string `json:"target"`
}

// Plugin converts one materialized input into one output file.
type Plugin interface {
	Describe() Descriptor
	Convert(ctx context.Context, in ConversionInput) (ConversionResult, error)
}
