package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/httpx"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// Config points at an OpenAI-compatible speech-to-text endpoint.
type Config struct {
	APIBase            string
	APIKey             string
	Model              string
	Language           string
	RequestTimeoutSec  int
	DownloadTimeoutSec int
	TmpDir             string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		APIBase:            utils.GetEnv("ASR_API_BASE", "http://asr-service/v1", log),
		APIKey:             utils.GetEnv("ASR_API_KEY", "", log),
		Model:              utils.GetEnv("ASR_MODEL", "whisper-1", log),
		Language:           utils.GetEnv("ASR_LANGUAGE", "", log),
		RequestTimeoutSec:  utils.GetEnvAsInt("ASR_REQUEST_TIMEOUT_SEC", 300, log),
		DownloadTimeoutSec: utils.GetEnvAsInt("ASR_DOWNLOAD_TIMEOUT_SEC", 30, log),
		TmpDir:             utils.GetEnv("ASR_TMP_DIR", filepath.Join(os.TempDir(), "knowledgeflow", "asr"), log),
	}
}

// Segment is one timed span of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the normalized transcription result.
type Transcript struct {
	Text     string         `json:"text"`
	Language string         `json:"language,omitempty"`
	Duration *float64       `json:"duration,omitempty"`
	Segments []Segment      `json:"segments,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Client downloads audio artifacts and transcribes them upstream.
type Client struct {
	log *logger.Logger
	cfg Config
	hc  *http.Client
}

func NewClient(log *logger.Logger, cfg Config) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		log: log.With("service", "ASRClient"),
		cfg: cfg,
		hc:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint() string {
	base := strings.TrimRight(c.cfg.APIBase, "/")
	if strings.HasSuffix(base, "/audio/transcriptions") {
		return base
	}
	return base + "/audio/transcriptions"
}

// TranscribeURL fetches the audio at inputURL into a temp file, transcribes
// it, and removes the temp file.
func (c *Client) TranscribeURL(ctx context.Context, inputURL string) (Transcript, error) {
	if inputURL == "" {
		return Transcript{}, fmt.Errorf("input_url is required")
	}
	path, err := c.download(ctx, inputURL)
	if err != nil {
		return Transcript{}, err
	}
	defer os.Remove(path)
	return c.TranscribeFile(ctx, path)
}

// TranscribeFile posts the file as multipart form data and normalizes the
// verbose JSON response.
func (c *Client) TranscribeFile(ctx context.Context, path string) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return Transcript{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return Transcript{}, err
	}
	_ = mw.WriteField("model", c.cfg.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	if c.cfg.Language != "" {
		_ = mw.WriteField("language", c.cfg.Language)
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), &buf)
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Transcript{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Transcript{}, &httpx.StatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out Transcript
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	if out.Language == "" {
		out.Language = c.cfg.Language
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{"model_name": c.cfg.Model}
	}
	return out, nil
}

func (c *Client) download(ctx context.Context, rawURL string) (string, error) {
	if err := os.MkdirAll(c.cfg.TmpDir, 0o755); err != nil {
		return "", err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid input_url %q: %w", rawURL, err)
	}
	suffix := filepath.Ext(parsed.Path)
	if suffix == "" {
		suffix = ".wav"
	}

	dlCtx := ctx
	if c.cfg.DownloadTimeoutSec > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.DownloadTimeoutSec)*time.Second)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.cfg.TmpDir, "audio_*"+suffix)
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
