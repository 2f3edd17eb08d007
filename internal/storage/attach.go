package storage

import (
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

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// AttachSettings configures the legacy attach-id file server client.
// Loaded from the PIPELINE_FILE_MANAGER__* environment block.
type AttachSettings struct {
	BaseURL       string
	DownloadPath  string
	UploadPath    string
	AttachIDParam string
	FileField     string
	FormFields    map[string]string
	TimeoutSec    int
	AuthHeader    string
	TokenPrefix   string
	AuthToken     string
}

func LoadAttachSettings(log *logger.Logger) AttachSettings {
	return AttachSettings{
		BaseURL:       utils.GetEnv("PIPELINE_FILE_MANAGER__BASE_URL", "http://10.88.162.151:8989", log),
		DownloadPath:  utils.GetEnv("PIPELINE_FILE_MANAGER__DOWNLOAD_PATH", "/km/fm/downloadOriginal", log),
		UploadPath:    utils.GetEnv("PIPELINE_FILE_MANAGER__UPLOAD_PATH", "/km/fm/fileUpload", log),
		AttachIDParam: utils.GetEnv("PIPELINE_FILE_MANAGER__ATTACH_ID_PARAM", "attachid", log),
		FileField:     utils.GetEnv("PIPELINE_FILE_MANAGER__FILE_FIELD", "uploadFile", log),
		FormFields: map[string]string{
			"source":     utils.GetEnv("PIPELINE_FILE_MANAGER__FORM_SOURCE", "2", log),
			"attachType": utils.GetEnv("PIPELINE_FILE_MANAGER__FORM_ATTACH_TYPE", "0", log),
		},
		TimeoutSec:  utils.GetEnvAsInt("PIPELINE_FILE_MANAGER__TIMEOUT_SEC", 120, log),
		AuthHeader:  utils.GetEnv("PIPELINE_FILE_MANAGER__AUTH_HEADER", "Authorization", log),
		TokenPrefix: utils.GetEnv("PIPELINE_FILE_MANAGER__TOKEN_PREFIX", "Bearer ", log),
		AuthToken:   utils.GetEnv("PIPELINE_FILE_MANAGER__AUTH_TOKEN", "", log),
	}
}

// AttachUploadResult mirrors the file server's upload envelope.
type AttachUploadResult struct {
	Code           string         `json:"code"`
	Msg            string         `json:"msg"`
	FileID         string         `json:"fileid"`
	FileSize       string         `json:"fileSize"`
	FileType       string         `json:"fileType"`
	Prefix         string         `json:"prefix"`
	RealName       string         `json:"realname"`
	SysName        string         `json:"sysname"`
	FilePath       string         `json:"filepah"`
	FilePath2      string         `json:"filepah2"`
	FilePreviewURL string         `json:"filePreviewUrl"`
	FileDownload   string         `json:"fileDownloadUrl"`
	Raw            map[string]any `json:"-"`
}

var attachSuccessCodes = map[string]bool{"success": true, "0": true, "200": true}

func (r AttachUploadResult) Succeeded() bool {
	return attachSuccessCodes[r.Code]
}

// AttachClient talks to the attach-id file server.
type AttachClient struct {
	log *logger.Logger
	cfg AttachSettings
	hc  *http.Client
}

func NewAttachClient(log *logger.Logger, cfg AttachSettings) *AttachClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AttachClient{
		log: log.With("service", "AttachClient", "base_url", cfg.BaseURL),
		cfg: cfg,
		hc:  &http.Client{Timeout: timeout},
	}
}

func (c *AttachClient) buildURL(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *AttachClient) authorize(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set(c.cfg.AuthHeader, c.cfg.TokenPrefix+c.cfg.AuthToken)
	}
	req.Header.Set("Accept", "application/json")
}

// MatchesDownloadURL reports whether rawURL points at this server's download
// endpoint with the attach-id parameter present. Such URLs go through the
// authenticated client instead of a plain GET.
func (c *AttachClient) MatchesDownloadURL(rawURL string) (attachID string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", false
	}
	if u.Host == "" || !strings.EqualFold(u.Host, base.Host) {
		return "", false
	}
	if !strings.HasPrefix(u.Path, c.cfg.DownloadPath) {
		return "", false
	}
	id := u.Query().Get(c.cfg.AttachIDParam)
	if id == "" {
		return "", false
	}
	return id, true
}

// Download fetches an attachment to dest, creating parent directories.
func (c *AttachClient) Download(ctx context.Context, attachID, dest string) error {
	u := c.buildURL(c.cfg.DownloadPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set(c.cfg.AttachIDParam, attachID)
	req.URL.RawQuery = q.Encode()
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("attach download request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("attach download failed (%d): %s", resp.StatusCode, string(body))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("attach download write %s: %w", dest, err)
	}
	return nil
}

// Upload posts one file and returns the parsed envelope. The response body
// is allowed to wrap JSON in surrounding text.
func (c *AttachClient) Upload(ctx context.Context, path, filename string) (AttachUploadResult, error) {
	var result AttachUploadResult
	f, err := os.Open(path)
	if err != nil {
		return result, fmt.Errorf("attach upload open %s: %w", path, err)
	}
	defer f.Close()
	if filename == "" {
		filename = filepath.Base(path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()
		for k, v := range c.cfg.FormFields {
			if werr = mw.WriteField(k, v); werr != nil {
				return
			}
		}
		part, err := mw.CreateFormFile(c.cfg.FileField, filename)
		if err != nil {
			werr = err
			return
		}
		if _, werr = io.Copy(part, f); werr != nil {
			return
		}
		werr = mw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(c.cfg.UploadPath), pr)
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return result, fmt.Errorf("attach upload request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("attach upload read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("attach upload failed (%d): %s", resp.StatusCode, truncate(string(body), 512))
	}

	payload, err := ParseLooseJSON(body)
	if err != nil {
		return result, fmt.Errorf("attach upload returned non-JSON payload (status=%d): %s", resp.StatusCode, truncate(string(body), 512))
	}
	raw, _ := json.Marshal(payload)
	_ = json.Unmarshal(raw, &result)
	if code, ok := payload["code"]; ok {
		result.Code = fmt.Sprintf("%v", code)
	}
	result.Raw = payload
	if !result.Succeeded() {
		return result, fmt.Errorf("attach upload failed with code=%s: %s", result.Code, truncate(string(body), 512))
	}
	return result, nil
}

// ParseLooseJSON parses strictly first, then retries on the substring from
// the first '{' to the last '}'.
func ParseLooseJSON(body []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err == nil {
		return out, nil
	}
	text := string(body)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in payload")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("loose JSON parse failed: %w", err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
