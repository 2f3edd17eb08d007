package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// Locator names one input source. Exactly one of Base64Data, LocalPath,
// ObjectKey, InputURL, AttachID should be set.
type Locator struct {
	SourceFormat string `json:"source_format,omitempty"`
	Filename     string `json:"filename,omitempty"`
	Base64Data   string `json:"base64_data,omitempty"`
	LocalPath    string `json:"local_path,omitempty"`
	ObjectKey    string `json:"object_key,omitempty"`
	InputURL     string `json:"input_url,omitempty"`
	AttachID     string `json:"attach_id,omitempty"`
}

// Describe mirrors the API-side locator string for worker error messages.
func (l Locator) Describe() string {
	switch {
	case l.InputURL != "":
		return l.InputURL
	case l.ObjectKey != "":
		return l.ObjectKey
	case l.AttachID != "":
		return "attach:" + l.AttachID
	case l.LocalPath != "":
		return l.LocalPath
	case l.Filename != "":
		return l.Filename
	default:
		src := l.SourceFormat
		if src == "" {
			src = "bin"
		}
		return "inline." + src
	}
}

// Materializer resolves locators into local files inside workDir.
type Materializer struct {
	log     *logger.Logger
	store   *Store
	attach  *AttachClient
	workDir string
	hc      *http.Client
}

func NewMaterializer(log *logger.Logger, store *Store, attach *AttachClient, workDir string) *Materializer {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "knowledgeflow", "work")
	}
	return &Materializer{
		log:     log.With("service", "Materializer"),
		store:   store,
		attach:  attach,
		workDir: workDir,
		hc:      http.DefaultClient,
	}
}

func (m *Materializer) workspaceFile(filename string) (string, error) {
	if err := os.MkdirAll(m.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}
	return filepath.Join(m.workDir, uuid.NewString()[:8]+"_"+filepath.Base(filename)), nil
}

// Materialize downloads or decodes the locator into a local file and
// returns its path. A directory result is unwrapped to its unique file.
func (m *Materializer) Materialize(ctx context.Context, loc Locator) (string, error) {
	path, err := m.resolve(ctx, loc)
	if err != nil {
		return "", err
	}
	return UnwrapDir(path)
}

func (m *Materializer) resolve(ctx context.Context, loc Locator) (string, error) {
	if loc.Base64Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(loc.Base64Data)
		if err != nil {
			return "", fmt.Errorf("invalid base64_data payload: %w", err)
		}
		filename := loc.Filename
		if filename == "" {
			ext := loc.SourceFormat
			if i := strings.LastIndex(ext, "/"); i >= 0 {
				ext = ext[i+1:]
			}
			if ext == "" {
				ext = "bin"
			}
			filename = "inline." + ext
		}
		dest, err := m.workspaceFile(filename)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(dest, decoded, 0o644); err != nil {
			return "", err
		}
		return dest, nil
	}

	if loc.LocalPath != "" {
		if _, err := os.Stat(loc.LocalPath); err != nil {
			return "", fmt.Errorf("input file not found: %s", loc.LocalPath)
		}
		return loc.LocalPath, nil
	}

	if loc.ObjectKey != "" {
		filename := filepath.Base(loc.ObjectKey)
		if filename == "" || filename == "." || filename == "/" {
			filename = "input_" + uuid.NewString()[:8]
		}
		dest, err := m.workspaceFile(filename)
		if err != nil {
			return "", err
		}
		if m.store == nil {
			return "", fmt.Errorf("object_key locator requires an object store")
		}
		if err := m.store.GetToFile(ctx, loc.ObjectKey, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	if loc.AttachID != "" {
		if m.attach == nil {
			return "", fmt.Errorf("attach_id locator requires the attach client")
		}
		filename := loc.Filename
		if filename == "" {
			filename = "attach_" + loc.AttachID
		}
		dest, err := m.workspaceFile(filename)
		if err != nil {
			return "", err
		}
		if err := m.attach.Download(ctx, loc.AttachID, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	if loc.InputURL != "" {
		if m.attach != nil {
			if attachID, ok := m.attach.MatchesDownloadURL(loc.InputURL); ok {
				dest, err := m.workspaceFile("attach_" + attachID)
				if err != nil {
					return "", err
				}
				if err := m.attach.Download(ctx, attachID, dest); err != nil {
					return "", err
				}
				return dest, nil
			}
		}
		parsed, err := url.Parse(loc.InputURL)
		if err != nil {
			return "", fmt.Errorf("invalid input_url %q: %w", loc.InputURL, err)
		}
		filename := filepath.Base(parsed.Path)
		if filename == "" || filename == "." || filename == "/" {
			filename = "input.bin"
		}
		dest, err := m.workspaceFile(filename)
		if err != nil {
			return "", err
		}
		if err := m.fetchURL(ctx, loc.InputURL, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	return "", fmt.Errorf("no input source provided (object_key or input_url required)")
}

func (m *Materializer) fetchURL(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.hc.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// UnwrapDir maps a directory to its unique contained file. Every
// materialized input must be a file.
func UnwrapDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) != 1 {
		return "", fmt.Errorf("downloaded directory %s contains %d files, expected exactly one", path, len(files))
	}
	return files[0], nil
}
