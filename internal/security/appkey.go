package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// AppKeyValidator checks appid/key pairs against a JSON secrets file of the
// shape {"appid": "key"}. The file is re-read whenever its mtime changes, so
// key rotation does not require a restart.
type AppKeyValidator struct {
	log  *logger.Logger
	path string

	mu        sync.Mutex
	cache     map[string]string
	lastMtime time.Time
	loaded    bool
}

// NewAppKeyValidator creates the secrets file (empty object) when missing.
func NewAppKeyValidator(log *logger.Logger, path string) (*AppKeyValidator, error) {
	if path == "" {
		return nil, fmt.Errorf("app secrets path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			return nil, fmt.Errorf("initialize secrets file: %w", err)
		}
	}
	v := &AppKeyValidator{
		log:   log.With("service", "AppKeyValidator"),
		path:  path,
		cache: map[string]string{},
	}
	if err := v.reload(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *AppKeyValidator) reload() error {
	info, err := os.Stat(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			v.cache = map[string]string{}
			v.loaded = false
			return nil
		}
		return fmt.Errorf("stat secrets file: %w", err)
	}
	if v.loaded && info.ModTime().Equal(v.lastMtime) {
		return nil
	}
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("read secrets file: %w", err)
	}
	parsed := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("secrets file must be a JSON object of {appid: key}: %w", err)
		}
	}
	v.cache = parsed
	v.lastMtime = info.ModTime()
	v.loaded = true
	v.log.Debug("App secrets reloaded", "entries", len(parsed))
	return nil
}

// IsValid reloads on mtime change and compares the stored key.
func (v *AppKeyValidator) IsValid(appid, key string) bool {
	if appid == "" || key == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.reload(); err != nil {
		v.log.Warn("App secrets reload failed", "error", err)
		return false
	}
	stored, ok := v.cache[appid]
	return ok && stored == key
}
