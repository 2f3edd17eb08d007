package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPluginModules is the builtin module list used when no plugins.yaml
// is present. Each name selects one registration group in builtins.go.
var DefaultPluginModules = []string{
	"doc_to_docx",
	"doc_to_pdf",
	"docx_to_pdf",
	"ppt_to_pdf",
	"svg_to_png",
	"gif_to_mp4",
	"webp_to_png",
	"audio_to_mp3",
	"video_to_mp4",
	"html_to_md",
	"text_to_md",
	"xlsx_to_pdf",
	"xlsx_to_md",
}

type registryKey struct {
	source string
	target string
}

// Registry holds the process-wide plugin set. Populated at startup and
// treated as append-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	plugins map[registryKey]Plugin
	order   []registryKey
}

func NewRegistry() *Registry {
	return &Registry{plugins: map[registryKey]Plugin{}}
}

// Register fails on a duplicate (source,target) pair.
func (r *Registry) Register(p Plugin) error {
	d := p.Describe()
	key := registryKey{NormalizeFormat(d.SourceFormat), NormalizeFormat(d.TargetFormat)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[key]; exists {
		return fmt.Errorf("plugin already registered for %s->%s", key.source, key.target)
	}
	r.plugins[key] = p
	r.order = append(r.order, key)
	return nil
}

// Get resolves exactly, then with the normalized source form.
func (r *Registry) Get(source, target string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := registryKey{NormalizeFormat(source), NormalizeFormat(target)}
	if p, ok := r.plugins[key]; ok {
		return p, nil
	}
	normalized := registryKey{NormalizeSourceFormat(source), NormalizeTargetFormat(target)}
	if p, ok := r.plugins[normalized]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no plugin registered for %s->%s", source, target)
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.plugins[key].Describe())
	}
	return out
}

// DefaultTargetFor picks the first registered target for a source format.
func (r *Registry) DefaultTargetFor(source string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := NormalizeSourceFormat(source)
	for _, key := range r.order {
		if key.source == src {
			return key.target, true
		}
	}
	return "", false
}

// SupportedPairs returns the set of (source,target) pairs for validation.
func (r *Registry) SupportedPairs() map[[2]string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[[2]string]bool, len(r.order))
	for _, key := range r.order {
		out[[2]string{key.source, key.target}] = true
	}
	return out
}

type pluginModuleFile struct {
	Modules []string `yaml:"modules"`
}

// ReadPluginModuleFile returns the module list, or nil when the file is
// missing.
func ReadPluginModuleFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin modules %s: %w", path, err)
	}
	var parsed pluginModuleFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse plugin modules %s: %w", path, err)
	}
	return parsed.Modules, nil
}

// WritePluginModuleFile persists modules after dedup, preserving first-seen
// order.
func WritePluginModuleFile(path string, modules []string) error {
	seen := map[string]bool{}
	ordered := make([]string, 0, len(modules))
	for _, m := range modules {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		ordered = append(ordered, m)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plugin modules dir: %w", err)
	}
	raw, err := yaml.Marshal(pluginModuleFile{Modules: ordered})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// KnownModules lists the builtin module names, sorted, for diagnostics.
func KnownModules() []string {
	names := make([]string, 0, len(builtinModules))
	for name := range builtinModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
