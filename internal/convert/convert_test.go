package convert

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
)

func testMaterializer(t *testing.T, log *logger.Logger) *storage.Materializer {
	t.Helper()
	return storage.NewMaterializer(log, nil, nil, t.TempDir())
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func stubPlugin(slug, source, target string) Plugin {
	return newPlugin(slug, source, target, func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		return ConversionResult{OutputPath: in.InputPath}, nil
	})
}

func TestNormalizeFormat(t *testing.T) {
	cases := map[string]string{
		"PDF":             "pdf",
		"  Docx ":         "docx",
		".md":             "md",
		"application/pdf": "application/pdf",
	}
	for in, want := range cases {
		if got := NormalizeFormat(in); got != want {
			t.Fatalf("NormalizeFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSourceFormatMimeAliases(t *testing.T) {
	cases := map[string]string{
		"application/pdf": "pdf",
		"text/html":       "html",
		"htm":             "html",
		"plain":           "text/plain",
		"text/markdown":   "text/markdown",
		"pdf":             "pdf",
	}
	for in, want := range cases {
		if got := NormalizeSourceFormat(in); got != want {
			t.Fatalf("NormalizeSourceFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTargetFormatDefaultsToPDF(t *testing.T) {
	if got := NormalizeTargetFormat(""); got != "pdf" {
		t.Fatalf("empty target = %q, want pdf", got)
	}
	if got := NormalizeTargetFormat("MD"); got != "md" {
		t.Fatalf("MD target = %q, want md", got)
	}
}

func TestPreferMarkdownTarget(t *testing.T) {
	if got := PreferMarkdownTarget("html", "pdf"); got != "md" {
		t.Fatalf("html->pdf preferred %q, want md", got)
	}
	if got := PreferMarkdownTarget("png", "pdf"); got != "pdf" {
		t.Fatalf("png->pdf preferred %q, want pdf", got)
	}
	if got := PreferMarkdownTarget("html", "docx"); got != "docx" {
		t.Fatalf("non-pdf target must be untouched, got %q", got)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubPlugin("html_to_md", "html", "md")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(stubPlugin("html_to_md", "html", "md")); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if _, err := reg.Get("HTML", "MD"); err != nil {
		t.Fatalf("case-insensitive lookup: %v", err)
	}
	if _, err := reg.Get("text/html", "md"); err != nil {
		t.Fatalf("mime alias lookup: %v", err)
	}
	if _, err := reg.Get("html", "png"); err == nil {
		t.Fatal("unknown pair must fail")
	}
}

func TestRegistryListPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	for _, p := range []Plugin{
		stubPlugin("a", "doc", "pdf"),
		stubPlugin("b", "html", "md"),
		stubPlugin("c", "svg", "png"),
	} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	got := reg.List()
	want := []Descriptor{
		{Slug: "a", SourceFormat: "doc", TargetFormat: "pdf"},
		{Slug: "b", SourceFormat: "html", TargetFormat: "md"},
		{Slug: "c", SourceFormat: "svg", TargetFormat: "png"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
}

func TestPluginModuleFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")

	modules := []string{"doc_to_pdf", "html_to_md", "doc_to_pdf", "svg_to_png"}
	if err := WritePluginModuleFile(path, modules); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadPluginModuleFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []string{"doc_to_pdf", "html_to_md", "svg_to_png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip = %v, want deduped %v", got, want)
	}

	// A second write of the read-back list is stable.
	if err := WritePluginModuleFile(path, got); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	again, err := ReadPluginModuleFile(path)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if !reflect.DeepEqual(again, want) {
		t.Fatalf("second round trip = %v, want %v", again, want)
	}
}

func TestReadPluginModuleFileMissing(t *testing.T) {
	got, err := ReadPluginModuleFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if got != nil {
		t.Fatalf("missing file = %v, want nil", got)
	}
}

func TestLoadPluginsDefaultModules(t *testing.T) {
	log := testLogger(t)
	reg := NewRegistry()
	tb := NewToolbox()
	if err := LoadPlugins(log, reg, tb, DefaultPluginModules); err != nil {
		t.Fatalf("load default modules: %v", err)
	}
	for _, pair := range [][2]string{
		{"doc", "pdf"}, {"docx", "pdf"}, {"ppt", "pdf"}, {"html", "md"},
		{"txt", "md"}, {"svg", "png"}, {"gif", "mp4"}, {"webp", "png"},
		{"xlsx", "md"}, {"csv", "md"},
	} {
		if _, err := reg.Get(pair[0], pair[1]); err != nil {
			t.Fatalf("default modules must cover %s->%s: %v", pair[0], pair[1], err)
		}
	}
}

func TestLoadPluginsDottedLegacyNames(t *testing.T) {
	log := testLogger(t)
	reg := NewRegistry()
	tb := NewToolbox()
	if err := LoadPlugins(log, reg, tb, []string{"plugins.builtin.html_to_md"}); err != nil {
		t.Fatalf("dotted module name: %v", err)
	}
	if _, err := reg.Get("html", "md"); err != nil {
		t.Fatalf("html->md after dotted load: %v", err)
	}
	if err := LoadPlugins(log, NewRegistry(), tb, []string{"no_such_module"}); err == nil {
		t.Fatal("unknown module must fail")
	}
}

func TestWorkerPassthrough(t *testing.T) {
	log := testLogger(t)
	cfg := defaultSettings()
	reg := NewRegistry()

	w, err := NewWorker(log, cfg, reg, nil)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	src := filepath.Join(t.TempDir(), "in.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	res := w.convertFile(context.Background(), log, nil, testMaterializer(t, log), "t1", FileSpec{
		SourceFormat: "pdf",
		TargetFormat: "pdf",
		LocalPath:    src,
	})
	if res.Status != StatusSuccess {
		t.Fatalf("passthrough status = %s, reason %s", res.Status, res.Reason)
	}
	if v, ok := res.Metadata["passthrough"].(bool); !ok || !v {
		t.Fatalf("passthrough metadata = %v, want true", res.Metadata)
	}
}

func TestWorkerUnsupportedPair(t *testing.T) {
	log := testLogger(t)
	w, err := NewWorker(log, defaultSettings(), NewRegistry(), nil)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	res := w.convertFile(context.Background(), log, nil, testMaterializer(t, log), "t2", FileSpec{
		SourceFormat: "pdf",
		TargetFormat: "docx",
		LocalPath:    "/nonexistent",
	})
	if res.Status != StatusFailed {
		t.Fatalf("unsupported pair status = %s, want failed", res.Status)
	}
}

func TestDelimitedToMarkdown(t *testing.T) {
	log := testLogger(t)
	reg := NewRegistry()
	tb := NewToolbox()
	if err := LoadPlugins(log, reg, tb, []string{"text_to_md"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := reg.Get("csv", "md")
	if err != nil {
		t.Fatalf("csv->md: %v", err)
	}
	src := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := p.Convert(context.Background(), ConversionInput{SourceFormat: "csv", TargetFormat: "md", InputPath: src})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	raw, err := os.ReadFile(out.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	md := string(raw)
	for _, want := range []string{"| a | b |", "| --- | --- |", "| 1 | 2 |"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown table missing %q:\n%s", want, md)
		}
	}
}

func TestFileLimitPerFormat(t *testing.T) {
	l := FileLimitSettings{
		DefaultMaxSizeMB:   100,
		PerFormatMaxSizeMB: map[string]int{"mp4": 500},
	}
	if got := l.MaxSizeMBFor("MP4"); got != 500 {
		t.Fatalf("mp4 cap = %d, want 500", got)
	}
	if got := l.MaxSizeMBFor("pdf"); got != 100 {
		t.Fatalf("pdf cap = %d, want default 100", got)
	}
}
