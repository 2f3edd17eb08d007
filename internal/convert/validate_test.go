package convert

import (
	"testing"

	"github.com/yungbote/knowledgeflow-backend/internal/apierrors"
)

func validationRegistry(t *testing.T) *Registry {
	t.Helper()
	log := testLogger(t)
	reg := NewRegistry()
	if err := LoadPlugins(log, reg, NewToolbox(), DefaultPluginModules); err != nil {
		t.Fatalf("load plugins: %v", err)
	}
	return reg
}

func assertCode(t *testing.T, err *apierrors.APIError, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("want error code %s, got nil", code)
	}
	if err.Spec.Code != code {
		t.Fatalf("error code = %s (%s), want %s", err.Spec.Code, err.Detail, code)
	}
}

func TestValidateRequestOrdering(t *testing.T) {
	cfg := defaultSettings()
	reg := validationRegistry(t)

	assertCode(t, ValidateRequest(cfg, reg, nil, false), apierrors.CodeFormatUnsupported)

	two := []FileSpec{
		{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 1},
		{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 1},
	}
	assertCode(t, ValidateRequest(cfg, reg, two, true), apierrors.CodeBatchLimitExceeded)

	many := make([]FileSpec, cfg.FileLimits.MaxFilesPerTask+1)
	for i := range many {
		many[i] = FileSpec{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 1}
	}
	assertCode(t, ValidateRequest(cfg, reg, many, false), apierrors.CodeBatchLimitExceeded)

	// Ten files under the count limit but over the aggregate size cap.
	heavy := make([]FileSpec, 10)
	for i := range heavy {
		heavy[i] = FileSpec{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 60}
	}
	assertCode(t, ValidateRequest(cfg, reg, heavy, false), apierrors.CodeBatchLimitExceeded)
}

func TestValidateRequestPerFile(t *testing.T) {
	cfg := defaultSettings()
	reg := validationRegistry(t)

	oversize := []FileSpec{{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 101}}
	assertCode(t, ValidateRequest(cfg, reg, oversize, false), apierrors.CodeFileTooLarge)

	unsupported := []FileSpec{{SourceFormat: "pdf", TargetFormat: "docx", SizeMB: 1, Filename: "a.pdf"}}
	assertCode(t, ValidateRequest(cfg, reg, unsupported, false), apierrors.CodeFormatUnsupported)

	pl, ds := 3, 10
	both := []FileSpec{{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 1, PageLimit: &pl, DurationSeconds: &ds}}
	assertCode(t, ValidateRequest(cfg, reg, both, false), apierrors.CodeFormatUnsupported)

	badPage := []FileSpec{{SourceFormat: "gif", TargetFormat: "mp4", SizeMB: 1, PageLimit: &pl}}
	assertCode(t, ValidateRequest(cfg, reg, badPage, false), apierrors.CodeFormatUnsupported)

	badDuration := []FileSpec{{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 1, DurationSeconds: &ds}}
	assertCode(t, ValidateRequest(cfg, reg, badDuration, false), apierrors.CodeFormatUnsupported)

	okPage := []FileSpec{{SourceFormat: "doc", TargetFormat: "pdf", SizeMB: 1, PageLimit: &pl}}
	if err := ValidateRequest(cfg, reg, okPage, false); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	okDuration := []FileSpec{{SourceFormat: "gif", TargetFormat: "mp4", SizeMB: 1, DurationSeconds: &ds}}
	if err := ValidateRequest(cfg, reg, okDuration, false); err != nil {
		t.Fatalf("valid av request rejected: %v", err)
	}

	// Same-format passthrough needs no registered plugin.
	pass := []FileSpec{{SourceFormat: "pdf", TargetFormat: "pdf", SizeMB: 1}}
	if err := ValidateRequest(cfg, reg, pass, false); err != nil {
		t.Fatalf("passthrough rejected: %v", err)
	}
}

func TestApplyDefaultTargets(t *testing.T) {
	reg := validationRegistry(t)
	files := ApplyDefaultTargets(reg, []FileSpec{
		{SourceFormat: "doc"},
		{SourceFormat: "html"},
		{SourceFormat: "pdf"},
		{SourceFormat: "doc", TargetFormat: "docx"},
	})
	if files[0].TargetFormat != "pdf" && files[0].TargetFormat != "docx" {
		t.Fatalf("doc default = %s, want a registered target", files[0].TargetFormat)
	}
	if files[1].TargetFormat != "md" {
		t.Fatalf("html default = %s, want md", files[1].TargetFormat)
	}
	if files[2].TargetFormat != "pdf" {
		t.Fatalf("pdf default = %s, want pdf fallback", files[2].TargetFormat)
	}
	if files[3].TargetFormat != "docx" {
		t.Fatalf("explicit target must be kept, got %s", files[3].TargetFormat)
	}
}
