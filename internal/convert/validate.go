package convert

import (
	"github.com/yungbote/knowledgeflow-backend/internal/apierrors"
)

// sizeMB prefers the declared size and falls back to the inline payload.
func (f FileSpec) sizeMB() float64 {
	if f.SizeMB > 0 {
		return f.SizeMB
	}
	if f.Base64Data != "" {
		return float64(len(f.Base64Data)) * 3 / 4 / (1024 * 1024)
	}
	return 0
}

// ApplyDefaultTargets fills empty targets from the registry's default for
// the source, falling back to pdf.
func ApplyDefaultTargets(reg *Registry, files []FileSpec) []FileSpec {
	out := make([]FileSpec, len(files))
	for i, f := range files {
		if f.TargetFormat == "" {
			if def, ok := reg.DefaultTargetFor(f.SourceFormat); ok {
				f.TargetFormat = def
			} else {
				f.TargetFormat = NormalizeTargetFormat(f.TargetFormat)
			}
		}
		out[i] = f
	}
	return out
}

// ValidateRequest checks a conversion request in fixed order: batch shape
// first, then per-file size, format support, and limit flags.
func ValidateRequest(cfg Settings, reg *Registry, files []FileSpec, sync bool) *apierrors.APIError {
	if len(files) == 0 {
		return apierrors.New(apierrors.CodeFormatUnsupported, "no files provided")
	}
	if sync && len(files) > 1 {
		return apierrors.New(apierrors.CodeBatchLimitExceeded, "synchronous mode accepts a single file")
	}
	if cfg.FileLimits.MaxFilesPerTask > 0 && len(files) > cfg.FileLimits.MaxFilesPerTask {
		return apierrors.Newf(apierrors.CodeBatchLimitExceeded,
			"file count %d exceeds limit %d", len(files), cfg.FileLimits.MaxFilesPerTask)
	}

	total := 0.0
	for _, f := range files {
		total += f.sizeMB()
	}
	if cfg.FileLimits.MaxTotalUploadSizeMB > 0 && total > float64(cfg.FileLimits.MaxTotalUploadSizeMB) {
		return apierrors.Newf(apierrors.CodeBatchLimitExceeded,
			"total upload size %.1fMB exceeds limit %dMB", total, cfg.FileLimits.MaxTotalUploadSizeMB)
	}

	pairs := reg.SupportedPairs()
	for _, f := range files {
		source := NormalizeSourceFormat(f.SourceFormat)
		target := NormalizeTargetFormat(f.TargetFormat)

		if limit := cfg.FileLimits.MaxSizeMBFor(source); limit > 0 && f.sizeMB() > float64(limit) {
			return apierrors.Newf(apierrors.CodeFileTooLarge,
				"file %s is %.1fMB, limit for %s is %dMB", f.Locator().Describe(), f.sizeMB(), source, limit)
		}

		if source != target && !pairs[[2]string{source, target}] {
			return apierrors.Newf(apierrors.CodeFormatUnsupported,
				"unsupported conversion %s->%s (source=%s)", source, target, f.Locator().Describe())
		}

		if f.PageLimit != nil && f.DurationSeconds != nil {
			return apierrors.New(apierrors.CodeFormatUnsupported,
				"page_limit and duration_seconds are mutually exclusive")
		}
		if f.PageLimit != nil && !DocFormats[source] {
			return apierrors.Newf(apierrors.CodeFormatUnsupported,
				"page_limit is not supported for %s", source)
		}
		if f.DurationSeconds != nil && !AVFormats[source] {
			return apierrors.Newf(apierrors.CodeFormatUnsupported,
				"duration_seconds is not supported for %s", source)
		}
	}
	return nil
}
