package convert

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// CommandRunner executes an external tool. Swapped out in tests.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("%s failed: %w (%s)", name, err, msg)
	}
	return nil
}

// Toolbox carries shared plugin dependencies.
type Toolbox struct {
	Run CommandRunner
}

func NewToolbox() *Toolbox {
	return &Toolbox{Run: execRunner}
}

type funcPlugin struct {
	desc Descriptor
	fn   func(ctx context.Context, in ConversionInput) (ConversionResult, error)
}

func (p *funcPlugin) Describe() Descriptor { return p.desc }
func (p *funcPlugin) Convert(ctx context.Context, in ConversionInput) (ConversionResult, error) {
	return p.fn(ctx, in)
}

func newPlugin(slug, source, target string, fn func(ctx context.Context, in ConversionInput) (ConversionResult, error)) Plugin {
	return &funcPlugin{desc: Descriptor{Slug: slug, SourceFormat: source, TargetFormat: target}, fn: fn}
}

func requireInputPath(in ConversionInput) (string, error) {
	if in.InputPath == "" {
		return "", fmt.Errorf("conversion requires a local input_path for %s files", in.SourceFormat)
	}
	if _, err := os.Stat(in.InputPath); err != nil {
		return "", fmt.Errorf("input file not found: %s", in.InputPath)
	}
	return in.InputPath, nil
}

func withSuffix(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func metaDuration(in ConversionInput) (int, bool) {
	if in.Metadata == nil {
		return 0, false
	}
	switch v := in.Metadata["duration_seconds"].(type) {
	case int:
		return v, v > 0
	case float64:
		return int(v), v > 0
	case *int:
		if v != nil {
			return *v, *v > 0
		}
	}
	return 0, false
}

// soffice runs LibreOffice headless into a temp dir, then moves the output
// next to the input.
func (tb *Toolbox) soffice(ctx context.Context, inputPath, targetExt string) (string, error) {
	tmpdir, err := os.MkdirTemp("", "soffice-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpdir)

	if err := tb.Run(ctx, "soffice", "--headless", "--convert-to", targetExt, "--outdir", tmpdir, inputPath); err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	candidate := filepath.Join(tmpdir, stem+"."+targetExt)
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("libreoffice conversion did not produce output for %s", inputPath)
	}
	final := withSuffix(inputPath, "."+targetExt)
	if err := os.Rename(candidate, final); err != nil {
		// Rename across devices falls back to copy.
		data, rerr := os.ReadFile(candidate)
		if rerr != nil {
			return "", rerr
		}
		if werr := os.WriteFile(final, data, 0o644); werr != nil {
			return "", werr
		}
	}
	return final, nil
}

func (tb *Toolbox) sofficePlugin(slug, source, targetExt string) Plugin {
	return newPlugin(slug, source, targetExt, func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		out, err := tb.soffice(ctx, input, targetExt)
		if err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Converted via LibreOffice soffice"},
		}, nil
	})
}

func (tb *Toolbox) audioToMp3Plugin(source string) Plugin {
	return newPlugin(source+"-to-mp3", source, "mp3", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		out := withSuffix(input, ".mp3")
		args := []string{"-y", "-i", input}
		if dur, ok := metaDuration(in); ok {
			args = append(args, "-t", fmt.Sprintf("%d", dur))
		}
		args = append(args, "-q:a", "2", out)
		if err := tb.Run(ctx, "ffmpeg", args...); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": fmt.Sprintf("Converted %s->mp3 via FFmpeg", source)},
		}, nil
	})
}

func (tb *Toolbox) videoToMp4Plugin(source string) Plugin {
	return newPlugin(source+"-to-mp4", source, "mp4", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		out := withSuffix(input, ".mp4")
		args := []string{"-y", "-i", input}
		if dur, ok := metaDuration(in); ok {
			args = append(args, "-t", fmt.Sprintf("%d", dur))
		}
		args = append(args, "-movflags", "faststart", "-pix_fmt", "yuv420p", out)
		if err := tb.Run(ctx, "ffmpeg", args...); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Converted via FFmpeg"},
		}, nil
	})
}

// gifToMp4Plugin scales to even dimensions, which yuv420p requires, and
// honors duration trimming.
func (tb *Toolbox) gifToMp4Plugin() Plugin {
	return newPlugin("gif-to-mp4", "gif", "mp4", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		out := withSuffix(input, ".mp4")
		args := []string{"-y", "-i", input}
		if dur, ok := metaDuration(in); ok {
			args = append(args, "-t", fmt.Sprintf("%d", dur))
		}
		args = append(args,
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
			"-movflags", "faststart", "-pix_fmt", "yuv420p", out)
		if err := tb.Run(ctx, "ffmpeg", args...); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Converted via FFmpeg"},
		}, nil
	})
}

func (tb *Toolbox) webpToPngPlugin() Plugin {
	return newPlugin("webp-to-png", "webp", "png", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		out := withSuffix(input, ".png")
		if err := tb.Run(ctx, "ffmpeg", "-y", "-i", input, out); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Converted via FFmpeg"},
		}, nil
	})
}

func (tb *Toolbox) svgToPngPlugin() Plugin {
	return newPlugin("svg-to-png", "svg", "png", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		out := withSuffix(input, ".png")
		if err := tb.Run(ctx, "inkscape", input, "--export-type=png", "--export-filename="+out); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Converted via Inkscape"},
		}, nil
	})
}

func htmlToMdPlugin() Plugin {
	conv := htmltomarkdown.NewConverter(
		htmltomarkdown.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	return newPlugin("html-to-md", "html", "md", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		html, err := os.ReadFile(input)
		if err != nil {
			return ConversionResult{}, err
		}
		markdown, err := conv.ConvertString(string(html))
		if err != nil {
			return ConversionResult{}, fmt.Errorf("html to markdown: %w", err)
		}
		out := withSuffix(input, ".md")
		if err := os.WriteFile(out, []byte(markdown), 0o644); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Converted HTML to Markdown"},
		}, nil
	})
}

func textToMdPlugin(source string) Plugin {
	return newPlugin(strings.ReplaceAll(source, "/", "-")+"-to-md", source, "md", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		data, err := os.ReadFile(input)
		if err != nil {
			return ConversionResult{}, err
		}
		out := withSuffix(input, ".md")
		if out == input {
			out = input + ".md"
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Copied text content to Markdown"},
		}, nil
	})
}

// delimitedToMdPlugin renders csv/tsv as a Markdown table.
func delimitedToMdPlugin(source string, comma rune) Plugin {
	return newPlugin(source+"-to-md", source, "md", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		f, err := os.Open(input)
		if err != nil {
			return ConversionResult{}, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.Comma = comma
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return ConversionResult{}, fmt.Errorf("parse %s: %w", source, err)
		}
		out := withSuffix(input, ".md")
		if err := os.WriteFile(out, []byte(renderMarkdownTable(rows)), 0o644); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Rendered table as Markdown"},
		}, nil
	})
}

func renderMarkdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	var sb strings.Builder
	writeRow := func(row []string) {
		sb.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = strings.ReplaceAll(row[i], "|", "\\|")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}
	writeRow(rows[0])
	sb.WriteString("|")
	for i := 0; i < width; i++ {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return sb.String()
}

// xlsxToMdPlugin converts through a csv intermediate produced by soffice.
func (tb *Toolbox) xlsxToMdPlugin(source string) Plugin {
	return newPlugin(source+"-to-md", source, "md", func(ctx context.Context, in ConversionInput) (ConversionResult, error) {
		input, err := requireInputPath(in)
		if err != nil {
			return ConversionResult{}, err
		}
		csvPath, err := tb.soffice(ctx, input, "csv")
		if err != nil {
			return ConversionResult{}, err
		}
		defer os.Remove(csvPath)
		f, err := os.Open(csvPath)
		if err != nil {
			return ConversionResult{}, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return ConversionResult{}, fmt.Errorf("parse spreadsheet csv: %w", err)
		}
		out := withSuffix(input, ".md")
		if err := os.WriteFile(out, []byte(renderMarkdownTable(rows)), 0o644); err != nil {
			return ConversionResult{}, err
		}
		return ConversionResult{
			OutputPath: out,
			Metadata:   map[string]any{"note": "Rendered spreadsheet as Markdown"},
		}, nil
	})
}

// builtinModules maps module names (the plugins.yaml entries) to their
// registration groups.
var builtinModules = map[string]func(tb *Toolbox) []Plugin{
	"doc_to_docx": func(tb *Toolbox) []Plugin {
		return []Plugin{tb.sofficePlugin("doc-to-docx", "doc", "docx")}
	},
	"doc_to_pdf": func(tb *Toolbox) []Plugin {
		return []Plugin{tb.sofficePlugin("doc-to-pdf", "doc", "pdf")}
	},
	"docx_to_pdf": func(tb *Toolbox) []Plugin {
		return []Plugin{tb.sofficePlugin("docx-to-pdf", "docx", "pdf")}
	},
	"ppt_to_pdf": func(tb *Toolbox) []Plugin {
		return []Plugin{
			tb.sofficePlugin("ppt-to-pdf", "ppt", "pdf"),
			tb.sofficePlugin("pptx-to-pdf", "pptx", "pdf"),
		}
	},
	"html_to_pdf": func(tb *Toolbox) []Plugin {
		return []Plugin{tb.sofficePlugin("html-to-pdf", "html", "pdf")}
	},
	"svg_to_png": func(tb *Toolbox) []Plugin {
		return []Plugin{tb.svgToPngPlugin()}
	},
	"gif_to_mp4": func(tb *Toolbox) []Plugin {
		return []Plugin{tb.gifToMp4Plugin()}
	},
	"webp_to_png": func(tb *Toolbox) []Plugin {
		return []Plugin{tb.webpToPngPlugin()}
	},
	"audio_to_mp3": func(tb *Toolbox) []Plugin {
		return []Plugin{
			tb.audioToMp3Plugin("wav"),
			tb.audioToMp3Plugin("flac"),
			tb.audioToMp3Plugin("ogg"),
			tb.audioToMp3Plugin("aac"),
		}
	},
	"video_to_mp4": func(tb *Toolbox) []Plugin {
		return []Plugin{
			tb.videoToMp4Plugin("avi"),
			tb.videoToMp4Plugin("mov"),
			tb.videoToMp4Plugin("mkv"),
			tb.videoToMp4Plugin("webm"),
			tb.videoToMp4Plugin("mpeg"),
			tb.videoToMp4Plugin("flv"),
			tb.videoToMp4Plugin("ts"),
			tb.videoToMp4Plugin("m4v"),
			tb.videoToMp4Plugin("3gp"),
		}
	},
	"html_to_md": func(tb *Toolbox) []Plugin {
		return []Plugin{htmlToMdPlugin()}
	},
	"text_to_md": func(tb *Toolbox) []Plugin {
		return []Plugin{
			textToMdPlugin("txt"),
			textToMdPlugin("text/plain"),
			textToMdPlugin("markdown"),
			textToMdPlugin("text/markdown"),
		}
	},
	"xlsx_to_pdf": func(tb *Toolbox) []Plugin {
		return []Plugin{
			tb.sofficePlugin("xlsx-to-pdf", "xlsx", "pdf"),
			tb.sofficePlugin("xls-to-pdf", "xls", "pdf"),
		}
	},
	"xlsx_to_md": func(tb *Toolbox) []Plugin {
		return []Plugin{
			tb.xlsxToMdPlugin("xlsx"),
			tb.xlsxToMdPlugin("xls"),
			delimitedToMdPlugin("csv", ','),
			delimitedToMdPlugin("tsv", '\t'),
		}
	},
}

// LoadPlugins registers the named builtin modules into reg. Module names
// from legacy dotted paths are reduced to their last segment.
func LoadPlugins(log *logger.Logger, reg *Registry, tb *Toolbox, modules []string) error {
	if len(modules) == 0 {
		modules = DefaultPluginModules
	}
	for _, name := range modules {
		short := name
		if i := strings.LastIndex(short, "."); i >= 0 {
			short = short[i+1:]
		}
		group, ok := builtinModules[short]
		if !ok {
			return fmt.Errorf("unknown plugin module %q (known: %s)", name, strings.Join(KnownModules(), ", "))
		}
		for _, p := range group(tb) {
			if err := reg.Register(p); err != nil {
				return err
			}
		}
		log.Debug("Plugin module loaded", "module", short)
	}
	return nil
}
