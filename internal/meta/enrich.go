package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/yungbote/knowledgeflow-backend/internal/clients/llm"
)

const systemPrompt = "你是文档元数据抽取助手。请仅输出 JSON，对键 summary(中文摘要), tags(字符串列表), keywords(字符串列表), questions(字符串列表) 给出内容，禁止输出解释或额外文本。"

const defaultPromptTemplate = "你是文档元数据抽取助手。请仅输出 JSON，包含键: summary(中文摘要), tags(字符串列表), " +
	"keywords(字符串列表), questions(字符串列表)。摘要控制在 {{.SummaryWords}} 字以内。\n" +
	"输入上下文：\n" +
	"- 文档标题：{{.Title}}\n" +
	"- Chunk 时间范围：{{.Start}}s - {{.End}}s\n" +
	"- 文本内容：\n{{.Text}}\n" +
	"- 关键帧描述：\n{{range .Keyframes}}- t={{.Timestamp}}s: {{.Description}}\n{{end}}"

// Extraction is the strict JSON object demanded from the model.
type Extraction struct {
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	Keywords  []string `json:"keywords"`
	Questions []string `json:"questions"`
}

// parseExtraction decodes the completion content; anything that is not a
// JSON object degrades to a summary-only extraction.
func parseExtraction(raw string) Extraction {
	var out Extraction
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Extraction{
			Summary:   strings.TrimSpace(raw),
			Tags:      []string{},
			Keywords:  []string{},
			Questions: []string{},
		}
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if out.Questions == nil {
		out.Questions = []string{}
	}
	return out
}

// Manifests are open JSON documents that this worker annotates in place,
// so the walk operates on generic maps rather than a closed struct.

func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func ensureMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	v := map[string]any{}
	m[key] = v
	return v
}

func getList(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// NormalizeTextFields cross-fills content.text: full_text from segments,
// segments from full_text, and keyframe descriptions when both are absent.
func NormalizeTextFields(chunk map[string]any) map[string]any {
	content := ensureMap(chunk, "content")
	text := ensureMap(content, "text")
	fullText := getString(text, "full_text")
	segments := getList(text, "segments")

	if fullText == "" && len(segments) == 0 {
		var descs []string
		for _, kf := range getList(chunk, "keyframes") {
			kfm, _ := kf.(map[string]any)
			if desc := getString(kfm, "description"); desc != "" {
				descs = append(descs, desc)
			}
		}
		if len(descs) > 0 {
			fullText = strings.TrimSpace(strings.Join(descs, " "))
			text["full_text"] = fullText
		}
	}

	if fullText == "" && len(segments) > 0 {
		var b strings.Builder
		for _, seg := range segments {
			segm, _ := seg.(map[string]any)
			b.WriteString(getString(segm, "text"))
		}
		if joined := strings.TrimSpace(b.String()); joined != "" {
			fullText = joined
			text["full_text"] = fullText
		}
	}

	if fullText != "" && len(segments) == 0 {
		temporal := getMap(chunk, "temporal")
		text["segments"] = []any{map[string]any{
			"index":      0,
			"start_time": temporal["start_time"],
			"end_time":   temporal["end_time"],
			"text":       fullText,
		}}
	}

	return text
}

// AggregateDocMetadata rolls chunk extractions up to the document level.
// List fields dedupe preserving first-seen order; summaries join with
// newlines.
func AggregateDocMetadata(manifest map[string]any) map[string]any {
	var extras []map[string]any
	for _, c := range getList(manifest, "chunks") {
		chunk, _ := c.(map[string]any)
		if chunk == nil {
			continue
		}
		if extraction := getMap(getMap(chunk, "metadata"), "extraction"); extraction != nil {
			extras = append(extras, extraction)
		}
	}

	dedup := func(key string) []string {
		var seen []string
		for _, e := range extras {
			for _, v := range anyStrings(e[key]) {
				if !containsString(seen, v) {
					seen = append(seen, v)
				}
			}
		}
		if seen == nil {
			seen = []string{}
		}
		return seen
	}

	var summaries []string
	for _, e := range extras {
		if s := getString(e, "summary"); s != "" {
			summaries = append(summaries, s)
		}
	}
	var summary any
	if len(summaries) > 0 {
		summary = strings.Join(summaries, "\n")
	}

	docMeta := ensureMap(manifest, "document_metadata")
	docMeta["extraction"] = map[string]any{
		"summary":                summary,
		"tags":                   dedup("tags"),
		"keywords":               dedup("keywords"),
		"questions":              dedup("questions"),
		"chunks_with_extraction": len(extras),
	}
	return docMeta
}

func anyStrings(v any) []string {
	var out []string
	switch vv := v.(type) {
	case []any:
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = vv
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

type promptKeyframe struct {
	Timestamp   any
	Description string
}

type promptContext struct {
	SummaryWords int
	Title        string
	Start        any
	End          any
	Text         string
	Keyframes    []promptKeyframe
}

func (s *Service) renderPrompt(chunk, sourceInfo map[string]any) (string, error) {
	tmpl, err := template.New("extraction").Parse(s.cfg.PromptTemplate)
	if err != nil {
		return "", err
	}
	title := getString(sourceInfo, "title")
	if title == "" {
		title = getString(sourceInfo, "file_name")
	}
	if title == "" {
		title = "未知文档"
	}
	temporal := getMap(chunk, "temporal")
	text := getString(getMap(getMap(chunk, "content"), "text"), "full_text")

	var keyframes []promptKeyframe
	for _, kf := range getList(chunk, "keyframes") {
		kfm, _ := kf.(map[string]any)
		if kfm == nil {
			continue
		}
		keyframes = append(keyframes, promptKeyframe{
			Timestamp:   kfm["timestamp"],
			Description: getString(kfm, "description"),
		})
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, promptContext{
		SummaryWords: s.cfg.SummaryWords,
		Title:        title,
		Start:        temporal["start_time"],
		End:          temporal["end_time"],
		Text:         text,
		Keyframes:    keyframes,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// extractChunk runs the model on one chunk and parses the strict JSON
// response.
func (s *Service) extractChunk(ctx context.Context, chunk, sourceInfo map[string]any) (Extraction, error) {
	prompt, err := s.renderPrompt(chunk, sourceInfo)
	if err != nil {
		return Extraction{}, err
	}
	resp, err := s.llm.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.TextMessage("system", systemPrompt),
			llm.TextMessage("user", prompt),
		},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return Extraction{}, err
	}
	return parseExtraction(resp.Text()), nil
}

// EnrichManifest walks up to max_chunks chunks, attaching
// metadata.extraction to each and rolling the results up to the document.
// Per-chunk model failures are logged and skipped.
func (s *Service) EnrichManifest(ctx context.Context, manifest map[string]any) map[string]any {
	sourceInfo := getMap(getMap(manifest, "document_metadata"), "source_info")
	chunks := getList(manifest, "chunks")
	total := len(chunks)
	maxChunks := s.cfg.MaxChunks
	if maxChunks <= 0 {
		maxChunks = total
	}

	for idx, c := range chunks {
		if idx >= maxChunks {
			s.log.Info("Skipping chunks beyond limit", "index", idx, "max_chunks", maxChunks)
			break
		}
		chunk, _ := c.(map[string]any)
		if chunk == nil {
			continue
		}
		NormalizeTextFields(chunk)
		extracted, err := s.extractChunk(ctx, chunk, sourceInfo)
		if err != nil {
			id := getString(chunk, "chunk_id")
			s.log.Warn("Chunk extraction failed", "chunk_id", id, "index", idx, "error", err)
			continue
		}
		ensureMap(chunk, "metadata")["extraction"] = map[string]any{
			"summary":   extracted.Summary,
			"tags":      extracted.Tags,
			"keywords":  extracted.Keywords,
			"questions": extracted.Questions,
		}
	}

	AggregateDocMetadata(manifest)
	processed := total
	if maxChunks < processed {
		processed = maxChunks
	}
	ensureMap(manifest, "processing")["metadata_extraction"] = map[string]any{
		"status":           "success",
		"processed_chunks": processed,
	}
	return manifest
}
