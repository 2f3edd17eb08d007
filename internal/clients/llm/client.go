package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/httpx"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
	// ImageFormat is set to "video" for video frames on providers that
	// distinguish them.
	ImageFormat string `json:"image_format,omitempty"`
}

// Message content is either a plain string or []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

func ImageMessage(role, imageURL, prompt string) Message {
	return Message{Role: role, Content: []ContentPart{
		{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
		{Type: "text", Text: prompt},
	}}
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	EnableThinking *bool           `json:"enable_thinking,omitempty"`
}

type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Choice struct {
	Index        int              `json:"index"`
	FinishReason string           `json:"finish_reason"`
	Message      AssistantMessage `json:"message"`
}

type ChatResponse struct {
	Choices []Choice       `json:"choices"`
	Usage   map[string]any `json:"usage,omitempty"`
}

// Text returns the first choice's content, or "".
func (r ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type EmbeddingsResponse struct {
	Model string         `json:"model"`
	Data  []Embedding    `json:"data"`
	Usage map[string]any `json:"usage,omitempty"`
}

type Embedding struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// Client talks to an OpenAI-compatible provider.
type Client struct {
	log *logger.Logger
	cfg Config
	hc  *http.Client
}

func NewClient(log *logger.Logger, cfg Config) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		log: log.With("service", "LLMClient"),
		cfg: cfg,
		hc:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Config() Config { return c.cfg }

// endpoint appends suffix to the configured base unless the base already
// names it, so a fully qualified API base keeps working.
func (c *Client) endpoint(suffix string) string {
	base := strings.TrimRight(c.cfg.APIBase, "/")
	if strings.HasSuffix(base, "/"+suffix) {
		return base
	}
	return base + "/" + suffix
}

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

// Chat performs a chat completion. Streaming responses are collected into
// a single assistant message before returning.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if len(req.Messages) == 0 {
		return ChatResponse{}, fmt.Errorf("messages is required")
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.Stream {
		return c.chatStream(ctx, req)
	}
	var out ChatResponse
	if err := httpx.DoJSON(ctx, c.hc, http.MethodPost, c.endpoint("chat/completions"), c.headers(), req, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// ChatJSON demands a strict JSON object response and decodes it into out.
func (c *Client) ChatJSON(ctx context.Context, req ChatRequest, out any) error {
	req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	resp, err := c.Chat(ctx, req)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return fmt.Errorf("empty completion content")
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode completion JSON: %w", err)
	}
	return nil
}

// CaptionImage asks the vision model to describe one image.
func (c *Client) CaptionImage(ctx context.Context, imageURL, prompt string) (string, error) {
	model := c.cfg.VisionModel
	if model == "" {
		model = c.cfg.Model
	}
	resp, err := c.Chat(ctx, ChatRequest{
		Model:    model,
		Messages: []Message{ImageMessage("user", imageURL, prompt)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Embeddings embeds the inputs with the configured (or given) model.
func (c *Client) Embeddings(ctx context.Context, inputs []string, model string) (EmbeddingsResponse, error) {
	if len(inputs) == 0 {
		return EmbeddingsResponse{}, fmt.Errorf("input list is required")
	}
	if model == "" {
		model = c.cfg.EmbedModel
	}
	payload := map[string]any{"model": model, "input": inputs}
	var out EmbeddingsResponse
	if err := httpx.DoJSON(ctx, c.hc, http.MethodPost, c.endpoint("embeddings"), c.headers(), payload, &out); err != nil {
		return EmbeddingsResponse{}, err
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

func (c *Client) chatStream(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chat/completions"), strings.NewReader(string(raw)))
	if err != nil {
		return ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers() {
		httpReq.Header.Set(k, v)
	}
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var buf strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			buf.WriteString(scanner.Text())
		}
		return ChatResponse{}, &httpx.StatusError{Status: resp.StatusCode, Body: buf.String()}
	}
	return collectStream(resp.Body)
}

// collectStream stitches an SSE event stream into one assistant message.
// Non-JSON chunks are skipped, [DONE] terminates cleanly.
func collectStream(body io.Reader) (ChatResponse, error) {
	var parts []string
	var usage map[string]any
	finishReason := ""

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || line == "[DONE]" {
			if finishReason == "" {
				finishReason = "stop"
			}
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if len(ev.Choices) > 0 {
			parts = append(parts, ev.Choices[0].Delta.Content)
			if ev.Choices[0].FinishReason != "" {
				finishReason = ev.Choices[0].FinishReason
			}
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
	}
	if err := scanner.Err(); err != nil {
		return ChatResponse{}, fmt.Errorf("read stream: %w", err)
	}
	if finishReason == "" {
		finishReason = "stop"
	}
	return ChatResponse{
		Choices: []Choice{{
			FinishReason: finishReason,
			Message:      AssistantMessage{Role: "assistant", Content: strings.Join(parts, "")},
		}},
		Usage: usage,
	}, nil
}
