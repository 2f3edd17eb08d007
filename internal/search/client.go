package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// Response captures an Elasticsearch reply. Body is decoded JSON when
// possible, else the raw text.
type Response struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

func (r Response) Ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// Err converts a non-2xx response into a descriptive error carrying
// status and body for operator diagnosis.
func (r Response) Err(op string) error {
	if r.Ok() {
		return nil
	}
	body, _ := json.Marshal(r.Body)
	return fmt.Errorf("%s failed: %d %s", op, r.Status, string(body))
}

// Client speaks the Elasticsearch HTTP API directly.
type Client struct {
	log      *logger.Logger
	base     string
	username string
	password string
	hc       *http.Client
}

type ClientConfig struct {
	Endpoint          string
	Username          string
	Password          string
	VerifySSL         bool
	RequestTimeoutSec int
}

func NewClient(log *logger.Logger, cfg ClientConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if !cfg.VerifySSL {
		hc.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		log:      log.With("service", "ESClient"),
		base:     strings.TrimRight(cfg.Endpoint, "/"),
		username: cfg.Username,
		password: cfg.Password,
		hc:       hc,
	}
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, contentType string, body []byte) (Response, error) {
	u := c.base + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return Response{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var decoded any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		decoded = ""
	}
	return Response{Status: resp.StatusCode, Body: decoded}, nil
}

func (c *Client) requestJSON(ctx context.Context, method, path string, params url.Values, body any) (Response, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("marshal request: %w", err)
		}
	}
	contentType := ""
	if raw != nil {
		contentType = "application/json"
	}
	return c.request(ctx, method, path, params, contentType, raw)
}

// CreateIndex issues PUT /<index> with the mapping body.
func (c *Client) CreateIndex(ctx context.Context, index string, body map[string]any) (Response, error) {
	return c.requestJSON(ctx, http.MethodPut, index, nil, body)
}

// AliasSwitch moves both aliases to newIndex in one atomic _aliases
// transaction. Removals precede adds.
func (c *Client) AliasSwitch(ctx context.Context, readAlias, writeAlias, newIndex, oldIndex string) (Response, error) {
	var actions []map[string]any
	if oldIndex != "" {
		actions = append(actions,
			map[string]any{"remove": map[string]any{"index": oldIndex, "alias": readAlias}},
			map[string]any{"remove": map[string]any{"index": oldIndex, "alias": writeAlias}},
		)
	}
	actions = append(actions,
		map[string]any{"add": map[string]any{"index": newIndex, "alias": readAlias}},
		map[string]any{"add": map[string]any{"index": newIndex, "alias": writeAlias}},
	)
	return c.requestJSON(ctx, http.MethodPost, "_aliases", nil, map[string]any{"actions": actions})
}

// Bulk posts NDJSON index actions. A doc with a chunk_id becomes its _id.
func (c *Client) Bulk(ctx context.Context, index string, docs []map[string]any, refresh string) (Response, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, doc := range docs {
		meta := map[string]any{"_index": index}
		if id, ok := doc["chunk_id"].(string); ok && id != "" {
			meta["_id"] = id
		}
		if err := enc.Encode(map[string]any{"index": meta}); err != nil {
			return Response{}, err
		}
		if err := enc.Encode(doc); err != nil {
			return Response{}, err
		}
	}
	var params url.Values
	if refresh != "" {
		params = url.Values{"refresh": []string{refresh}}
	}
	return c.request(ctx, http.MethodPost, "_bulk", params, "application/x-ndjson", buf.Bytes())
}

// DeleteByQuery issues POST /<index>/_delete_by_query.
func (c *Client) DeleteByQuery(ctx context.Context, index string, query map[string]any) (Response, error) {
	return c.requestJSON(ctx, http.MethodPost, index+"/_delete_by_query", nil, query)
}

// Search issues POST /<index>/_search with the given body.
func (c *Client) Search(ctx context.Context, index string, body map[string]any) (Response, error) {
	return c.requestJSON(ctx, http.MethodPost, index+"/_search", nil, body)
}

// ClusterHealth reports GET /_cluster/health, for health checks.
func (c *Client) ClusterHealth(ctx context.Context) (Response, error) {
	return c.requestJSON(ctx, http.MethodGet, "_cluster/health", nil, nil)
}
