package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xxxsen/lavadoc/internal/model"
	"github.com/xxxsen/lavadoc/internal/pkg/errcode"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

const (
	defaultTimeout = 30 * time.Second
	apiPrefix      = "/api/v1"
)

// APIError is a failure envelope whose code has no local sentinel.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Msg)
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(c *Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type SendResult struct {
	Message         *model.Message  `json:"message"`
	DocumentUpdated bool            `json:"document_updated"`
	Document        *model.Document `json:"document,omitempty"`
}

type Health struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	StoreOK   bool   `json:"store_ok"`
	Generator string `json:"generator"`
	AIEnabled bool   `json:"ai_enabled"`
	Timestamp int64  `json:"timestamp"`
}

func (c *Client) GetDocument(ctx context.Context) (*model.Document, error) {
	var doc model.Document
	if err := c.do(ctx, http.MethodGet, "/document", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument writes content; a nil expected skips the version check.
func (c *Client) UpdateDocument(ctx context.Context, content, editor string, expected *int) (*model.Document, error) {
	body := map[string]interface{}{
		"content": content,
		"editor":  editor,
	}
	if expected != nil {
		body["expected_version"] = *expected
	}
	var doc model.Document
	if err := c.do(ctx, http.MethodPut, "/document", body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) ListVersions(ctx context.Context, limit int) ([]model.VersionMeta, error) {
	path := "/document/versions"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var metas []model.VersionMeta
	if err := c.do(ctx, http.MethodGet, path, nil, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

func (c *Client) GetVersion(ctx context.Context, version int) (*model.VersionRecord, error) {
	var rec model.VersionRecord
	if err := c.do(ctx, http.MethodGet, "/document/versions/"+strconv.Itoa(version), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Restore(ctx context.Context, version int, actor string) (*model.Document, error) {
	var doc model.Document
	body := map[string]interface{}{"version": version, "actor": actor}
	if err := c.do(ctx, http.MethodPost, "/document/restore", body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) SendMessage(ctx context.Context, nickname, text string) (*SendResult, error) {
	var res SendResult
	body := map[string]string{"nickname": nickname, "text": text}
	if err := c.do(ctx, http.MethodPost, "/messages", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	path := "/messages"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return decodeError(env)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func decodeError(env envelope) error {
	switch env.Code {
	case errcode.ErrNotFound:
		return appErr.ErrNotFound
	case errcode.ErrConflict:
		conflict := &appErr.ConflictError{}
		if err := json.Unmarshal(env.Data, conflict); err != nil {
			return fmt.Errorf("%w: %s", appErr.ErrConflict, env.Msg)
		}
		return conflict
	case errcode.ErrInvalid:
		return fmt.Errorf("%w: %s", appErr.ErrInvalid, env.Msg)
	case errcode.ErrTooMany:
		return appErr.ErrTooMany
	case errcode.ErrAIUnavailable:
		return appErr.ErrUnavailable
	case errcode.ErrAIFailed:
		return appErr.ErrGeneratorFailed
	case errcode.ErrPersistence:
		return fmt.Errorf("%w: %s", appErr.ErrPersistence, env.Msg)
	default:
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
}
