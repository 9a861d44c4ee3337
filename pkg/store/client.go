package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/breadcrumb"
	"ripple/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Settings holds technical parameters for the store client.
type Settings struct {
	RequestTimeout time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		RequestTimeout: 15 * time.Second,
	}
}

// Client talks to the document store over its CRUD+query HTTP contract.
// All writes go through the optimistic-concurrency protocol; the client
// never holds in-process locks on documents since multiple processes may
// run against the same store.
type Client struct {
	baseURL    string
	creds      CredentialSource
	httpClient *http.Client
	settings   *Settings
}

func NewClient(baseURL string, creds CredentialSource, settings *Settings) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: settings.RequestTimeout,
		},
		settings: settings,
	}
}

// CreateRequest is the body of POST /documents.
type CreateRequest struct {
	SchemaName string              `json:"schema_name"`
	Title      string              `json:"title"`
	Tags       []string            `json:"tags"`
	Context    jsoniter.RawMessage `json:"context,omitempty"`
}

type createResponse struct {
	ID string `json:"id"`
}

// Create writes a new document and returns its id. A ULID idempotency
// key makes retried creates safe.
func (c *Client) Create(ctx context.Context, req CreateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode create request: %w", err)
	}
	headers := http.Header{"Idempotency-Key": []string{utils.NewID()}}
	data, err := c.do(ctx, http.MethodPost, "/documents", nil, headers, body)
	if err != nil {
		return "", err
	}
	var res createResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("failed to parse create response: %w", err)
	}
	return res.ID, nil
}

// Query bounds a List call. Zero values leave the corresponding filter off.
type Query struct {
	SchemaName string
	Tag        string
	Limit      int
}

// List returns matching document summaries, newest first.
func (c *Client) List(ctx context.Context, q Query) ([]breadcrumb.Breadcrumb, error) {
	params := url.Values{}
	if q.SchemaName != "" {
		params.Set("schema_name", q.SchemaName)
	}
	if q.Tag != "" {
		params.Set("tag", q.Tag)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	data, err := c.do(ctx, http.MethodGet, "/documents", params, nil, nil)
	if err != nil {
		return nil, err
	}
	var docs []breadcrumb.Breadcrumb
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}
	return docs, nil
}

// Get fetches the full document including its current version.
func (c *Client) Get(ctx context.Context, id string) (*breadcrumb.Breadcrumb, error) {
	data, err := c.do(ctx, http.MethodGet, "/documents/"+id, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var doc breadcrumb.Breadcrumb
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", id, err)
	}
	return &doc, nil
}

// UpdateRequest is the body of PATCH /documents/{id}. Nil fields are
// left untouched by the store.
type UpdateRequest struct {
	Title   *string             `json:"title,omitempty"`
	Tags    []string            `json:"tags,omitempty"`
	Context jsoniter.RawMessage `json:"context,omitempty"`
}

// Update conditionally patches a document. version must be the version
// the caller read; a stale value yields ErrStaleVersion and the stored
// document is left untouched.
func (c *Client) Update(ctx context.Context, id string, version int64, req UpdateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode update request: %w", err)
	}
	headers := http.Header{"If-Match": []string{strconv.FormatInt(version, 10)}}
	_, err = c.do(ctx, http.MethodPatch, "/documents/"+id, nil, headers, body)
	return err
}

// Delete removes a document, conditionally when version > 0.
func (c *Client) Delete(ctx context.Context, id string, version int64) error {
	var headers http.Header
	if version > 0 {
		headers = http.Header{"If-Match": []string{strconv.FormatInt(version, 10)}}
	}
	_, err := c.do(ctx, http.MethodDelete, "/documents/"+id, nil, headers, nil)
	return err
}

// UpdateWithRetry applies mutate under the read-version-then-conditional-
// write discipline. On a stale-version rejection it refetches once and
// retries with the fresh version before surfacing the conflict.
func (c *Client) UpdateWithRetry(ctx context.Context, id string, mutate func(*breadcrumb.Breadcrumb) (UpdateRequest, error)) error {
	for attempt := 0; attempt < 2; attempt++ {
		doc, err := c.Get(ctx, id)
		if err != nil {
			return err
		}
		req, err := mutate(doc)
		if err != nil {
			return err
		}
		err = c.Update(ctx, id, doc.Version, req)
		if err == nil {
			return nil
		}
		if attempt == 0 && errors.Is(err, ErrStaleVersion) {
			continue
		}
		return err
	}
	return ErrStaleVersion
}

// do performs one authenticated request. A 401 response triggers a
// single credential refresh and one replay of the same request before
// ErrUnauthorized is surfaced.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, headers http.Header, body []byte) ([]byte, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain credential: %w", err)
	}

	data, status, err := c.roundTrip(ctx, method, path, params, headers, body, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		token, err = c.creds.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh credential: %w", err)
		}
		data, status, err = c.roundTrip(ctx, method, path, params, headers, body, token)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status >= 200 && status < 300:
		return data, nil
	case status == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case status == http.StatusPreconditionFailed || status == http.StatusConflict:
		return nil, fmt.Errorf("%s: %w", path, ErrStaleVersion)
	default:
		return nil, &StatusError{Status: status, Body: string(data)}
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params url.Values, headers http.Header, body []byte, token string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, err
	}
	for key, values := range headers {
		req.Header[key] = values
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read store response: %w", err)
	}
	return data, resp.StatusCode, nil
}
