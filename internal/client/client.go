// Package client talks to the processing API served by cmd/server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/pipeline"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

type Kind int

const (
	KindRemote Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	}
	return "remote"
}

// Error is a failed API call. Message is the server's error text when it sent one.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets callers test for the pipeline sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case pipeline.ErrBusy:
		return e.Kind == KindConflict
	case pipeline.ErrTimeout:
		return e.Kind == KindTimeout
	case pipeline.ErrRejected:
		return e.Kind == KindValidation || e.Kind == KindNotFound
	}
	return false
}

func kindFor(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusGatewayTimeout:
		return KindTimeout
	}
	return KindRemote
}

type Options struct {
	// RemoteTimeout bounds parse and extract; RequestTimeout bounds every other call.
	RemoteTimeout  time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *utils.Logger
}

type Client struct {
	baseURL        string
	remoteTimeout  time.Duration
	requestTimeout time.Duration
	http           *http.Client
	logger         *utils.Logger
}

var _ pipeline.Remote = (*Client)(nil)

// New returns a client for the API rooted at baseURL, e.g. http://localhost:8080/api/v1.
func New(baseURL string, opts Options) *Client {
	c := &Client{
		baseURL:        baseURL,
		remoteTimeout:  opts.RemoteTimeout,
		requestTimeout: opts.RequestTimeout,
		http:           opts.HTTPClient,
		logger:         opts.Logger,
	}
	if c.remoteTimeout <= 0 {
		c.remoteTimeout = 10 * time.Minute
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 30 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = utils.NewNopLogger()
	}
	return c
}

func documentPath(key models.DocumentKey, op string) string {
	p := "/process/" + url.PathEscape(key.Folder) + "/" + url.PathEscape(key.Filename)
	if op != "" {
		p += "/" + op
	}
	return p
}

// call sends one request and decodes a JSON response into out when out is non-nil.
func (c *Client) call(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Message: fmt.Sprintf("%s %s timed out after %s", method, path, timeout), Err: pipeline.ErrTimeout}
		}
		return &Error{Kind: KindRemote, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("client.request", "method", method, "path", path, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil || method == http.MethodHead {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindRemote, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

func responseError(resp *http.Response) error {
	msg := http.StatusText(resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &Error{Kind: kindFor(resp.StatusCode), StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) Parse(ctx context.Context, key models.DocumentKey, force bool) (*models.ParseResponse, error) {
	var out models.ParseResponse
	q := url.Values{"force_reparse": {strconv.FormatBool(force)}}
	if err := c.call(ctx, c.remoteTimeout, http.MethodPost, documentPath(key, "parse"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Extract(ctx context.Context, key models.DocumentKey, useCustomSchema bool, override json.RawMessage) (*models.ExtractionResult, error) {
	var body any
	if override != nil {
		body = models.ExtractRequest{Schema: override}
	}
	var out models.ExtractionResult
	q := url.Values{"use_custom_schema": {strconv.FormatBool(useCustomSchema)}}
	if err := c.call(ctx, c.remoteTimeout, http.MethodPost, documentPath(key, "extract"), q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSchema(ctx context.Context, key models.DocumentKey) (*models.SchemaResponse, error) {
	var out models.SchemaResponse
	if err := c.call(ctx, c.requestTimeout, http.MethodGet, documentPath(key, "schema"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PutSchema(ctx context.Context, key models.DocumentKey, doc json.RawMessage) error {
	return c.call(ctx, c.requestTimeout, http.MethodPut, documentPath(key, "schema"), nil, models.SchemaUpdateRequest{Schema: doc}, nil)
}

func (c *Client) DeleteSchema(ctx context.Context, key models.DocumentKey) error {
	return c.call(ctx, c.requestTimeout, http.MethodDelete, documentPath(key, "schema"), nil, nil, nil)
}

func (c *Client) GetStatus(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error) {
	var out models.ProgressStatus
	if err := c.call(ctx, c.requestTimeout, http.MethodGet, documentPath(key, "status"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMetadata(ctx context.Context, key models.DocumentKey) (*models.MetadataResponse, error) {
	var out models.MetadataResponse
	if err := c.call(ctx, c.requestTimeout, http.MethodGet, documentPath(key, "metadata"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Artifacts reports which artifacts the server holds, using the metadata
// endpoint for the parse cache and a HEAD on the download for the result.
func (c *Client) Artifacts(ctx context.Context, key models.DocumentKey) (pipeline.Artifacts, error) {
	var a pipeline.Artifacts

	exists := func(method, op string) (bool, error) {
		err := c.call(ctx, c.requestTimeout, method, documentPath(key, op), nil, nil, nil)
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Kind == KindNotFound {
			return false, nil
		}
		return err == nil, err
	}

	var err error
	if a.Parsed, err = exists(http.MethodGet, "metadata"); err != nil {
		return a, err
	}
	if a.Extracted, err = exists(http.MethodHead, "download"); err != nil {
		return a, err
	}
	return a, nil
}
