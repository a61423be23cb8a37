// Package ade is the HTTP client for the remote document extraction service.
// Parse turns a document into markdown and grounded chunks; Extract turns
// markdown into rows described by a JSON schema.
package ade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/config"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

// ErrTimeout is returned when a parse or extract exceeds the remote timeout.
var ErrTimeout = errors.New("remote operation timed out")

// RemoteError is a non-success response from the service.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("extraction service returned status %d: %s", e.StatusCode, e.Message)
}

// ProgressFunc receives parse progress as a percentage and a short message.
type ProgressFunc func(pct int, message string)

type Service interface {
	Parse(ctx context.Context, filename string, document []byte, progress ProgressFunc) (*models.ParseArtifact, error)
	Extract(ctx context.Context, markdown string, schema json.RawMessage) (map[string]any, error)
}

type client struct {
	apiKey        string
	baseURL       string
	parseModel    string
	extractModel  string
	remoteTimeout time.Duration
	// requestTimeout bounds job status polls.
	requestTimeout time.Duration
	pollInterval   time.Duration
	maxRetries     int
	logger         *utils.Logger
	http           *http.Client
}

func NewClient(cfg *config.Config, logger *utils.Logger) Service {
	return &client{
		apiKey:         cfg.ADEAPIKey,
		baseURL:        strings.TrimRight(cfg.ADEBaseURL, "/"),
		parseModel:     cfg.ADEParseModel,
		extractModel:   cfg.ADEExtractModel,
		remoteTimeout:  cfg.RemoteTimeout,
		requestTimeout: cfg.RequestTimeout,
		pollInterval:   2 * time.Second,
		maxRetries:     3,
		logger:         logger,
		// Per-call deadlines come from the context.
		http: &http.Client{},
	}
}

type formFile struct {
	field    string
	filename string
	data     []byte
}

func (c *client) newMultipart(ctx context.Context, path string, fields map[string]string, files ...formFile) (*http.Request, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write form file: %w", err)
		}
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// do sends req, retrying transport errors, 429 and 5xx with backoff, and decodes
// a JSON response into out.
func (c *client) do(req *http.Request, out any) error {
	var payload []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to buffer request: %w", err)
		}
		payload = b
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-req.Context().Done():
				return classify(req.Context().Err())
			case <-time.After(backoff):
			}
		}
		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return classify(req.Context().Err())
			}
			lastErr = fmt.Errorf("failed to send request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			if req.Context().Err() != nil {
				return classify(req.Context().Err())
			}
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = &RemoteError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.logger.Warn("ade.request.retry", "path", req.URL.Path, "status", resp.StatusCode, "attempt", attempt+1)
				continue
			}
			return lastErr
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// errorMessage pulls a readable message out of an error body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		switch {
		case e.Message != "":
			return e.Message
		case e.Error != "":
			return e.Error
		case e.Detail != nil:
			return fmt.Sprint(e.Detail)
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
