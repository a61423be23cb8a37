package ade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/grounding"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

// Parse job states reported by the service.
const (
	jobPending    = "pending"
	jobProcessing = "processing"
	jobCompleted  = "completed"
	jobFailed     = "failed"
	jobCancelled  = "cancelled"
)

type createJobResponse struct {
	JobID string `json:"job_id"`
}

type jobStatus struct {
	JobID         string                `json:"job_id"`
	Status        string                `json:"status"`
	Progress      float64               `json:"progress"`
	Data          *models.ParseArtifact `json:"data"`
	OutputURL     string                `json:"output_url"`
	FailureReason string                `json:"failure_reason"`
}

// Parse submits the document as an async parse job and polls it to completion.
// Jobs avoid the page limit of the synchronous parse endpoint.
func (c *client) Parse(ctx context.Context, filename string, document []byte, progress ProgressFunc) (*models.ParseArtifact, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	progress(5, "Starting async parse job...")
	req, err := c.newMultipart(ctx, "/v1/ade/parse/jobs",
		map[string]string{"model": c.parseModel},
		formFile{field: "document", filename: filename, data: document},
	)
	if err != nil {
		return nil, err
	}
	var created createJobResponse
	if err := c.do(req, &created); err != nil {
		return nil, fmt.Errorf("create parse job: %w", err)
	}
	if created.JobID == "" {
		return nil, fmt.Errorf("create parse job: response has no job id")
	}
	c.logger.Info("ade.parse.job_created", "job_id", created.JobID, "filename", filename, "size_bytes", len(document))
	progress(10, fmt.Sprintf("Parse job created: %s", created.JobID))

	artifact, err := c.waitForJob(ctx, created.JobID, progress)
	if err != nil {
		c.logger.Error("ade.parse.failed", "job_id", created.JobID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	if artifact.Markdown == "" {
		return nil, fmt.Errorf("parse job %s returned no markdown", created.JobID)
	}
	c.sanitize(artifact)

	c.logger.Info("ade.parse.ok",
		"job_id", created.JobID,
		"chunks", len(artifact.Chunks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return artifact, nil
}

func (c *client) waitForJob(ctx context.Context, jobID string, progress ProgressFunc) (*models.ParseArtifact, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case jobCompleted:
			if status.Data != nil {
				return status.Data, nil
			}
			if status.OutputURL != "" {
				return c.fetchOutput(ctx, status.OutputURL)
			}
			return nil, fmt.Errorf("parse job %s completed without data", jobID)
		case jobFailed, jobCancelled:
			reason := status.FailureReason
			if reason == "" {
				reason = status.Status
			}
			return nil, fmt.Errorf("parse job %s %s: %s", jobID, status.Status, reason)
		default:
			// Job progress maps onto 10-90 of the overall operation.
			progress(10+int(status.Progress*80), fmt.Sprintf("Parsing document (%.0f%%)", status.Progress*100))
		}

		select {
		case <-ctx.Done():
			return nil, classify(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *client) jobStatus(ctx context.Context, jobID string) (*jobStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, c.baseURL+"/v1/ade/parse/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var status jobStatus
	if err := c.do(req, &status); err != nil {
		// A slow poll is not a slow job; only the overall deadline is a timeout.
		if errors.Is(err, ErrTimeout) && ctx.Err() == nil {
			return &jobStatus{JobID: jobID, Status: jobProcessing}, nil
		}
		return nil, fmt.Errorf("get parse job %s: %w", jobID, err)
	}
	return &status, nil
}

// fetchOutput downloads a large job result from its presigned URL.
func (c *client) fetchOutput(ctx context.Context, url string) (*models.ParseArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var artifact models.ParseArtifact
	if err := c.do(req, &artifact); err != nil {
		return nil, fmt.Errorf("fetch parse output: %w", err)
	}
	return &artifact, nil
}

// sanitize drops geometry that fails validation so stored artifacts only carry
// valid boxes and pages. A chunk with a negative page loses its grounding
// entirely; a chunk with a bad box keeps its page.
func (c *client) sanitize(a *models.ParseArtifact) {
	for i := range a.Chunks {
		ch := &a.Chunks[i]
		if err := grounding.Validate(ch.Grounding); err != nil {
			c.logger.Warn("ade.parse.invalid_box", "chunk_id", ch.ID, "error", err)
			if ch.Grounding.Page < 0 {
				ch.Grounding = nil
			} else {
				ch.Grounding.Box = nil
			}
		}
		if ch.PageNumber != nil && *ch.PageNumber < 0 {
			ch.PageNumber = nil
		}
		if ch.Grounding != nil && ch.PageNumber == nil {
			page := ch.Grounding.Page
			ch.PageNumber = &page
		}
	}
}
