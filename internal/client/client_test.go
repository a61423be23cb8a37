package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/pipeline"
)

var key = models.DocumentKey{Folder: "f1", Filename: "may 2024.pdf"}

func TestParseAndExtractRequests(t *testing.T) {
	var gotPaths, gotBodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPaths = append(gotPaths, r.Method+" "+r.URL.EscapedPath()+"?"+r.URL.RawQuery)
		gotBodies = append(gotBodies, string(body))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/process/f1/may 2024.pdf/parse":
			w.Write([]byte(`{"chunks_count": 4, "pages_count": 2, "pages": [0, 1], "used_cache": true}`))
		case "/api/v1/process/f1/may 2024.pdf/extract":
			w.Write([]byte(`{"output_file": "may 2024.pdf.csv", "transactions_count": 7, "used_custom_schema": true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/v1", Options{})
	ctx := context.Background()

	parsed, err := c.Parse(ctx, key, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.ChunksCount != 4 || !parsed.UsedCache {
		t.Errorf("Parse = %+v", parsed)
	}

	res, err := c.Extract(ctx, key, false, json.RawMessage(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.TransactionsCount != 7 {
		t.Errorf("Extract = %+v", res)
	}

	wantPaths := []string{
		"POST /api/v1/process/f1/may%202024.pdf/parse?force_reparse=true",
		"POST /api/v1/process/f1/may%202024.pdf/extract?use_custom_schema=false",
	}
	for i, want := range wantPaths {
		if gotPaths[i] != want {
			t.Errorf("request %d = %q, want %q", i, gotPaths[i], want)
		}
	}
	if gotBodies[0] != "" || gotBodies[1] != `{"schema":{"type":"object"}}` {
		t.Errorf("bodies = %q", gotBodies)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		status   int
		wantKind Kind
		sentinel error
	}{
		{http.StatusBadRequest, KindValidation, pipeline.ErrRejected},
		{http.StatusNotFound, KindNotFound, pipeline.ErrRejected},
		{http.StatusConflict, KindConflict, pipeline.ErrBusy},
		{http.StatusGatewayTimeout, KindTimeout, pipeline.ErrTimeout},
		{http.StatusBadGateway, KindRemote, nil},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": "server says no"}`))
			}))
			defer srv.Close()

			_, err := New(srv.URL, Options{}).Extract(context.Background(), key, false, nil)
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if apiErr.Kind != tt.wantKind || apiErr.Message != "server says no" {
				t.Errorf("error = %+v", apiErr)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			if tt.sentinel == nil && (errors.Is(err, pipeline.ErrRejected) || errors.Is(err, pipeline.ErrTimeout)) {
				t.Errorf("remote failure should not match validation or timeout sentinels")
			}
		})
	}
}

func TestMetadataCallsUseShortTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, Options{RequestTimeout: 20 * time.Millisecond, RemoteTimeout: time.Minute})
	_, err := c.GetStatus(context.Background(), key)

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindTimeout {
		t.Fatalf("err = %v, want a timeout", err)
	}
	if !errors.Is(err, pipeline.ErrTimeout) || errors.Is(err, pipeline.ErrRejected) {
		t.Errorf("timeout must be distinguishable from validation errors: %v", err)
	}
}

func TestArtifacts(t *testing.T) {
	tests := []struct {
		name      string
		metadata  int
		download  int
		want      pipeline.Artifacts
		wantError bool
	}{
		{"nothing", http.StatusNotFound, http.StatusNotFound, pipeline.Artifacts{}, false},
		{"parsed", http.StatusOK, http.StatusNotFound, pipeline.Artifacts{Parsed: true}, false},
		{"extracted", http.StatusOK, http.StatusOK, pipeline.Artifacts{Parsed: true, Extracted: true}, false},
		{"server error", http.StatusInternalServerError, http.StatusOK, pipeline.Artifacts{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch {
				case r.Method == http.MethodGet && r.URL.Path == "/process/f1/may 2024.pdf/metadata":
					w.WriteHeader(tt.metadata)
					w.Write([]byte(`{}`))
				case r.Method == http.MethodHead && r.URL.Path == "/process/f1/may 2024.pdf/download":
					w.WriteHeader(tt.download)
				default:
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
			}))
			defer srv.Close()

			got, err := New(srv.URL, Options{}).Artifacts(context.Background(), key)
			if (err != nil) != tt.wantError {
				t.Fatalf("err = %v, wantError %v", err, tt.wantError)
			}
			if got != tt.want {
				t.Errorf("Artifacts = %+v, want %+v", got, tt.want)
			}
		})
	}
}
