package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/preview"
	"github.com/BerylCAtieno/statement-extraction-api/internal/services"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
	"github.com/gorilla/mux"
)

const maxSchemaBody = 1 << 20

type ProcessHandler struct {
	responder
	service services.ProcessingService
}

func NewProcessHandler(service services.ProcessingService, logger *utils.Logger) *ProcessHandler {
	return &ProcessHandler{
		responder: responder{logger: logger},
		service:   service,
	}
}

func documentKey(r *http.Request) models.DocumentKey {
	vars := mux.Vars(r)
	return models.DocumentKey{Folder: vars["folder"], Filename: vars["filename"]}
}

// Process runs the legacy combined flow: parse (cached unless forced) then
// extract with the default schema.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force_reparse")
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp, err := h.service.Process(r.Context(), documentKey(r), force)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *ProcessHandler) Parse(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force_reparse")
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp, err := h.service.Parse(r.Context(), documentKey(r), force)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Extract accepts an optional {"schema": {...}} body that is used for this
// extraction only.
func (h *ProcessHandler) Extract(w http.ResponseWriter, r *http.Request) {
	useCustom, err := queryBool(r, "use_custom_schema")
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req models.ExtractRequest
	if err := decodeOptional(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	resp, err := h.service.Extract(r.Context(), documentKey(r), useCustom, req.Schema)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSchemaBody))
	if err != nil {
		return utils.NewBadRequestError("Request body too large")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return utils.NewBadRequestError("Invalid request body")
	}
	return nil
}

func (h *ProcessHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetSchema(r.Context(), documentKey(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *ProcessHandler) PutSchema(w http.ResponseWriter, r *http.Request) {
	var req models.SchemaUpdateRequest
	if err := decodeOptional(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	resp, err := h.service.PutSchema(r.Context(), documentKey(r), req.Schema)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *ProcessHandler) DeleteSchema(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.DeleteSchema(r.Context(), documentKey(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *ProcessHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Status(r.Context(), documentKey(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *ProcessHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Metadata(r.Context(), documentKey(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Markdown returns the parsed markdown as JSON, or as an HTML page with ?format=html.
func (h *ProcessHandler) Markdown(w http.ResponseWriter, r *http.Request) {
	key := documentKey(r)
	md, err := h.service.Markdown(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if r.URL.Query().Get("format") != "html" {
		h.respondJSON(w, http.StatusOK, map[string]string{"filename": key.Filename, "markdown": md})
		return
	}

	fragment, err := preview.HTML(md)
	if err != nil {
		h.respondError(w, fmt.Errorf("render markdown: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(preview.Page(key.Filename, fragment))
}

// Download serves the processed CSV (or XLSX with ?format=xlsx). HEAD reports
// availability without a body.
func (h *ProcessHandler) Download(w http.ResponseWriter, r *http.Request) {
	dl, err := h.service.Download(r.Context(), documentKey(r), r.URL.Query().Get("format"))
	if err != nil {
		var appErr *utils.AppError
		if r.Method == http.MethodHead && errors.As(err, &appErr) {
			w.WriteHeader(appErr.StatusCode)
			return
		}
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(dl.Data)
	}
}
