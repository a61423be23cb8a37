package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/services"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
	"github.com/gorilla/mux"
)

const (
	maxFilesPerUpload = 20
	maxFormMemory     = 32 << 20
)

type FolderHandler struct {
	responder
	service     services.FolderService
	maxFileSize int64
}

func NewFolderHandler(service services.FolderService, maxFileSize int64, logger *utils.Logger) *FolderHandler {
	return &FolderHandler{
		responder:   responder{logger: logger},
		service:     service,
		maxFileSize: maxFileSize,
	}
}

func (h *FolderHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid request body"))
		return
	}

	folder, err := h.service.CreateFolder(r.Context(), req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, folder)
}

func (h *FolderHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.service.ListFolders(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, folders)
}

func (h *FolderHandler) GetFolder(w http.ResponseWriter, r *http.Request) {
	folder, err := h.service.GetFolder(r.Context(), mux.Vars(r)["folderID"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, folder)
}

func (h *FolderHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["folderID"]
	if err := h.service.DeleteFolder(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.MessageResponse{Message: "Folder deleted successfully"})
}

// UploadFiles accepts one or more PDFs in the "files" form field ("file" is
// also accepted for single uploads).
func (h *FolderHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	folderID := mux.Vars(r)["folderID"]
	limit := fmt.Sprintf("File size exceeds %dMB limit", h.maxFileSize>>20)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize*maxFilesPerUpload)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, utils.NewBadRequestError(limit))
			return
		}
		h.respondError(w, utils.NewBadRequestError("Invalid form data"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var headers []*multipart.FileHeader
	headers = append(headers, r.MultipartForm.File["files"]...)
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		h.respondError(w, utils.NewBadRequestError("No files provided"))
		return
	}
	if len(headers) > maxFilesPerUpload {
		h.respondError(w, utils.NewBadRequestError("At most "+strconv.Itoa(maxFilesPerUpload)+" files can be uploaded at once"))
		return
	}

	reqs := make([]*models.UploadRequest, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > h.maxFileSize {
			h.respondError(w, utils.NewBadRequestError(fmt.Sprintf("%s: %s", fh.Filename, limit)))
			return
		}
		data, err := readPart(fh, h.maxFileSize)
		if err != nil {
			h.respondError(w, utils.NewInternalError("Failed to read file"))
			return
		}
		reqs = append(reqs, &models.UploadRequest{
			File:        data,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}

	resp, err := h.service.UploadFiles(r.Context(), folderID, reqs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

func readPart(fh *multipart.FileHeader, max int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, max))
}

func (h *FolderHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	data, contentType, err := h.service.GetFile(r.Context(), vars["folderID"], vars["filename"])
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", vars["filename"]))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *FolderHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.DeleteFile(r.Context(), vars["folderID"], vars["filename"]); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.MessageResponse{Message: "File deleted successfully", Filename: vars["filename"]})
}
