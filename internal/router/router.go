package router

import (
	"net/http"

	"github.com/BerylCAtieno/statement-extraction-api/internal/handlers"
	"github.com/BerylCAtieno/statement-extraction-api/internal/middleware"
	"github.com/BerylCAtieno/statement-extraction-api/internal/services"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"

	"github.com/gorilla/mux"
)

type Services struct {
	Folders     services.FolderService
	Processing  services.ProcessingService
	MaxFileSize int64
}

func NewRouter(svc Services, logger *utils.Logger) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	folderHandler := handlers.NewFolderHandler(svc.Folders, svc.MaxFileSize, logger)
	processHandler := handlers.NewProcessHandler(svc.Processing, logger)

	// Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Preflight requests only need the CORS headers.
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Health check
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Folder endpoints
	api.HandleFunc("/folders", folderHandler.CreateFolder).Methods(http.MethodPost)
	api.HandleFunc("/folders", folderHandler.ListFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders/{folderID}", folderHandler.GetFolder).Methods(http.MethodGet)
	api.HandleFunc("/folders/{folderID}", folderHandler.DeleteFolder).Methods(http.MethodDelete)
	api.HandleFunc("/folders/{folderID}/files", folderHandler.UploadFiles).Methods(http.MethodPost)
	api.HandleFunc("/folders/{folderID}/files/{filename}", folderHandler.GetFile).Methods(http.MethodGet)
	api.HandleFunc("/folders/{folderID}/files/{filename}", folderHandler.DeleteFile).Methods(http.MethodDelete)

	// Processing endpoints
	doc := api.PathPrefix("/process/{folder}/{filename}").Subrouter()
	doc.HandleFunc("", processHandler.Process).Methods(http.MethodPost)
	doc.HandleFunc("/parse", processHandler.Parse).Methods(http.MethodPost)
	doc.HandleFunc("/extract", processHandler.Extract).Methods(http.MethodPost)
	doc.HandleFunc("/schema", processHandler.GetSchema).Methods(http.MethodGet)
	doc.HandleFunc("/schema", processHandler.PutSchema).Methods(http.MethodPut)
	doc.HandleFunc("/schema", processHandler.DeleteSchema).Methods(http.MethodDelete)
	doc.HandleFunc("/status", processHandler.Status).Methods(http.MethodGet)
	doc.HandleFunc("/metadata", processHandler.Metadata).Methods(http.MethodGet)
	doc.HandleFunc("/markdown", processHandler.Markdown).Methods(http.MethodGet)
	doc.HandleFunc("/download", processHandler.Download).Methods(http.MethodGet, http.MethodHead)

	return r
}
