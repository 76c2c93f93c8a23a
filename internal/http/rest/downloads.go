package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
)

const defaultHistoryLimit = 50

// Manager is the part of the downloader the API drives.
type Manager interface {
	Start(ctx context.Context, url, dir, name string, l downloader.Listener) (string, error)
	Resume(ctx context.Context, url, dir, name string, l downloader.Listener) (string, error)
	Pause(id string) error
	Cancel(id string) bool
	Get(id string) (downloader.Snapshot, bool)
	List() []downloader.Snapshot
}

type DownloadRequest struct {
	URL string `json:"url"`
	// Dir is relative to the configured target directory.
	Dir  string `json:"dir"`
	Name string `json:"name"`
}

type DownloadResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	manager   Manager
	history   storage.DownloadReadRepository
	targetDir string
	username  string
	password  string
}

// NewDownloadsHandler creates the downloads API. history may be nil, in which
// case /history answers 404. Basic auth is enforced when username is set.
func NewDownloadsHandler(m Manager, history storage.DownloadReadRepository, targetDir, username, password string) *DownloadsHandler {
	return &DownloadsHandler{
		manager:   m,
		history:   history,
		targetDir: targetDir,
		username:  username,
		password:  password,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleStart)
		r.Post("/resume", h.HandleResume)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/pause", h.HandlePause)
		r.Delete("/{id}", h.HandleCancel)
	})
	r.Get("/history", h.HandleHistory)

	return r
}

func (h *DownloadsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.manager.Start)
}

func (h *DownloadsHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.manager.Resume)
}

type startFunc func(ctx context.Context, url, dir, name string, l downloader.Listener) (string, error)

func (h *DownloadsHandler) start(w http.ResponseWriter, r *http.Request, fn startFunc) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return
	}

	id, err := fn(ctx, req.URL, h.resolveDir(req.Dir), req.Name, progressLogger(logger.With("url", req.URL)))
	if err != nil {
		switch {
		case errors.Is(err, downloader.ErrInvalidRequest):
			writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, downloader.ErrShuttingDown):
			writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		default:
			logger.Error("failed to start download", "err", err)
			writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "failed to start download"})
		}

		return
	}

	writeJSON(ctx, w, http.StatusAccepted, DownloadResponse{ID: id})
}

func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, h.manager.List())
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Error: downloader.ErrTaskNotFound.Error()})

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, snap)
}

func (h *DownloadsHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Pause(chi.URLParam(r, "id")); err != nil {
		writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Error: err.Error()})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Cancel(chi.URLParam(r, "id")) {
		writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Error: downloader.ErrTaskNotFound.Error()})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.history == nil {
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "history is disabled"})

		return
	}

	limit := defaultHistoryLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})

			return
		}

		limit = n
	}

	records, err := h.history.GetDownloads(ctx, limit)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to load history", "err", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "failed to load history"})

		return
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	writeJSON(ctx, w, http.StatusOK, records)
}

// resolveDir confines dir to the target directory.
func (h *DownloadsHandler) resolveDir(dir string) string {
	return filepath.Join(h.targetDir, filepath.Clean("/"+dir))
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// progressLogger reports task progress to the debug log.
func progressLogger(logger *slog.Logger) downloader.Listener {
	return downloader.ListenerFuncs{
		Downloading: func(p downloader.Progress) {
			if p.Percent < 0 {
				logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(p.BytesDownloaded)))

				return
			}

			logger.Debug("download progress",
				"downloaded", humanize.Bytes(uint64(p.BytesDownloaded)),
				"total", humanize.Bytes(uint64(p.TotalBytes)),
				"percent", p.Percent)
		},
		Speed: func(bps int64) {
			logger.Debug("download speed", "speed", humanize.Bytes(uint64(bps))+"/s")
		},
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
