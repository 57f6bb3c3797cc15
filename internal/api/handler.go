// Package api exposes the mailbox operations as JSON tools over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/email-mcp/internal/logging"
	"github.com/nhle/email-mcp/internal/mailbox"
	appsync "github.com/nhle/email-mcp/internal/sync"
)

// MaxArgumentBytes bounds the size of a tool call body.
const MaxArgumentBytes = 1 << 20

// Handler handles tool listing and invocation.
type Handler struct {
	tools   map[string]Tool
	session *mailbox.Session
	watcher *appsync.Poller
	version string
	logger  *slog.Logger
}

// NewHandler creates a Handler exposing s. session is reported by the
// health endpoint and may be nil.
func NewHandler(s Services, session *mailbox.Session, version string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		tools:   buildTools(s),
		session: session,
		watcher: s.Watcher,
		version: version,
		logger:  log.With(slog.String("component", "api")),
	}
}

// ListTools handles GET /tools
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sortedTools(h.tools))
}

// CallTool handles POST /tools/{name}. The request body is the JSON
// argument object.
func (h *Handler) CallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool, ok := h.tools[name]
	if !ok {
		writeError(w, http.StatusNotFound, CodeToolNotFound, "Unknown tool: "+name, nil)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxArgumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeValidationError, "Arguments too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, CodeValidationError, "Unreadable request body", nil)
		return
	}

	log := logging.FromContext(r.Context(), h.logger).With(slog.String("tool", name))
	start := time.Now()
	result, err := tool.call(r.Context(), json.RawMessage(raw))
	if err != nil {
		status, code := classify(err)
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(r.Context(), level, "tool call failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
		writeError(w, status, code, err.Error(), validationDetails(err))
		return
	}

	log.Info("tool call completed", slog.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusOK, result)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string                 `json:"status"`
	IMAP      string                 `json:"imap"`
	Folder    string                 `json:"selected_folder,omitempty"`
	Watched   []appsync.FolderStatus `json:"watched,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Health handles GET /healthz. The IMAP session reconnects on demand, so
// a disconnected session does not fail the check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		IMAP:      "unconfigured",
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.session != nil {
		resp.IMAP = h.session.State().String()
		resp.Folder = h.session.Selected()
	}
	if h.watcher != nil {
		resp.Watched = h.watcher.Statuses()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
