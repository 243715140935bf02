package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/MimeLyc/print-queue/internal/config"
	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/jobs"
	"github.com/MimeLyc/print-queue/internal/persistence"
	"github.com/MimeLyc/print-queue/pkg/file"
	"github.com/MimeLyc/print-queue/pkg/log"
)

const defaultListLimit = 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"printer_connected": s.printer.IsConnected(),
	})
}

func (s *Server) handlePrinterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.printer.Status(r.Context()))
}

func (s *Server) handlePrinterConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.printer.Connect(r.Context()); err != nil {
		log.Error("Failed to connect to printer: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":   false,
			"connected": s.printer.IsConnected(),
			"error":     errs.Describe(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"connected": s.printer.IsConnected(),
	})
}

func (s *Server) handlePrinterDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.printer.Disconnect(); err != nil {
		log.Error("Error disconnecting from printer: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"connected": s.printer.IsConnected(),
	})
}

type addJobRequest struct {
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	Priority int    `json:"priority"`
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req addJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeFailure(w, http.StatusBadRequest, "file_path is required")
		return
	}
	exists, err := file.IsRegular(req.FilePath)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("File not found: %s", req.FilePath))
		return
	}

	name := req.FileName
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(req.FilePath)
	}

	res := s.queue.Enqueue(jobs.EnqueueRequest{
		FilePath: req.FilePath,
		FileName: norm.NFC.String(name),
		Priority: req.Priority,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"job_id":   res.JobID,
		"position": res.Position,
		"message":  fmt.Sprintf("Job added to queue at position %d", res.Position),
	})
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := pathID(r, "/queue/remove/")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "missing job id")
		return
	}

	removed, err := s.queue.Remove(id)
	if err != nil {
		writeFailure(w, statusForError(err), errs.Describe(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Job %s removed from queue", id),
		"job":     removed,
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Status())
}

func (s *Server) handleQueueCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	completed := s.queue.Recent(queryLimit(r, defaultListLimit))
	writeJSON(w, http.StatusOK, map[string]any{
		"completed_jobs": completed,
		"count":          len(completed),
	})
}

func (s *Server) handleQueueJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := pathID(r, "/queue/job/")
	if !ok {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	job, found := s.queue.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := pathID(r, "/completion/")
	if !ok {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	job, found := s.queue.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", id))
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":          fmt.Sprintf("Job %s is not completed yet", id),
			"current_status": job.Status,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":          id,
		"completion_data": job.CompletionData,
		"completed_at":    job.CompletedAt,
	})
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.monitor == nil {
		writeError(w, http.StatusNotImplemented, "monitor is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Status(r.Context()))
}

type historyResponse struct {
	Jobs     []persistence.ArchivedRecord `json:"jobs"`
	Count    int                          `json:"count"`
	Totals   persistence.StatusCount      `json:"totals"`
	Schedule any                          `json:"schedule,omitempty"`
}

func (s *Server) handleArchiveHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "archive is not configured")
		return
	}

	records, err := s.history.RecentJobs(r.Context(), queryLimit(r, defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totals, err := s.history.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ret := historyResponse{Jobs: records, Count: len(records), Totals: totals}
	if s.schedule != nil {
		if info, err := s.schedule.Info(time.Now()); err == nil {
			ret.Schedule = info
		}
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// pathID extracts the single path segment after prefix.
func pathID(r *http.Request, prefix string) (string, bool) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// queryLimit reads ?limit=, falling back to def when absent or not a number.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func statusForError(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrValidation:
		return http.StatusBadRequest
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrConflict:
		return http.StatusConflict
	case errs.ErrDevice:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeFailure is the {"success": false} shape used by the queue mutation routes.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
