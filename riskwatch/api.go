package riskwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
	"github.com/hazyhaar/riskwatch/shield"
)

// Handler returns the HTTP API with the MCP endpoint mounted at /mcp.
// mws run in order before every route.
func (s *Service) Handler(mws ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, mw := range mws {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": string(s.State())})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handleScan)
		r.Get("/alerts", s.handleListAlerts)
		r.Get("/alerts/search", s.handleSearchAlerts)
		r.Get("/reports", s.handleListReports)
		r.Post("/reports", s.handleGenerateReport)
		r.Get("/reports/{id}/download", s.handleDownloadReport)
		r.Get("/stats", s.handleStats)
		r.Get("/runs", s.handleRuns)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleUpdateConfig)
	})

	srv := s.MCPServer()
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	return r
}

func (s *Service) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.ManualScan(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: scan failed", "error", err)
		writeJSON(w, scanStatus(err), map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"runId":     res.RunID,
		"newAlerts": len(res.Alerts),
		"urgent":    res.Urgent,
		"sources":   res.Sources,
	})
}

func scanStatus(err error) int {
	switch {
	case errors.Is(err, ErrConfigMissing):
		return http.StatusConflict
	case errors.Is(err, ErrScanInProgress):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Service) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.ListAlerts(queryInt(r, "limit", DefaultAlertLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Service) handleSearchAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing q parameter"))
		return
	}
	alerts, err := s.SearchAlerts(r.Context(), q, queryInt(r, "limit", 20))
	switch {
	case errors.Is(err, ErrNoArchive):
		writeError(w, http.StatusNotImplemented, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, alerts)
	}
}

func (s *Service) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.ListReports()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Service) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Type == "" {
		req.Type = string(store.Daily)
	}
	rep, err := s.GenerateReport(store.ReportType(req.Type))
	switch {
	case errors.Is(err, ErrInvalidReportType):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusCreated, rep)
	}
}

func (s *Service) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, text, err := s.ReportText(id)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "risk-report-"+rep.ID+".txt"))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Runs(r.Context(), queryInt(r, "limit", 50))
	switch {
	case errors.Is(err, ErrNoArchive):
		writeError(w, http.StatusNotImplemented, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, runs)
	}
}

func (s *Service) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _, err := s.Configuration()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Service) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg store.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	saved, err := s.UpdateConfiguration(cfg)
	switch {
	case errors.Is(err, ErrConfigInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": saved})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
