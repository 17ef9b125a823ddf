package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/ledger"
	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/dgallion1/irdigest/internal/report"
	"github.com/go-chi/chi/v5"
)

type recordJSON struct {
	ID               int64     `json:"id"`
	Filename         string    `json:"filename"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
	StrategicSummary string    `json:"strategic_summary"`
	PageDetail       string    `json:"page_detail,omitempty"`
	ContentSHA256    string    `json:"content_sha256,omitempty"`
}

func toRecordJSON(r deck.Record) recordJSON {
	return recordJSON{
		ID:               r.ID,
		Filename:         r.Filename,
		AnalyzedAt:       r.AnalyzedAt,
		StrategicSummary: r.StrategicSummary,
		PageDetail:       r.PageDetail,
		ContentSHA256:    r.ContentSHA256,
	}
}

// handleListAnalyses lists every record, newest first, without page data.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Records.ListAll(r.Context())
	if err != nil {
		jsonError(w, "failed to list analyses: "+err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]recordJSON, 0, len(recs))
	for _, rec := range recs {
		j := toRecordJSON(rec)
		j.PageDetail = ""
		out = append(out, j)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"analyses": out})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toRecordJSON(*rec))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format, ok := report.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		jsonError(w, "format must be md, html, or docx", http.StatusBadRequest)
		return
	}
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}

	var body []byte
	var err error
	switch format {
	case report.FormatHTML:
		body, err = report.HTML(*rec)
	case report.FormatDOCX:
		body, err = report.DOCX(*rec)
	default:
		body = []byte(report.Markdown(*rec))
	}
	if err != nil {
		jsonError(w, "render report: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.DownloadName(rec.Filename, format)+`"`)
	w.Write(body)
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := s.deps.Records.DeleteByID(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		jsonError(w, "analysis not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to delete analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("analysis deleted", "record_id", id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"deleted": id})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	if s.deps.Delivery == nil {
		jsonError(w, pipeline.ErrNoDelivery.Error(), http.StatusConflict)
		return
	}
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	err := s.deps.Delivery.Deliver(r.Context(), *rec)
	switch {
	case errors.Is(err, pipeline.ErrNoDelivery):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"delivered": rec.ID})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Records.ListAll(r.Context())
	if err != nil {
		jsonError(w, "failed to list analyses: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="ir_analyses.csv"`)
	if err := report.WriteCSV(w, recs); err != nil {
		s.log.Error("csv export failed", "error", err)
	}
}

func (s *Server) loadRecord(w http.ResponseWriter, r *http.Request) (*deck.Record, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}
	rec, err := s.deps.Records.GetByID(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		jsonError(w, "analysis not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		jsonError(w, "failed to load analysis: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return rec, true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid analysis id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
