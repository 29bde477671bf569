package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sells-group/serp-monitor/internal/export"
	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/store"
)

func (s *Server) handleExportDaily(w http.ResponseWriter, r *http.Request) {
	snaps, ok := s.exportWindow(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.DailyPositions(&buf, snaps); err != nil {
		internalError(w, r, err)
		return
	}
	s.sendWorkbook(w, "daily", &buf)
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	snaps, ok := s.exportWindow(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	err := export.PositionHistory(&buf, snaps, url)
	if errors.Is(err, export.ErrNoData) {
		writeError(w, http.StatusNotFound, "no data for url")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	s.sendWorkbook(w, "position_history", &buf)
}

func (s *Server) handleExportSummary(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	stats, err := a.Stats(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	links, err := a.LinkStats(r.Context(), a.Since(days), time.Time{}, 0)
	if err != nil {
		internalError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.Summary(&buf, stats, links); err != nil {
		internalError(w, r, err)
		return
	}
	s.sendWorkbook(w, "summary", &buf)
}

// exportWindow loads every snapshot of the last ?days= days (default 30).
func (s *Server) exportWindow(w http.ResponseWriter, r *http.Request) ([]model.Snapshot, bool) {
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return nil, false
	}
	st, err := s.stores.Resolve(r.Context(), tenantOf(r))
	if err != nil {
		internalError(w, r, err)
		return nil, false
	}
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	snaps, err := st.ListSnapshots(r.Context(), store.SnapshotFilter{Since: since, Limit: store.NoLimit})
	if err != nil {
		internalError(w, r, err)
		return nil, false
	}
	return snaps, true
}

func (s *Server) sendWorkbook(w http.ResponseWriter, kind string, buf *bytes.Buffer) {
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+export.Filename(kind, s.now()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w) //nolint:errcheck
}
