package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/serp-monitor/internal/analytics"
	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/schedule"
	"github.com/sells-group/serp-monitor/internal/settings"
	"github.com/sells-group/serp-monitor/internal/store"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.Get(r.Context(), tenantOf(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var u model.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := s.settings.Update(r.Context(), tenantOf(r), u)
	if errors.Is(err, settings.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOf(r)
	if err := s.scheduler.RunNow(r.Context(), tenant); err != nil {
		if errors.Is(err, schedule.ErrShutdown) {
			writeError(w, http.StatusServiceUnavailable, "scheduler is shutting down")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "site_id": tenant})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.scheduler.Status(r.Context(), tenantOf(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 50)
	if !ok {
		return
	}
	offset, ok := intParam(w, r, "offset", 0)
	if !ok {
		return
	}
	st, err := s.stores.Resolve(r.Context(), tenantOf(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	snaps, err := st.ListSnapshots(r.Context(), store.SnapshotFilter{
		Query:  r.URL.Query().Get("query"),
		Limit:  limit,
		Offset: offset,
		Desc:   true,
	})
	if err != nil {
		internalError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []model.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	st, err := s.stores.Resolve(r.Context(), tenantOf(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	snap, err := st.GetSnapshot(r.Context(), id)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		writeError(w, http.StatusNotFound, "search result not found")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	stats, err := a.Stats(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLinkStats(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", 50)
	if !ok {
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	stats, err := a.LinkStats(r.Context(), a.Since(days), time.Time{}, limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

var defaultPeriodCounts = map[analytics.Period]int{
	analytics.PeriodDaily:   30,
	analytics.PeriodWeekly:  12,
	analytics.PeriodMonthly: 12,
}

func (s *Server) handlePeriodReports(w http.ResponseWriter, r *http.Request) {
	period := analytics.Period(chi.URLParam(r, "period"))
	def, known := defaultPeriodCounts[period]
	if !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown report period %q", period))
		return
	}
	count, ok := intParam(w, r, "count", def)
	if !ok {
		return
	}
	if count <= 0 {
		writeError(w, http.StatusBadRequest, "count must be > 0")
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	reports, err := a.PeriodReports(r.Context(), period, count)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if reports == nil {
		reports = []analytics.PeriodReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handlePositionTrend(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	trend, err := a.PositionTrend(r.Context(), r.URL.Query().Get("url"), a.Since(days))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleDomainDistribution(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", 20)
	if !ok {
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	shares, err := a.DomainDistribution(r.Context(), a.Since(days), limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

func (s *Server) handleTopMovers(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 7)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", 10)
	if !ok {
		return
	}
	dir, err := analytics.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	movers, err := a.TopMovers(r.Context(), a.Since(days), limit, dir)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if movers == nil {
		movers = []analytics.Mover{}
	}
	writeJSON(w, http.StatusOK, movers)
}

func (s *Server) handleCompetitorAnalysis(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}
	comps, err := a.CompetitorShare(r.Context(), a.Since(days), r.URL.Query()["domain"])
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comps)
}

func (s *Server) handleFilterLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, ok := intParam(w, r, "days", 30)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", 100)
	if !ok {
		return
	}
	minPos, ok := intParam(w, r, "min_position", 0)
	if !ok {
		return
	}
	maxPos, ok := intParam(w, r, "max_position", 0)
	if !ok {
		return
	}
	a, ok := s.analyzer(w, r)
	if !ok {
		return
	}

	f := analytics.LinkFilter{
		Domain:      q.Get("domain"),
		URLContains: q.Get("url_contains"),
		MinPosition: minPos,
		MaxPosition: maxPos,
		Since:       a.Since(days),
		Limit:       limit,
	}
	if v := q.Get("start_date"); v != "" {
		start, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		f.Since = start
	}
	if v := q.Get("end_date"); v != "" {
		end, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		f.Until = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	hits, err := a.FilterLinks(r.Context(), f)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if hits == nil {
		hits = []analytics.LinkHit{}
	}
	writeJSON(w, http.StatusOK, hits)
}

// analyzer resolves the request's tenant and wraps its store.
func (s *Server) analyzer(w http.ResponseWriter, r *http.Request) (*analytics.Analyzer, bool) {
	tenant := tenantOf(r)
	st, err := s.stores.Resolve(r.Context(), tenant)
	if err != nil {
		internalError(w, r, err)
		return nil, false
	}
	return analytics.New(st, tenant, analytics.WithClock(s.now)), true
}

// intParam reads an integer query parameter, writing a 400 on bad input.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return n, true
}
