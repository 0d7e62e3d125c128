package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"petition-watcher/internal/analytics"
	"petition-watcher/internal/cache"
	"petition-watcher/internal/config"
	"petition-watcher/internal/dedup"
	"petition-watcher/internal/forecast"
	"petition-watcher/internal/ingest"
	"petition-watcher/internal/storage"
	"petition-watcher/internal/tick"
	"petition-watcher/internal/validate"
)

// Metadata accompanies every stats response.
type Metadata struct {
	TotalTicks     int     `json:"totalTicks"`
	OldestTick     *int64  `json:"oldestTick"`
	NewestTick     *int64  `json:"newestTick"`
	ServerTime     int64   `json:"serverTime"`
	RetentionHours float64 `json:"retentionHours"`
	Error          string  `json:"error,omitempty"`
}

// StatsResponse is the query payload. Sections beyond metadata appear only
// when requested via the include flag.
type StatsResponse struct {
	Metadata    Metadata              `json:"metadata"`
	Ticks       []tick.Tick           `json:"ticks,omitempty"`
	Downsampled bool                  `json:"downsampled,omitempty"`
	Rates       *analytics.Rates      `json:"rates,omitempty"`
	TodayStats  *analytics.TodayStats `json:"todayStats,omitempty"`
}

// ForecastPoint is one projected day with its confidence band.
type ForecastPoint struct {
	Date  string  `json:"date"`
	Point float64 `json:"point"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// TargetProjection reports when a target total is forecast to be reached.
type TargetProjection struct {
	Target    float64 `json:"target"`
	Reachable bool    `json:"reachable"`
	DaysAhead int     `json:"daysAhead,omitempty"`
	Date      string  `json:"date,omitempty"`
}

// ForecastResponse is the forecast payload. Insufficient history is not an
// error: the response stays 200 with Available false so the presentation
// layer can render the rest of the page.
type ForecastResponse struct {
	Available  bool              `json:"available"`
	Reason     string            `json:"reason,omitempty"`
	Confidence float64           `json:"confidence"`
	Horizon    []ForecastPoint   `json:"horizon,omitempty"`
	Target     *TargetProjection `json:"target,omitempty"`
}

type ingestRequest struct {
	TS    *int64 `json:"ts"`
	Count *int64 `json:"count"`
}

// Server exposes the ingest and query surface over HTTP.
type Server struct {
	cfg       *config.Config
	store     storage.TickStore
	ingestor  *ingest.Ingestor
	respCache *cache.ResponseCache
	loc       *time.Location
	logger    zerolog.Logger
	router    *mux.Router
}

// New assembles the router over the supplied collaborators.
func New(cfg *config.Config, store storage.TickStore, ingestor *ingest.Ingestor, respCache *cache.ResponseCache, loc *time.Location, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		ingestor:  ingestor,
		respCache: respCache,
		loc:       loc,
		logger:    logger.With().Str("component", "server").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/ticks", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/forecast", s.handleForecast).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r

	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.TS == nil || req.Count == nil {
		respondError(w, http.StatusBadRequest, "ts and count are required")
		return
	}

	now := time.Now()
	outcome, err := s.ingestor.Ingest(r.Context(), now, callerKey(r), *req.TS, *req.Count)
	switch {
	case err == nil:
		// Accepted and duplicate are both acknowledged without content.
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, dedup.ErrRateLimited):
		respondRetryable(w, http.StatusTooManyRequests, outcome.RetryAfter, "rate limited")
	case storage.IsRetryable(err):
		s.logger.Warn().Err(err).Msg("storage unavailable during ingest")
		respondRetryable(w, http.StatusServiceUnavailable, outcome.RetryAfter, "storage busy, retry shortly")
	case isValidationError(err):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("ingest failed")
		respondError(w, http.StatusInternalServerError, "ingest failed")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	key := r.URL.Query().Encode()
	inm := r.Header.Get("If-None-Match")

	if entry, ok := s.respCache.Get(now, key); ok {
		s.setCacheHeaders(w, entry.ETag)
		if inm != "" && inm == entry.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(entry.Body)
		return
	}

	ticks, err := s.store.ReadAll(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("stats read failed, degrading")
		respondJSON(w, http.StatusOK, StatsResponse{Metadata: Metadata{
			ServerTime:     now.UnixMilli(),
			RetentionHours: s.cfg.Storage.Retention.Hours(),
			Error:          "storage unavailable",
		}})
		return
	}

	resp := StatsResponse{Metadata: Metadata{
		TotalTicks:     len(ticks),
		ServerTime:     now.UnixMilli(),
		RetentionHours: s.cfg.Storage.Retention.Hours(),
	}}
	var newestTS int64
	if len(ticks) > 0 {
		oldest, newest := ticks[0].TS, ticks[len(ticks)-1].TS
		resp.Metadata.OldestTick = &oldest
		resp.Metadata.NewestTick = &newest
		newestTS = newest
	}

	include := includeFlags(r.URL.Query().Get("include"))
	if include["rates"] {
		rates := analytics.ComputeRates(now, ticks, s.cfg.Analytics)
		resp.Rates = &rates
	}
	if include["today"] {
		today := analytics.ComputeTodayStats(now, ticks, tick.DayStart(now, s.loc))
		resp.TodayStats = &today
	}
	if include["ticks"] {
		history := ticks
		if since, ok := parseInt64(r.URL.Query().Get("since")); ok {
			from := sort.Search(len(history), func(i int) bool { return history[i].TS > since })
			history = history[from:]
		}
		if limit, ok := parseInt(r.URL.Query().Get("limit")); ok && len(history) > limit {
			history = analytics.Downsample(history, limit)
			resp.Downsampled = true
		}
		resp.Ticks = history
	}

	etag := cache.ETagFor(len(ticks), newestTS, s.etagBucket(now))
	s.setCacheHeaders(w, etag)
	if inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode response")
		return
	}
	s.respCache.Put(now, key, body, etag)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	confidence := s.cfg.Forecast.Confidence
	if v := r.URL.Query().Get("confidence"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 || parsed >= 1 {
			respondError(w, http.StatusBadRequest, "confidence must be in (0,1)")
			return
		}
		confidence = parsed
	}

	stats, err := s.store.ListDailyStats(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("forecast read failed, degrading")
		respondJSON(w, http.StatusOK, ForecastResponse{
			Reason:     "storage unavailable",
			Confidence: confidence,
		})
		return
	}

	series := make([]float64, len(stats))
	for i, st := range stats {
		series[i] = float64(st.Collected)
	}

	model, err := forecast.Fit(series, s.cfg.Forecast)
	if err != nil {
		respondJSON(w, http.StatusOK, ForecastResponse{
			Reason:     "forecast_unavailable",
			Confidence: confidence,
		})
		return
	}

	now := time.Now()
	resp := ForecastResponse{Available: true, Confidence: confidence}
	for h := 1; h <= s.cfg.Forecast.SeasonPeriod; h++ {
		point, lower, upper := model.ForecastInterval(h, confidence)
		resp.Horizon = append(resp.Horizon, ForecastPoint{
			Date:  now.AddDate(0, 0, h).In(s.loc).Format(tick.DateFormat),
			Point: point,
			Lower: lower,
			Upper: upper,
		})
	}

	if v := r.URL.Query().Get("target"); v != "" {
		target, err := strconv.ParseFloat(v, 64)
		if err != nil || target < 0 {
			respondError(w, http.StatusBadRequest, "target must be a non-negative number")
			return
		}
		projection := &TargetProjection{Target: target}
		days, date, err := model.DateWhenTarget(s.currentTotal(r, stats), target, now)
		if err == nil {
			projection.Reachable = true
			projection.DaysAhead = days
			projection.Date = date.In(s.loc).Format(tick.DateFormat)
		}
		resp.Target = projection
	}

	respondJSON(w, http.StatusOK, resp)
}

// currentTotal prefers the newest raw tick, falling back to the last
// archived day's closing count.
func (s *Server) currentTotal(r *http.Request, stats []tick.DailyStat) float64 {
	if ticks, err := s.store.ReadAll(r.Context()); err == nil && len(ticks) > 0 {
		return float64(ticks[len(ticks)-1].Count)
	}
	if len(stats) > 0 {
		return float64(stats[len(stats)-1].EndCount)
	}
	return 0
}

func (s *Server) setCacheHeaders(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	maxAge := int(s.cfg.Cache.MaxAge.Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
}

// etagBucket coarsens time so identical results keep identical tags across
// nearby re-fetches.
func (s *Server) etagBucket(now time.Time) int64 {
	granularity := int64(s.cfg.Cache.MaxAge.Seconds())
	if granularity < 1 {
		granularity = 1
	}
	return now.Unix() / granularity
}

// includeFlags parses the include parameter; rates and today stats are
// returned by default, raw history only on request.
func includeFlags(raw string) map[string]bool {
	if raw == "" {
		return map[string]bool{"rates": true, "today": true}
	}
	flags := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		flags[strings.TrimSpace(part)] = true
	}
	return flags
}

// callerKey identifies the caller for rate limiting: first X-Forwarded-For
// hop when present, otherwise the remote host.
func callerKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isValidationError(err error) bool {
	return errors.Is(err, validate.ErrFutureTimestamp) ||
		errors.Is(err, validate.ErrStaleTimestamp) ||
		errors.Is(err, validate.ErrCountOutOfRange) ||
		errors.Is(err, validate.ErrImplausibleRate) ||
		errors.Is(err, validate.ErrCountDecreased)
}

func parseInt(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parseInt64(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
