// Package api serves the ranked ad and opportunity queries over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/metrics"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/rescan"
	"github.com/sells-group/adradar/internal/store"
)

// Store is the read side of the repository the API serves.
type Store interface {
	Query(ctx context.Context, filter store.AdFilter) (*store.AdPage, error)
	ListOpportunityCards(ctx context.Context, limit, offset int) ([]model.OpportunityCard, error)
}

// Maintainer runs the maintenance passes on demand.
type Maintainer interface {
	Maintain(ctx context.Context) (*rescan.Report, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// RescanTimeout bounds a POST /rescan run.
	RescanTimeout time.Duration
}

// Handler holds the API dependencies.
type Handler struct {
	store  Store
	runner Maintainer
	opts   Options
}

// NewRouter builds the HTTP handler. runner may be nil, in which case
// POST /rescan is unavailable.
func NewRouter(s Store, runner Maintainer, opts Options) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RescanTimeout <= 0 {
		opts.RescanTimeout = 30 * time.Minute
	}
	h := &Handler{store: s, runner: runner, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(instrument)

	r.Get("/health", h.health)
	r.Get("/ads", h.listAds)
	r.Get("/opportunities", h.listOpportunities)
	r.Post("/rescan", h.rescan)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listAds(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAdFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.store.Query(r.Context(), filter)
	if err != nil {
		zap.L().Error("query ads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) listOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	size := store.AdFilter{Limit: limit}.PageSize()
	cards, err := h.store.ListOpportunityCards(r.Context(), size, offset)
	if err != nil {
		zap.L().Error("list opportunities failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cards, "limit": size, "offset": offset})
}

func (h *Handler) rescan(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "rescan not configured")
		return
	}
	// Detached from the request so a dropped client does not abort a pass
	// midway through a batch.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.opts.RescanTimeout)
	defer cancel()

	report, err := h.runner.Maintain(ctx)
	switch {
	case errors.Is(err, rescan.ErrBusy):
		writeError(w, http.StatusConflict, "rescan already running")
	case err != nil:
		zap.L().Error("rescan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rescan failed")
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// parseAdFilter reads ?q=&country=&min_score=&is_active=&limit=&offset=.
// An absent or empty is_active means no activity filter.
func parseAdFilter(r *http.Request) (store.AdFilter, error) {
	q := r.URL.Query()
	f := store.AdFilter{
		Search:  strings.TrimSpace(q.Get("q")),
		Country: strings.TrimSpace(q.Get("country")),
	}
	if v := strings.TrimSpace(q.Get("min_score")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return f, errors.New("min_score must be an integer between 0 and 100")
		}
		f.MinScore = &n
	}
	if v := strings.TrimSpace(q.Get("is_active")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("is_active must be true or false")
		}
		f.IsActive = &b
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
