// Package chi serves the imgdex HTTP API.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	"github.com/kailas-cloud/imgdex/internal/imagebuf"
	logpkg "github.com/kailas-cloud/imgdex/internal/logger"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	"github.com/kailas-cloud/imgdex/internal/version"
)

const (
	maxJSONBody = 64 << 10
	// multipart overhead on top of the image itself
	maxFormOverhead = 1 << 20
)

// Server implements the HTTP handlers.
type Server struct {
	search    SearchService
	reconcile ReconcileService
	health    HealthService
	limits    query.Limits
	logger    *zap.Logger

	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. reconcile may be nil, then admin routes are not mounted.
func NewServer(
	search SearchService,
	reconcile ReconcileService,
	health HealthService,
	limits query.Limits,
	logger *zap.Logger,
) *Server {
	return &Server{
		search:        search,
		reconcile:     reconcile,
		health:        health,
		limits:        limits,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Mount registers every route on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search/text", s.SearchText)
		r.Post("/search/image", s.SearchImage)
		r.Get("/search/similar/{image_id}", s.SearchSimilar)
		r.Get("/search/tags", s.SearchTags)

		if s.reconcile != nil {
			r.Get("/reconcile/quarantine", s.ListQuarantine)
			r.Post("/reconcile/{image_id}", s.Retrigger)
		}
	})
}

// SearchText handles POST /v1/search/text.
func (s *Server) SearchText(w http.ResponseWriter, r *http.Request) {
	var req TextSearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	scope := query.Scope{
		TeamID:   TeamFromContext(r.Context()),
		Tags:     req.Tags,
		MinScore: req.MinScore,
		Page:     deref(req.Page),
		PageSize: deref(req.PageSize),
	}
	q, err := query.NewText(req.Query, scope, s.limits)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.run(w, r, &q)
}

// SearchImage handles POST /v1/search/image (multipart: file, tags, min_score, page, page_size).
func (s *Server) SearchImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, imagebuf.MaxSize+maxFormOverhead)
	if err := r.ParseMultipartForm(imagebuf.MaxSize + maxFormOverhead); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "file is required")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, imagebuf.MaxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "failed to read file")
		return
	}

	scope, err := bindScope(url.Values(r.MultipartForm.Value))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}
	scope.TeamID = TeamFromContext(r.Context())

	q, err := query.NewImage(raw, scope, s.limits)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.run(w, r, &q)
}

// SearchSimilar handles GET /v1/search/similar/{image_id}.
func (s *Server) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	scope, err := bindScope(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}
	scope.TeamID = TeamFromContext(r.Context())

	q, err := query.NewSimilar(chi.URLParam(r, "image_id"), scope, s.limits)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.run(w, r, &q)
}

// SearchTags handles GET /v1/search/tags.
func (s *Server) SearchTags(w http.ResponseWriter, r *http.Request) {
	scope, err := bindScope(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}
	scope.TeamID = TeamFromContext(r.Context())

	q, err := query.NewTagOnly(scope, s.limits)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.run(w, r, &q)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, q *query.Query) {
	page, err := s.search.Search(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageToResponse(page))
}

// ListQuarantine handles GET /v1/reconcile/quarantine.
func (s *Server) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, quarantineToResponse(s.reconcile.Quarantined(TeamFromContext(r.Context()))))
}

// Retrigger handles POST /v1/reconcile/{image_id}.
func (s *Server) Retrigger(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "image_id")
	err := s.reconcile.Retrigger(r.Context(), imageID, TeamFromContext(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RetriggerResponse{ImageID: imageID, Status: "reconciled"})
	case errors.Is(err, domain.ErrQuarantined), errors.Is(err, domain.ErrNotFound):
		s.handleDomainError(w, r, err)
	case errors.Is(err, domain.ErrQueued), domain.IsRetryable(err):
		// попытка не удалась, образ в очереди повторов
		writeJSON(w, http.StatusAccepted, RetriggerResponse{ImageID: imageID, Status: "queued"})
	default:
		s.handleDomainError(w, r, err)
	}
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:  string(report.Status),
		Checks:  checks,
		Version: version.String(),
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// bindScope reads tags, min_score, page and page_size from query or form values.
// Tags may repeat (tags=a&tags=b) or be comma-separated.
func bindScope(values url.Values) (query.Scope, error) {
	var (
		tags     *[]string
		minScore *float64
		page     *int
		pageSize *int
	)
	if err := runtime.BindQueryParameter("form", true, false, "tags", values, &tags); err != nil {
		return query.Scope{}, fmt.Errorf("invalid tags: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "min_score", values, &minScore); err != nil {
		return query.Scope{}, fmt.Errorf("invalid min_score: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "page", values, &page); err != nil {
		return query.Scope{}, fmt.Errorf("invalid page: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "page_size", values, &pageSize); err != nil {
		return query.Scope{}, fmt.Errorf("invalid page_size: %w", err)
	}

	var split []string
	if tags != nil {
		for _, t := range *tags {
			split = append(split, strings.Split(t, ",")...)
		}
	}

	return query.Scope{
		Tags:     split,
		MinScore: minScore,
		Page:     deref(page),
		PageSize: deref(pageSize),
	}, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Debug("request failed", zap.Error(err))
			return
		}
	}
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		log.Error("internal error", zap.Error(err))
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
