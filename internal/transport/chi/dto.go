package chi

import (
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
	reconcileuc "github.com/kailas-cloud/imgdex/internal/usecase/reconcile"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest        = "bad_request"
	codeValidationFailed  = "validation_failed"
	codeUnauthorized      = "unauthorized"
	codeNotFound          = "not_found"
	codeQuarantined       = "quarantined"
	codeSearchUnavailable = "search_unavailable"
	codeCanceled          = "canceled"
	codeInternalError     = "internal_error"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TextSearchRequest is the body of POST /v1/search/text.
type TextSearchRequest struct {
	Query    string   `json:"query"`
	Tags     []string `json:"tags,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"`
	Page     *int     `json:"page,omitempty"`
	PageSize *int     `json:"page_size,omitempty"`
}

// SearchItem is one ranked image.
type SearchItem struct {
	ImageID string   `json:"image_id"`
	Score   float64  `json:"score"`
	Tags    []string `json:"tags"`
}

// SearchResponse is one page of results.
type SearchResponse struct {
	Items           []SearchItem `json:"items"`
	TotalEstimate   int          `json:"total_estimate"`
	TotalIsEstimate bool         `json:"total_is_estimate"`
	HasNext         bool         `json:"has_next"`
	Page            int          `json:"page"`
	PageSize        int          `json:"page_size"`
}

// QuarantineItem describes one image excluded from automatic reconciliation.
type QuarantineItem struct {
	ImageID       string    `json:"image_id"`
	Attempts      int       `json:"attempts"`
	Cause         string    `json:"cause"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// QuarantineResponse lists the caller's quarantined images.
type QuarantineResponse struct {
	Items []QuarantineItem `json:"items"`
}

// RetriggerResponse reports the outcome of a manual reconciliation.
type RetriggerResponse struct {
	ImageID string `json:"image_id"`
	Status  string `json:"status"` // reconciled, queued
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version"`
}

func pageToResponse(p result.Page) SearchResponse {
	items := make([]SearchItem, len(p.Hits))
	for i, h := range p.Hits {
		tags := h.Tags
		if tags == nil {
			tags = []string{}
		}
		items[i] = SearchItem{ImageID: h.ImageID, Score: h.Score, Tags: tags}
	}
	return SearchResponse{
		Items:           items,
		TotalEstimate:   p.TotalEstimate,
		TotalIsEstimate: p.Estimated,
		HasNext:         p.HasNext,
		Page:            p.Page,
		PageSize:        p.PageSize,
	}
}

func quarantineToResponse(qs []reconcileuc.Quarantine) QuarantineResponse {
	items := make([]QuarantineItem, len(qs))
	for i, q := range qs {
		items[i] = QuarantineItem{ImageID: q.ImageID, Attempts: q.Attempts, Cause: q.Cause, QuarantinedAt: q.At}
	}
	return QuarantineResponse{Items: items}
}
