package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/thundertext/thundertext/internal/observability/logger"
	"github.com/thundertext/thundertext/internal/store/postgres"
	"github.com/thundertext/thundertext/internal/tenant"
)

const (
	defaultSampleLimit = 20
	maxSampleLimit     = 100

	pgForeignKeyViolation = "23503"
)

// TenantQuerier runs statements on behalf of a tenant
type TenantQuerier interface {
	QueryWithTenant(ctx context.Context, tenantID, sql string, args ...any) (*postgres.Result, error)
}

// ContentSampleHandler serves a shop's writing samples through the tenant gateway.
// The shop ID from the path is the tenant.
type ContentSampleHandler struct {
	gw TenantQuerier
}

// NewContentSampleHandler creates a handler over gw
func NewContentSampleHandler(gw TenantQuerier) *ContentSampleHandler {
	return &ContentSampleHandler{gw: gw}
}

// Routes mounts the handler under /shops/{shopID}/content-samples
func (h *ContentSampleHandler) Routes(r chi.Router) {
	r.Route("/shops/{shopID}/content-samples", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
	})
}

type createSampleRequest struct {
	SampleType string `json:"sample_type"`
	SampleText string `json:"sample_text"`
}

// List returns the active samples of a shop, newest first
func (h *ContentSampleHandler) List(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "shopID")

	limit := defaultSampleLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSampleLimit)
	}

	res, err := h.gw.QueryWithTenant(r.Context(), shopID,
		`SELECT id, sample_type, sample_text, word_count, created_at
		   FROM content_samples
		  WHERE store_id = $1 AND is_active
		  ORDER BY created_at DESC
		  LIMIT $2`,
		shopID, limit)
	if err != nil {
		h.respondQueryError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"shop_id": shopID,
		"samples": res.Rows,
	})
}

// Create stores a new sample for a shop
func (h *ContentSampleHandler) Create(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "shopID")

	var req createSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SampleType = strings.TrimSpace(req.SampleType)
	if req.SampleType == "" || strings.TrimSpace(req.SampleText) == "" {
		respondError(w, http.StatusBadRequest, "sample_type and sample_text are required")
		return
	}

	res, err := h.gw.QueryWithTenant(r.Context(), shopID,
		`INSERT INTO content_samples (store_id, sample_type, sample_text, word_count)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		shopID, req.SampleType, req.SampleText, len(strings.Fields(req.SampleText)))
	if err != nil {
		h.respondQueryError(w, r, err)
		return
	}

	var created map[string]any
	if len(res.Rows) > 0 {
		created = res.Rows[0]
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *ContentSampleHandler) respondQueryError(w http.ResponseWriter, r *http.Request, err error) {
	if tenant.IsSecurityError(err) {
		respondError(w, http.StatusBadRequest, "shop id is required")
		return
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		respondError(w, http.StatusNotFound, "shop not found")
		return
	}

	slog.ErrorContext(r.Context(), "content_sample_query_failed",
		logger.RequestID(middleware.GetReqID(r.Context())),
		logger.Error(err),
	)
	if errors.Is(err, postgres.ErrConfiguration) {
		respondError(w, http.StatusServiceUnavailable, "database is not configured")
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error")
}
