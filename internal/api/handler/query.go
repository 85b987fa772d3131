package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/querydeck/querydeck/internal/api/response"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/service"
)

// QueryHandler serves stored query metadata and paginated result rows
type QueryHandler struct {
	queryService *service.QueryService
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(queryService *service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Get returns metadata for a stored query: SQL, columns, row count and
// the ancestor chain
func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	queryID, err := uuid.Parse(chi.URLParam(r, "queryID"))
	if err != nil {
		response.BadRequest(w, "invalid query ID")
		return
	}

	query, err := h.queryService.GetQuery(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "query not found")
			return
		}
		response.InternalError(w, "failed to fetch query")
		return
	}

	response.OK(w, query)
}

// GetRows returns one page of result rows for a stored query
func (h *QueryHandler) GetRows(w http.ResponseWriter, r *http.Request) {
	queryID, err := uuid.Parse(chi.URLParam(r, "queryID"))
	if err != nil {
		response.BadRequest(w, "invalid query ID")
		return
	}

	q := r.URL.Query()

	limit := 0
	if l := q.Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			response.BadRequest(w, "invalid limit")
			return
		}
		limit = v
	}

	offset := 0
	if o := q.Get("offset"); o != "" {
		v, err := strconv.Atoi(o)
		if err != nil || v < 0 {
			response.BadRequest(w, "invalid offset")
			return
		}
		offset = v
	}

	page, err := h.queryService.FetchRows(r.Context(), queryID, limit, offset, q.Get("sort_by"), q.Get("sort_order"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "query not found")
			return
		}
		response.InternalError(w, "failed to fetch rows")
		return
	}

	response.OK(w, page)
}
