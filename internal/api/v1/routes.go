// Package v1 provides the handlers of the /v1 control API.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/statesync/internal/api/common"
	"github.com/stacklok/statesync/internal/service"
	"github.com/stacklok/statesync/pkg/persist"
	"github.com/stacklok/statesync/pkg/statetree"
)

const maxPatchBytes = 1 << 20

// Option configures the v1 routes
type Option func(*Routes)

// WithFlushTimeout bounds flush and rehydrate requests
func WithFlushTimeout(d time.Duration) Option {
	return func(r *Routes) {
		r.timeout = d
	}
}

// Routes holds the dependencies of the v1 handlers
type Routes struct {
	service service.SyncService
	timeout time.Duration
}

// OperationResponse is returned by the flush, rehydrate and purge endpoints
type OperationResponse struct {
	Status string `json:"status"`
}

// Router creates the v1 router
func Router(svc service.SyncService, opts ...Option) http.Handler {
	routes := &Routes{service: svc, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(routes)
	}

	r := chi.NewRouter()
	r.Get("/status", routes.getStatus)
	r.Get("/slices", routes.listSlices)
	r.Get("/slices/{key}", routes.getSlice)
	r.Patch("/slices/{key}", routes.patchSlice)
	r.Post("/flush", routes.flush)
	r.Post("/rehydrate", routes.rehydrate)
	r.Post("/purge", routes.purge)
	return r
}

func (routes *Routes) getStatus(w http.ResponseWriter, r *http.Request) {
	common.WriteJSONResponse(w, routes.service.Status(r.Context()), http.StatusOK)
}

func (routes *Routes) listSlices(w http.ResponseWriter, r *http.Request) {
	common.WriteJSONResponse(w, routes.service.ListSlices(r.Context()), http.StatusOK)
}

func (routes *Routes) getSlice(w http.ResponseWriter, r *http.Request) {
	key, err := common.URLParam(r, "key")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	slice, err := routes.service.GetSlice(r.Context(), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, slice, http.StatusOK)
}

func (routes *Routes) patchSlice(w http.ResponseWriter, r *http.Request) {
	key, err := common.URLParam(r, "key")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var fields statetree.Slice
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes)).Decode(&fields); err != nil {
		common.WriteErrorResponse(w, "request body must be a JSON object: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(fields) == 0 {
		common.WriteErrorResponse(w, "request body must set at least one field", http.StatusBadRequest)
		return
	}

	slice, err := routes.service.PatchSlice(r.Context(), key, fields)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, slice, http.StatusOK)
}

func (routes *Routes) flush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), routes.timeout)
	defer cancel()

	if err := routes.service.Flush(ctx); err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, OperationResponse{Status: "flushed"}, http.StatusOK)
}

func (routes *Routes) rehydrate(w http.ResponseWriter, r *http.Request) {
	manual := false
	if v := r.URL.Query().Get("manual"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			common.WriteErrorResponse(w, "manual must be a boolean", http.StatusBadRequest)
			return
		}
		manual = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), routes.timeout)
	defer cancel()

	if err := routes.service.Rehydrate(ctx, manual); err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, OperationResponse{Status: "rehydrated"}, http.StatusOK)
}

func (routes *Routes) purge(w http.ResponseWriter, r *http.Request) {
	if err := routes.service.Purge(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	common.WriteJSONResponse(w, OperationResponse{Status: "purged"}, http.StatusAccepted)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSliceNotFound):
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		common.WriteErrorResponse(w, "timed out waiting for the sync engine", http.StatusGatewayTimeout)
	case errors.Is(err, persist.ErrEngineClosed):
		common.WriteErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("Sync operation failed", "error", err)
		common.WriteErrorResponse(w, "internal server error", http.StatusInternalServerError)
	}
}
