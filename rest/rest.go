// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package rest exposes the read-only order API and the health probes.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mouts-info/orderservice"
	"github.com/mouts-info/orderservice/health"
	"github.com/mouts-info/orderservice/order"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Store is the read side of the order store.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	List(ctx context.Context, limit, offset int) ([]order.Order, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]order.OrderItem, error)
}

// ItemResponse is a single order line on the wire.
type ItemResponse struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     json.RawMessage `json:"price"`
}

// OrderResponse is an order on the wire. Items are only populated on
// single order lookups.
type OrderResponse struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         string          `json:"status"`
	Total          json.RawMessage `json:"total"`
	FailureReason  string          `json:"failureReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Version        int64           `json:"version"`
	Items          []ItemResponse  `json:"items,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type api struct {
	log   *slog.Logger
	store Store
}

// NewHandler returns the HTTP handler for the read API. liveness and
// readiness back the health probe endpoints.
func NewHandler(store Store, liveness, readiness health.Monitor) http.Handler {
	a := &api{
		log:   orderservice.Logger("github.com/mouts-info/orderservice/rest"),
		store: store,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health/liveness", healthHandler(liveness))
	r.Get("/health/readiness", healthHandler(readiness))

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/", a.listOrders)
		r.Get("/{id}", a.getOrder)
		r.Get("/{id}/items", a.listOrderItems)
	})

	return r
}

func healthHandler(m health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		healthy, err := m.Healthy(req.Context())
		if err != nil || !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (a *api) listOrders(w http.ResponseWriter, req *http.Request) {
	limit, err := queryInt(req, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		a.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset, err := queryInt(req, "offset", 0)
	if err != nil || offset < 0 {
		a.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	orders, err := a.store.List(req.Context(), limit, offset)
	if err != nil {
		a.internalError(w, req, err)
		return
	}

	resp := make([]OrderResponse, len(orders))
	for i, o := range orders {
		resp[i] = orderResponse(&o, false)
	}
	a.respond(w, http.StatusOK, resp)
}

func (a *api) getOrder(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "id must be a uuid")
		return
	}

	o, err := a.store.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			a.respondError(w, http.StatusNotFound, "order not found")
			return
		}
		a.internalError(w, req, err)
		return
	}

	a.respond(w, http.StatusOK, orderResponse(o, true))
}

func (a *api) listOrderItems(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "id must be a uuid")
		return
	}

	items, err := a.store.ListItems(req.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			a.respondError(w, http.StatusNotFound, "order not found")
			return
		}
		a.internalError(w, req, err)
		return
	}

	resp := make([]ItemResponse, len(items))
	for i, item := range items {
		resp[i] = itemResponse(item)
	}
	a.respond(w, http.StatusOK, resp)
}

func (a *api) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		a.log.Error("failed to encode response", slog.Any("error", err))
	}
}

func (a *api) respondError(w http.ResponseWriter, status int, msg string) {
	a.respond(w, status, errorResponse{Error: msg})
}

func (a *api) internalError(w http.ResponseWriter, req *http.Request, err error) {
	a.log.ErrorContext(req.Context(), "request failed", slog.Any("error", err))
	a.respondError(w, http.StatusInternalServerError, "internal error")
}

func orderResponse(o *order.Order, withItems bool) OrderResponse {
	resp := OrderResponse{
		ID:             o.ID.String(),
		IdempotencyKey: o.IdempotencyKey,
		Status:         string(o.Status),
		Total:          json.RawMessage(o.Total.StringFixed(2)),
		FailureReason:  o.FailureReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		Version:        o.Version,
	}
	if withItems {
		resp.Items = make([]ItemResponse, len(o.Items))
		for i, item := range o.Items {
			resp.Items[i] = itemResponse(item)
		}
	}
	return resp
}

func itemResponse(item order.OrderItem) ItemResponse {
	return ItemResponse{
		ID:        item.ID.String(),
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Price:     json.RawMessage(item.Price.String()),
	}
}

func queryInt(req *http.Request, name string, def int) (int, error) {
	v := req.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
