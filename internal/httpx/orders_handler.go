package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/arielvz/go-store-backend/internal/auth"
	"github.com/arielvz/go-store-backend/internal/orders"
	"github.com/arielvz/go-store-backend/internal/redisx"
)

type OrdersHandler struct {
	Repo     *orders.Repo
	Failures *orders.FailureRepo
	Redis    *redis.Client
}

func (h *OrdersHandler) Register(r chi.Router, authed, admin func(http.Handler) http.Handler) {
	r.With(authed).Get("/orders", h.listMine)
	r.With(authed).Get("/orders/{id}", h.get)
	r.With(authed).Get("/orders/{id}/status", h.getStatus)
	r.With(authed, admin).Get("/orders/all", h.listAll)
	r.With(authed, admin).Get("/orders/failures", h.listFailures)
	r.With(authed, admin).Patch("/orders/{id}", h.updateStatus)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Repo.ListByUser(ctx, claims.UserID, orders.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Repo.ListAll(ctx, orders.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) listFailures(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Failures.List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.GetByID(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.UserID != claims.UserID && claims.Role != auth.RoleAdmin {
		writeError(w, orders.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus serves the status-poll endpoint through the redis cache first.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	status, err := h.Repo.GetStatus(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{"status": status}
	if h.Redis != nil {
		b, _ := json.Marshal(body)
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}

type updateStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Repo.UpdateStatus(ctx, orderID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		_ = h.Redis.Del(ctx, key).Err()
	}
	writeJSON(w, http.StatusOK, o)
}
