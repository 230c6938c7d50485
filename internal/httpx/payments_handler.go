package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/arielvz/go-store-backend/internal/auth"
	"github.com/arielvz/go-store-backend/internal/orders"
	"github.com/arielvz/go-store-backend/internal/payments"
)

const maxWebhookBody = 1 << 20

// WebhookService is the slice of the payments service the handler needs.
type WebhookService interface {
	Checkout(ctx context.Context, userID string, items []orders.CartItem) (string, error)
	Verify(ctx context.Context, sessionID string) (bool, error)
	HandleEvent(ctx context.Context, payload []byte, sigHeader string) error
}

type PaymentsHandler struct {
	Service WebhookService
	Log     zerolog.Logger
}

func (h *PaymentsHandler) Register(r chi.Router, authed func(http.Handler) http.Handler) {
	r.Post("/payments/webhook", h.webhook)
	r.Get("/payments/verify", h.verify)
	r.With(authed).Post("/payments/checkout", h.checkout)
}

type checkoutReq struct {
	Items []orders.CartItem `json:"items"`
}

func (h *PaymentsHandler) checkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	url, err := h.Service.Checkout(ctx, claims.UserID, req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *PaymentsHandler) verify(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	paid, err := h.Service.Verify(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paid": paid})
}

// webhook consumes the body raw: the signature covers the exact bytes the
// provider sent, so nothing may parse or re-serialize them first.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err = h.Service.HandleEvent(ctx, payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, payments.ErrSignature):
		http.Error(w, "invalid signature", http.StatusBadRequest)
	case errors.Is(err, orders.ErrValidation):
		// undecodable event or metadata; retrying cannot fix it
		http.Error(w, "bad event payload", http.StatusBadRequest)
	default:
		// retryable: answer 5xx so the provider redelivers
		h.Log.Error().Err(err).Msg("webhook reconciliation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
	}
}
