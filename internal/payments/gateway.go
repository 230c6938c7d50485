package payments

import (
	"context"
	"errors"
)

var (
	ErrGateway         = errors.New("payments: gateway request failed")
	ErrSignature       = errors.New("payments: invalid webhook signature")
	ErrSessionNotFound = errors.New("payments: unknown payment session")
)

// LineItem is what the provider renders on its checkout page.
type LineItem struct {
	Name       string
	PriceCents int
	Qty        int
}

type CheckoutParams struct {
	Items      []LineItem
	SuccessURL string
	CancelURL  string
	// Metadata is opaque to the provider and echoed back on the webhook.
	// It is the only channel carrying order intent to reconciliation.
	Metadata map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway is the boundary to the external payment processor. Stateless;
// every call is a remote request. Callers own retries.
type Gateway interface {
	CreateCheckout(ctx context.Context, p CheckoutParams) (CheckoutSession, error)
	VerifyPayment(ctx context.Context, sessionID string) (bool, error)
}
