package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderReconciled      = "OrderReconciled"
	EventReconciliationFailed = "ReconciliationFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // stripe session id
	Payload       json.RawMessage `json:"payload"`
}

type OrderReconciledPayload struct {
	OrderID    string       `json:"order_id"`
	UserID     string       `json:"user_id"`
	SessionID  string       `json:"session_id"`
	Items      []PricedItem `json:"items"`
	TotalCents int          `json:"total_cents"`
}

// ReconciliationFailedPayload is published when a settled payment could not
// reserve stock. Terminal for the event; follow-up is manual.
type ReconciliationFailedPayload struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	ProductID  string `json:"product_id"`
	Required   int    `json:"required"`
	Available  int    `json:"available"`
	TotalCents int    `json:"total_cents"`
	Reason     string `json:"reason"` // OUT_OF_STOCK
}
