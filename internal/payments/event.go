package payments

import (
	"encoding/json"
	"fmt"

	"github.com/arielvz/go-store-backend/internal/orders"
)

// EventCheckoutCompleted is the only event type reconciliation acts on.
// Everything else is acknowledged and ignored.
const EventCheckoutCompleted = "checkout.session.completed"

const (
	metaUserID = "userId"
	metaItems  = "items"
)

type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object Session `json:"object"`
	} `json:"data"`
}

type Session struct {
	ID string `json:"id"`
	// AmountTotal is the provider's settlement amount, authoritative for
	// the order total: the buyer paid this, whatever the catalog says now.
	AmountTotal   int               `json:"amount_total"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// CheckoutMetadata builds the metadata attached to a session at checkout.
func CheckoutMetadata(userID string, items []orders.PricedItem) map[string]string {
	return map[string]string{
		metaUserID: userID,
		metaItems:  string(mustJSON(items)),
	}
}

// Intent recovers the order intent embedded at checkout time.
func (s Session) Intent() (userID string, items []orders.PricedItem, err error) {
	userID = s.Metadata[metaUserID]
	if userID == "" {
		return "", nil, fmt.Errorf("%w: session %s missing userId metadata", orders.ErrValidation, s.ID)
	}
	if err := json.Unmarshal([]byte(s.Metadata[metaItems]), &items); err != nil {
		return "", nil, fmt.Errorf("%w: session %s items metadata: %v", orders.ErrValidation, s.ID, err)
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("%w: session %s has no items", orders.ErrValidation, s.ID)
	}
	return userID, items, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
