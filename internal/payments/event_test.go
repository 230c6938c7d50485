package payments

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arielvz/go-store-backend/internal/orders"
)

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_42",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"amount_total": 2000,
			"payment_status": "paid",
			"metadata": {"userId": "u1", "items": "[{\"product_id\":\"p1\",\"qty\":2,\"price_cents\":1000}]"}
		}}
	}`)

	ev, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_42", ev.ID)
	assert.Equal(t, EventCheckoutCompleted, ev.Type)
	assert.Equal(t, "cs_test_1", ev.Data.Object.ID)
	assert.Equal(t, 2000, ev.Data.Object.AmountTotal)

	userID, items, err := ev.Data.Object.Intent()
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	require.Len(t, items, 1)
	assert.Equal(t, orders.PricedItem{ProductID: "p1", Qty: 2, PriceCents: 1000}, items[0])
}

func TestParseEventRejectsGarbage(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestCheckoutMetadataRoundTrip(t *testing.T) {
	items := []orders.PricedItem{
		{ProductID: "p1", Qty: 2, PriceCents: 1000},
		{ProductID: "p2", Qty: 1, PriceCents: 550},
	}
	meta := CheckoutMetadata("user-7", items)

	session := Session{ID: "cs_x", Metadata: meta}
	userID, got, err := session.Intent()
	require.NoError(t, err)
	assert.Equal(t, "user-7", userID)
	assert.Equal(t, items, got)
}

func TestSessionIntentErrors(t *testing.T) {
	itemsJSON, _ := json.Marshal([]orders.PricedItem{{ProductID: "p1", Qty: 1, PriceCents: 100}})

	tests := []struct {
		name string
		meta map[string]string
	}{
		{"missing userId", map[string]string{"items": string(itemsJSON)}},
		{"missing items", map[string]string{"userId": "u1"}},
		{"bad items json", map[string]string{"userId": "u1", "items": "{"}},
		{"empty items", map[string]string{"userId": "u1", "items": "[]"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Session{ID: "cs_x", Metadata: tc.meta}.Intent()
			assert.ErrorIs(t, err, orders.ErrValidation)
		})
	}
}
