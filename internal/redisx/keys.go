package redisx

import "time"

const (
	// Webhook event dedup: dedup:webhook:{event_id} -> "1".
	// Advisory fast path only; the unique index on orders.stripe_session_id
	// stays authoritative.
	KeyWebhookDedup = "dedup:webhook:%s"

	// Cache order status: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Cache verify result per session: payment_verified:{session_id} -> "1"
	// (only set once paid; paid never becomes unpaid)
	KeyPaymentVerified = "payment_verified:%s"
)

var (
	TTLWebhookDedup = 48 * time.Hour
	TTLStatusCache  = 5 * time.Minute
	TTLVerified     = 24 * time.Hour
)
