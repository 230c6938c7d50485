package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/arielvz/go-store-backend/internal/kafka"
	"github.com/arielvz/go-store-backend/internal/orders"
	"github.com/arielvz/go-store-backend/internal/redisx"
)

type Catalog interface {
	ByIDs(ctx context.Context, ids []string) (map[string]orders.Product, error)
}

type Reconciler interface {
	CreateFromPayment(ctx context.Context, userID, sessionID string, items []orders.PricedItem, totalCents int) (*orders.Order, bool, error)
}

type FailureSink interface {
	Record(ctx context.Context, f orders.Failure) error
}

type Service struct {
	Gateway  Gateway
	Catalog  Catalog
	Orders   Reconciler
	Failures FailureSink

	ProducerReconciled *kafkax.Producer // order.reconciled
	ProducerFailed     *kafkax.Producer // order.reconciliation.failed
	Redis              *redis.Client    // optional fast paths; DB stays authoritative

	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	ServiceName   string
	Log           zerolog.Logger
}

// Checkout validates the cart against the current catalog, prices the items
// and opens a payment session. The stock check here is advisory only, for
// fast user feedback; reservation happens at reconciliation.
func (s *Service) Checkout(ctx context.Context, userID string, items []orders.CartItem) (string, error) {
	if userID == "" || len(items) == 0 {
		return "", fmt.Errorf("%w: missing user or cart items", orders.ErrValidation)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" || it.Qty <= 0 {
			return "", fmt.Errorf("%w: bad cart item %+v", orders.ErrValidation, it)
		}
		ids = append(ids, it.ProductID)
	}

	products, err := s.Catalog.ByIDs(ctx, ids)
	if err != nil {
		return "", err
	}

	priced := make([]orders.PricedItem, 0, len(items))
	lines := make([]LineItem, 0, len(items))
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return "", fmt.Errorf("%w: product %s", orders.ErrNotFound, it.ProductID)
		}
		if p.Stock < it.Qty {
			return "", fmt.Errorf("%w: insufficient stock for %q: available %d, requested %d",
				orders.ErrValidation, p.Name, p.Stock, it.Qty)
		}
		priced = append(priced, orders.PricedItem{ProductID: it.ProductID, Qty: it.Qty, PriceCents: p.PriceCents})
		lines = append(lines, LineItem{Name: p.Name, PriceCents: p.PriceCents, Qty: it.Qty})
	}

	session, err := s.Gateway.CreateCheckout(ctx, CheckoutParams{
		Items:      lines,
		SuccessURL: s.SuccessURL,
		CancelURL:  s.CancelURL,
		Metadata:   CheckoutMetadata(userID, priced),
	})
	if err != nil {
		return "", err
	}

	s.Log.Info().Str("session_id", session.ID).Str("user_id", userID).Msg("checkout session created")
	return session.URL, nil
}

// Verify asks the provider whether the session has been paid. Synchronous
// polling path, independent of the webhook.
func (s *Service) Verify(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("%w: missing session_id", orders.ErrValidation)
	}
	if s.Redis != nil {
		key := fmt.Sprintf(redisx.KeyPaymentVerified, sessionID)
		if ok, _ := redisx.Exists(ctx, s.Redis, key); ok {
			return true, nil
		}
	}
	paid, err := s.Gateway.VerifyPayment(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if paid && s.Redis != nil {
		key := fmt.Sprintf(redisx.KeyPaymentVerified, sessionID)
		_ = s.Redis.Set(ctx, key, "1", redisx.TTLVerified).Err()
	}
	return paid, nil
}

// HandleEvent authenticates and reconciles one webhook delivery.
//
// A nil return tells the provider to stop retrying: the event was either
// reconciled, recognized as a duplicate, irrelevant, or terminally failed
// (insufficient stock, which retries cannot fix; recorded durably
// instead). A non-nil return other than ErrSignature means a retryable
// fault; the caller answers 5xx and the provider redelivers.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, sigHeader string) error {
	if err := VerifySignature(payload, sigHeader, s.WebhookSecret); err != nil {
		return err
	}

	ev, err := ParseEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", orders.ErrValidation, err)
	}
	if ev.Type != EventCheckoutCompleted {
		return nil
	}

	if s.Redis != nil && ev.ID != "" {
		key := fmt.Sprintf(redisx.KeyWebhookDedup, ev.ID)
		if seen, _ := redisx.Exists(ctx, s.Redis, key); seen {
			return nil
		}
	}

	session := ev.Data.Object
	userID, items, err := session.Intent()
	if err != nil {
		return err
	}

	order, existed, err := s.Orders.CreateFromPayment(ctx, userID, session.ID, items, session.AmountTotal)
	if err != nil {
		var shortage *orders.StockShortage
		if errors.As(err, &shortage) {
			return s.recordShortage(ctx, session, userID, shortage)
		}
		return err
	}

	s.markHandled(ctx, ev.ID, order)
	if !existed {
		s.publishReconciled(order)
		s.Log.Info().
			Str("order_id", order.ID).
			Str("session_id", session.ID).
			Int("total_cents", order.TotalCents).
			Msg("order reconciled")
	}
	return nil
}

// recordShortage makes the terminal failure durable before acknowledging.
// If the record itself cannot be written the event stays unacknowledged so
// the provider retries once storage recovers.
func (s *Service) recordShortage(ctx context.Context, session Session, userID string, shortage *orders.StockShortage) error {
	f := orders.Failure{
		SessionID:  session.ID,
		UserID:     userID,
		ProductID:  shortage.ProductID,
		Required:   shortage.Required,
		Available:  shortage.Available,
		TotalCents: session.AmountTotal,
	}
	if err := s.Failures.Record(ctx, f); err != nil {
		return fmt.Errorf("record reconciliation failure: %w", err)
	}

	s.publishFailed(f)
	s.Log.Error().
		Str("session_id", session.ID).
		Str("user_id", userID).
		Str("product_id", shortage.ProductID).
		Int("required", shortage.Required).
		Int("available", shortage.Available).
		Msg("payment settled but stock exhausted; manual follow-up required")
	return nil
}

func (s *Service) markHandled(ctx context.Context, eventID string, order *orders.Order) {
	if s.Redis == nil {
		return
	}
	if eventID != "" {
		key := fmt.Sprintf(redisx.KeyWebhookDedup, eventID)
		_ = s.Redis.Set(ctx, key, "1", redisx.TTLWebhookDedup).Err()
	}
	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, order.ID)
	_ = s.Redis.Set(ctx, statusKey, fmt.Sprintf(`{"status":%q}`, order.Status), redisx.TTLStatusCache).Err()
}

func (s *Service) publishReconciled(order *orders.Order) {
	if s.ProducerReconciled == nil {
		return
	}
	items := make([]orders.PricedItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, orders.PricedItem(it))
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderReconciled,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: order.StripeSessionID,
		Payload: kafkax.MustMarshal(orders.OrderReconciledPayload{
			OrderID:    order.ID,
			UserID:     order.UserID,
			SessionID:  order.StripeSessionID,
			Items:      items,
			TotalCents: order.TotalCents,
		}),
	}
	s.ProducerReconciled.Publish(orders.PartitionKey(order.StripeSessionID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderReconciled)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishFailed(f orders.Failure) {
	if s.ProducerFailed == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventReconciliationFailed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: f.SessionID,
		Payload: kafkax.MustMarshal(orders.ReconciliationFailedPayload{
			SessionID:  f.SessionID,
			UserID:     f.UserID,
			ProductID:  f.ProductID,
			Required:   f.Required,
			Available:  f.Available,
			TotalCents: f.TotalCents,
			Reason:     "OUT_OF_STOCK",
		}),
	}
	s.ProducerFailed.Publish(orders.PartitionKey(f.SessionID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventReconciliationFailed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
