package payments

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const stripeAPIBase = "https://api.stripe.com"

type StripeGateway struct {
	client   *resty.Client
	currency string
}

func NewStripeGateway(secretKey string) *StripeGateway {
	c := resty.New().
		SetBaseURL(stripeAPIBase).
		SetAuthToken(secretKey).
		SetTimeout(15 * time.Second)
	return &StripeGateway{client: c, currency: "usd"}
}

// WithBaseURL points the gateway at a different API host. Test hook.
func (g *StripeGateway) WithBaseURL(base string) *StripeGateway {
	g.client.SetBaseURL(base)
	return g
}

type stripeSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	form := map[string]string{
		"mode":                    "payment",
		"payment_method_types[0]": "card",
		"success_url":             p.SuccessURL,
		"cancel_url":              p.CancelURL,
	}
	for i, it := range p.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form[prefix+"[price_data][currency]"] = g.currency
		form[prefix+"[price_data][unit_amount]"] = strconv.Itoa(it.PriceCents)
		form[prefix+"[price_data][product_data][name]"] = it.Name
		form[prefix+"[quantity]"] = strconv.Itoa(it.Qty)
	}
	for k, v := range p.Metadata {
		form["metadata["+k+"]"] = v
	}

	var out stripeSession
	var apiErr stripeError
	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if resp.IsError() {
		return CheckoutSession{}, fmt.Errorf("%w: %s", ErrGateway, apiErr.Error.Message)
	}
	return CheckoutSession{ID: out.ID, URL: out.URL}, nil
}

func (g *StripeGateway) VerifyPayment(ctx context.Context, sessionID string) (bool, error) {
	var out stripeSession
	var apiErr stripeError
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/checkout/sessions/" + sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if resp.IsError() {
		return false, fmt.Errorf("%w: %s", ErrGateway, apiErr.Error.Message)
	}
	return out.PaymentStatus == "paid", nil
}
