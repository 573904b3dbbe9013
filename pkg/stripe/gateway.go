package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"
	"github.com/stripe/stripe-go/v84/webhook"
)

// Event types the marketplace reacts to.
const (
	EventCheckoutCompleted            = string(stripe.EventTypeCheckoutSessionCompleted)
	EventCheckoutAsyncPaymentSucceeds = string(stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded)
)

var ErrSignature = errors.New("stripe webhook signature invalid")

// CheckoutRequest describes a hosted checkout for one transaction.
type CheckoutRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReferenceID    string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is the provider session the buyer is redirected to.
type CheckoutSession struct {
	ID  string
	URL string
}

// TransferRequest moves the seller share to a connected account.
type TransferRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Destination    string
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

// Transfer is a completed connected-account transfer.
type Transfer struct {
	ID string
}

// RefundRequest refunds a captured payment intent in full.
type RefundRequest struct {
	PaymentIntentID string
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

// Refund is the provider refund record.
type Refund struct {
	ID     string
	Status string
}

// WebhookEvent is the verified, provider-neutral view of a webhook.
type WebhookEvent struct {
	ID                string
	Type              string
	CheckoutSessionID string
	PaymentIntentID   string
	PaymentStatus     string
	Metadata          map[string]string
	Created           time.Time
}

// Gateway talks to Stripe Connect: hosted checkout, transfers, refunds and webhooks.
type Gateway struct {
	signingSecret string

	newSession  func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newTransfer func(params *stripe.TransferParams) (*stripe.Transfer, error)
	newRefund   func(params *stripe.RefundParams) (*stripe.Refund, error)
}

// NewGateway builds a gateway using the package-level Stripe key set by NewClient.
func NewGateway(client *Client) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	return &Gateway{
		signingSecret: client.SigningSecret(),
		newSession:    session.New,
		newTransfer:   transfer.New,
		newRefund:     refund.New,
	}, nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	cents, err := toMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	currency := normalizeCurrency(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ReferenceID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(cents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferGroup: stripe.String(req.ReferenceID),
			Metadata:      req.Metadata,
		},
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	created, err := g.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: created.ID, URL: created.URL}, nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if strings.TrimSpace(req.Destination) == "" {
		return nil, errors.New("transfer destination required")
	}
	cents, err := toMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(normalizeCurrency(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	created, err := g.newTransfer(params)
	if err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	return &Transfer{ID: created.ID}, nil
}

func (g *Gateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		return nil, errors.New("payment intent required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	created, err := g.newRefund(params)
	if err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return &Refund{ID: created.ID, Status: string(created.Status)}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header before any payload
// field is trusted.
func (g *Gateway) VerifyWebhookSignature(payload []byte, signature string) (*WebhookEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, ErrSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return toWebhookEvent(event)
}

func toWebhookEvent(event stripe.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceeds:
		if event.Data == nil {
			return nil, errors.New("checkout event data missing")
		}
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.CheckoutSessionID = cs.ID
		out.PaymentStatus = string(cs.PaymentStatus)
		out.Metadata = cs.Metadata
		if cs.PaymentIntent != nil {
			out.PaymentIntentID = cs.PaymentIntent.ID
		}
	}
	return out, nil
}

// toMinorUnits converts a two-decimal amount into cents.
func toMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, errors.New("amount must not be negative")
	}
	return amount.Round(2).Mul(decimal.NewFromInt(100)).IntPart(), nil
}

func normalizeCurrency(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return "eur"
	}
	return currency
}
