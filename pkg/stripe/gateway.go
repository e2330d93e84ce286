package stripe

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
)

// Intent is the subset of a PaymentIntent the story backend reads.
type Intent struct {
	ID           string
	ClientSecret string
	Status       stripe.PaymentIntentStatus
	AmountCents  int64
}

// Succeeded reports whether the intent captured funds.
func (i *Intent) Succeeded() bool {
	return i != nil && i.Status == stripe.PaymentIntentStatusSucceeded
}

// Canceled reports whether the intent can no longer be paid.
func (i *Intent) Canceled() bool {
	return i != nil && i.Status == stripe.PaymentIntentStatusCanceled
}

// IntentParams describe a new chargeable intent.
type IntentParams struct {
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult identifies an issued refund.
type RefundResult struct {
	ID     string
	Status stripe.RefundStatus
}

// Gateway calls the PaymentIntent and Refund APIs.
type Gateway struct {
	client *Client
}

// NewGateway wraps the initialized client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// CreateIntent creates an automatically confirmed PaymentIntent for amount.
func (g *Gateway) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	cents, err := ToCents(params.Amount)
	if err != nil {
		return nil, err
	}
	p := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(g.client.Currency()),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	for key, value := range params.Metadata {
		p.AddMetadata(key, value)
	}
	pi, err := g.client.api.V1PaymentIntents.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

// GetIntent retrieves the current state of an intent.
func (g *Gateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	pi, err := g.client.api.V1PaymentIntents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return toIntent(pi), nil
}

// CancelIntent abandons an intent that was never paid.
func (g *Gateway) CancelIntent(ctx context.Context, id string) (*Intent, error) {
	p := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	pi, err := g.client.api.V1PaymentIntents.Cancel(ctx, id, p)
	if err != nil {
		return nil, fmt.Errorf("cancel payment intent %s: %w", id, err)
	}
	return toIntent(pi), nil
}

// Refund issues a partial refund against the intent.
func (g *Gateway) Refund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (*RefundResult, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return nil, err
	}
	p := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(cents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	r, err := g.client.api.V1Refunds.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("refund payment intent %s: %w", intentID, err)
	}
	return &RefundResult{ID: r.ID, Status: r.Status}, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	if pi == nil {
		return nil
	}
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       pi.Status,
		AmountCents:  pi.Amount,
	}
}
