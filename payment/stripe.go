package payment

import (
	"context"
	"fmt"
	"strings"

	"cart-reservation/model"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
)

// StripeGateway creates and reads Stripe PaymentIntents with an explicit key
// instead of the package-level stripe.Key.
type StripeGateway struct {
	client paymentintent.Client
}

// NewStripeGateway uses the default API backend when backend is nil.
func NewStripeGateway(secretKey string, backend stripe.Backend) *StripeGateway {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeGateway{client: paymentintent.Client{B: backend, Key: secretKey}}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Metadata: req.Metadata.Map(),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.client.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create intent: %v", model.ErrPaymentGateway, err)
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) Retrieve(ctx context.Context, reference string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.client.Get(reference, params)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: retrieve %s: %v", model.ErrPaymentGateway, reference, err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       Status(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     MetadataFromMap(pi.Metadata),
	}
}
