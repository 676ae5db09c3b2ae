package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	"github.com/94nj111/library-service/pkg/config"
	pkgstripe "github.com/94nj111/library-service/pkg/stripe"
)

const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

type stripeCheckoutProvider struct {
	successURL string
	cancelURL  string
}

// NewStripeProvider wraps the shared Stripe client as a checkout provider so
// the payment service can be tested against a stub.
func NewStripeProvider(api *pkgstripe.Client, cfg config.StripeConfig) (CheckoutProvider, error) {
	if api == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if cfg.SuccessURL == "" || cfg.CancelURL == "" {
		return nil, fmt.Errorf("stripe success and cancel urls required")
	}
	return &stripeCheckoutProvider{
		successURL: withSessionPlaceholder(cfg.SuccessURL),
		cancelURL:  withSessionPlaceholder(cfg.CancelURL),
	}, nil
}

func (p *stripeCheckoutProvider) CreateSession(ctx context.Context, name string, amountMinor int64) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(amountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	created, err := session.New(params)
	if err != nil {
		return "", "", err
	}
	return created.ID, created.URL, nil
}

func (p *stripeCheckoutProvider) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	found, err := session.Get(sessionID, params)
	if err != nil {
		return false, err
	}
	return found.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid, nil
}

// withSessionPlaceholder makes the redirect URL carry the session id back so
// the callback can resolve the payment without extra state.
func withSessionPlaceholder(rawURL string) string {
	if strings.Contains(rawURL, sessionIDPlaceholder) {
		return rawURL
	}
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return rawURL + separator + "session_id=" + sessionIDPlaceholder
}
