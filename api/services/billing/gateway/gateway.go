package gateway

import (
	"context"

	stripe "github.com/stripe/stripe-go/v76"
)

//go:generate mockgen -destination=mock/mock_gateway.go -package=mock github.com/newsalert/billing-portal/api/services/billing/gateway BillingGateway

// BillingGateway abstracts the payment processor operations needed by the app layer.
// Methods return values (not pointers) to keep SDK pointer types out of the domain.
type BillingGateway interface {
	// SearchCustomersByEmail returns at most limit customers, in processor order.
	SearchCustomersByEmail(ctx context.Context, email string, limit int) ([]stripe.Customer, error)
	CreateCustomer(ctx context.Context, email string) (stripe.Customer, error)
	// ListSubscriptions lists every subscription of the customer, in all statuses.
	ListSubscriptions(ctx context.Context, customerID string) ([]stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string) (stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
	CreateTrialSubscription(ctx context.Context, req TrialSubscriptionRequest) (stripe.Subscription, error)

	CreateSubscriptionItem(ctx context.Context, subscriptionID, priceID string, quantity int64) (stripe.SubscriptionItem, error)
	UpdateSubscriptionItemQuantity(ctx context.Context, itemID string, quantity int64) (stripe.SubscriptionItem, error)
	DeleteSubscriptionItem(ctx context.Context, itemID string) error

	GetProduct(ctx context.Context, id string) (stripe.Product, error)
	GetPrice(ctx context.Context, id string) (stripe.Price, error)
	// ListActiveRecurringPrices returns the product's active recurring prices.
	ListActiveRecurringPrices(ctx context.Context, productID string) ([]stripe.Price, error)

	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// ConstructEvent verifies the signature header against the webhook secret.
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

// TrialSubscriptionRequest creates a subscription that starts in trial
// and collects a payment method later.
type TrialSubscriptionRequest struct {
	CustomerID string
	PriceID    string
	TrialDays  int64
	Metadata   map[string]string
}

// CheckoutRequest describes a hosted checkout session.
type CheckoutRequest struct {
	PriceID       string
	Recurring     bool
	Quantity      int64
	MinQuantity   int64
	MaxQuantity   int64
	CustomerID    string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}
