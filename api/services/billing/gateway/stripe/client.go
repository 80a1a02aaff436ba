package stripegw

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	gw "github.com/newsalert/billing-portal/api/services/billing/gateway"
)

var _ gw.BillingGateway = (*Gateway)(nil)

// Gateway is the Stripe SDK-backed implementation of the gateway.
type Gateway struct {
	api           *client.API
	webhookSecret string
	backoff       Backoff
}

// New returns a BillingGateway backed by the official Stripe SDK. SDK-level
// network retries are disabled so that only reads are retried, and only on rate limits.
func New(secretKey, webhookSecret string, backoff Backoff) *Gateway {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)})
	return &Gateway{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		backoff:       backoff,
	}
}

func (c *Gateway) SearchCustomersByEmail(ctx context.Context, email string, limit int) ([]stripe.Customer, error) {
	if limit <= 0 {
		limit = 10
	}
	return retryRead(ctx, c.backoff, "customers.list", func() ([]stripe.Customer, error) {
		params := &stripe.CustomerListParams{Email: stripe.String(email)}
		params.Context = ctx
		params.Limit = stripe.Int64(int64(limit))
		it := c.api.Customers.List(params)
		var out []stripe.Customer
		for len(out) < limit && it.Next() {
			out = append(out, *it.Customer())
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (c *Gateway) CreateCustomer(ctx context.Context, email string) (stripe.Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return stripe.Customer{}, err
	}
	return *cust, nil
}

func (c *Gateway) ListSubscriptions(ctx context.Context, customerID string) ([]stripe.Subscription, error) {
	return retryRead(ctx, c.backoff, "subscriptions.list", func() ([]stripe.Subscription, error) {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String("all"),
		}
		params.Context = ctx
		params.AddExpand("data.default_payment_method")
		it := c.api.Subscriptions.List(params)
		var out []stripe.Subscription
		for it.Next() {
			out = append(out, *it.Subscription())
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (c *Gateway) GetSubscription(ctx context.Context, id string) (stripe.Subscription, error) {
	return retryRead(ctx, c.backoff, "subscriptions.get", func() (stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		sub, err := c.api.Subscriptions.Get(id, params)
		if err != nil {
			return stripe.Subscription{}, err
		}
		return *sub, nil
	})
}

func (c *Gateway) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{Prorate: stripe.Bool(true)}
	params.Context = ctx
	_, err := c.api.Subscriptions.Cancel(id, params)
	return err
}

func (c *Gateway) CreateTrialSubscription(ctx context.Context, req gw.TrialSubscriptionRequest) (stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer:        stripe.String(req.CustomerID),
		Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(req.PriceID)}},
		TrialPeriodDays: stripe.Int64(req.TrialDays),
		TrialSettings: &stripe.SubscriptionTrialSettingsParams{
			EndBehavior: &stripe.SubscriptionTrialSettingsEndBehaviorParams{
				MissingPaymentMethod: stripe.String("cancel"),
			},
		},
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String(string(stripe.SubscriptionPaymentSettingsSaveDefaultPaymentMethodOnSubscription)),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return stripe.Subscription{}, err
	}
	return *sub, nil
}

func (c *Gateway) CreateSubscriptionItem(ctx context.Context, subscriptionID, priceID string, quantity int64) (stripe.SubscriptionItem, error) {
	params := &stripe.SubscriptionItemParams{
		Subscription:      stripe.String(subscriptionID),
		Price:             stripe.String(priceID),
		Quantity:          stripe.Int64(quantity),
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	item, err := c.api.SubscriptionItems.New(params)
	if err != nil {
		return stripe.SubscriptionItem{}, err
	}
	return *item, nil
}

func (c *Gateway) UpdateSubscriptionItemQuantity(ctx context.Context, itemID string, quantity int64) (stripe.SubscriptionItem, error) {
	params := &stripe.SubscriptionItemParams{
		Quantity:          stripe.Int64(quantity),
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	item, err := c.api.SubscriptionItems.Update(itemID, params)
	if err != nil {
		return stripe.SubscriptionItem{}, err
	}
	return *item, nil
}

func (c *Gateway) DeleteSubscriptionItem(ctx context.Context, itemID string) error {
	params := &stripe.SubscriptionItemParams{ProrationBehavior: stripe.String("create_prorations")}
	params.Context = ctx
	_, err := c.api.SubscriptionItems.Del(itemID, params)
	return err
}

func (c *Gateway) GetProduct(ctx context.Context, id string) (stripe.Product, error) {
	return retryRead(ctx, c.backoff, "products.get", func() (stripe.Product, error) {
		params := &stripe.ProductParams{}
		params.Context = ctx
		p, err := c.api.Products.Get(id, params)
		if err != nil {
			return stripe.Product{}, err
		}
		return *p, nil
	})
}

func (c *Gateway) GetPrice(ctx context.Context, id string) (stripe.Price, error) {
	return retryRead(ctx, c.backoff, "prices.get", func() (stripe.Price, error) {
		params := &stripe.PriceParams{}
		params.Context = ctx
		p, err := c.api.Prices.Get(id, params)
		if err != nil {
			return stripe.Price{}, err
		}
		return *p, nil
	})
}

func (c *Gateway) ListActiveRecurringPrices(ctx context.Context, productID string) ([]stripe.Price, error) {
	return retryRead(ctx, c.backoff, "prices.list", func() ([]stripe.Price, error) {
		params := &stripe.PriceListParams{
			Product: stripe.String(productID),
			Active:  stripe.Bool(true),
			Type:    stripe.String(string(stripe.PriceTypeRecurring)),
		}
		params.Context = ctx
		it := c.api.Prices.List(params)
		var out []stripe.Price
		for it.Next() {
			out = append(out, *it.Price())
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (c *Gateway) CreateCheckoutSession(ctx context.Context, req gw.CheckoutRequest) (stripe.CheckoutSession, error) {
	mode := stripe.CheckoutSessionModePayment
	if req.Recurring {
		mode = stripe.CheckoutSessionModeSubscription
	}
	line := &stripe.CheckoutSessionLineItemParams{
		Price:    stripe.String(req.PriceID),
		Quantity: stripe.Int64(req.Quantity),
	}
	if req.MaxQuantity > 0 {
		line.AdjustableQuantity = &stripe.CheckoutSessionLineItemAdjustableQuantityParams{
			Enabled: stripe.Bool(true),
			Minimum: stripe.Int64(req.MinQuantity),
			Maximum: stripe.Int64(req.MaxQuantity),
		}
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{line},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Recurring && len(req.Metadata) > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: req.Metadata}
	}
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return stripe.CheckoutSession{}, err
	}
	return *sess, nil
}

func (c *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{Customer: stripe.String(customerID)}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx
	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (c *Gateway) ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	if signatureHeader == "" {
		return stripe.Event{}, fmt.Errorf("missing Stripe-Signature header")
	}
	return webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
