package app

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/newsalert/billing-portal/api/services/billing/db"
	gw "github.com/newsalert/billing-portal/api/services/billing/gateway"
)

const testWebhookSecret = "whsec_test"

func testSettings() Settings {
	return Settings{
		AccountingStatuses: []string{"active", "trialing", "past_due", "unpaid"},
		CheckoutStatuses:   []string{"active", "trialing"},
		DefaultBaseSlots:   map[Plan]int{PlanLite: 1, PlanBusiness: 4, PlanTrial: 1},
		PlanProductIDs: map[Plan][]string{
			PlanLite:     {"prod_lite"},
			PlanBusiness: {"prod_biz"},
			PlanTrial:    {"prod_trial_plan"},
		},
		BasePrices: map[Plan]map[Interval]string{
			PlanLite:     {IntervalMonth: "price_lite_m", IntervalYear: "price_lite_y"},
			PlanBusiness: {IntervalMonth: "price_biz_m"},
		},
		AddonProductIDs: map[Plan][]string{
			PlanLite:     {"prod_addon_lite"},
			PlanBusiness: {"prod_addon_biz"},
		},
		AddonPrices: map[Plan]map[Interval]string{
			PlanLite:     {IntervalMonth: "price_addon_lite_m", IntervalYear: "price_addon_lite_y"},
			PlanBusiness: {IntervalMonth: "price_addon_biz_m"},
		},
		AddonPaymentLinks:   map[Plan]string{},
		AddonMetadataKey:    "addon",
		TrialProductIDs:     []string{"prod_trial"},
		TrialDays:           7,
		TrialTokenTTL:       24 * time.Hour,
		TrialDelivery:       TrialDeliveryReturn,
		CacheTTL:            5 * time.Minute,
		CustomerSearchLimit: 10,
		AppBaseURL:          "https://portal.test",
		CheckoutSuccessURL:  "https://portal.test/ok",
		CheckoutCancelURL:   "https://portal.test/cancel",
		PortalReturnURL:     "https://portal.test/account",
	}
}

// fakeGateway is an in-memory processor: subscription items are shared
// pointers, so quantity changes are visible to later list calls.
type fakeGateway struct {
	mu        sync.Mutex
	customers []stripe.Customer
	subs      map[string][]*stripe.Subscription
	products  map[string]stripe.Product
	prices    map[string]stripe.Price
	recurring map[string][]stripe.Price
	next      int

	calls     map[string]int
	checkouts []gw.CheckoutRequest
	trials    []gw.TrialSubscriptionRequest

	failList   error
	failUpdate error
	failSearch error
}

func newFakeGateway() *fakeGateway {
	f := &fakeGateway{
		subs:      map[string][]*stripe.Subscription{},
		products:  map[string]stripe.Product{},
		prices:    map[string]stripe.Price{},
		recurring: map[string][]stripe.Price{},
		calls:     map[string]int{},
	}
	for _, p := range []stripe.Product{
		{ID: "prod_lite", Name: "Lite"},
		{ID: "prod_biz", Name: "Business"},
		{ID: "prod_addon_lite", Name: "Lite extra recipient"},
		{ID: "prod_addon_biz", Name: "Business extra recipient"},
	} {
		f.products[p.ID] = p
	}
	f.addPrice("price_lite_m", "prod_lite", stripe.PriceRecurringIntervalMonth)
	f.addPrice("price_lite_y", "prod_lite", stripe.PriceRecurringIntervalYear)
	f.addPrice("price_biz_m", "prod_biz", stripe.PriceRecurringIntervalMonth)
	f.addPrice("price_addon_lite_m", "prod_addon_lite", stripe.PriceRecurringIntervalMonth)
	f.addPrice("price_addon_lite_y", "prod_addon_lite", stripe.PriceRecurringIntervalYear)
	f.addPrice("price_addon_biz_m", "prod_addon_biz", stripe.PriceRecurringIntervalMonth)
	return f
}

func (f *fakeGateway) addPrice(id, productID string, interval stripe.PriceRecurringInterval) {
	prod := f.products[productID]
	f.prices[id] = stripe.Price{
		ID:         id,
		Product:    &stripe.Product{ID: productID, Name: prod.Name, Metadata: prod.Metadata},
		Type:       stripe.PriceTypeRecurring,
		Recurring:  &stripe.PriceRecurring{Interval: interval},
		UnitAmount: 300,
		Currency:   stripe.CurrencyUSD,
	}
}

func (f *fakeGateway) addCustomer(id, email string) *stripe.Customer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = append(f.customers, stripe.Customer{ID: id, Email: email})
	return &f.customers[len(f.customers)-1]
}

// item builds a subscription item for a known price.
func (f *fakeGateway) item(priceID string, qty int64) *stripe.SubscriptionItem {
	f.next++
	p := f.prices[priceID]
	return &stripe.SubscriptionItem{ID: fmt.Sprintf("si_%d", f.next), Price: &p, Quantity: qty}
}

func (f *fakeGateway) addSubscription(customerID string, status stripe.SubscriptionStatus, items ...*stripe.SubscriptionItem) *stripe.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	sub := &stripe.Subscription{
		ID:       fmt.Sprintf("sub_%d", f.next),
		Customer: &stripe.Customer{ID: customerID},
		Status:   status,
		Items:    &stripe.SubscriptionItemList{Data: items},
	}
	f.subs[customerID] = append(f.subs[customerID], sub)
	return sub
}

func (f *fakeGateway) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) findItem(itemID string) (*stripe.Subscription, int) {
	for _, subs := range f.subs {
		for _, sub := range subs {
			for i, it := range sub.Items.Data {
				if it.ID == itemID {
					return sub, i
				}
			}
		}
	}
	return nil, -1
}

func (f *fakeGateway) SearchCustomersByEmail(_ context.Context, email string, limit int) ([]stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SearchCustomersByEmail"]++
	if f.failSearch != nil {
		return nil, f.failSearch
	}
	var out []stripe.Customer
	for _, c := range f.customers {
		if c.Email == email && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeGateway) CreateCustomer(_ context.Context, email string) (stripe.Customer, error) {
	f.mu.Lock()
	f.calls["CreateCustomer"]++
	id := fmt.Sprintf("cus_new_%d", len(f.customers)+1)
	f.mu.Unlock()
	return *f.addCustomer(id, email), nil
}

func (f *fakeGateway) ListSubscriptions(_ context.Context, customerID string) ([]stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListSubscriptions"]++
	if f.failList != nil {
		return nil, f.failList
	}
	var out []stripe.Subscription
	for _, s := range f.subs[customerID] {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetSubscription"]++
	for _, subs := range f.subs {
		for _, s := range subs {
			if s.ID == id {
				return *s, nil
			}
		}
	}
	return stripe.Subscription{}, &stripe.Error{HTTPStatusCode: 404, Msg: "no such subscription"}
}

func (f *fakeGateway) CancelSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CancelSubscription"]++
	if f.failUpdate != nil {
		return f.failUpdate
	}
	for _, subs := range f.subs {
		for _, s := range subs {
			if s.ID == id {
				s.Status = stripe.SubscriptionStatusCanceled
			}
		}
	}
	return nil
}

func (f *fakeGateway) CreateTrialSubscription(_ context.Context, req gw.TrialSubscriptionRequest) (stripe.Subscription, error) {
	f.mu.Lock()
	f.calls["CreateTrialSubscription"]++
	f.trials = append(f.trials, req)
	f.mu.Unlock()
	p := f.prices[req.PriceID]
	sub := f.addSubscription(req.CustomerID, stripe.SubscriptionStatusTrialing, &stripe.SubscriptionItem{ID: "si_trial", Price: &p, Quantity: 1})
	return *sub, nil
}

func (f *fakeGateway) CreateSubscriptionItem(_ context.Context, subscriptionID, priceID string, quantity int64) (stripe.SubscriptionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateSubscriptionItem"]++
	if f.failUpdate != nil {
		return stripe.SubscriptionItem{}, f.failUpdate
	}
	for _, subs := range f.subs {
		for _, s := range subs {
			if s.ID == subscriptionID {
				it := f.item(priceID, quantity)
				s.Items.Data = append(s.Items.Data, it)
				return *it, nil
			}
		}
	}
	return stripe.SubscriptionItem{}, &stripe.Error{HTTPStatusCode: 404, Msg: "no such subscription"}
}

func (f *fakeGateway) UpdateSubscriptionItemQuantity(_ context.Context, itemID string, quantity int64) (stripe.SubscriptionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateSubscriptionItemQuantity"]++
	if f.failUpdate != nil {
		return stripe.SubscriptionItem{}, f.failUpdate
	}
	sub, i := f.findItem(itemID)
	if sub == nil {
		return stripe.SubscriptionItem{}, &stripe.Error{HTTPStatusCode: 404, Msg: "no such item"}
	}
	sub.Items.Data[i].Quantity = quantity
	return *sub.Items.Data[i], nil
}

func (f *fakeGateway) DeleteSubscriptionItem(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteSubscriptionItem"]++
	if f.failUpdate != nil {
		return f.failUpdate
	}
	sub, i := f.findItem(itemID)
	if sub == nil {
		return &stripe.Error{HTTPStatusCode: 404, Msg: "no such item"}
	}
	sub.Items.Data = slices.Delete(sub.Items.Data, i, i+1)
	return nil
}

func (f *fakeGateway) GetProduct(_ context.Context, id string) (stripe.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetProduct"]++
	p, ok := f.products[id]
	if !ok {
		return stripe.Product{}, &stripe.Error{HTTPStatusCode: 404, Msg: "no such product"}
	}
	return p, nil
}

func (f *fakeGateway) GetPrice(_ context.Context, id string) (stripe.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetPrice"]++
	p, ok := f.prices[id]
	if !ok {
		return stripe.Price{}, &stripe.Error{HTTPStatusCode: 404, Msg: "no such price"}
	}
	return p, nil
}

func (f *fakeGateway) ListActiveRecurringPrices(_ context.Context, productID string) ([]stripe.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListActiveRecurringPrices"]++
	return f.recurring[productID], nil
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, req gw.CheckoutRequest) (stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateCheckoutSession"]++
	f.checkouts = append(f.checkouts, req)
	return stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func (f *fakeGateway) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreatePortalSession"]++
	return "https://billing.test/portal/" + customerID, nil
}

func (f *fakeGateway) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, header, testWebhookSecret, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

type fixture struct {
	svc   *serviceImpl
	store *db.MemoryStore
	gw    *fakeGateway
	now   time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: db.NewMemoryStore(),
		gw:    newFakeGateway(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.now })
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = NewService(f.store, f.gw, testSettings(), opts...).(*serviceImpl)
	return f
}

// seedOwner links email to customerID with plan, the way a checkout webhook would.
func (f *fixture) seedOwner(t *testing.T, email string, plan Plan, customerID string) db.OwnerLink {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.CreateUser(ctx, email)
	require.NoError(t, err)
	link, err := f.store.UpsertOwnerLink(ctx, db.OwnerLinkUpsert{
		IdentityID: id, Email: email, CustomerID: customerID, Plan: string(plan), SetPlan: true,
	})
	require.NoError(t, err)
	return link
}

func (f *fixture) seedRecipients(t *testing.T, link db.OwnerLink, ch db.Channel, emails ...string) {
	t.Helper()
	rows := make([]db.NewRecipient, 0, len(emails))
	for _, e := range emails {
		rows = append(rows, db.NewRecipient{OwnerLinkID: link.ID, Email: e, Plan: link.Plan, Channel: ch})
	}
	_, err := f.store.InsertRecipients(context.Background(), rows)
	require.NoError(t, err)
}

func (f *fixture) live(linkID int64) []db.Recipient {
	var out []db.Recipient
	for _, r := range f.store.Recipients() {
		if r.OwnerLinkID == linkID && !r.PendingRemoval {
			out = append(out, r)
		}
	}
	return out
}

func emailsOf(rs []db.Recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Email)
	}
	return out
}

// signedEvent wraps obj as a Stripe event payload with a valid signature header.
func signedEvent(t *testing.T, id string, typ stripe.EventType, obj string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, id, typ, obj))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	return payload, signed.Header
}
