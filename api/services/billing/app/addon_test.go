package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/services/billing/db"
)

func TestPurchaseAddon_IncrementsExistingItem(t *testing.T) {
	f := newFixture(t)
	addon := f.gw.item("price_addon_biz_m", 2)
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1), addon)
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")

	res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{
		OwnerEmail: "a@x.com", Plan: PlanBusiness, Quantity: 3, AdditionalEmails: []string{"b@x.com", "c@x.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, PurchaseUpdated, res.Mode)
	assert.Equal(t, int64(5), res.Quantity)
	assert.Equal(t, int64(5), addon.Quantity)
	assert.Equal(t, "Business extra recipient", res.ProductName)
	assert.Equal(t, "https://billing.test/portal/cus_1", res.PortalURL)
	assert.Equal(t, 2, res.AddedRecipients)
	assert.Zero(t, f.gw.count("CreateCheckoutSession"))

	var addonRows []string
	for _, r := range f.live(link.ID) {
		if r.Channel == db.ChannelAddon {
			addonRows = append(addonRows, r.Email)
		}
	}
	assert.ElementsMatch(t, []string{"b@x.com", "c@x.com"}, addonRows)
	assert.Len(t, f.store.OwnerLinks(), 1)
}

func TestPurchaseAddon_MatchesByPriceThenMarker(t *testing.T) {
	t.Run("price id", func(t *testing.T) {
		f := newFixture(t)
		f.gw.prices["price_addon_lite_m"] = stripe.Price{ID: "price_addon_lite_m", Product: &stripe.Product{ID: "prod_renamed", Name: "Seats"}}
		seat := f.gw.item("price_addon_lite_m", 1)
		f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_lite_m", 1), seat)
		f.seedOwner(t, "a@x.com", PlanLite, "cus_1")

		res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanLite, Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, PurchaseUpdated, res.Mode)
		assert.Equal(t, int64(2), seat.Quantity)
	})

	t.Run("metadata marker", func(t *testing.T) {
		f := newFixture(t)
		f.gw.products["prod_marked"] = stripe.Product{ID: "prod_marked", Name: "Extra seat", Metadata: map[string]string{"addon": "true"}}
		f.gw.prices["price_marked"] = stripe.Price{ID: "price_marked", Product: &stripe.Product{ID: "prod_marked"}}
		seat := f.gw.item("price_marked", 4)
		f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_lite_m", 1), seat)
		f.seedOwner(t, "a@x.com", PlanLite, "cus_1")

		res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanLite, Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, PurchaseUpdated, res.Mode)
		assert.Equal(t, int64(5), seat.Quantity)
		assert.Positive(t, f.gw.count("GetProduct"))
	})
}

func TestPurchaseAddon_CreatesItemAtSubscriptionInterval(t *testing.T) {
	f := newFixture(t)
	sub := f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_lite_y", 1))
	f.seedOwner(t, "a@x.com", PlanLite, "cus_1")

	res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanLite, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, PurchaseCreated, res.Mode)
	assert.Equal(t, int64(2), res.Quantity)
	require.Len(t, sub.Items.Data, 2)
	assert.Equal(t, "price_addon_lite_y", sub.Items.Data[1].Price.ID)
}

func TestPurchaseAddon_ClampsQuantity(t *testing.T) {
	for _, tc := range []struct{ in, want int64 }{{0, 1}, {-4, 1}, {50, 10}, {7, 7}} {
		t.Run(fmt.Sprint(tc.in), func(t *testing.T) {
			f := newFixture(t)
			sub := f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1))
			f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")

			res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanBusiness, Quantity: int(tc.in)})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Quantity)
			assert.Equal(t, tc.want, sub.Items.Data[1].Quantity)
		})
	}
}

func TestPurchaseAddon_FirstTimeBuyerWithSavedPaymentMethod(t *testing.T) {
	f := newFixture(t)
	f.gw.addCustomer("cus_nopm", "a@x.com")
	f.gw.addSubscription("cus_nopm", stripe.SubscriptionStatusActive, f.gw.item("price_lite_m", 1))
	f.gw.addCustomer("cus_pm", "a@x.com")
	sub := f.gw.addSubscription("cus_pm", stripe.SubscriptionStatusActive, f.gw.item("price_lite_m", 1))
	sub.DefaultPaymentMethod = &stripe.PaymentMethod{ID: "pm_1"}

	res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{
		OwnerEmail: "a@x.com", Plan: PlanLite, Quantity: 1, AdditionalEmails: []string{"b@x.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, PurchaseCreated, res.Mode)

	links := f.store.OwnerLinks()
	require.Len(t, links, 1)
	assert.Equal(t, "cus_pm", links[0].CustomerID)
	assert.Equal(t, sub.ID, links[0].SubscriptionID)
	assert.Equal(t, "lite", links[0].Plan)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, emailsOf(f.live(links[0].ID)))
}

func TestPurchaseAddon_PaymentLinkFallback(t *testing.T) {
	f := newFixture(t)
	f.svc.settings.AddonPaymentLinks[PlanLite] = "https://buy.test/lite-seat"
	f.gw.addCustomer("cus_1", "a@x.com")
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_lite_m", 1))

	res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanLite, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, PurchasePaymentLink, res.Mode)
	assert.Equal(t, "https://buy.test/lite-seat", res.RedirectURL)
	assert.Empty(t, f.store.OwnerLinks())
	assert.Zero(t, f.gw.count("CreateSubscriptionItem"))
}

func TestPurchaseAddon_CheckoutFallbackCarriesMetadata(t *testing.T) {
	f := newFixture(t)
	var extra []string
	for i := 0; i < 10; i++ {
		extra = append(extra, fmt.Sprintf("r%d@x.com", i))
	}

	res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{
		OwnerEmail: "A@x.com", Plan: PlanBusiness, Quantity: 10, AdditionalEmails: extra,
	})
	require.NoError(t, err)
	assert.Equal(t, PurchaseCheckout, res.Mode)
	assert.Equal(t, "https://checkout.test/cs_test", res.RedirectURL)

	require.Len(t, f.gw.checkouts, 1)
	req := f.gw.checkouts[0]
	assert.Equal(t, "price_addon_biz_m", req.PriceID)
	assert.True(t, req.Recurring)
	assert.Equal(t, int64(1), req.MinQuantity)
	assert.Equal(t, int64(10), req.MaxQuantity)
	assert.Equal(t, "a@x.com", req.CustomerEmail)
	assert.Equal(t, "business", req.Metadata["plan"])
	assert.Equal(t, "a@x.com", req.Metadata["owner_email"])
	var decoded []string
	require.NoError(t, json.Unmarshal([]byte(req.Metadata["additional_emails"]), &decoded))
	assert.Equal(t, extra, decoded)
	assert.Empty(t, f.store.OwnerLinks())
}

func TestPurchaseAddon_UpdateFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1), f.gw.item("price_addon_biz_m", 1))
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")
	f.gw.failUpdate = &stripe.Error{HTTPStatusCode: 402, Msg: "card declined"}

	res, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanBusiness, Quantity: 1, AdditionalEmails: []string{"b@x.com"}})
	require.NoError(t, err)
	assert.Equal(t, PurchaseCheckout, res.Mode)
	assert.Equal(t, "cus_1", f.gw.checkouts[0].CustomerID)
	assert.Empty(t, f.live(link.ID))
}

func TestPurchaseAddon_StoreFailureAfterBillingIsReported(t *testing.T) {
	f := newFixture(t)
	addon := f.gw.item("price_addon_biz_m", 1)
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1), addon)
	f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")
	f.store.FailWrites = errors.New("connection reset")

	_, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanBusiness, Quantity: 1})
	assert.ErrorIs(t, err, ErrDatabase)
	assert.Contains(t, err.Error(), "could not save changes")
	assert.Equal(t, int64(2), addon.Quantity, "billing mutation is not rolled back")
}

func TestPurchaseAddon_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PurchaseAddon(ctx, PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanTrial, Quantity: 1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.PurchaseAddon(ctx, PurchaseAddonRequest{OwnerEmail: "bad", Plan: PlanLite, Quantity: 1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.PurchaseAddon(ctx, PurchaseAddonRequest{OwnerEmail: "a@x.com", Plan: PlanLite, Quantity: 1, AdditionalEmails: []string{"b@x.com", "c@x.com"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPurchaseAddon_ExistingRecipientIsNotBilled(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  error
	}{
		{"live recipient", "b@x.com", ErrDuplicateRecipient},
		{"pending removal", "c@x.com", ErrConflict},
		{"owner", "a@x.com", ErrDuplicateRecipient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			addon := f.gw.item("price_addon_biz_m", 2)
			f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1), addon)
			link := f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")
			f.seedRecipients(t, link, db.ChannelAddon, "b@x.com", "c@x.com")
			for _, r := range f.store.Recipients() {
				if r.Email == "c@x.com" {
					require.NoError(t, f.store.SetPendingRemoval(context.Background(), link.ID, []int64{r.ID}, true))
				}
			}

			_, err := f.svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{
				OwnerEmail: "a@x.com", Plan: PlanBusiness, Quantity: 2, AdditionalEmails: []string{"d@x.com", tt.email},
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(2), addon.Quantity)
			assert.Zero(t, f.gw.count("UpdateSubscriptionItemQuantity"))
			assert.Zero(t, f.gw.count("CreateCheckoutSession"))
		})
	}
}

// racingStore lands b@x.com just before the add-on rows, the way a
// concurrent insert would.
type racingStore struct{ *db.MemoryStore }

func (r racingStore) InsertRecipients(ctx context.Context, rows []db.NewRecipient) (int64, error) {
	for _, row := range rows {
		if row.Email == "b@x.com" {
			if _, err := r.MemoryStore.InsertRecipients(ctx, []db.NewRecipient{row}); err != nil {
				return 0, err
			}
		}
	}
	return r.MemoryStore.InsertRecipients(ctx, rows)
}

func TestPurchaseAddon_ReportsOnlyInsertedRecipients(t *testing.T) {
	f := newFixture(t)
	addon := f.gw.item("price_addon_biz_m", 1)
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1), addon)
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")
	svc := NewService(racingStore{f.store}, f.gw, testSettings(), WithClock(func() time.Time { return f.now }))

	res, err := svc.PurchaseAddon(context.Background(), PurchaseAddonRequest{
		OwnerEmail: "a@x.com", Plan: PlanBusiness, Quantity: 2, AdditionalEmails: []string{"b@x.com", "c@x.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), addon.Quantity)
	assert.Equal(t, 1, res.AddedRecipients)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com", "c@x.com"}, emailsOf(f.live(link.ID)))
}
