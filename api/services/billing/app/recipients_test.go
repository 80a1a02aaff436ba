package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/services/billing/db"
	"github.com/newsalert/billing-portal/api/services/billing/lock"
)

func TestAddFree_BusinessScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "")

	res, err := f.svc.AddFree(ctx, "a@x.com", []string{"b@x.com", " C@X.com"})
	require.NoError(t, err)
	assert.Equal(t, []AddedRecipient{
		{Email: "b@x.com", Channel: db.ChannelInitial},
		{Email: "c@x.com", Channel: db.ChannelInitial},
	}, res.Added)
	assert.Equal(t, 1, res.RemainingSlots)

	_, err = f.svc.AddFree(ctx, "a@x.com", []string{"d@x.com"})
	require.NoError(t, err)

	_, err = f.svc.AddFree(ctx, "a@x.com", []string{"e@x.com"})
	var limit *SlotLimitError
	require.ErrorAs(t, err, &limit)
	assert.ErrorIs(t, err, ErrSlotLimit)
	assert.Equal(t, 0, limit.Remaining)
	assert.ElementsMatch(t, []string{"b@x.com", "c@x.com", "d@x.com"}, emailsOf(f.live(link.ID)))
}

func TestAddFree_RejectsInsteadOfTruncating(t *testing.T) {
	f := newFixture(t)
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "")
	f.seedRecipients(t, link, db.ChannelInitial, "a@x.com", "b@x.com")

	_, err := f.svc.AddFree(context.Background(), "a@x.com", []string{"c@x.com", "d@x.com", "e@x.com"})
	var limit *SlotLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 2, limit.Remaining)
	assert.Equal(t, 3, limit.Requested)
	assert.Len(t, f.live(link.ID), 2)
}

func TestAddFree_RejectsExistingRecipient(t *testing.T) {
	f := newFixture(t)
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "")
	f.seedRecipients(t, link, db.ChannelInitial, "b@x.com")

	for _, batch := range [][]string{{"b@x.com", "c@x.com"}, {"c@x.com", "B@x.com"}} {
		_, err := f.svc.AddFree(context.Background(), "a@x.com", batch)
		assert.ErrorIs(t, err, ErrDuplicateRecipient, "batch %v", batch)
	}
	assert.Equal(t, []string{"b@x.com"}, emailsOf(f.live(link.ID)))

	_, err := f.svc.AddFree(context.Background(), "a@x.com", []string{"a@x.com"})
	assert.ErrorIs(t, err, ErrDuplicateRecipient)
}

func TestAddFree_FillsAddonChannelFirst(t *testing.T) {
	f := newFixture(t)
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_lite_m", 1), f.gw.item("price_addon_lite_m", 2))
	link := f.seedOwner(t, "a@x.com", PlanLite, "cus_1")
	f.seedRecipients(t, link, db.ChannelInitial, "a@x.com")

	res, err := f.svc.AddFree(context.Background(), "a@x.com", []string{"b@x.com", "c@x.com"})
	require.NoError(t, err)
	for _, a := range res.Added {
		assert.Equal(t, db.ChannelAddon, a.Channel, a.Email)
	}
	assert.Equal(t, 0, res.RemainingSlots)
	assert.Zero(t, f.gw.count("UpdateSubscriptionItemQuantity"))
	assert.Zero(t, f.gw.count("CreateSubscriptionItem"))
}

func TestAddFree_NeverExceedsCapacity(t *testing.T) {
	f := newFixture(t)
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1), f.gw.item("price_addon_biz_m", 3))
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")

	var rejected int
	for i := 0; i < 12; i++ {
		batch := []string{fmt.Sprintf("r%d@x.com", i)}
		if i%3 == 0 {
			batch = append(batch, fmt.Sprintf("s%d@x.com", i))
		}
		if _, err := f.svc.AddFree(context.Background(), "a@x.com", batch); err != nil {
			require.ErrorIs(t, err, ErrSlotLimit)
			rejected++
		}
		sum, err := f.svc.ComputeLimits(context.Background(), "a@x.com")
		require.NoError(t, err)
		require.LessOrEqual(t, sum.UsedSlots, sum.BaseSlots+sum.AddonSlots)
	}
	assert.Positive(t, rejected)
	assert.Len(t, f.live(link.ID), 6)
}

func TestAddFree_PlanEligibility(t *testing.T) {
	f := newFixture(t)
	f.seedOwner(t, "trial@x.com", PlanTrial, "cus_t")

	_, err := f.svc.AddFree(context.Background(), "trial@x.com", []string{"b@x.com"})
	assert.ErrorIs(t, err, ErrPlanNotEligible)

	_, err = f.svc.AddFree(context.Background(), "nobody@x.com", []string{"b@x.com"})
	assert.ErrorIs(t, err, ErrPlanNotEligible)

	_, err = f.svc.AddFree(context.Background(), "trial@x.com", []string{"not-an-email"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.AddFree(context.Background(), "trial@x.com", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddFree_FollowsRenamedOwnerToOwningLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	identityID, err := f.store.CreateUser(ctx, "new@x.com")
	require.NoError(t, err)
	link := f.store.SeedOwnerLink(db.OwnerLink{IdentityID: identityID, Email: "old@x.com", Plan: string(PlanBusiness)})
	f.seedRecipients(t, link, db.ChannelInitial, "old@x.com", "new@x.com")

	_, err = f.svc.AddFree(ctx, "new@x.com", []string{"c@x.com"})
	require.NoError(t, err)
	assert.Len(t, f.live(link.ID), 3)

	sum, err := f.svc.ComputeLimits(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, PlanBusiness, sum.Plan)
	assert.Equal(t, 3, sum.UsedSlots)
}

func TestOwnerOperations_RejectRecipients(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (*fixture, db.OwnerLink) {
		f := newFixture(t)
		f.gw.addCustomer("cus_1", "a@x.com")
		f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1), f.gw.item("price_addon_biz_m", 1))
		link := f.seedOwner(t, "a@x.com", PlanBusiness, "cus_1")
		f.seedRecipients(t, link, db.ChannelInitial, "a@x.com", "b@x.com", "c@x.com")
		// b has an account of its own, which must not make it a's owner.
		_, err := f.store.CreateUser(ctx, "b@x.com")
		require.NoError(t, err)
		return f, link
	}

	tests := []struct {
		name string
		call func(f *fixture) error
		want error
	}{
		{"portal session", func(f *fixture) error {
			_, err := f.svc.CreatePortalSession(ctx, "b@x.com")
			return err
		}, ErrNotFound},
		{"remove recipients", func(f *fixture) error {
			_, err := f.svc.RemoveRecipients(ctx, "b@x.com", []string{"c@x.com"})
			return err
		}, ErrNotFound},
		{"change email", func(f *fixture) error {
			return f.svc.ChangeRecipientEmail(ctx, "b@x.com", "c@x.com", "z@x.com")
		}, ErrNotFound},
		{"list recipients", func(f *fixture) error {
			_, err := f.svc.ListRecipients(ctx, "b@x.com")
			return err
		}, ErrNotFound},
		{"add recipients", func(f *fixture) error {
			_, err := f.svc.AddFree(ctx, "b@x.com", []string{"z@x.com"})
			return err
		}, ErrPlanNotEligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, link := setup(t)
			assert.ErrorIs(t, tt.call(f), tt.want)
			assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, emailsOf(f.live(link.ID)))
			assert.Zero(t, f.gw.count("CreatePortalSession"))
		})
	}

	t.Run("purchase never reaches the owner's customer", func(t *testing.T) {
		f, link := setup(t)
		res, err := f.svc.PurchaseAddon(ctx, PurchaseAddonRequest{OwnerEmail: "b@x.com", Plan: PlanBusiness, Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, PurchaseCheckout, res.Mode)
		require.Len(t, f.gw.checkouts, 1)
		assert.Empty(t, f.gw.checkouts[0].CustomerID)
		assert.Equal(t, "b@x.com", f.gw.checkouts[0].CustomerEmail)
		assert.Zero(t, f.gw.count("UpdateSubscriptionItemQuantity"))
		assert.Len(t, f.live(link.ID), 3)
	})
}

func TestAddFree_NullPlanLinkIsResolvedLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.addCustomer("cus_1", "a@x.com")
	f.gw.addSubscription("cus_1", stripe.SubscriptionStatusActive, f.gw.item("price_biz_m", 1))
	link := f.seedOwner(t, "a@x.com", PlanNone, "cus_1")

	res, err := f.svc.AddFree(ctx, "a@x.com", []string{"b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemainingSlots)
	assert.Equal(t, string(PlanBusiness), f.store.OwnerLinks()[0].Plan)

	sum, err := f.svc.ComputeLimits(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, res.RemainingSlots, sum.RemainingSlots)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, emailsOf(f.live(link.ID)))
}

func TestAddFree_PendingRemovalIsAConflict(t *testing.T) {
	f := newFixture(t)
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "")
	f.seedRecipients(t, link, db.ChannelAddon, "b@x.com")
	require.NoError(t, f.store.SetPendingRemoval(context.Background(), link.ID, []int64{f.live(link.ID)[0].ID}, true))

	_, err := f.svc.AddFree(context.Background(), "a@x.com", []string{"b@x.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

// staleStore loses every version race.
type staleStore struct{ *db.MemoryStore }

func (staleStore) BumpOwnerLinkVersion(context.Context, int64, int64) (int64, error) {
	return 0, db.ErrVersionConflict
}

func TestAddFree_LostVersionRaceIsAConflict(t *testing.T) {
	f := newFixture(t)
	f.seedOwner(t, "a@x.com", PlanBusiness, "")
	svc := NewService(staleStore{f.store}, f.gw, testSettings())

	_, err := svc.AddFree(context.Background(), "a@x.com", []string{"b@x.com"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, f.store.Recipients())
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return nil, lock.ErrNotAcquired
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestAddFree_OwnerLock(t *testing.T) {
	held := newFixture(t, WithLocker(heldLocker{}))
	held.seedOwner(t, "a@x.com", PlanBusiness, "")
	_, err := held.svc.AddFree(context.Background(), "a@x.com", []string{"b@x.com"})
	assert.ErrorIs(t, err, ErrConflict)

	broken := newFixture(t, WithLocker(brokenLocker{}))
	broken.seedOwner(t, "a@x.com", PlanBusiness, "")
	_, err = broken.svc.AddFree(context.Background(), "a@x.com", []string{"b@x.com"})
	assert.NoError(t, err)
}

func TestListRecipients(t *testing.T) {
	f := newFixture(t)
	link := f.seedOwner(t, "a@x.com", PlanLite, "")
	f.seedRecipients(t, link, db.ChannelInitial, "a@x.com")
	f.seedRecipients(t, link, db.ChannelAddon, "b@x.com")

	list, err := f.svc.ListRecipients(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, PlanLite, list.Plan)
	require.Len(t, list.Recipients, 2)
	assert.True(t, list.Recipients[0].IsOwner)
	assert.Equal(t, db.ChannelAddon, list.Recipients[1].Channel)

	_, err = f.svc.ListRecipients(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChangeRecipientEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.seedOwner(t, "a@x.com", PlanBusiness, "")
	f.seedRecipients(t, link, db.ChannelInitial, "a@x.com", "b@x.com", "c@x.com")

	require.NoError(t, f.svc.ChangeRecipientEmail(ctx, "a@x.com", "b@x.com", " B2@x.com"))
	assert.ElementsMatch(t, []string{"a@x.com", "b2@x.com", "c@x.com"}, emailsOf(f.live(link.ID)))

	tests := []struct {
		name     string
		old, new string
		want     error
	}{
		{"invalid format", "c@x.com", "nope", ErrValidation},
		{"taken", "c@x.com", "b2@x.com", ErrDuplicateRecipient},
		{"owner as target", "c@x.com", "a@x.com", ErrDuplicateRecipient},
		{"owner as source", "a@x.com", "z@x.com", ErrOwnerRemoval},
		{"unknown source", "q@x.com", "z@x.com", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.svc.ChangeRecipientEmail(ctx, "a@x.com", tt.old, tt.new), tt.want)
		})
	}

	sum, err := f.svc.ComputeLimits(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.UsedSlots)
}
