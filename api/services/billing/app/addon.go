package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/services/billing/db"
	gw "github.com/newsalert/billing-portal/api/services/billing/gateway"
	"github.com/newsalert/billing-portal/api/services/billing/metrics"
)

const (
	minAddonQuantity       = 1
	maxAddonQuantity       = 10
	maxMetadataRecipients  = 20
	metadataPlan           = "plan"
	metadataOwnerEmail     = "owner_email"
	metadataAdditionalMail = "additional_emails"
	metadataKind           = "kind"
)

// addonMutation is a committed change to an add-on subscription item.
type addonMutation struct {
	customerID   string
	subscription stripe.Subscription
	mode         PurchaseMode
	quantity     int64
	productName  string
}

// PurchaseAddon buys quantity extra seats. Strategies run in order: direct
// item update on a known customer, direct update on a customer found by email
// with a saved payment method, static payment link, checkout session.
func (s *serviceImpl) PurchaseAddon(ctx context.Context, req PurchaseAddonRequest) (PurchaseAddonResult, error) {
	ownerEmail := normalizeEmail(req.OwnerEmail)
	if !validEmail(ownerEmail) {
		return PurchaseAddonResult{}, fmt.Errorf("%w: invalid owner email", ErrValidation)
	}
	if !req.Plan.CanAddRecipients() {
		return PurchaseAddonResult{}, fmt.Errorf("%w: add-ons are sold for lite and business plans only", ErrValidation)
	}
	qty := int64(min(max(req.Quantity, minAddonQuantity), maxAddonQuantity))
	additional, err := normalizeEmails(req.AdditionalEmails)
	if err != nil {
		return PurchaseAddonResult{}, err
	}
	if int64(len(additional)) > qty {
		return PurchaseAddonResult{}, fmt.Errorf("%w: %d additional emails exceed quantity %d", ErrValidation, len(additional), qty)
	}

	owner, err := s.resolveOwnerContext(ctx, ownerEmail, ownerLinksOnly)
	if err != nil {
		slog.WarnContext(ctx, "owner lookup failed, continuing as first-time buyer", "owner_email", ownerEmail, "err", err)
	}
	if owner.found && owner.plan() == PlanNone {
		owner = s.withLivePlan(ctx, ownerEmail, ownerLinksOnly, owner)
	}
	if owner.found {
		unlock, err := s.lockOwner(ctx, owner.link.ID)
		if err != nil {
			return PurchaseAddonResult{}, err
		}
		defer unlock()
		if err := s.checkNewRecipients(ctx, owner.link, additional); err != nil {
			return PurchaseAddonResult{}, err
		}
	}

	var mut *addonMutation
	if owner.found && owner.link.CustomerID != "" {
		mut, err = s.applyAddon(ctx, req.Plan, qty, owner.link.CustomerID, nil)
		if err != nil {
			slog.WarnContext(ctx, "direct add-on update failed, falling back", "customer_id", owner.link.CustomerID, "err", err)
		}
	} else {
		mut = s.applyAddonForNewBuyer(ctx, req.Plan, qty, ownerEmail)
	}
	if mut != nil {
		return s.finishAddon(ctx, ownerEmail, req.Plan, additional, *mut)
	}

	if link := s.settings.AddonPaymentLinks[req.Plan]; link != "" {
		return PurchaseAddonResult{Mode: PurchasePaymentLink, RedirectURL: link}, nil
	}
	return s.addonCheckout(ctx, ownerEmail, req.Plan, qty, additional, owner)
}

// applyAddonForNewBuyer searches customers by email and mutates the first one
// whose eligible subscription has a saved default payment method.
func (s *serviceImpl) applyAddonForNewBuyer(ctx context.Context, plan Plan, qty int64, email string) *addonMutation {
	customers, err := s.gw.SearchCustomersByEmail(ctx, email, s.settings.CustomerSearchLimit)
	if err != nil {
		slog.WarnContext(ctx, "customer search failed, falling back", "owner_email", email, "err", err)
		return nil
	}
	for i := range customers {
		mut, err := s.applyAddon(ctx, plan, qty, customers[i].ID, &customers[i])
		if err != nil {
			slog.WarnContext(ctx, "add-on update failed for candidate customer", "customer_id", customers[i].ID, "err", err)
			continue
		}
		if mut != nil {
			return mut
		}
	}
	return nil
}

// applyAddon increments an existing add-on item or creates one on the first
// eligible subscription. When requirePM is non-nil, only subscriptions with a
// default payment method (on the subscription or that customer) qualify.
// A nil mutation with nil error means no eligible subscription.
func (s *serviceImpl) applyAddon(ctx context.Context, plan Plan, qty int64, customerID string, requirePM *stripe.Customer) (*addonMutation, error) {
	subs, err := s.gw.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	var candidates []stripe.Subscription
	for _, sub := range subs {
		if !statusIn(sub.Status, s.settings.CheckoutStatuses) {
			continue
		}
		if requirePM != nil && !hasDefaultPaymentMethod(sub, *requirePM) {
			continue
		}
		candidates = append(candidates, sub)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if sub, item, ok := s.findAddonItem(ctx, plan, candidates); ok {
		before := item.Quantity
		updated, err := s.gw.UpdateSubscriptionItemQuantity(ctx, item.ID, before+qty)
		if err != nil {
			return nil, err
		}
		metrics.QuantityMutations.WithLabelValues("increment").Inc()
		slog.InfoContext(ctx, "add-on quantity updated",
			"customer_id", customerID, "subscription_id", sub.ID, "item_id", item.ID, "before", before, "after", updated.Quantity)
		name := s.itemProductName(ctx, item)
		return &addonMutation{customerID: customerID, subscription: sub, mode: PurchaseUpdated, quantity: updated.Quantity, productName: name}, nil
	}

	sub := candidates[0]
	priceID := s.catalog.AddonPriceID(plan, subscriptionInterval(sub))
	if priceID == "" {
		return nil, fmt.Errorf("no add-on price configured for %s/%s", plan, subscriptionInterval(sub))
	}
	created, err := s.gw.CreateSubscriptionItem(ctx, sub.ID, priceID, qty)
	if err != nil {
		return nil, err
	}
	metrics.QuantityMutations.WithLabelValues("create").Inc()
	slog.InfoContext(ctx, "add-on item created",
		"customer_id", customerID, "subscription_id", sub.ID, "item_id", created.ID, "before", 0, "after", created.Quantity)
	name := s.itemProductName(ctx, &created)
	return &addonMutation{customerID: customerID, subscription: sub, mode: PurchaseCreated, quantity: created.Quantity, productName: name}, nil
}

func hasDefaultPaymentMethod(sub stripe.Subscription, c stripe.Customer) bool {
	if sub.DefaultPaymentMethod != nil && sub.DefaultPaymentMethod.ID != "" {
		return true
	}
	return c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil && c.InvoiceSettings.DefaultPaymentMethod.ID != ""
}

func subscriptionInterval(sub stripe.Subscription) Interval {
	if it := firstItem(sub); it != nil && it.Price != nil && it.Price.Recurring != nil &&
		it.Price.Recurring.Interval == stripe.PriceRecurringIntervalYear {
		return IntervalYear
	}
	return IntervalMonth
}

// findAddonItem searches subscriptions in processor order in three passes:
// add-on product id, add-on price id, then product metadata marker. The
// first hit wins so concurrent callers converge on the same item.
func (s *serviceImpl) findAddonItem(ctx context.Context, plan Plan, subs []stripe.Subscription) (stripe.Subscription, *stripe.SubscriptionItem, bool) {
	products, prices := s.catalog.AddonProductIDs(plan), s.catalog.AddonPriceIDs(plan)
	passes := []func(*stripe.SubscriptionItem) bool{
		func(it *stripe.SubscriptionItem) bool {
			id, _ := itemProduct(it)
			return id != "" && slices.Contains(products, id)
		},
		func(it *stripe.SubscriptionItem) bool {
			return it.Price != nil && slices.Contains(prices, it.Price.ID)
		},
		func(it *stripe.SubscriptionItem) bool { return s.hasAddonMarker(ctx, it) },
	}
	for _, match := range passes {
		for _, sub := range subs {
			if sub.Items == nil {
				continue
			}
			for _, it := range sub.Items.Data {
				if it != nil && match(it) {
					return sub, it, true
				}
			}
		}
	}
	return stripe.Subscription{}, nil, false
}

func (s *serviceImpl) hasAddonMarker(ctx context.Context, it *stripe.SubscriptionItem) bool {
	id, _ := itemProduct(it)
	if id == "" {
		return false
	}
	meta := it.Price.Product.Metadata
	if meta == nil {
		p, err := s.gw.GetProduct(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "product lookup for add-on marker failed", "product_id", id, "err", err)
			return false
		}
		meta = p.Metadata
	}
	v := meta[s.settings.AddonMetadataKey]
	return v == "true" || v == "1" || v == "yes"
}

func (s *serviceImpl) itemProductName(ctx context.Context, it *stripe.SubscriptionItem) string {
	id, name := itemProduct(it)
	if name != "" || id == "" {
		return name
	}
	return enrich(func() (string, error) {
		p, err := s.gw.GetProduct(ctx, id)
		return p.Name, err
	}).OrZero(ctx, "addon_product_name")
}

// finishAddon persists the link and roster after a committed item mutation.
// No checkout webhook follows a direct mutation, so this is the only write.
func (s *serviceImpl) finishAddon(ctx context.Context, ownerEmail string, plan Plan, additional []string, mut addonMutation) (PurchaseAddonResult, error) {
	res := PurchaseAddonResult{Mode: mut.mode, Quantity: mut.quantity, ProductName: mut.productName}

	inconsistent := func(err error) (PurchaseAddonResult, error) {
		metrics.Inconsistencies.WithLabelValues("purchase_addon").Inc()
		slog.ErrorContext(ctx, "add-on billed but local roster not updated",
			"category", "inconsistency", "owner_email", ownerEmail, "customer_id", mut.customerID,
			"subscription_id", mut.subscription.ID, "quantity", mut.quantity, "err", err)
		return PurchaseAddonResult{}, fmt.Errorf("%w: could not save changes, please retry: %v", ErrDatabase, err)
	}

	identityID, err := s.ensureIdentity(ctx, ownerEmail)
	if err != nil {
		return inconsistent(err)
	}
	up := db.OwnerLinkUpsert{
		IdentityID:     identityID,
		Email:          ownerEmail,
		CustomerID:     mut.customerID,
		SubscriptionID: mut.subscription.ID,
	}
	if inferred, _ := s.inferPlan(ctx, mut.subscription); inferred != PlanNone {
		up.Plan, up.SetPlan = string(inferred), true
	}
	link, err := s.store.UpsertOwnerLink(ctx, up)
	if err != nil {
		return inconsistent(err)
	}
	if _, err := s.store.InsertRecipients(ctx, []db.NewRecipient{
		{OwnerLinkID: link.ID, Email: ownerEmail, Plan: link.Plan, Channel: db.ChannelInitial},
	}); err != nil {
		return inconsistent(err)
	}
	var rows []db.NewRecipient
	for _, e := range additional {
		if e != ownerEmail {
			rows = append(rows, db.NewRecipient{OwnerLinkID: link.ID, Email: e, Plan: string(plan), Channel: db.ChannelAddon})
		}
	}
	if len(rows) > 0 {
		n, err := s.store.InsertRecipients(ctx, rows)
		if err != nil {
			return inconsistent(err)
		}
		if int(n) < len(rows) {
			slog.WarnContext(ctx, "some add-on recipients already existed", "owner_email", ownerEmail, "requested", len(rows), "inserted", n)
		}
		res.AddedRecipients = int(n)
	}

	res.PortalURL = enrich(func() (string, error) {
		return s.gw.CreatePortalSession(ctx, mut.customerID, s.settings.PortalReturnURL)
	}).OrZero(ctx, "portal_url")
	return res, nil
}

// checkNewRecipients rejects additional emails already on the owner's roster
// so no seat is billed for an existing recipient.
func (s *serviceImpl) checkNewRecipients(ctx context.Context, link db.OwnerLink, additional []string) error {
	if len(additional) == 0 {
		return nil
	}
	roster, err := s.store.RecipientsByLink(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("%w: load recipients: %v", ErrDatabase, err)
	}
	for _, e := range additional {
		idx := slices.IndexFunc(roster, func(r db.Recipient) bool { return r.Email == e })
		switch {
		case e == link.Email:
			return fmt.Errorf("%w: %s is the owner email", ErrDuplicateRecipient, e)
		case idx < 0:
			continue
		case roster[idx].PendingRemoval:
			return fmt.Errorf("%w: %s is pending removal", ErrConflict, e)
		default:
			return fmt.Errorf("%w: %s", ErrDuplicateRecipient, e)
		}
	}
	return nil
}

// addonCheckout is the last resort: a hosted checkout with adjustable
// quantity whose metadata the webhook consumes later.
func (s *serviceImpl) addonCheckout(ctx context.Context, ownerEmail string, plan Plan, qty int64, additional []string, owner ownerContext) (PurchaseAddonResult, error) {
	priceID := s.catalog.AddonPriceID(plan, IntervalMonth)
	if priceID == "" {
		return PurchaseAddonResult{}, fmt.Errorf("%w: no add-on price configured for %s", ErrGateway, plan)
	}
	recurring := true
	if price, err := s.gw.GetPrice(ctx, priceID); err != nil {
		slog.WarnContext(ctx, "add-on price lookup failed, assuming recurring", "price_id", priceID, "err", err)
	} else {
		recurring = price.Type == stripe.PriceTypeRecurring
	}

	capped := additional[:min(len(additional), maxMetadataRecipients)]
	encoded, err := json.Marshal(capped)
	if err != nil {
		return PurchaseAddonResult{}, fmt.Errorf("%w: encode metadata: %v", ErrValidation, err)
	}
	req := gw.CheckoutRequest{
		PriceID:     priceID,
		Recurring:   recurring,
		Quantity:    qty,
		MinQuantity: minAddonQuantity,
		MaxQuantity: maxAddonQuantity,
		SuccessURL:  s.settings.CheckoutSuccessURL,
		CancelURL:   s.settings.CheckoutCancelURL,
		Metadata: map[string]string{
			metadataKind:           "addon",
			metadataPlan:           string(plan),
			metadataOwnerEmail:     ownerEmail,
			metadataAdditionalMail: string(encoded),
		},
	}
	if owner.found && owner.link.CustomerID != "" {
		req.CustomerID = owner.link.CustomerID
	} else {
		req.CustomerEmail = ownerEmail
	}
	sess, err := s.gw.CreateCheckoutSession(ctx, req)
	if err != nil {
		return PurchaseAddonResult{}, fmt.Errorf("%w: create checkout session: %v", ErrGateway, err)
	}
	return PurchaseAddonResult{Mode: PurchaseCheckout, RedirectURL: sess.URL, Quantity: qty}, nil
}
