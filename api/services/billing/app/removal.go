package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/services/billing/db"
	"github.com/newsalert/billing-portal/api/services/billing/metrics"
)

// RemoveRecipients deletes initial-channel rows locally and reduces the paid
// add-on quantity for addon-channel rows. Add-on rows are flagged pending
// before the processor call. No row is deleted until billing succeeded, so a
// billing failure leaves the roster as it was apart from the pending flags.
func (s *serviceImpl) RemoveRecipients(ctx context.Context, ownerEmail string, emails []string) (RemoveRecipientsResult, error) {
	ownerEmail = normalizeEmail(ownerEmail)
	targets, err := normalizeEmails(emails)
	if err != nil {
		return RemoveRecipientsResult{}, err
	}
	if len(targets) == 0 {
		return RemoveRecipientsResult{}, fmt.Errorf("%w: at least one email is required", ErrValidation)
	}

	owner, err := s.resolveOwnerWithPlan(ctx, ownerEmail, ownerLinksOnly)
	if err != nil {
		return RemoveRecipientsResult{}, err
	}
	if !owner.found {
		return RemoveRecipientsResult{}, fmt.Errorf("%w: no subscription linked to %s", ErrNotFound, ownerEmail)
	}
	link, plan := owner.link, owner.plan()
	if slices.Contains(targets, link.Email) {
		return RemoveRecipientsResult{}, ErrOwnerRemoval
	}

	unlock, err := s.lockOwner(ctx, link.ID)
	if err != nil {
		return RemoveRecipientsResult{}, err
	}
	defer unlock()

	roster, err := s.store.RecipientsByLink(ctx, link.ID)
	if err != nil {
		return RemoveRecipientsResult{}, fmt.Errorf("%w: load recipients: %v", ErrDatabase, err)
	}
	var initialIDs, addonIDs []int64
	// Rows already pending from an earlier failed attempt are still billed, so
	// they count toward the add-on total that decides whether the item goes.
	addonTotal := 0
	for _, r := range roster {
		if r.Channel == db.ChannelAddon {
			addonTotal++
		}
		if !slices.Contains(targets, r.Email) {
			continue
		}
		if r.Channel == db.ChannelAddon {
			addonIDs = append(addonIDs, r.ID)
		} else {
			initialIDs = append(initialIDs, r.ID)
		}
	}
	if found := len(initialIDs) + len(addonIDs); found < len(targets) {
		return RemoveRecipientsResult{}, fmt.Errorf("%w: %d of %d recipients are not on this account", ErrNotFound, len(targets)-found, len(targets))
	}

	if err := s.claimVersion(ctx, link); err != nil {
		return RemoveRecipientsResult{}, err
	}

	res := RemoveRecipientsResult{AddonOutcome: AddonOutcomeNone}
	if len(addonIDs) > 0 {
		if err := s.store.SetPendingRemoval(ctx, link.ID, addonIDs, true); err != nil {
			return RemoveRecipientsResult{}, fmt.Errorf("%w: flag recipients for removal: %v", ErrDatabase, err)
		}
		outcome, qty, err := s.reduceAddon(ctx, plan, link.CustomerID, int64(len(addonIDs)), len(addonIDs) == addonTotal)
		if link.CustomerID != "" {
			res.PortalURL = enrich(func() (string, error) {
				return s.gw.CreatePortalSession(ctx, link.CustomerID, s.settings.PortalReturnURL)
			}).OrZero(ctx, "portal_url")
		}
		if err != nil {
			slog.ErrorContext(ctx, "add-on quantity reduction failed, recipients left pending removal",
				"owner_email", link.Email, "customer_id", link.CustomerID, "count", len(addonIDs), "err", err)
			res.AddonOutcome = AddonOutcomeBillingUpdateFailed
			return res, nil
		}
		res.AddonOutcome, res.NewQuantity = outcome, qty
	}

	ids := append(slices.Clone(initialIDs), addonIDs...)
	n, err := s.store.DeleteRecipients(ctx, link.ID, ids)
	if err != nil {
		if res.AddonOutcome != AddonOutcomeNone {
			metrics.Inconsistencies.WithLabelValues("remove_recipients").Inc()
			slog.ErrorContext(ctx, "add-on quantity reduced but recipients not deleted",
				"category", "inconsistency", "owner_email", link.Email, "customer_id", link.CustomerID, "new_quantity", res.NewQuantity, "err", err)
		}
		return RemoveRecipientsResult{}, fmt.Errorf("%w: could not save changes, please retry: %v", ErrDatabase, err)
	}
	res.RemovedInitial = min(len(initialIDs), int(n))
	res.RemovedAddon = int(n) - res.RemovedInitial
	return res, nil
}

// reduceAddon lowers the add-on item quantity by n. Removing every add-on
// recipient deletes the item, or cancels the subscription when the item is
// its only line.
func (s *serviceImpl) reduceAddon(ctx context.Context, plan Plan, customerID string, n int64, all bool) (AddonOutcome, int64, error) {
	if customerID == "" {
		return AddonOutcomeNone, 0, nil
	}
	subs, err := s.gw.ListSubscriptions(ctx, customerID)
	if err != nil {
		return "", 0, err
	}
	var candidates []stripe.Subscription
	for _, sub := range subs {
		if statusIn(sub.Status, s.settings.AccountingStatuses) {
			candidates = append(candidates, sub)
		}
	}
	sub, item, ok := s.findAddonItem(ctx, plan, candidates)
	if !ok {
		slog.WarnContext(ctx, "no add-on item found to reduce", "customer_id", customerID)
		return AddonOutcomeNone, 0, nil
	}

	before := item.Quantity
	if all || before-n <= 0 {
		if len(sub.Items.Data) == 1 {
			if err := s.gw.CancelSubscription(ctx, sub.ID); err != nil {
				return "", 0, err
			}
			metrics.QuantityMutations.WithLabelValues("cancel").Inc()
		} else {
			if err := s.gw.DeleteSubscriptionItem(ctx, item.ID); err != nil {
				return "", 0, err
			}
			metrics.QuantityMutations.WithLabelValues("delete").Inc()
		}
		slog.InfoContext(ctx, "add-on removed", "customer_id", customerID, "subscription_id", sub.ID, "item_id", item.ID, "before", before, "after", 0)
		return AddonOutcomeSubscriptionCanceled, 0, nil
	}

	updated, err := s.gw.UpdateSubscriptionItemQuantity(ctx, item.ID, before-n)
	if err != nil {
		return "", 0, err
	}
	metrics.QuantityMutations.WithLabelValues("decrement").Inc()
	slog.InfoContext(ctx, "add-on quantity updated", "customer_id", customerID, "subscription_id", sub.ID, "item_id", item.ID, "before", before, "after", updated.Quantity)
	return AddonOutcomeQuantityUpdated, updated.Quantity, nil
}
