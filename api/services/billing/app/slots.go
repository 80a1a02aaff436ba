package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/newsalert/billing-portal/api/services/billing/db"
)

// EffectiveUsedSlots counts non-pending recipients, plus one implicit slot for
// the owner when a plan is set and the owner is not already a live recipient.
// Read and write paths both use it.
func EffectiveUsedSlots(plan Plan, recipients []db.Recipient, ownerEmail string) int {
	used, ownerPresent := 0, false
	for _, r := range recipients {
		if r.PendingRemoval {
			continue
		}
		used++
		if r.Email == ownerEmail {
			ownerPresent = true
		}
	}
	if plan != PlanNone && !ownerPresent {
		used++
	}
	return used
}

// ComputeLimits is best-effort: processor failures degrade add-on slots to 0
// and roster failures degrade used slots to 0, both logged.
func (s *serviceImpl) ComputeLimits(ctx context.Context, email string) (SlotSummary, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return SlotSummary{}, fmt.Errorf("%w: invalid email", ErrValidation)
	}

	owner, err := s.resolveOwnerWithPlan(ctx, email, followRenamedOwner)
	if err != nil {
		slog.WarnContext(ctx, "owner lookup failed for slot accounting", "email", email, "err", err)
	}
	if !owner.found {
		return SlotSummary{OwnerEmail: email, Plan: PlanNone}, nil
	}

	plan := owner.plan()
	sum := SlotSummary{OwnerEmail: owner.link.Email, Plan: plan, BaseSlots: s.catalog.BasePlanSlots(ctx, plan)}

	addon, err := s.addonSlots(ctx, plan, owner.link.CustomerID)
	if err != nil {
		slog.WarnContext(ctx, "add-on slot lookup failed, counting 0", "customer_id", owner.link.CustomerID, "err", err)
		addon = 0
	}
	sum.AddonSlots = addon

	recipients, err := s.store.RecipientsByLink(ctx, owner.link.ID)
	if err != nil {
		slog.WarnContext(ctx, "roster lookup failed, counting 0 used", "owner_link_id", owner.link.ID, "err", err)
	} else {
		sum.UsedSlots = EffectiveUsedSlots(plan, recipients, owner.link.Email)
	}
	sum.RemainingSlots = max(0, sum.BaseSlots+sum.AddonSlots-sum.UsedSlots)
	return sum, nil
}

// addonSlots sums add-on item quantities over the customer's subscriptions
// in the accounting status set.
func (s *serviceImpl) addonSlots(ctx context.Context, plan Plan, customerID string) (int, error) {
	if customerID == "" || !plan.CanAddRecipients() {
		return 0, nil
	}
	subs, err := s.gw.ListSubscriptions(ctx, customerID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sub := range subs {
		if !statusIn(sub.Status, s.settings.AccountingStatuses) || sub.Items == nil {
			continue
		}
		for _, item := range sub.Items.Data {
			if s.catalog.IsAddonItem(plan, item) {
				total += int(item.Quantity)
			}
		}
	}
	return total, nil
}
