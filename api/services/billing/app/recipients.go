package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/newsalert/billing-portal/api/services/billing/db"
)

// AddFree adds recipients into already-purchased capacity. It never calls
// the payment processor for mutations.
func (s *serviceImpl) AddFree(ctx context.Context, ownerEmail string, emails []string) (AddRecipientsResult, error) {
	ownerEmail = normalizeEmail(ownerEmail)
	requested, err := normalizeEmails(emails)
	if err != nil {
		return AddRecipientsResult{}, err
	}
	if len(requested) == 0 {
		return AddRecipientsResult{}, fmt.Errorf("%w: at least one email is required", ErrValidation)
	}

	owner, err := s.resolveOwnerWithPlan(ctx, ownerEmail, followRenamedOwner)
	if err != nil {
		return AddRecipientsResult{}, err
	}
	if !owner.found || !owner.plan().CanAddRecipients() {
		return AddRecipientsResult{}, fmt.Errorf("%w: an active lite or business plan is required", ErrPlanNotEligible)
	}
	link, plan := owner.link, owner.plan()

	unlock, err := s.lockOwner(ctx, link.ID)
	if err != nil {
		return AddRecipientsResult{}, err
	}
	defer unlock()

	base := s.catalog.BasePlanSlots(ctx, plan)
	addon, err := s.addonSlots(ctx, plan, link.CustomerID)
	if err != nil {
		slog.WarnContext(ctx, "add-on slot lookup failed, counting 0", "customer_id", link.CustomerID, "err", err)
		addon = 0
	}
	roster, err := s.store.RecipientsByLink(ctx, link.ID)
	if err != nil {
		return AddRecipientsResult{}, fmt.Errorf("%w: load recipients: %v", ErrDatabase, err)
	}

	used := EffectiveUsedSlots(plan, roster, link.Email)
	addonUsed := 0
	for _, r := range roster {
		if !r.PendingRemoval && r.Channel == db.ChannelAddon {
			addonUsed++
		}
	}
	initialUsed := used - addonUsed
	remaining := max(0, base+addon-used)
	if len(requested) > remaining {
		return AddRecipientsResult{}, &SlotLimitError{Remaining: remaining, Requested: len(requested)}
	}

	for _, e := range requested {
		if e == link.Email {
			return AddRecipientsResult{}, fmt.Errorf("%w: %s is the owner email", ErrDuplicateRecipient, e)
		}
		idx := slices.IndexFunc(roster, func(r db.Recipient) bool { return r.Email == e })
		if idx < 0 {
			continue
		}
		if roster[idx].PendingRemoval {
			return AddRecipientsResult{}, fmt.Errorf("%w: %s is pending removal", ErrConflict, e)
		}
		return AddRecipientsResult{}, fmt.Errorf("%w: %s", ErrDuplicateRecipient, e)
	}

	addonFree := max(0, addon-addonUsed)
	rows := make([]db.NewRecipient, 0, len(requested))
	added := make([]AddedRecipient, 0, len(requested))
	newInitial := 0
	for i, e := range requested {
		ch := db.ChannelInitial
		if i < addonFree {
			ch = db.ChannelAddon
		} else {
			newInitial++
		}
		rows = append(rows, db.NewRecipient{OwnerLinkID: link.ID, Email: e, Plan: string(plan), Channel: ch})
		added = append(added, AddedRecipient{Email: e, Channel: ch})
	}
	if initialUsed+newInitial > base {
		slog.ErrorContext(ctx, "base allotment would be oversubscribed",
			"owner_email", link.Email, "initial_used", initialUsed, "new_initial", newInitial, "base_slots", base)
		return AddRecipientsResult{}, &SlotLimitError{Remaining: max(0, base-initialUsed) + addonFree, Requested: len(requested)}
	}

	if err := s.claimVersion(ctx, link); err != nil {
		return AddRecipientsResult{}, err
	}
	if _, err := s.store.InsertRecipients(ctx, rows); err != nil {
		return AddRecipientsResult{}, fmt.Errorf("%w: insert recipients: %v", ErrDatabase, err)
	}
	slog.InfoContext(ctx, "recipients added", "owner_email", link.Email, "count", len(rows), "addon_filled", min(addonFree, len(rows)))
	return AddRecipientsResult{Added: added, RemainingSlots: remaining - len(rows)}, nil
}

func (s *serviceImpl) ListRecipients(ctx context.Context, ownerEmail string) (RecipientList, error) {
	ownerEmail = normalizeEmail(ownerEmail)
	owner, err := s.resolveOwnerContext(ctx, ownerEmail, ownerLinksOnly)
	if err != nil {
		return RecipientList{}, err
	}
	if !owner.found {
		return RecipientList{}, fmt.Errorf("%w: no subscription linked to %s", ErrNotFound, ownerEmail)
	}
	rows, err := s.store.RecipientsByLink(ctx, owner.link.ID)
	if err != nil {
		return RecipientList{}, fmt.Errorf("%w: load recipients: %v", ErrDatabase, err)
	}
	out := RecipientList{OwnerEmail: owner.link.Email, Plan: owner.plan(), Recipients: make([]RecipientView, 0, len(rows))}
	for _, r := range rows {
		out.Recipients = append(out.Recipients, RecipientView{
			Email:          r.Email,
			Channel:        r.Channel,
			PendingRemoval: r.PendingRemoval,
			IsOwner:        r.Email == owner.link.Email,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

// ChangeRecipientEmail swaps one live recipient's address. Slot counts and
// add-on quantities are untouched.
func (s *serviceImpl) ChangeRecipientEmail(ctx context.Context, ownerEmail, oldEmail, newEmail string) error {
	ownerEmail, oldEmail, newEmail = normalizeEmail(ownerEmail), normalizeEmail(oldEmail), normalizeEmail(newEmail)
	if !validEmail(newEmail) {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, newEmail)
	}
	if oldEmail == newEmail {
		return nil
	}

	owner, err := s.resolveOwnerContext(ctx, ownerEmail, ownerLinksOnly)
	if err != nil {
		return err
	}
	if !owner.found {
		return fmt.Errorf("%w: no subscription linked to %s", ErrNotFound, ownerEmail)
	}
	link := owner.link
	if oldEmail == link.Email {
		return ErrOwnerRemoval
	}
	if newEmail == link.Email {
		return fmt.Errorf("%w: %s is the owner email", ErrDuplicateRecipient, newEmail)
	}

	roster, err := s.store.RecipientsByLink(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("%w: load recipients: %v", ErrDatabase, err)
	}
	var target *db.Recipient
	for i, r := range roster {
		if r.Email == newEmail {
			return fmt.Errorf("%w: %s", ErrDuplicateRecipient, newEmail)
		}
		if r.Email == oldEmail && !r.PendingRemoval {
			target = &roster[i]
		}
	}
	if target == nil {
		return fmt.Errorf("%w: recipient %s", ErrNotFound, oldEmail)
	}

	err = s.store.UpdateRecipientEmail(ctx, link.ID, target.ID, newEmail)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		return fmt.Errorf("%w: %s", ErrDuplicateRecipient, newEmail)
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%w: recipient %s", ErrNotFound, oldEmail)
	case err != nil:
		return fmt.Errorf("%w: update recipient email: %v", ErrDatabase, err)
	}
	slog.InfoContext(ctx, "recipient email changed", "owner_email", link.Email, "from", oldEmail, "to", newEmail)
	return nil
}
