package app

import (
	"context"
	"fmt"

	gw "github.com/newsalert/billing-portal/api/services/billing/gateway"
)

// CreatePortalSession returns a hosted billing-portal URL for the owner's customer.
func (s *serviceImpl) CreatePortalSession(ctx context.Context, ownerEmail string) (string, error) {
	ownerEmail = normalizeEmail(ownerEmail)
	owner, err := s.resolveOwnerContext(ctx, ownerEmail, ownerLinksOnly)
	if err != nil {
		return "", err
	}
	if !owner.found || owner.link.CustomerID == "" {
		return "", fmt.Errorf("%w: no billing customer linked to %s", ErrNotFound, ownerEmail)
	}
	url, err := s.gw.CreatePortalSession(ctx, owner.link.CustomerID, s.settings.PortalReturnURL)
	if err != nil {
		return "", fmt.Errorf("%w: create portal session: %v", ErrGateway, err)
	}
	return url, nil
}

// CreateCheckout starts a hosted subscription checkout for a base plan.
// Local state is written later by the checkout.session.completed webhook.
func (s *serviceImpl) CreateCheckout(ctx context.Context, email string, plan Plan, interval Interval) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if !plan.CanAddRecipients() {
		return "", fmt.Errorf("%w: plan must be lite or business", ErrValidation)
	}
	if interval == "" {
		interval = IntervalMonth
	}
	priceID := s.catalog.BasePriceID(plan, interval)
	if priceID == "" {
		return "", fmt.Errorf("%w: no %s price configured for %s", ErrValidation, interval, plan)
	}

	req := gw.CheckoutRequest{
		PriceID:    priceID,
		Recurring:  true,
		Quantity:   1,
		SuccessURL: s.settings.CheckoutSuccessURL,
		CancelURL:  s.settings.CheckoutCancelURL,
		Metadata: map[string]string{
			metadataKind:       "plan",
			metadataPlan:       string(plan),
			metadataOwnerEmail: email,
		},
	}
	owner, err := s.resolveOwnerContext(ctx, email, ownerLinksOnly)
	if err == nil && owner.found && owner.link.CustomerID != "" && owner.link.Email == email {
		req.CustomerID = owner.link.CustomerID
	} else {
		req.CustomerEmail = email
	}
	sess, err := s.gw.CreateCheckoutSession(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: create checkout session: %v", ErrGateway, err)
	}
	return sess.URL, nil
}
