package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/config"
	"github.com/newsalert/billing-portal/api/services/billing/db"
	gw "github.com/newsalert/billing-portal/api/services/billing/gateway"
	"github.com/newsalert/billing-portal/api/services/billing/mail"
	"github.com/newsalert/billing-portal/api/services/billing/metrics"
)

// RequestTrial stores a single-use activation token and delivers the link.
func (s *serviceImpl) RequestTrial(ctx context.Context, email, productID string) (TrialRequestResult, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return TrialRequestResult{}, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	allowed := s.settings.TrialProductIDs
	if productID == "" && len(allowed) == 1 {
		productID = allowed[0]
	}
	if productID == "" {
		return TrialRequestResult{}, fmt.Errorf("%w: product_id is required", ErrValidation)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, productID) {
		return TrialRequestResult{}, fmt.Errorf("%w: product %s is not eligible for a trial", ErrValidation, productID)
	}

	tr := db.TrialRequest{
		Token:     uuid.NewString(),
		Email:     email,
		ProductID: productID,
		Status:    string(TrialRequested),
		ExpiresAt: s.now().Add(s.settings.TrialTokenTTL),
	}
	if err := s.store.InsertTrialRequest(ctx, tr); err != nil {
		return TrialRequestResult{}, fmt.Errorf("%w: insert trial request: %v", ErrDatabase, err)
	}
	link := s.settings.AppBaseURL + "/api/trial/activate?token=" + url.QueryEscape(tr.Token)
	res := TrialRequestResult{Delivery: TrialDeliveryReturn, ActivationURL: link, ExpiresAt: tr.ExpiresAt}

	if s.settings.TrialDelivery == TrialDeliveryEmail {
		intro := "Start your free trial by opening this link within " + validityText(s.settings.TrialTokenTTL) + ":"
		err := s.mailer.Send(ctx, mail.Message{
			To:      email,
			Subject: "Activate your " + config.ProductName + " trial",
			Text:    intro + "\n\n" + link + "\n",
			HTML:    `<p>` + intro + `</p><p><a href="` + link + `">Activate trial</a></p>`,
			Tag:     "trial-activation",
		})
		if err != nil {
			slog.WarnContext(ctx, "trial link email failed, returning link instead", "email", email, "err", err)
			return res, nil
		}
		res.Delivery, res.ActivationURL = TrialDeliveryEmail, ""
	}
	slog.InfoContext(ctx, "trial requested", "email", email, "product_id", productID, "delivery", res.Delivery)
	return res, nil
}

// ActivateTrial converts a requested trial into a processor trial
// subscription exactly once. Repeated or late clicks are side-effect free.
func (s *serviceImpl) ActivateTrial(ctx context.Context, token string) TrialOutcome {
	outcome, err := s.activateTrial(ctx, token)
	metrics.TrialActivations.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		slog.ErrorContext(ctx, "trial activation failed", "outcome", outcome, "err", err)
	} else {
		slog.InfoContext(ctx, "trial activation", "outcome", outcome)
	}
	return outcome
}

func (s *serviceImpl) activateTrial(ctx context.Context, token string) (TrialOutcome, error) {
	if token == "" {
		return TrialOutcomeInvalid, nil
	}
	tr, err := s.store.TrialRequestByToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return TrialOutcomeInvalid, nil
	}
	if err != nil {
		return TrialOutcomeError, err
	}

	status := TrialStatus(tr.Status)
	if trialExpired(tr, s.now()) {
		if status == TrialRequested {
			if _, err := s.transitionTrial(ctx, token, TrialRequested, TrialExpired, "", ""); err != nil {
				slog.WarnContext(ctx, "could not mark trial expired", "err", err)
			}
		}
		return TrialOutcomeExpired, nil
	}
	if status != TrialRequested {
		return TrialOutcomeAlready, nil
	}
	won, err := s.transitionTrial(ctx, token, TrialRequested, TrialActivated, "", "")
	if err != nil {
		return TrialOutcomeError, err
	}
	if !won {
		return TrialOutcomeAlready, nil
	}

	customer, err := s.trialCustomer(ctx, tr.Email)
	if err != nil {
		return TrialOutcomeError, err
	}
	prices, err := s.gw.ListActiveRecurringPrices(ctx, tr.ProductID)
	if err != nil {
		return TrialOutcomeError, fmt.Errorf("%w: list prices: %v", ErrGateway, err)
	}
	price, ok := pickTrialPrice(prices)
	if !ok {
		return TrialOutcomePriceMissing, nil
	}
	sub, err := s.gw.CreateTrialSubscription(ctx, gw.TrialSubscriptionRequest{
		CustomerID: customer,
		PriceID:    price.ID,
		TrialDays:  s.settings.TrialDays,
		Metadata:   map[string]string{"trial_token": token, metadataOwnerEmail: tr.Email},
	})
	if err != nil {
		return TrialOutcomeError, fmt.Errorf("%w: create trial subscription: %v", ErrGateway, err)
	}

	if _, err := s.transitionTrial(ctx, token, TrialActivated, TrialConsumed, customer, sub.ID); err != nil {
		metrics.Inconsistencies.WithLabelValues("activate_trial").Inc()
		slog.ErrorContext(ctx, "trial subscription created but request not marked consumed",
			"category", "inconsistency", "email", tr.Email, "subscription_id", sub.ID, "err", err)
	}
	if err := s.linkTrialOwner(ctx, tr.Email, customer, sub.ID); err != nil {
		metrics.Inconsistencies.WithLabelValues("activate_trial").Inc()
		slog.ErrorContext(ctx, "trial subscription created but owner link not stored",
			"category", "inconsistency", "email", tr.Email, "subscription_id", sub.ID, "err", err)
	}
	return TrialOutcomeSuccess, nil
}

func (s *serviceImpl) trialCustomer(ctx context.Context, email string) (string, error) {
	found, err := s.gw.SearchCustomersByEmail(ctx, email, 1)
	if err != nil {
		return "", fmt.Errorf("%w: search customers: %v", ErrGateway, err)
	}
	if len(found) > 0 {
		return found[0].ID, nil
	}
	c, err := s.gw.CreateCustomer(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrGateway, err)
	}
	return c.ID, nil
}

// validityText renders a token lifetime for mail copy: whole days, whole
// hours, else minutes.
func validityText(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= 48*time.Hour && d%(24*time.Hour) == 0:
		return plural(int64(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	default:
		return plural(max(1, int64(d/time.Minute)), "minute")
	}
}

// pickTrialPrice prefers a monthly price, else the first one listed.
func pickTrialPrice(prices []stripe.Price) (stripe.Price, bool) {
	for _, p := range prices {
		if p.Recurring != nil && p.Recurring.Interval == stripe.PriceRecurringIntervalMonth {
			return p, true
		}
	}
	if len(prices) > 0 {
		return prices[0], true
	}
	return stripe.Price{}, false
}

// linkTrialOwner records the new customer so the subscription-created webhook,
// keyed by customer id, finds a link to update. The plan stays unset.
func (s *serviceImpl) linkTrialOwner(ctx context.Context, email, customerID, subscriptionID string) error {
	identityID, err := s.ensureIdentity(ctx, email)
	if err != nil {
		return err
	}
	_, err = s.store.UpsertOwnerLink(ctx, db.OwnerLinkUpsert{
		IdentityID:     identityID,
		Email:          email,
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
	})
	return err
}
