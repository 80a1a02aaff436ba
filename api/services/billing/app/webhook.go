package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/services/billing/db"
	"github.com/newsalert/billing-portal/api/services/billing/metrics"
)

// HandleWebhook verifies and applies one processor event. Handlers only set
// absolute state, so redelivery converges to the same rows.
func (s *serviceImpl) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := s.gw.ConstructEvent(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		return WebhookResult{}, fmt.Errorf("%w: signature verification failed: %v", ErrBadEvent, err)
	}
	res := WebhookResult{EventID: event.ID, Type: string(event.Type)}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		res.Outcome, err = s.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		res.Outcome, err = s.handleSubscriptionChange(ctx, event)
	default:
		res.Outcome = "ignored"
	}
	if err != nil {
		res.Outcome = "error"
	}
	metrics.WebhookEvents.WithLabelValues(res.Type, res.Outcome).Inc()
	slog.InfoContext(ctx, "webhook processed", "event_id", event.ID, "type", event.Type, "outcome", res.Outcome, "err", err)
	return res, err
}

func checkoutEmail(sess stripe.CheckoutSession) string {
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		return sess.CustomerDetails.Email
	}
	if sess.CustomerEmail != "" {
		return sess.CustomerEmail
	}
	return sess.Metadata[metadataOwnerEmail]
}

func (s *serviceImpl) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (string, error) {
	if event.Data == nil {
		return "", fmt.Errorf("%w: missing event data", ErrBadEvent)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", fmt.Errorf("%w: error unmarshaling into CheckoutSession: %v", ErrBadEvent, err)
	}
	email := normalizeEmail(checkoutEmail(sess))
	if !validEmail(email) {
		return "", fmt.Errorf("%w: no customer email in CheckoutSession %s", ErrBadEvent, sess.ID)
	}
	up := db.OwnerLinkUpsert{Email: email}
	if sess.Customer != nil {
		up.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		up.SubscriptionID = sess.Subscription.ID
	}

	if plan := s.checkoutPlan(ctx, sess); plan != PlanNone {
		up.Plan, up.SetPlan = string(plan), true
	}

	identityID, err := s.ensureIdentity(ctx, email)
	if err != nil {
		return "", err
	}
	up.IdentityID = identityID
	link, err := s.store.UpsertOwnerLink(ctx, up)
	if err != nil {
		return "", fmt.Errorf("%w: upsert owner link: %v", ErrDatabase, err)
	}

	plan := ParsePlan(link.Plan)
	rows := []db.NewRecipient{{OwnerLinkID: link.ID, Email: email, Plan: string(plan), Channel: db.ChannelInitial}}
	if raw := sess.Metadata[metadataAdditionalMail]; raw != "" {
		var extra []string
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			slog.WarnContext(ctx, "ignoring malformed additional_emails metadata", "session_id", sess.ID, "err", err)
		}
		extra, err := normalizeEmails(extra[:min(len(extra), maxMetadataRecipients)])
		if err != nil {
			slog.WarnContext(ctx, "ignoring invalid additional_emails metadata", "session_id", sess.ID, "err", err)
			extra = nil
		}
		for _, e := range extra {
			if e != email {
				rows = append(rows, db.NewRecipient{OwnerLinkID: link.ID, Email: e, Plan: string(plan), Channel: db.ChannelAddon})
			}
		}
	}
	if _, err := s.store.InsertRecipients(ctx, rows); err != nil {
		return "", fmt.Errorf("%w: insert recipients: %v", ErrDatabase, err)
	}
	return "linked", nil
}

// checkoutPlan takes the plan from session metadata, else from the session's
// subscription when it is in an accounting status. Lookup failures leave the
// plan unset for the resolver to fill in later.
func (s *serviceImpl) checkoutPlan(ctx context.Context, sess stripe.CheckoutSession) Plan {
	if plan := ParsePlan(sess.Metadata[metadataPlan]); plan.CanAddRecipients() {
		return plan
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return PlanNone
	}
	sub, err := s.gw.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		slog.WarnContext(ctx, "checkout subscription lookup failed, plan left unset", "session_id", sess.ID, "subscription_id", sess.Subscription.ID, "err", err)
		return PlanNone
	}
	if !statusIn(sub.Status, s.settings.AccountingStatuses) {
		return PlanNone
	}
	plan, _ := s.inferPlan(ctx, sub)
	return plan
}

func (s *serviceImpl) handleSubscriptionChange(ctx context.Context, event stripe.Event) (string, error) {
	if event.Data == nil {
		return "", fmt.Errorf("%w: missing event data", ErrBadEvent)
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("%w: error unmarshaling into Subscription: %v", ErrBadEvent, err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return "", fmt.Errorf("%w: customer ID not found in Subscription %s", ErrBadEvent, sub.ID)
	}

	plan, subID := PlanNone, sub.ID
	if statusIn(sub.Status, s.settings.AccountingStatuses) {
		plan, _ = s.inferPlan(ctx, sub)
	}
	if plan == PlanNone {
		// A lapsed subscription only clears the plan when no other
		// subscription of the customer still carries one, e.g. after an
		// add-on-only subscription is cancelled.
		if other, ok := s.remainingPlan(ctx, sub.Customer.ID, sub.ID); ok {
			plan, subID = other.plan, other.id
		}
	}
	n, err := s.store.SetPlanByCustomer(ctx, sub.Customer.ID, string(plan), subID)
	if err != nil {
		return "", fmt.Errorf("%w: set plan by customer: %v", ErrDatabase, err)
	}
	if n == 0 {
		return "no_link", nil
	}
	return "plan_updated", nil
}

type customerPlan struct {
	plan Plan
	id   string
}

// remainingPlan returns the plan of the customer's first checkout-eligible
// subscription other than exclude.
func (s *serviceImpl) remainingPlan(ctx context.Context, customerID, exclude string) (customerPlan, bool) {
	subs, err := s.gw.ListSubscriptions(ctx, customerID)
	if err != nil {
		slog.WarnContext(ctx, "customer subscriptions lookup failed, clearing plan", "customer_id", customerID, "err", err)
		return customerPlan{}, false
	}
	for _, other := range subs {
		if other.ID == exclude || !statusIn(other.Status, s.settings.CheckoutStatuses) {
			continue
		}
		if plan, _ := s.inferPlan(ctx, other); plan != PlanNone {
			return customerPlan{plan: plan, id: other.ID}, true
		}
	}
	return customerPlan{}, false
}
