package grpcserver

import (
	"context"

	"github.com/newsalert/billing-portal/api/services/billing/app"
)

// fakeService records arguments and returns canned results. Methods a test
// does not configure panic through the nil embedded interface.
type fakeService struct {
	app.Service

	gotEmail   string
	gotEmails  []string
	gotRefresh bool
	gotPayload []byte
	gotSig     string
	gotToken   string
	gotPlan    app.Plan

	err     error
	outcome app.TrialOutcome
}

func (f *fakeService) ResolvePlan(_ context.Context, email string, refresh bool) (app.PlanResolution, error) {
	f.gotEmail, f.gotRefresh = email, refresh
	return app.PlanResolution{Plan: app.PlanLite, CustomerID: "cus_1"}, f.err
}

func (f *fakeService) ComputeLimits(_ context.Context, email string) (app.SlotSummary, error) {
	f.gotEmail = email
	return app.SlotSummary{OwnerEmail: email, Plan: app.PlanBusiness, BaseSlots: 4, UsedSlots: 1, RemainingSlots: 3}, f.err
}

func (f *fakeService) AddFree(_ context.Context, owner string, emails []string) (app.AddRecipientsResult, error) {
	f.gotEmail, f.gotEmails = owner, emails
	if f.err != nil {
		return app.AddRecipientsResult{}, f.err
	}
	return app.AddRecipientsResult{Added: []app.AddedRecipient{{Email: emails[0], Channel: "initial"}}, RemainingSlots: 2}, nil
}

func (f *fakeService) PurchaseAddon(_ context.Context, req app.PurchaseAddonRequest) (app.PurchaseAddonResult, error) {
	f.gotEmail, f.gotPlan = req.OwnerEmail, req.Plan
	return app.PurchaseAddonResult{Mode: app.PurchaseCheckout, RedirectURL: "https://checkout.test"}, f.err
}

func (f *fakeService) ActivateTrial(_ context.Context, token string) app.TrialOutcome {
	f.gotToken = token
	return f.outcome
}

func (f *fakeService) HandleWebhook(_ context.Context, payload []byte, sig string) (app.WebhookResult, error) {
	f.gotPayload, f.gotSig = payload, sig
	return app.WebhookResult{EventID: "evt_1", Type: "checkout.session.completed", Outcome: "linked"}, f.err
}
