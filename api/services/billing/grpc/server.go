package grpcserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/newsalert/billing-portal/api/services/billing/app"
)

var _ BillingServiceServer = (*Server)(nil)

var validate = validator.New()

// Server implements BillingServiceServer on top of app.Service. It is shared
// by the gRPC listener and the HTTP gateway handlers.
type Server struct {
	svc        app.Service
	appBaseURL string
}

func New(svc app.Service, appBaseURL string) *Server {
	return &Server{svc: svc, appBaseURL: strings.TrimRight(appBaseURL, "/")}
}

func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return toStatus(fmt.Errorf("%w: %v", app.ErrValidation, err))
	}
	return nil
}

func (s *Server) GetSubscription(ctx context.Context, req *SubscriptionRequest) (*app.PlanResolution, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	res, err := s.svc.ResolvePlan(ctx, req.Email, req.Refresh)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) GetSlots(ctx context.Context, req *OwnerRequest) (*app.SlotSummary, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorize(ctx, req.Email); err != nil {
		return nil, err
	}
	res, err := s.svc.ComputeLimits(ctx, req.Email)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) ListRecipients(ctx context.Context, req *OwnerRequest) (*app.RecipientList, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorize(ctx, req.Email); err != nil {
		return nil, err
	}
	res, err := s.svc.ListRecipients(ctx, req.Email)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) AddRecipients(ctx context.Context, req *AddRecipientsRequest) (*app.AddRecipientsResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorize(ctx, req.OwnerEmail); err != nil {
		return nil, err
	}
	res, err := s.svc.AddFree(ctx, req.OwnerEmail, req.Emails)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) PurchaseAddon(ctx context.Context, req *PurchaseAddonRequest) (*app.PurchaseAddonResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorize(ctx, req.OwnerEmail); err != nil {
		return nil, err
	}
	res, err := s.svc.PurchaseAddon(ctx, app.PurchaseAddonRequest{
		OwnerEmail:       req.OwnerEmail,
		Plan:             app.ParsePlan(req.Plan),
		Quantity:         req.Quantity,
		AdditionalEmails: req.AdditionalEmails,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) RemoveRecipients(ctx context.Context, req *RemoveRecipientsRequest) (*app.RemoveRecipientsResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorize(ctx, req.OwnerEmail); err != nil {
		return nil, err
	}
	res, err := s.svc.RemoveRecipients(ctx, req.OwnerEmail, req.Emails)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *Server) ChangeRecipientEmail(ctx context.Context, req *ChangeRecipientEmailRequest) (*ChangeRecipientEmailResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorize(ctx, req.OwnerEmail); err != nil {
		return nil, err
	}
	if err := s.svc.ChangeRecipientEmail(ctx, req.OwnerEmail, req.OldEmail, req.NewEmail); err != nil {
		return nil, toStatus(err)
	}
	return &ChangeRecipientEmailResponse{Changed: true}, nil
}

func (s *Server) CreatePortalSession(ctx context.Context, req *PortalSessionRequest) (*URLResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := authorize(ctx, req.OwnerEmail); err != nil {
		return nil, err
	}
	u, err := s.svc.CreatePortalSession(ctx, req.OwnerEmail)
	if err != nil {
		return nil, toStatus(err)
	}
	return &URLResponse{URL: u}, nil
}

func (s *Server) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*URLResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	interval, err := app.ParseInterval(req.Interval)
	if err != nil {
		return nil, toStatus(err)
	}
	u, err := s.svc.CreateCheckout(ctx, req.Email, app.ParsePlan(req.Plan), interval)
	if err != nil {
		return nil, toStatus(err)
	}
	return &URLResponse{URL: u}, nil
}

func (s *Server) RequestTrial(ctx context.Context, req *TrialRequest) (*app.TrialRequestResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	res, err := s.svc.RequestTrial(ctx, req.Email, req.ProductID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

// ActivateTrial never fails: every outcome, including bad tokens, is a redirect.
func (s *Server) ActivateTrial(ctx context.Context, req *ActivateTrialRequest) (*ActivateTrialResponse, error) {
	outcome := s.svc.ActivateTrial(ctx, req.Token)
	return &ActivateTrialResponse{
		Outcome:     string(outcome),
		RedirectURL: s.appBaseURL + "/trial?trial=" + url.QueryEscape(string(outcome)),
	}, nil
}

func (s *Server) ReceiveWebhook(ctx context.Context, req *WebhookRequest) (*app.WebhookResult, error) {
	sig := req.Signature
	if sig == "" {
		sig = firstMetadata(ctx, SignatureHeader)
	}
	res, err := s.svc.HandleWebhook(ctx, req.Payload, sig)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}
