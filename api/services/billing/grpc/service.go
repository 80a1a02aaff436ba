package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/newsalert/billing-portal/api/services/billing/app"
)

const serviceName = "billing.v1.BillingService"

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// BillingServiceServer is the server API for billing.v1.BillingService.
type BillingServiceServer interface {
	GetSubscription(context.Context, *SubscriptionRequest) (*app.PlanResolution, error)
	GetSlots(context.Context, *OwnerRequest) (*app.SlotSummary, error)
	ListRecipients(context.Context, *OwnerRequest) (*app.RecipientList, error)
	AddRecipients(context.Context, *AddRecipientsRequest) (*app.AddRecipientsResult, error)
	PurchaseAddon(context.Context, *PurchaseAddonRequest) (*app.PurchaseAddonResult, error)
	RemoveRecipients(context.Context, *RemoveRecipientsRequest) (*app.RemoveRecipientsResult, error)
	ChangeRecipientEmail(context.Context, *ChangeRecipientEmailRequest) (*ChangeRecipientEmailResponse, error)
	CreatePortalSession(context.Context, *PortalSessionRequest) (*URLResponse, error)
	CreateCheckout(context.Context, *CheckoutRequest) (*URLResponse, error)
	RequestTrial(context.Context, *TrialRequest) (*app.TrialRequestResult, error)
	ActivateTrial(context.Context, *ActivateTrialRequest) (*ActivateTrialResponse, error)
	ReceiveWebhook(context.Context, *WebhookRequest) (*app.WebhookResult, error)
}

// unary adapts a typed server method to a grpc.MethodDesc handler.
func unary[Req, Resp any](name string, call func(BillingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BillingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BillingServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for billing.v1.BillingService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BillingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetSubscription", BillingServiceServer.GetSubscription),
		unary("GetSlots", BillingServiceServer.GetSlots),
		unary("ListRecipients", BillingServiceServer.ListRecipients),
		unary("AddRecipients", BillingServiceServer.AddRecipients),
		unary("PurchaseAddon", BillingServiceServer.PurchaseAddon),
		unary("RemoveRecipients", BillingServiceServer.RemoveRecipients),
		unary("ChangeRecipientEmail", BillingServiceServer.ChangeRecipientEmail),
		unary("CreatePortalSession", BillingServiceServer.CreatePortalSession),
		unary("CreateCheckout", BillingServiceServer.CreateCheckout),
		unary("RequestTrial", BillingServiceServer.RequestTrial),
		unary("ActivateTrial", BillingServiceServer.ActivateTrial),
		unary("ReceiveWebhook", BillingServiceServer.ReceiveWebhook),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "billing/v1/billing.proto",
}

func RegisterBillingServiceServer(s grpc.ServiceRegistrar, srv BillingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
