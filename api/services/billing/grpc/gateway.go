package grpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	maxJSONBody    = 1 << 20
	maxWebhookBody = 1 << 16
)

// ErrorBody is the HTTP error envelope.
type ErrorBody struct {
	Error          string `json:"error"`
	Reason         string `json:"reason,omitempty"`
	RemainingSlots *int   `json:"remaining_slots,omitempty"`
}

// ErrorHandler writes status errors as ErrorBody with the status code chosen
// by runtime.HTTPStatusFromCode.
func ErrorHandler(ctx context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, err error) {
	st := status.Convert(err)
	body := ErrorBody{Error: st.Message()}
	if info := errorInfo(st); info != nil {
		body.Reason = info.GetReason()
		if v, ok := info.GetMetadata()[MetadataRemainingSlots]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				body.RemainingSlots = &n
			}
		}
	}
	code := runtime.HTTPStatusFromCode(st.Code())
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "code", st.Code().String(), "err", st.Message())
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "err", err)
	}
}

// bodyRoute decodes a JSON request body into Req and calls the RPC.
func bodyRoute[Req, Resp any](mux *runtime.ServeMux, method string, call func(context.Context, *Req) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		req := new(Req)
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(req); err != nil {
			ErrorHandler(r.Context(), mux, nil, w, r, status.Errorf(codes.InvalidArgument, "invalid JSON body: %v", err))
			return
		}
		serve(mux, method, w, r, req, call)
	}
}

// queryRoute builds Req from the query string and calls the RPC.
func queryRoute[Req, Resp any](mux *runtime.ServeMux, method string, build func(url.Values) *Req, call func(context.Context, *Req) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		serve(mux, method, w, r, build(r.URL.Query()), call)
	}
}

func serve[Req, Resp any](mux *runtime.ServeMux, method string, w http.ResponseWriter, r *http.Request, req *Req, call func(context.Context, *Req) (*Resp, error)) {
	ctx, err := runtime.AnnotateIncomingContext(r.Context(), mux, r, fullMethod(method))
	if err != nil {
		ErrorHandler(r.Context(), mux, nil, w, r, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	resp, err := call(ctx, req)
	if err != nil {
		_, out := runtime.MarshalerForRequest(mux, r)
		runtime.HTTPError(ctx, mux, out, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func boolParam(q url.Values, key string) bool {
	b, _ := strconv.ParseBool(q.Get(key))
	return b
}

// RegisterGateway maps every BillingService RPC onto its HTTP route. The mux
// should be built with HeaderMatcher and ErrorHandler.
func RegisterGateway(_ context.Context, mux *runtime.ServeMux, srv BillingServiceServer) error {
	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodGet, "/api/subscription", queryRoute(mux, "GetSubscription", func(q url.Values) *SubscriptionRequest {
			return &SubscriptionRequest{Email: q.Get("email"), Refresh: boolParam(q, "refresh")}
		}, srv.GetSubscription)},
		{http.MethodGet, "/api/slots", queryRoute(mux, "GetSlots", func(q url.Values) *OwnerRequest {
			return &OwnerRequest{Email: q.Get("email")}
		}, srv.GetSlots)},
		{http.MethodGet, "/api/recipients", queryRoute(mux, "ListRecipients", func(q url.Values) *OwnerRequest {
			return &OwnerRequest{Email: q.Get("email")}
		}, srv.ListRecipients)},
		{http.MethodPost, "/api/recipients", bodyRoute(mux, "AddRecipients", srv.AddRecipients)},
		{http.MethodPost, "/api/recipients/addon", bodyRoute(mux, "PurchaseAddon", srv.PurchaseAddon)},
		{http.MethodPost, "/api/recipients/remove", bodyRoute(mux, "RemoveRecipients", srv.RemoveRecipients)},
		{http.MethodPost, "/api/recipients/change-email", bodyRoute(mux, "ChangeRecipientEmail", srv.ChangeRecipientEmail)},
		{http.MethodPost, "/api/billing-portal", bodyRoute(mux, "CreatePortalSession", srv.CreatePortalSession)},
		{http.MethodPost, "/api/checkout", bodyRoute(mux, "CreateCheckout", srv.CreateCheckout)},
		{http.MethodPost, "/api/trial/request", bodyRoute(mux, "RequestTrial", srv.RequestTrial)},
		{http.MethodGet, "/api/trial/activate", activateTrialRoute(mux, srv)},
		{http.MethodPost, "/api/receive-stripe-webhook", webhookRoute(mux, srv)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.path, err)
		}
	}
	return nil
}

func activateTrialRoute(mux *runtime.ServeMux, srv BillingServiceServer) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		ctx, err := runtime.AnnotateIncomingContext(r.Context(), mux, r, fullMethod("ActivateTrial"))
		if err != nil {
			ctx = r.Context()
		}
		resp, err := srv.ActivateTrial(ctx, &ActivateTrialRequest{Token: r.URL.Query().Get("token")})
		if err != nil {
			runtime.HTTPError(ctx, mux, nil, w, r, err)
			return
		}
		http.Redirect(w, r, resp.RedirectURL, http.StatusSeeOther)
	}
}

// webhookRoute passes the raw body through untouched; signature checks are
// byte-exact.
func webhookRoute(mux *runtime.ServeMux, srv BillingServiceServer) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			ErrorHandler(r.Context(), mux, nil, w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
			return
		}
		serve(mux, "ReceiveWebhook", w, r, &WebhookRequest{Payload: payload, Signature: r.Header.Get("Stripe-Signature")}, srv.ReceiveWebhook)
	}
}
