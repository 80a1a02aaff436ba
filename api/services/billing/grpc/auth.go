package grpcserver

import (
	"context"
	"net/textproto"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// AuthHeader carries the email the upstream identity proxy authenticated.
	AuthHeader = "x-authenticated-email"
	// SignatureHeader carries the payment processor's webhook signature.
	SignatureHeader = "stripe-signature"
)

// HeaderMatcher forwards the auth and signature headers into gRPC metadata
// under their own names; everything else follows the gateway default.
func HeaderMatcher(key string) (string, bool) {
	switch textproto.CanonicalMIMEHeaderKey(key) {
	case "X-Authenticated-Email":
		return AuthHeader, true
	case "Stripe-Signature":
		return SignatureHeader, true
	}
	return runtime.DefaultHeaderMatcher(key)
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// authorize requires the caller's authenticated email to match the owner the
// request acts on.
func authorize(ctx context.Context, ownerEmail string) error {
	caller := strings.ToLower(strings.TrimSpace(firstMetadata(ctx, AuthHeader)))
	if caller == "" {
		return withInfo(status.New(codes.Unauthenticated, "authentication required"),
			&errdetails.ErrorInfo{Reason: "UNAUTHENTICATED", Domain: ErrorDomain})
	}
	if caller != strings.ToLower(strings.TrimSpace(ownerEmail)) {
		return withInfo(status.New(codes.PermissionDenied, "not allowed to act for this owner"),
			&errdetails.ErrorInfo{Reason: "FORBIDDEN", Domain: ErrorDomain})
	}
	return nil
}
