package grpcserver

import (
	"errors"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/newsalert/billing-portal/api/services/billing/app"
)

// ErrorDomain is the google.rpc.ErrorInfo domain of every mapped app error.
const ErrorDomain = "billing.newsalert"

// MetadataRemainingSlots is the ErrorInfo metadata key carrying the slot count
// a rejection was based on.
const MetadataRemainingSlots = "remaining_slots"

type errorMapping struct {
	target error
	code   codes.Code
	reason string
}

// Ordered: ErrSlotLimit before the generic validation bucket.
var errorMappings = []errorMapping{
	{app.ErrSlotLimit, codes.FailedPrecondition, "SLOT_LIMIT"},
	{app.ErrValidation, codes.InvalidArgument, "VALIDATION"},
	{app.ErrBadEvent, codes.InvalidArgument, "BAD_EVENT"},
	{app.ErrUnauthorized, codes.Unauthenticated, "UNAUTHENTICATED"},
	{app.ErrPlanNotEligible, codes.PermissionDenied, "PLAN_NOT_ELIGIBLE"},
	{app.ErrOwnerRemoval, codes.PermissionDenied, "OWNER_REMOVAL"},
	{app.ErrNotFound, codes.NotFound, "NOT_FOUND"},
	{app.ErrDuplicateRecipient, codes.AlreadyExists, "DUPLICATE_RECIPIENT"},
	{app.ErrConflict, codes.Aborted, "CONFLICT"},
	{app.ErrGateway, codes.Unavailable, "BILLING_UNAVAILABLE"},
	{app.ErrDatabase, codes.Internal, "PERSISTENCE"},
}

// toStatus converts an app error into a gRPC status error with an ErrorInfo
// detail. Persistence failures get a generic message; the cause stays in logs.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := err.Error()
		if m.code == codes.Internal {
			msg = "could not save changes, please retry"
		}
		info := &errdetails.ErrorInfo{Reason: m.reason, Domain: ErrorDomain}
		var slots *app.SlotLimitError
		if errors.As(err, &slots) {
			info.Metadata = map[string]string{MetadataRemainingSlots: strconv.Itoa(slots.Remaining)}
		}
		return withInfo(status.New(m.code, msg), info)
	}
	return status.Error(codes.Internal, "internal error")
}

func withInfo(st *status.Status, info *errdetails.ErrorInfo) error {
	detailed, err := st.WithDetails(info)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// errorInfo extracts the first ErrorInfo detail of st, if any.
func errorInfo(st *status.Status) *errdetails.ErrorInfo {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	return nil
}
