package app

import (
	"errors"
	"fmt"
)

// Typed errors for the billing app layer. Transport code maps them with
// errors.Is and never sees SDK or driver error types.
var (
	// ErrBadEvent indicates the incoming event payload is invalid or unsigned.
	ErrBadEvent = errors.New("bad event")
	// ErrDatabase indicates a roster/link store failure.
	ErrDatabase = errors.New("database error")
	// ErrGateway indicates a failure from the payment processor.
	ErrGateway = errors.New("gateway error")

	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPlanNotEligible    = errors.New("plan does not allow recipients")
	ErrDuplicateRecipient = errors.New("recipient already exists")
	ErrConflict           = errors.New("concurrent update")
	ErrOwnerRemoval       = errors.New("owner email cannot be removed or changed")
	ErrSlotLimit          = errors.New("not enough recipient slots")
)

// SlotLimitError reports the remaining-slot count the rejection was based on.
type SlotLimitError struct {
	Remaining int
	Requested int
}

func (e *SlotLimitError) Error() string {
	return fmt.Sprintf("%v: requested %d, remaining %d", ErrSlotLimit, e.Requested, e.Remaining)
}

func (e *SlotLimitError) Unwrap() error { return ErrSlotLimit }
