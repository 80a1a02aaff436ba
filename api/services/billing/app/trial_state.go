package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/newsalert/billing-portal/api/services/billing/db"
)

// TrialStatus is the closed set of trial request states.
type TrialStatus string

const (
	TrialRequested TrialStatus = "requested"
	TrialActivated TrialStatus = "activated"
	TrialConsumed  TrialStatus = "consumed"
	TrialExpired   TrialStatus = "expired"
)

var trialTransitions = map[TrialStatus][]TrialStatus{
	TrialRequested: {TrialActivated, TrialExpired},
	TrialActivated: {TrialConsumed},
}

func (s TrialStatus) CanTransitionTo(next TrialStatus) bool {
	return slices.Contains(trialTransitions[s], next)
}

// TrialOutcome is where the activation link redirects.
type TrialOutcome string

const (
	TrialOutcomeSuccess      TrialOutcome = "success"
	TrialOutcomeInvalid      TrialOutcome = "invalid"
	TrialOutcomeExpired      TrialOutcome = "expired"
	TrialOutcomeAlready      TrialOutcome = "already"
	TrialOutcomePriceMissing TrialOutcome = "price_missing"
	TrialOutcomeError        TrialOutcome = "error"
)

// transitionTrial is the only writer of trial status. The store applies it as
// a compare-and-swap on the current status; ok is false if another caller won.
func (s *serviceImpl) transitionTrial(ctx context.Context, token string, from, to TrialStatus, customerID, subscriptionID string) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: trial transition %s -> %s", ErrValidation, from, to)
	}
	return s.store.TransitionTrialRequest(ctx, token, db.TrialUpdate{
		From:           string(from),
		To:             string(to),
		At:             s.now(),
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
	})
}

func trialExpired(tr db.TrialRequest, now time.Time) bool {
	return TrialStatus(tr.Status) == TrialExpired || now.After(tr.ExpiresAt)
}
