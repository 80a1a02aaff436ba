package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/newsalert/billing-portal/api/services/billing/db"
)

// Plan is the owner's current tier. PlanNone marshals as JSON null.
type Plan string

const (
	PlanNone     Plan = ""
	PlanLite     Plan = "lite"
	PlanBusiness Plan = "business"
	PlanTrial    Plan = "trial"
)

// ParsePlan accepts the stored or wire spelling; anything unknown is PlanNone.
func ParsePlan(s string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanLite:
		return PlanLite
	case PlanBusiness:
		return PlanBusiness
	case PlanTrial:
		return PlanTrial
	}
	return PlanNone
}

// CanAddRecipients reports whether the plan owns a recipient allowance.
func (p Plan) CanAddRecipients() bool { return p == PlanLite || p == PlanBusiness }

func (p Plan) MarshalJSON() ([]byte, error) {
	if p == PlanNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(p))
}

func (p *Plan) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = PlanNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	*p = ParsePlan(s)
	return nil
}

// Interval is a billing interval for base and add-on prices.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "month", "monthly":
		return IntervalMonth, nil
	case "year", "yearly", "annual":
		return IntervalYear, nil
	}
	return "", fmt.Errorf("%w: unknown interval %q", ErrValidation, s)
}

// AddonPrice is the display projection of an add-on seat price.
type AddonPrice struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Interval   string `json:"interval,omitempty"`
}

// PlanResolution is the Subscription Resolver's answer for one email.
type PlanResolution struct {
	Plan           Plan        `json:"plan"`
	CustomerID     string      `json:"customer_id,omitempty"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	ProductName    string      `json:"product_name,omitempty"`
	AddonPrice     *AddonPrice `json:"addon_price,omitempty"`
	Cached         bool        `json:"cached"`
}

// SlotSummary is the Slot Accountant's answer for one owner.
type SlotSummary struct {
	OwnerEmail     string `json:"owner_email"`
	Plan           Plan   `json:"plan"`
	BaseSlots      int    `json:"base_slots"`
	AddonSlots     int    `json:"addon_slots"`
	UsedSlots      int    `json:"used_slots"`
	RemainingSlots int    `json:"remaining_slots"`
}

type AddedRecipient struct {
	Email   string     `json:"email"`
	Channel db.Channel `json:"channel"`
}

type AddRecipientsResult struct {
	Added          []AddedRecipient `json:"added"`
	RemainingSlots int              `json:"remaining_slots"`
}

type PurchaseAddonRequest struct {
	OwnerEmail       string
	Plan             Plan
	Quantity         int
	AdditionalEmails []string
}

// PurchaseMode tells the caller which branch of the purchase flow ran.
type PurchaseMode string

const (
	PurchaseUpdated     PurchaseMode = "quantity_updated"
	PurchaseCreated     PurchaseMode = "item_created"
	PurchasePaymentLink PurchaseMode = "payment_link"
	PurchaseCheckout    PurchaseMode = "checkout"
)

type PurchaseAddonResult struct {
	Mode            PurchaseMode `json:"mode"`
	Quantity        int64        `json:"quantity,omitempty"`
	ProductName     string       `json:"product_name,omitempty"`
	PortalURL       string       `json:"portal_url,omitempty"`
	RedirectURL     string       `json:"redirect_url,omitempty"`
	AddedRecipients int          `json:"added_recipients"`
}

// AddonOutcome is the billing side effect of a removal.
type AddonOutcome string

const (
	AddonOutcomeNone                 AddonOutcome = "none"
	AddonOutcomeQuantityUpdated      AddonOutcome = "quantity_updated"
	AddonOutcomeSubscriptionCanceled AddonOutcome = "subscription_cancelled"
	AddonOutcomeBillingUpdateFailed  AddonOutcome = "billing_update_failed"
)

type RemoveRecipientsResult struct {
	RemovedInitial int          `json:"removed_initial"`
	RemovedAddon   int          `json:"removed_addon"`
	AddonOutcome   AddonOutcome `json:"addon_outcome"`
	NewQuantity    int64        `json:"new_quantity"`
	PortalURL      string       `json:"portal_url,omitempty"`
}

type RecipientView struct {
	Email          string     `json:"email"`
	Channel        db.Channel `json:"channel"`
	PendingRemoval bool       `json:"pending_removal"`
	IsOwner        bool       `json:"is_owner"`
	CreatedAt      time.Time  `json:"created_at"`
}

type RecipientList struct {
	OwnerEmail string          `json:"owner_email"`
	Plan       Plan            `json:"plan"`
	Recipients []RecipientView `json:"recipients"`
}

// TrialDeliveryMode is how an activation link reaches the requester.
type TrialDeliveryMode string

const (
	TrialDeliveryEmail  TrialDeliveryMode = "email"
	TrialDeliveryReturn TrialDeliveryMode = "return"
)

type TrialRequestResult struct {
	Delivery      TrialDeliveryMode `json:"delivery"`
	ActivationURL string            `json:"activation_url,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// WebhookResult records what an event did. Outcome is also the metrics label.
type WebhookResult struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
}
