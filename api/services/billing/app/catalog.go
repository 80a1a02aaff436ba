package app

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
)

// Catalog is the Plan Catalog: a pure lookup over Settings, plus the
// plan_limits override table for base slot counts.
type Catalog struct {
	settings Settings
	limits   interface {
		PlanBaseSlots(ctx context.Context, plan string) (int, bool, error)
	}
}

var fallbackBaseSlots = map[Plan]int{PlanLite: 1, PlanBusiness: 4}

// BasePlanSlots never fails: a missing row or a lookup error falls back to
// the configured default, then to the built-in default.
func (c Catalog) BasePlanSlots(ctx context.Context, plan Plan) int {
	if plan == PlanNone {
		return 0
	}
	if c.limits != nil {
		slots, ok, err := c.limits.PlanBaseSlots(ctx, string(plan))
		switch {
		case err != nil:
			slog.WarnContext(ctx, "plan_limits lookup failed, using default", "plan", plan, "err", err)
		case ok:
			return slots
		}
	}
	if n, ok := c.settings.DefaultBaseSlots[plan]; ok && n > 0 {
		return n
	}
	return fallbackBaseSlots[plan]
}

func (c Catalog) AddonProductIDs(plan Plan) []string { return c.settings.AddonProductIDs[plan] }

// AddonPriceIDs returns every configured add-on price for the plan.
func (c Catalog) AddonPriceIDs(plan Plan) []string {
	var out []string
	for _, iv := range []Interval{IntervalMonth, IntervalYear} {
		if id := c.settings.AddonPrices[plan][iv]; id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (c Catalog) AddonPriceID(plan Plan, interval Interval) string {
	return c.settings.AddonPrices[plan][interval]
}

func (c Catalog) BasePriceID(plan Plan, interval Interval) string {
	return c.settings.BasePrices[plan][interval]
}

// IsAddonItem matches a subscription item against the plan's add-on product
// ids first, then its add-on price ids.
func (c Catalog) IsAddonItem(plan Plan, item *stripe.SubscriptionItem) bool {
	productID, _ := itemProduct(item)
	if productID != "" && slices.Contains(c.AddonProductIDs(plan), productID) {
		return true
	}
	return item != nil && item.Price != nil && slices.Contains(c.AddonPriceIDs(plan), item.Price.ID)
}

// planFromProduct applies the id lists, then a case-insensitive name match.
// Add-on products never name a plan.
func (c Catalog) planFromProduct(productID, name string) Plan {
	for _, p := range []Plan{PlanLite, PlanBusiness} {
		if productID != "" && slices.Contains(c.AddonProductIDs(p), productID) {
			return PlanNone
		}
	}
	for _, p := range []Plan{PlanLite, PlanBusiness, PlanTrial} {
		if productID != "" && slices.Contains(c.settings.PlanProductIDs[p], productID) {
			return p
		}
	}
	lower := strings.ToLower(name)
	for _, p := range []Plan{PlanLite, PlanBusiness, PlanTrial} {
		if lower != "" && strings.Contains(lower, string(p)) {
			return p
		}
	}
	return PlanNone
}

func itemProduct(item *stripe.SubscriptionItem) (id, name string) {
	if item == nil || item.Price == nil || item.Price.Product == nil {
		return "", ""
	}
	return item.Price.Product.ID, item.Price.Product.Name
}

func firstItem(sub stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func statusIn(status stripe.SubscriptionStatus, set []string) bool {
	return slices.Contains(set, string(status))
}
