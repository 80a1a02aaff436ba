package app

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/newsalert/billing-portal/api/services/billing/db"
)

// ResolvePlan determines the current plan for email. A cached owner link with
// a non-null plan inside the TTL is served as-is; a null plan is never a hit.
func (s *serviceImpl) ResolvePlan(ctx context.Context, email string, forceRefresh bool) (PlanResolution, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return PlanResolution{}, fmt.Errorf("%w: invalid email", ErrValidation)
	}

	if !forceRefresh {
		links, err := s.store.OwnerLinksByEmail(ctx, email)
		if err != nil {
			slog.WarnContext(ctx, "owner link cache lookup failed, resolving live", "email", email, "err", err)
		}
		if link, ok := pickOwnerLink(links); ok && link.Plan != "" && s.now().Sub(link.UpdatedAt) <= s.settings.CacheTTL {
			res := PlanResolution{
				Plan:           ParsePlan(link.Plan),
				CustomerID:     link.CustomerID,
				SubscriptionID: link.SubscriptionID,
				Cached:         true,
			}
			if link.SubscriptionID != "" {
				res.ProductName = enrich(func() (string, error) {
					sub, err := s.gw.GetSubscription(ctx, link.SubscriptionID)
					if err != nil {
						return "", err
					}
					return s.subscriptionProductName(ctx, sub)
				}).OrZero(ctx, "product_name")
			}
			res.AddonPrice = s.addonPrice(ctx, res.Plan).OrZero(ctx, "addon_price")
			return res, nil
		}
	}

	customers, err := s.gw.SearchCustomersByEmail(ctx, email, s.settings.CustomerSearchLimit)
	if err != nil {
		return PlanResolution{}, fmt.Errorf("%w: search customers: %v", ErrGateway, err)
	}
	if len(customers) == 0 {
		return PlanResolution{Plan: PlanNone}, nil
	}

	var (
		chosen   stripe.Subscription
		customer string
		lastErr  error
	)
	for _, c := range customers {
		subs, err := s.gw.ListSubscriptions(ctx, c.ID)
		if err != nil {
			slog.WarnContext(ctx, "list subscriptions failed", "customer_id", c.ID, "err", err)
			lastErr = err
			continue
		}
		if sub, ok := firstWithStatus(subs, s.settings.CheckoutStatuses); ok {
			chosen, customer = sub, c.ID
			break
		}
	}
	if customer == "" {
		if lastErr != nil {
			return PlanResolution{}, fmt.Errorf("%w: list subscriptions: %v", ErrGateway, lastErr)
		}
		return PlanResolution{Plan: PlanNone}, nil
	}

	plan, productName := s.inferPlan(ctx, chosen)
	res := PlanResolution{Plan: plan, CustomerID: customer, SubscriptionID: chosen.ID, ProductName: productName}
	if res.ProductName == "" {
		res.ProductName = enrich(func() (string, error) { return s.subscriptionProductName(ctx, chosen) }).OrZero(ctx, "product_name")
	}

	identityID, err := s.ensureIdentity(ctx, email)
	if err != nil {
		return PlanResolution{}, err
	}
	if plan != PlanNone {
		link, err := s.store.UpsertOwnerLink(ctx, db.OwnerLinkUpsert{
			IdentityID:     identityID,
			Email:          email,
			CustomerID:     customer,
			SubscriptionID: chosen.ID,
			Plan:           string(plan),
			SetPlan:        true,
		})
		if err != nil {
			return PlanResolution{}, fmt.Errorf("%w: upsert owner link: %v", ErrDatabase, err)
		}
		if _, err := s.store.InsertRecipients(ctx, []db.NewRecipient{{
			OwnerLinkID: link.ID, Email: email, Plan: string(plan), Channel: db.ChannelInitial,
		}}); err != nil {
			return PlanResolution{}, fmt.Errorf("%w: ensure owner recipient: %v", ErrDatabase, err)
		}
	}
	res.AddonPrice = s.addonPrice(ctx, plan).OrZero(ctx, "addon_price")
	return res, nil
}

func firstWithStatus(subs []stripe.Subscription, statuses []string) (stripe.Subscription, bool) {
	for _, sub := range subs {
		if statusIn(sub.Status, statuses) {
			return sub, true
		}
	}
	return stripe.Subscription{}, false
}

// inferPlan applies the catalog to the subscription's first item, fetching
// the product when the item carries only its id.
func (s *serviceImpl) inferPlan(ctx context.Context, sub stripe.Subscription) (Plan, string) {
	productID, name := itemProduct(firstItem(sub))
	if plan := s.catalog.planFromProduct(productID, name); plan != PlanNone || name != "" || productID == "" {
		return plan, name
	}
	p, err := s.gw.GetProduct(ctx, productID)
	if err != nil {
		slog.WarnContext(ctx, "product lookup for plan inference failed", "product_id", productID, "err", err)
		return PlanNone, ""
	}
	return s.catalog.planFromProduct(productID, p.Name), p.Name
}

func (s *serviceImpl) subscriptionProductName(ctx context.Context, sub stripe.Subscription) (string, error) {
	productID, name := itemProduct(firstItem(sub))
	if name != "" || productID == "" {
		return name, nil
	}
	p, err := s.gw.GetProduct(ctx, productID)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

func (s *serviceImpl) addonPrice(ctx context.Context, plan Plan) Result[*AddonPrice] {
	id := s.catalog.AddonPriceID(plan, IntervalMonth)
	if id == "" {
		return Result[*AddonPrice]{}
	}
	return enrich(func() (*AddonPrice, error) {
		p, err := s.gw.GetPrice(ctx, id)
		if err != nil {
			return nil, err
		}
		out := &AddonPrice{ID: p.ID, UnitAmount: p.UnitAmount, Currency: string(p.Currency)}
		if p.Recurring != nil {
			out.Interval = string(p.Recurring.Interval)
		}
		return out, nil
	})
}
