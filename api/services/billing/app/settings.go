package app

import (
	"strings"
	"time"

	"github.com/newsalert/billing-portal/api/config"
)

// Settings is the immutable billing configuration handed to the service once
// at start-up. Nothing in this package reads the environment.
type Settings struct {
	AccountingStatuses []string
	CheckoutStatuses   []string

	DefaultBaseSlots map[Plan]int
	PlanProductIDs   map[Plan][]string
	BasePrices       map[Plan]map[Interval]string

	AddonProductIDs   map[Plan][]string
	AddonPrices       map[Plan]map[Interval]string
	AddonPaymentLinks map[Plan]string
	AddonMetadataKey  string

	TrialProductIDs []string
	TrialDays       int64
	TrialTokenTTL   time.Duration
	TrialDelivery   TrialDeliveryMode

	CacheTTL            time.Duration
	CustomerSearchLimit int

	AppBaseURL         string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// SettingsFromConfig converts the loaded process configuration.
func SettingsFromConfig(cfg config.Config) Settings {
	b := cfg.Billing
	base := strings.TrimRight(cfg.AppBaseURL, "/")
	s := Settings{
		AccountingStatuses: b.AccountingStatuses,
		CheckoutStatuses:   b.CheckoutStatuses,
		DefaultBaseSlots: map[Plan]int{
			PlanLite:     b.LiteBaseSlots,
			PlanBusiness: b.BusinessBaseSlots,
			PlanTrial:    b.TrialBaseSlots,
		},
		PlanProductIDs: map[Plan][]string{
			PlanLite:     b.LiteProductIDs,
			PlanBusiness: b.BusinessProductIDs,
			PlanTrial:    b.TrialPlanProductIDs,
		},
		BasePrices: map[Plan]map[Interval]string{
			PlanLite:     {IntervalMonth: b.LitePriceMonthly, IntervalYear: b.LitePriceYearly},
			PlanBusiness: {IntervalMonth: b.BusinessPriceMonthly, IntervalYear: b.BusinessPriceYearly},
		},
		AddonProductIDs: map[Plan][]string{
			PlanLite:     b.LiteAddonProductIDs,
			PlanBusiness: b.BusinessAddonProductIDs,
		},
		AddonPrices: map[Plan]map[Interval]string{
			PlanLite:     {IntervalMonth: b.LiteAddonPriceMonthly, IntervalYear: b.LiteAddonPriceYearly},
			PlanBusiness: {IntervalMonth: b.BusinessAddonPriceMonthly, IntervalYear: b.BusinessAddonPriceYearly},
		},
		AddonPaymentLinks: map[Plan]string{
			PlanLite:     b.LiteAddonPaymentLink,
			PlanBusiness: b.BusinessAddonPaymentLink,
		},
		AddonMetadataKey:    b.AddonMetadataKey,
		TrialProductIDs:     b.TrialProductIDs,
		TrialDays:           b.TrialDays,
		TrialTokenTTL:       b.TrialTokenTTL,
		TrialDelivery:       TrialDeliveryMode(b.TrialDelivery),
		CacheTTL:            b.CacheTTL(),
		CustomerSearchLimit: b.CustomerSearchLimit,
		AppBaseURL:          base,
		CheckoutSuccessURL:  b.CheckoutSuccessURL,
		CheckoutCancelURL:   b.CheckoutCancelURL,
		PortalReturnURL:     b.PortalReturnURL,
	}
	if s.CheckoutSuccessURL == "" {
		s.CheckoutSuccessURL = base + "/account?checkout=success"
	}
	if s.CheckoutCancelURL == "" {
		s.CheckoutCancelURL = base + "/account?checkout=cancel"
	}
	if s.PortalReturnURL == "" {
		s.PortalReturnURL = base + "/account"
	}
	return s
}
