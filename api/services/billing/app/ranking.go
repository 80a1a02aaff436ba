package app

import (
	"cmp"
	"slices"

	"github.com/newsalert/billing-portal/api/services/billing/db"
)

func planPrecedence(p Plan) int {
	switch p {
	case PlanBusiness:
		return 3
	case PlanLite:
		return 2
	case PlanTrial:
		return 1
	}
	return 0
}

// compareOwnerLinks is the single total order used whenever several owner
// links must collapse to one: plan precedence desc, updated_at desc, id desc.
func compareOwnerLinks(a, b db.OwnerLink) int {
	if c := cmp.Compare(planPrecedence(ParsePlan(b.Plan)), planPrecedence(ParsePlan(a.Plan))); c != 0 {
		return c
	}
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// pickOwnerLink returns the top-ranked link.
func pickOwnerLink(links []db.OwnerLink) (db.OwnerLink, bool) {
	if len(links) == 0 {
		return db.OwnerLink{}, false
	}
	return slices.MinFunc(links, compareOwnerLinks), true
}
