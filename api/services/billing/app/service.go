package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/newsalert/billing-portal/api/services/billing/db"
	gw "github.com/newsalert/billing-portal/api/services/billing/gateway"
	"github.com/newsalert/billing-portal/api/services/billing/lock"
	"github.com/newsalert/billing-portal/api/services/billing/mail"
)

// Service defines the business operations of the billing portal.
type Service interface {
	ResolvePlan(ctx context.Context, email string, forceRefresh bool) (PlanResolution, error)
	ComputeLimits(ctx context.Context, email string) (SlotSummary, error)
	ListRecipients(ctx context.Context, ownerEmail string) (RecipientList, error)

	AddFree(ctx context.Context, ownerEmail string, emails []string) (AddRecipientsResult, error)
	PurchaseAddon(ctx context.Context, req PurchaseAddonRequest) (PurchaseAddonResult, error)
	RemoveRecipients(ctx context.Context, ownerEmail string, emails []string) (RemoveRecipientsResult, error)
	ChangeRecipientEmail(ctx context.Context, ownerEmail, oldEmail, newEmail string) error

	CreatePortalSession(ctx context.Context, ownerEmail string) (string, error)
	CreateCheckout(ctx context.Context, email string, plan Plan, interval Interval) (string, error)

	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error)

	RequestTrial(ctx context.Context, email, productID string) (TrialRequestResult, error)
	ActivateTrial(ctx context.Context, token string) TrialOutcome
}

// Store is the persistence the service needs: identities, owner links,
// recipients, plan limits and trial requests. Implemented by db.Store and
// db.MemoryStore.
type Store interface {
	ResolveUserID(ctx context.Context, email string) (string, error)
	CreateUser(ctx context.Context, email string) (string, error)

	OwnerLinksByEmail(ctx context.Context, email string) ([]db.OwnerLink, error)
	OwnerLinksByIDs(ctx context.Context, ids []int64) ([]db.OwnerLink, error)
	UpsertOwnerLink(ctx context.Context, u db.OwnerLinkUpsert) (db.OwnerLink, error)
	SetPlanByCustomer(ctx context.Context, customerID, plan, subscriptionID string) (int64, error)
	BumpOwnerLinkVersion(ctx context.Context, id, version int64) (int64, error)
	PlanBaseSlots(ctx context.Context, plan string) (int, bool, error)

	RecipientsByLink(ctx context.Context, linkID int64) ([]db.Recipient, error)
	RecipientsByEmail(ctx context.Context, email string) ([]db.Recipient, error)
	InsertRecipients(ctx context.Context, rows []db.NewRecipient) (int64, error)
	SetPendingRemoval(ctx context.Context, linkID int64, ids []int64, pending bool) error
	DeleteRecipients(ctx context.Context, linkID int64, ids []int64) (int64, error)
	UpdateRecipientEmail(ctx context.Context, linkID, id int64, email string) error

	InsertTrialRequest(ctx context.Context, tr db.TrialRequest) error
	TrialRequestByToken(ctx context.Context, token string) (db.TrialRequest, error)
	TransitionTrialRequest(ctx context.Context, token string, u db.TrialUpdate) (bool, error)
}

type serviceImpl struct {
	store    Store
	gw       gw.BillingGateway
	settings Settings
	catalog  Catalog
	locker   lock.Locker
	mailer   mail.Sender
	now      func() time.Time
}

type Option func(*serviceImpl)

// WithLocker sets the per-owner serialization point. Defaults to lock.Noop.
func WithLocker(l lock.Locker) Option { return func(s *serviceImpl) { s.locker = l } }

// WithMailer sets the trial link delivery. Defaults to mail.LogSender.
func WithMailer(m mail.Sender) Option { return func(s *serviceImpl) { s.mailer = m } }

func WithClock(now func() time.Time) Option { return func(s *serviceImpl) { s.now = now } }

func NewService(store Store, g gw.BillingGateway, settings Settings, opts ...Option) Service {
	if settings.CustomerSearchLimit <= 0 {
		settings.CustomerSearchLimit = 10
	}
	if len(settings.AccountingStatuses) == 0 {
		settings.AccountingStatuses = []string{"active", "trialing", "past_due", "unpaid"}
	}
	if len(settings.CheckoutStatuses) == 0 {
		settings.CheckoutStatuses = []string{"active", "trialing"}
	}
	if settings.TrialTokenTTL <= 0 {
		settings.TrialTokenTTL = 24 * time.Hour
	}
	if settings.AddonMetadataKey == "" {
		settings.AddonMetadataKey = "addon"
	}
	s := &serviceImpl{
		store:    store,
		gw:       g,
		settings: settings,
		catalog:  Catalog{settings: settings, limits: store},
		locker:   lock.Noop{},
		mailer:   mail.LogSender{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var validate = validator.New()

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func validEmail(s string) bool { return validate.Var(s, "required,email") == nil }

// normalizeEmails trims, lowercases, validates and de-duplicates, keeping order.
func normalizeEmails(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		e := normalizeEmail(raw)
		if e == "" {
			continue
		}
		if !validEmail(e) {
			return nil, fmt.Errorf("%w: invalid email %q", ErrValidation, raw)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

// ownerContext is the top-ranked owner link for an email.
type ownerContext struct {
	link  db.OwnerLink
	found bool
}

func (o ownerContext) plan() Plan { return ParsePlan(o.link.Plan) }

// ownerLookup selects what resolveOwnerContext may match besides owner links
// keyed by the email itself.
type ownerLookup int

const (
	ownerLinksOnly ownerLookup = iota
	// followRenamedOwner also follows recipient rows carrying email back to
	// links owned by the same identity, which covers an owner whose email
	// changed after the link was written.
	followRenamedOwner
)

// resolveOwnerContext picks the top-ranked owner link for email. A recipient
// is never resolved to someone else's link.
func (s *serviceImpl) resolveOwnerContext(ctx context.Context, email string, lookup ownerLookup) (ownerContext, error) {
	links, err := s.store.OwnerLinksByEmail(ctx, email)
	if err != nil {
		return ownerContext{}, fmt.Errorf("%w: owner links by email: %v", ErrDatabase, err)
	}
	if len(links) == 0 && lookup == followRenamedOwner {
		if links, err = s.renamedOwnerLinks(ctx, email); err != nil {
			return ownerContext{}, err
		}
	}
	link, ok := pickOwnerLink(links)
	return ownerContext{link: link, found: ok}, nil
}

func (s *serviceImpl) renamedOwnerLinks(ctx context.Context, email string) ([]db.OwnerLink, error) {
	identityID, err := s.store.ResolveUserID(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve identity: %v", ErrDatabase, err)
	}
	if identityID == "" {
		return nil, nil
	}
	rows, err := s.store.RecipientsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: recipients by email: %v", ErrDatabase, err)
	}
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.OwnerLinkID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	links, err := s.store.OwnerLinksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: owner links by id: %v", ErrDatabase, err)
	}
	return slices.DeleteFunc(links, func(l db.OwnerLink) bool { return l.IdentityID != identityID }), nil
}

// resolveOwnerWithPlan is resolveOwnerContext followed by a live plan lookup
// when no link, or only a link with a null plan, is stored. Slot reads and
// roster writes both go through it so they agree on the plan.
func (s *serviceImpl) resolveOwnerWithPlan(ctx context.Context, email string, lookup ownerLookup) (ownerContext, error) {
	owner, err := s.resolveOwnerContext(ctx, email, lookup)
	if err != nil {
		return ownerContext{}, err
	}
	if owner.found && owner.plan() != PlanNone {
		return owner, nil
	}
	return s.withLivePlan(ctx, email, lookup, owner), nil
}

// withLivePlan re-resolves the plan against the processor and reloads the
// owner link it persisted. Failures keep the stored context.
func (s *serviceImpl) withLivePlan(ctx context.Context, email string, lookup ownerLookup, owner ownerContext) ownerContext {
	res, err := s.ResolvePlan(ctx, email, false)
	if err != nil {
		slog.WarnContext(ctx, "live plan resolution failed", "email", email, "err", err)
		return owner
	}
	if res.Plan == PlanNone {
		return owner
	}
	again, err := s.resolveOwnerContext(ctx, email, lookup)
	if err != nil || !again.found {
		slog.WarnContext(ctx, "owner link missing after live plan resolution", "email", email, "err", err)
		return owner
	}
	return again
}

// lockOwner takes the per-owner lock. A held lock is a conflict; an unreachable
// lock backend is logged and skipped since the version CAS still applies.
func (s *serviceImpl) lockOwner(ctx context.Context, linkID int64) (func(), error) {
	release, err := s.locker.Acquire(ctx, fmt.Sprintf("owner:%d", linkID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: another update for this owner is in progress", ErrConflict)
	}
	if err != nil {
		slog.WarnContext(ctx, "owner lock unavailable, continuing without it", "owner_link_id", linkID, "err", err)
		return func() {}, nil
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "owner lock release failed", "owner_link_id", linkID, "err", err)
		}
	}, nil
}

// claimVersion commits the compare-and-swap on the owner link's version.
func (s *serviceImpl) claimVersion(ctx context.Context, link db.OwnerLink) error {
	if _, err := s.store.BumpOwnerLinkVersion(ctx, link.ID, link.Version); err != nil {
		if errors.Is(err, db.ErrVersionConflict) {
			return fmt.Errorf("%w: owner %s changed, please retry", ErrConflict, link.Email)
		}
		return fmt.Errorf("%w: bump owner link version: %v", ErrDatabase, err)
	}
	return nil
}

// ensureIdentity resolves the identity for email, provisioning one if needed.
func (s *serviceImpl) ensureIdentity(ctx context.Context, email string) (string, error) {
	id, err := s.store.ResolveUserID(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: resolve identity: %v", ErrDatabase, err)
	}
	if id != "" {
		return id, nil
	}
	id, err = s.store.CreateUser(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: create identity: %v", ErrDatabase, err)
	}
	slog.InfoContext(ctx, "provisioned identity", "email", email)
	return id, nil
}
