package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store is the Postgres-backed owner link, roster, identity, plan limit and trial store.
type Store struct {
	db *sql.DB
}

// New wraps an open connection.
func New(conn *sql.DB) *Store { return &Store{db: conn} }

const ownerLinkColumns = `id, identity_id, email, customer_id, subscription_id, plan, version, updated_at`

func scanOwnerLink(row interface{ Scan(...any) error }) (OwnerLink, error) {
	var (
		l                         OwnerLink
		identity, cust, sub, plan sql.NullString
	)
	if err := row.Scan(&l.ID, &identity, &l.Email, &cust, &sub, &plan, &l.Version, &l.UpdatedAt); err != nil {
		return OwnerLink{}, err
	}
	l.IdentityID = identity.String
	l.CustomerID = cust.String
	l.SubscriptionID = sub.String
	l.Plan = plan.String
	return l, nil
}

func (s *Store) queryOwnerLinks(ctx context.Context, query string, args ...any) ([]OwnerLink, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OwnerLink
	for rows.Next() {
		l, err := scanOwnerLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ResolveUserID returns the identity id for email, or "" when none exists.
func (s *Store) ResolveUserID(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM identities WHERE email = $1`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w", err)
	}
	return id, nil
}

// CreateUser provisions an identity for email. An existing identity is returned as-is.
func (s *Store) CreateUser(ctx context.Context, email string) (string, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (id, email) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), email); err != nil {
		return "", fmt.Errorf("create identity: %w", err)
	}
	id, err := s.ResolveUserID(ctx, email)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("create identity: %w", ErrNotFound)
	}
	return id, nil
}

// OwnerLinksByEmail returns every link whose email matches case-insensitively.
func (s *Store) OwnerLinksByEmail(ctx context.Context, email string) ([]OwnerLink, error) {
	links, err := s.queryOwnerLinks(ctx,
		`SELECT `+ownerLinkColumns+` FROM owner_links WHERE lower(email) = lower($1) ORDER BY id`, email)
	if err != nil {
		return nil, fmt.Errorf("owner links by email: %w", err)
	}
	return links, nil
}

func (s *Store) OwnerLinksByIDs(ctx context.Context, ids []int64) ([]OwnerLink, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	links, err := s.queryOwnerLinks(ctx,
		`SELECT `+ownerLinkColumns+` FROM owner_links WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("owner links by id: %w", err)
	}
	return links, nil
}

// UpsertOwnerLink inserts or updates the single link for an identity and bumps its version.
func (s *Store) UpsertOwnerLink(ctx context.Context, u OwnerLinkUpsert) (OwnerLink, error) {
	if u.IdentityID == "" {
		return OwnerLink{}, fmt.Errorf("upsert owner link: identity id is required")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO owner_links (identity_id, email, customer_id, subscription_id, plan, version, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), CASE WHEN $6 THEN NULLIF($5, '') END, 1, now())
		ON CONFLICT (identity_id) DO UPDATE SET
			email = EXCLUDED.email,
			customer_id = COALESCE(EXCLUDED.customer_id, owner_links.customer_id),
			subscription_id = COALESCE(EXCLUDED.subscription_id, owner_links.subscription_id),
			plan = CASE WHEN $6 THEN EXCLUDED.plan ELSE owner_links.plan END,
			version = owner_links.version + 1,
			updated_at = now()
		RETURNING `+ownerLinkColumns,
		u.IdentityID, u.Email, u.CustomerID, u.SubscriptionID, u.Plan, u.SetPlan)
	l, err := scanOwnerLink(row)
	if err != nil {
		return OwnerLink{}, fmt.Errorf("upsert owner link: %w", err)
	}
	return l, nil
}

// SetPlanByCustomer writes plan and subscription id on every link for the customer.
// An empty plan stores NULL. Returns the number of links touched.
func (s *Store) SetPlanByCustomer(ctx context.Context, customerID, plan, subscriptionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE owner_links
		SET plan = NULLIF($2, ''),
			subscription_id = COALESCE(NULLIF($3, ''), subscription_id),
			version = version + 1,
			updated_at = now()
		WHERE customer_id = $1`, customerID, plan, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("set plan by customer: %w", err)
	}
	return res.RowsAffected()
}

// BumpOwnerLinkVersion is a compare-and-swap on the version column.
func (s *Store) BumpOwnerLinkVersion(ctx context.Context, id, version int64) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE owner_links SET version = version + 1 WHERE id = $1 AND version = $2 RETURNING version`,
		id, version).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("bump owner link version: %w", err)
	}
	return next, nil
}

// PlanBaseSlots reads an override from plan_limits. ok is false when no row exists.
func (s *Store) PlanBaseSlots(ctx context.Context, plan string) (slots int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT base_slots FROM plan_limits WHERE plan = $1`, plan).Scan(&slots)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("plan limits: %w", err)
	}
	return slots, true, nil
}

const recipientColumns = `id, owner_link_id, email, plan, channel, pending_removal, created_at, updated_at`

func (s *Store) queryRecipients(ctx context.Context, query string, args ...any) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var (
			r    Recipient
			plan sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerLinkID, &r.Email, &plan, &r.Channel, &r.PendingRemoval, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Plan = plan.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RecipientsByLink(ctx context.Context, linkID int64) ([]Recipient, error) {
	out, err := s.queryRecipients(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE owner_link_id = $1 ORDER BY id`, linkID)
	if err != nil {
		return nil, fmt.Errorf("recipients by link: %w", err)
	}
	return out, nil
}

func (s *Store) RecipientsByEmail(ctx context.Context, email string) ([]Recipient, error) {
	out, err := s.queryRecipients(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE email = $1 ORDER BY id`, email)
	if err != nil {
		return nil, fmt.Errorf("recipients by email: %w", err)
	}
	return out, nil
}

// InsertRecipients writes all rows in one statement, ignoring (owner_link_id, email) conflicts.
func (s *Store) InsertRecipients(ctx context.Context, rows []NewRecipient) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var (
		b    strings.Builder
		args = make([]any, 0, len(rows)*4)
	)
	b.WriteString(`INSERT INTO recipients (owner_link_id, email, plan, channel) VALUES `)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&b, "($%d, $%d, NULLIF($%d, ''), $%d)", n+1, n+2, n+3, n+4)
		args = append(args, r.OwnerLinkID, r.Email, r.Plan, string(r.Channel))
	}
	b.WriteString(` ON CONFLICT (owner_link_id, email) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert recipients: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) SetPendingRemoval(ctx context.Context, linkID int64, ids []int64, pending bool) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET pending_removal = $3, updated_at = now() WHERE owner_link_id = $1 AND id = ANY($2)`,
		linkID, pq.Array(ids), pending); err != nil {
		return fmt.Errorf("set pending removal: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecipients(ctx context.Context, linkID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recipients WHERE owner_link_id = $1 AND id = ANY($2)`, linkID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete recipients: %w", err)
	}
	return res.RowsAffected()
}

// UpdateRecipientEmail rewrites one non-pending row's email.
func (s *Store) UpdateRecipientEmail(ctx context.Context, linkID, id int64, email string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET email = $3, updated_at = now() WHERE owner_link_id = $1 AND id = $2 AND NOT pending_removal`,
		linkID, id, email)
	if isDuplicateKey(err) {
		return fmt.Errorf("update recipient email: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("update recipient email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update recipient email: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update recipient email: %w", ErrNotFound)
	}
	return nil
}

func (s *Store) InsertTrialRequest(ctx context.Context, tr TrialRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trial_requests (token, email, product_id, status, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		tr.Token, tr.Email, tr.ProductID, tr.Status, tr.ExpiresAt)
	if isDuplicateKey(err) {
		return fmt.Errorf("insert trial request: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert trial request: %w", err)
	}
	return nil
}

func (s *Store) TrialRequestByToken(ctx context.Context, token string) (TrialRequest, error) {
	var (
		tr                     TrialRequest
		activated, consumed    sql.NullTime
		customer, subscription sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, email, product_id, status, expires_at, activated_at, consumed_at, customer_id, subscription_id, created_at
		FROM trial_requests WHERE token = $1`, token).
		Scan(&tr.Token, &tr.Email, &tr.ProductID, &tr.Status, &tr.ExpiresAt, &activated, &consumed, &customer, &subscription, &tr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TrialRequest{}, ErrNotFound
	}
	if err != nil {
		return TrialRequest{}, fmt.Errorf("trial request by token: %w", err)
	}
	if activated.Valid {
		tr.ActivatedAt = &activated.Time
	}
	if consumed.Valid {
		tr.ConsumedAt = &consumed.Time
	}
	tr.CustomerID = customer.String
	tr.SubscriptionID = subscription.String
	return tr, nil
}

// TransitionTrialRequest applies u only if the row is still in u.From; false means another caller won.
func (s *Store) TransitionTrialRequest(ctx context.Context, token string, u TrialUpdate) (bool, error) {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE trial_requests SET
			status = $3,
			activated_at = CASE WHEN $3 = 'activated' THEN $4 ELSE activated_at END,
			consumed_at = CASE WHEN $3 = 'consumed' THEN $4 ELSE consumed_at END,
			customer_id = COALESCE(NULLIF($5, ''), customer_id),
			subscription_id = COALESCE(NULLIF($6, ''), subscription_id)
		WHERE token = $1 AND status = $2`,
		token, u.From, u.To, at, u.CustomerID, u.SubscriptionID)
	if err != nil {
		return false, fmt.Errorf("transition trial request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition trial request: %w", err)
	}
	return n == 1, nil
}
