package db

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore mirrors Store's semantics in process memory for service tests.
type MemoryStore struct {
	mu         sync.Mutex
	now        func() time.Time
	identities map[string]string // email -> id
	links      []OwnerLink
	recipients []Recipient
	limits     map[string]int
	trials     map[string]TrialRequest
	nextLink   int64
	nextRecip  int64

	// FailWrites makes every mutating call return an error.
	FailWrites error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        time.Now,
		identities: map[string]string{},
		limits:     map[string]int{},
		trials:     map[string]TrialRequest{},
	}
}

// SetClock overrides the timestamp source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetPlanLimit seeds a plan_limits override.
func (m *MemoryStore) SetPlanLimit(plan string, slots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[plan] = slots
}

// SeedOwnerLink stores l as-is and returns it with an id assigned.
func (m *MemoryStore) SeedOwnerLink(l OwnerLink) OwnerLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLink++
	l.ID = m.nextLink
	if l.Version == 0 {
		l.Version = 1
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = m.now()
	}
	m.links = append(m.links, l)
	return l
}

func (m *MemoryStore) ResolveUserID(_ context.Context, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identities[email], nil
}

func (m *MemoryStore) CreateUser(_ context.Context, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return "", m.FailWrites
	}
	if id, ok := m.identities[email]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.identities[email] = id
	return id, nil
}

func (m *MemoryStore) OwnerLinksByEmail(_ context.Context, email string) ([]OwnerLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OwnerLink
	for _, l := range m.links {
		if strings.EqualFold(l.Email, email) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) OwnerLinksByIDs(_ context.Context, ids []int64) ([]OwnerLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OwnerLink
	for _, l := range m.links {
		if slices.Contains(ids, l.ID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertOwnerLink(_ context.Context, u OwnerLinkUpsert) (OwnerLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return OwnerLink{}, m.FailWrites
	}
	if u.IdentityID == "" {
		return OwnerLink{}, fmt.Errorf("upsert owner link: identity id is required")
	}
	for i, l := range m.links {
		if l.IdentityID != u.IdentityID {
			continue
		}
		l.Email = u.Email
		if u.CustomerID != "" {
			l.CustomerID = u.CustomerID
		}
		if u.SubscriptionID != "" {
			l.SubscriptionID = u.SubscriptionID
		}
		if u.SetPlan {
			l.Plan = u.Plan
		}
		l.Version++
		l.UpdatedAt = m.now()
		m.links[i] = l
		return l, nil
	}
	m.nextLink++
	l := OwnerLink{
		ID:             m.nextLink,
		IdentityID:     u.IdentityID,
		Email:          u.Email,
		CustomerID:     u.CustomerID,
		SubscriptionID: u.SubscriptionID,
		Version:        1,
		UpdatedAt:      m.now(),
	}
	if u.SetPlan {
		l.Plan = u.Plan
	}
	m.links = append(m.links, l)
	return l, nil
}

func (m *MemoryStore) SetPlanByCustomer(_ context.Context, customerID, plan, subscriptionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, m.FailWrites
	}
	var n int64
	for i, l := range m.links {
		if l.CustomerID != customerID || customerID == "" {
			continue
		}
		l.Plan = plan
		if subscriptionID != "" {
			l.SubscriptionID = subscriptionID
		}
		l.Version++
		l.UpdatedAt = m.now()
		m.links[i] = l
		n++
	}
	return n, nil
}

func (m *MemoryStore) BumpOwnerLinkVersion(_ context.Context, id, version int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.links {
		if l.ID != id {
			continue
		}
		if l.Version != version {
			return 0, ErrVersionConflict
		}
		m.links[i].Version++
		return m.links[i].Version, nil
	}
	return 0, ErrVersionConflict
}

func (m *MemoryStore) PlanBaseSlots(_ context.Context, plan string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slots, ok := m.limits[plan]
	return slots, ok, nil
}

func (m *MemoryStore) RecipientsByLink(_ context.Context, linkID int64) ([]Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recipient
	for _, r := range m.recipients {
		if r.OwnerLinkID == linkID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecipientsByEmail(_ context.Context, email string) ([]Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recipient
	for _, r := range m.recipients {
		if r.Email == email {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertRecipients(_ context.Context, rows []NewRecipient) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, m.FailWrites
	}
	var n int64
	for _, nr := range rows {
		if m.indexRecipient(nr.OwnerLinkID, nr.Email) >= 0 {
			continue
		}
		m.nextRecip++
		now := m.now()
		m.recipients = append(m.recipients, Recipient{
			ID:          m.nextRecip,
			OwnerLinkID: nr.OwnerLinkID,
			Email:       nr.Email,
			Plan:        nr.Plan,
			Channel:     nr.Channel,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		n++
	}
	return n, nil
}

func (m *MemoryStore) indexRecipient(linkID int64, email string) int {
	for i, r := range m.recipients {
		if r.OwnerLinkID == linkID && r.Email == email {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) SetPendingRemoval(_ context.Context, linkID int64, ids []int64, pending bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	for i, r := range m.recipients {
		if r.OwnerLinkID == linkID && slices.Contains(ids, r.ID) {
			m.recipients[i].PendingRemoval = pending
			m.recipients[i].UpdatedAt = m.now()
		}
	}
	return nil
}

func (m *MemoryStore) DeleteRecipients(_ context.Context, linkID int64, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, m.FailWrites
	}
	before := len(m.recipients)
	m.recipients = slices.DeleteFunc(m.recipients, func(r Recipient) bool {
		return r.OwnerLinkID == linkID && slices.Contains(ids, r.ID)
	})
	return int64(before - len(m.recipients)), nil
}

func (m *MemoryStore) UpdateRecipientEmail(_ context.Context, linkID, id int64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if j := m.indexRecipient(linkID, email); j >= 0 && m.recipients[j].ID != id {
		return fmt.Errorf("update recipient email: %w", ErrDuplicate)
	}
	for i, r := range m.recipients {
		if r.OwnerLinkID == linkID && r.ID == id && !r.PendingRemoval {
			m.recipients[i].Email = email
			m.recipients[i].UpdatedAt = m.now()
			return nil
		}
	}
	return fmt.Errorf("update recipient email: %w", ErrNotFound)
}

func (m *MemoryStore) InsertTrialRequest(_ context.Context, tr TrialRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.trials[tr.Token]; ok {
		return fmt.Errorf("insert trial request: %w", ErrDuplicate)
	}
	tr.CreatedAt = m.now()
	m.trials[tr.Token] = tr
	return nil
}

func (m *MemoryStore) TrialRequestByToken(_ context.Context, token string) (TrialRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.trials[token]
	if !ok {
		return TrialRequest{}, ErrNotFound
	}
	return tr, nil
}

func (m *MemoryStore) TransitionTrialRequest(_ context.Context, token string, u TrialUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return false, m.FailWrites
	}
	tr, ok := m.trials[token]
	if !ok || tr.Status != u.From {
		return false, nil
	}
	at := u.At
	if at.IsZero() {
		at = m.now()
	}
	tr.Status = u.To
	switch u.To {
	case "activated":
		tr.ActivatedAt = &at
	case "consumed":
		tr.ConsumedAt = &at
	}
	if u.CustomerID != "" {
		tr.CustomerID = u.CustomerID
	}
	if u.SubscriptionID != "" {
		tr.SubscriptionID = u.SubscriptionID
	}
	m.trials[token] = tr
	return true, nil
}

// Recipients returns a snapshot of every stored recipient row.
func (m *MemoryStore) Recipients() []Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.recipients)
}

// OwnerLinks returns a snapshot of every stored owner link.
func (m *MemoryStore) OwnerLinks() []OwnerLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.links)
}
