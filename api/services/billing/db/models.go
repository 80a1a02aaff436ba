package db

import "time"

// Channel records how a recipient row was created.
type Channel string

const (
	ChannelInitial Channel = "initial"
	ChannelAddon   Channel = "addon"
)

// OwnerLink links an identity to a processor customer. Empty strings stand for NULL columns.
type OwnerLink struct {
	ID             int64
	IdentityID     string
	Email          string
	CustomerID     string
	SubscriptionID string
	Plan           string
	Version        int64
	UpdatedAt      time.Time
}

// OwnerLinkUpsert is keyed by IdentityID. Empty CustomerID/SubscriptionID keep
// the stored values; Plan is only written when SetPlan is true.
type OwnerLinkUpsert struct {
	IdentityID     string
	Email          string
	CustomerID     string
	SubscriptionID string
	Plan           string
	SetPlan        bool
}

// Recipient is one newsletter destination under an owner link.
type Recipient struct {
	ID             int64
	OwnerLinkID    int64
	Email          string
	Plan           string
	Channel        Channel
	PendingRemoval bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type NewRecipient struct {
	OwnerLinkID int64
	Email       string
	Plan        string
	Channel     Channel
}

// TrialRequest is one single-use trial activation token.
type TrialRequest struct {
	Token          string
	Email          string
	ProductID      string
	Status         string
	ExpiresAt      time.Time
	ActivatedAt    *time.Time
	ConsumedAt     *time.Time
	CustomerID     string
	SubscriptionID string
	CreatedAt      time.Time
}

// TrialUpdate moves a trial request from one status to another. The update
// only applies while the stored status still equals From.
type TrialUpdate struct {
	From           string
	To             string
	At             time.Time
	CustomerID     string
	SubscriptionID string
}
