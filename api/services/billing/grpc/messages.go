package grpcserver

// Request messages. Field tags drive both the JSON wire shape and validation.

type SubscriptionRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Refresh bool   `json:"refresh"`
}

type OwnerRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type AddRecipientsRequest struct {
	OwnerEmail string   `json:"owner_email" validate:"required,email"`
	Emails     []string `json:"emails" validate:"required,min=1,max=50,dive,required"`
}

type PurchaseAddonRequest struct {
	OwnerEmail       string   `json:"owner_email" validate:"required,email"`
	Plan             string   `json:"plan" validate:"required,oneof=lite business"`
	Quantity         int      `json:"quantity"`
	AdditionalEmails []string `json:"additional_emails" validate:"max=20,dive,required"`
}

type RemoveRecipientsRequest struct {
	OwnerEmail string   `json:"owner_email" validate:"required,email"`
	Emails     []string `json:"emails" validate:"required,min=1,max=50,dive,required"`
}

type ChangeRecipientEmailRequest struct {
	OwnerEmail string `json:"owner_email" validate:"required,email"`
	OldEmail   string `json:"old_email" validate:"required"`
	NewEmail   string `json:"new_email" validate:"required"`
}

type PortalSessionRequest struct {
	OwnerEmail string `json:"owner_email" validate:"required,email"`
}

type CheckoutRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Plan     string `json:"plan" validate:"required,oneof=lite business"`
	Interval string `json:"interval" validate:"omitempty,oneof=month year"`
}

type TrialRequest struct {
	Email     string `json:"email" validate:"required,email"`
	ProductID string `json:"product_id"`
}

type ActivateTrialRequest struct {
	Token string `json:"token"`
}

type WebhookRequest struct {
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
}

// Response messages not covered by app result types.

type URLResponse struct {
	URL string `json:"url"`
}

type ChangeRecipientEmailResponse struct {
	Changed bool `json:"changed"`
}

type ActivateTrialResponse struct {
	Outcome     string `json:"outcome"`
	RedirectURL string `json:"redirect_url"`
}
