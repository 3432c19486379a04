package models

import "time"

// Member is a lead record as exposed by the member store.
type Member struct {
	ID        string            `json:"id"                validate:"required"`
	OwnerID   string            `json:"owner_id"          validate:"required"`
	Email     string            `json:"email"             validate:"required,email"`
	Tags      []string          `json:"tags,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// InteractionKind classifies an entry of a member's interaction log.
type InteractionKind string

const (
	InteractionEmailOpened       InteractionKind = "email_opened"
	InteractionLinkClicked       InteractionKind = "link_clicked"
	InteractionPurchase          InteractionKind = "purchase"
	InteractionCustom            InteractionKind = "custom"
	InteractionCartStarted       InteractionKind = "cart_started"
	InteractionCheckoutCompleted InteractionKind = "checkout_completed"
)

// Interaction is one historical event of a member. Ref carries the looked-up
// operand: template ref, url, product name or custom event name.
type Interaction struct {
	ID         string          `json:"id"`
	MemberID   string          `json:"member_id"`
	Kind       InteractionKind `json:"kind"                 validate:"required,oneof=email_opened link_clicked purchase custom cart_started checkout_completed"`
	Ref        string          `json:"ref,omitempty"`
	At         time.Time       `json:"at"                   validate:"required"`
	Properties map[string]any  `json:"properties,omitempty"`
}
