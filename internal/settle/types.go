package settle

import (
	"time"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
	"github.com/noah-isme/backend-settle/internal/split"
)

// LineInput is one ordered menu item.
type LineInput struct {
	MenuItemID string `json:"menuItemId" validate:"max=64"`
	Quantity   int    `json:"quantity"`
}

// OpenBillInput is the payload of POST /bills.
type OpenBillInput struct {
	TableID    string      `json:"tableId" validate:"omitempty,max=64"`
	TipPercent int         `json:"tipPercent"`
	Locale     string      `json:"locale" validate:"omitempty,alpha,max=8"`
	Items      []LineInput `json:"items" validate:"max=200,dive"`
}

// OpenSessionInput is the payload of POST /bills/{billID}/sessions.
type OpenSessionInput struct {
	PayerID    string `json:"payerId" validate:"omitempty,max=64"`
	PayerLabel string `json:"payerLabel" validate:"omitempty,max=64"`
	Strategy   string `json:"strategy" validate:"omitempty,oneof=full even by_item"`
	PartySize  int    `json:"partySize"`
	TipPercent int    `json:"tipPercent"`
}

// UpdateSessionInput changes only the fields that are present.
type UpdateSessionInput struct {
	Strategy   *string `json:"strategy" validate:"omitempty,oneof=full even by_item"`
	PartySize  *int    `json:"partySize"`
	TipPercent *int    `json:"tipPercent"`
}

// ToggleInput names one instance by its "menuItemId#index" key.
type ToggleInput struct {
	InstanceID string `json:"instanceId" validate:"required,max=80"`
}

// AdjustInput is a quick-select step for one menu item.
type AdjustInput struct {
	MenuItemID string `json:"menuItemId" validate:"required,max=64"`
	Delta      int    `json:"delta" validate:"oneof=-1 1"`
}

// CommitInput optionally names the amount the payer agreed to. Without it the
// session's last quote is charged.
type CommitInput struct {
	Amount *pricing.Money `json:"amount"`
}

// ExternalInput is a payment taken on a terminal outside any session.
type ExternalInput struct {
	PayerID    string        `json:"payerId" validate:"omitempty,max=64"`
	PayerLabel string        `json:"payerLabel" validate:"omitempty,max=64"`
	Amount     pricing.Money `json:"amount"`
	TipPercent int           `json:"tipPercent"`
}

// BillView is a bill projection with its display context.
type BillView struct {
	bill.Bill
	TableID    string    `json:"tableId,omitempty"`
	Currency   string    `json:"currency"`
	Settled    bool      `json:"settled"`
	TipOptions []int     `json:"tipOptions"`
	OpenedAt   time.Time `json:"openedAt"`
}

// SessionView is a session with its quote against the live bill. Quote is
// nil when the selection contains instances others have paid; those are
// listed in Unavailable.
type SessionView struct {
	ID          string            `json:"id"`
	BillID      string            `json:"billId"`
	PayerID     string            `json:"payerId"`
	PayerLabel  string            `json:"payerLabel"`
	Strategy    bill.Strategy     `json:"strategy"`
	PartySize   int               `json:"partySize"`
	TipPercent  int               `json:"tipPercent"`
	Selected    []bill.InstanceID `json:"selected"`
	Unavailable []bill.InstanceID `json:"unavailable,omitempty"`
	Quote       *split.Proposal   `json:"quote,omitempty"`
	Remaining   pricing.Money     `json:"remaining"`
	Settled     bool              `json:"settled"`
}

// CommitResult is a recorded payment and the bill after it.
type CommitResult struct {
	Payment bill.Payment `json:"payment"`
	Bill    BillView     `json:"bill"`
}

// RefreshedError carries a commit failure together with the session as it
// stands after pruning.
type RefreshedError struct {
	Err     error
	Session SessionView
	Pruned  []bill.InstanceID
}

func (e *RefreshedError) Error() string { return e.Err.Error() }

func (e *RefreshedError) Unwrap() error { return e.Err }
