package events

import (
	"time"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
)

// BillOpened is the payload of TopicBillOpened.
type BillOpened struct {
	TableID string        `json:"tableId,omitempty"`
	Total   pricing.Money `json:"total"`
	Units   int           `json:"units"`
}

// PaymentCommitted is the payload of TopicPaymentCommitted.
type PaymentCommitted struct {
	TableID   string        `json:"tableId,omitempty"`
	Payment   bill.Payment  `json:"payment"`
	Remaining pricing.Money `json:"remaining"`
	Settled   bool          `json:"settled"`
}

// CommitConflict is the payload of TopicCommitConflict.
type CommitConflict struct {
	SessionID string            `json:"sessionId,omitempty"`
	PayerID   string            `json:"payerId"`
	Instances []bill.InstanceID `json:"instances,omitempty"`
	Stale     bool              `json:"stale"`
}

// BillSettled is the payload of TopicBillSettled.
type BillSettled struct {
	TableID   string        `json:"tableId,omitempty"`
	Paid      pricing.Money `json:"paid"`
	Payments  int           `json:"payments"`
	Reason    string        `json:"reason"`
	SettledAt time.Time     `json:"settledAt"`
}
