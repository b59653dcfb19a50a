package bill

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/backend-settle/internal/pricing"
)

var (
	// ErrEmptyOrder is returned when a bill is requested without items.
	ErrEmptyOrder = errors.New("bill: order has no items")
	// ErrInvalidItem is returned for malformed bill lines.
	ErrInvalidItem = errors.New("bill: invalid item")
)

// Strategy identifies how a payment was computed.
type Strategy string

const (
	StrategyFull     Strategy = "full"
	StrategyEven     Strategy = "even"
	StrategyByItem   Strategy = "by_item"
	StrategyExternal Strategy = "external"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFull, StrategyEven, StrategyByItem, StrategyExternal:
		return true
	}
	return false
}

// BillItem is an aggregated order line.
type BillItem struct {
	MenuItemID string        `json:"menuItemId"`
	Name       string        `json:"name"`
	UnitPrice  pricing.Money `json:"unitPrice"`
	Quantity   int           `json:"quantity"`
}

// InstanceID addresses one unit of a bill line.
type InstanceID struct {
	MenuItemID string `json:"menuItemId"`
	Index      int    `json:"index"`
}

// Key renders the id as "menuItemId#index".
func (id InstanceID) Key() string {
	return id.MenuItemID + "#" + strconv.Itoa(id.Index)
}

func (id InstanceID) String() string { return id.Key() }

// ParseInstanceID is the inverse of Key.
func ParseInstanceID(key string) (InstanceID, error) {
	i := strings.LastIndex(key, "#")
	if i <= 0 || i == len(key)-1 {
		return InstanceID{}, fmt.Errorf("bill: malformed instance id %q", key)
	}
	idx, err := strconv.Atoi(key[i+1:])
	if err != nil || idx < 0 {
		return InstanceID{}, fmt.Errorf("bill: malformed instance id %q", key)
	}
	return InstanceID{MenuItemID: key[:i], Index: idx}, nil
}

// ItemInstance is a derived, individually addressable unit.
type ItemInstance struct {
	MenuItemID    string        `json:"menuItemId"`
	InstanceIndex int           `json:"instanceIndex"`
	Name          string        `json:"name"`
	UnitPrice     pricing.Money `json:"unitPrice"`
	Paid          bool          `json:"paid"`
	PaymentID     string        `json:"paymentId,omitempty"`
}

// ID returns the instance identifier.
func (i ItemInstance) ID() InstanceID {
	return InstanceID{MenuItemID: i.MenuItemID, Index: i.InstanceIndex}
}

// Payment is an append-only ledger entry.
type Payment struct {
	ID            string        `json:"id"`
	PayerID       string        `json:"payerId"`
	PayerLabel    string        `json:"payerLabel"`
	Amount        pricing.Money `json:"amount"`
	Strategy      Strategy      `json:"strategy"`
	TipPercent    int           `json:"tipPercent"`
	PartySize     int           `json:"partySize,omitempty"`
	ShareIndex    int           `json:"shareIndex,omitempty"`
	CreditApplied pricing.Money `json:"creditApplied,omitempty"`
	Claims        []InstanceID  `json:"claims,omitempty"`
	CommittedAt   time.Time     `json:"committedAt"`
}

// Bill is the outstanding view of an order at a given tip percentage.
type Bill struct {
	ID               string        `json:"id,omitempty"`
	Items            []BillItem    `json:"items"`
	Subtotal         pricing.Money `json:"subtotal"`
	ServiceCharge    pricing.Money `json:"serviceCharge"`
	Tip              pricing.Money `json:"tip"`
	TipPercent       int           `json:"tipPercent"`
	Total            pricing.Money `json:"total"`
	Paid             pricing.Money `json:"paid"`
	Credit           pricing.Money `json:"credit"`
	Remaining        pricing.Money `json:"remaining"`
	OutstandingUnits int           `json:"outstandingUnits"`
	Payments         []Payment     `json:"payments"`
}
