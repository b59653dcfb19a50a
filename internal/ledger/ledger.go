package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
	"github.com/noah-isme/backend-settle/internal/settlement"
	"github.com/noah-isme/backend-settle/internal/split"
)

// Config holds the arithmetic and policy shared by every bill.
type Config struct {
	// Rates carries the service rate and the bill's default tip.
	Rates    pricing.Rates
	Resolver split.Resolver
	Epsilon  pricing.Money
	Now      func() time.Time
	NewID    func() string
}

func (c Config) withDefaults() Config {
	if c.Resolver.PartyMax == 0 {
		c.Resolver = split.DefaultResolver()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}

// CommitRequest describes a payment to record.
type CommitRequest struct {
	PayerID    string
	PayerLabel string
	Amount     pricing.Money
	Strategy   bill.Strategy
	PartySize  int
	TipPercent int
	Claims     []bill.InstanceID
}

// Ledger is the append-only payment record of one bill. Commits are
// serialized; reads observe a consistent snapshot.
type Ledger struct {
	id       string
	items    []bill.BillItem
	cfg      Config
	detector settlement.Detector
	opened   time.Time

	mu       sync.Mutex
	payments []bill.Payment
	claims   bill.Claims
	even     *split.EvenPlan
	settled  bool
}

// New opens a ledger for items.
func New(id string, items []bill.BillItem, cfg Config) (*Ledger, error) {
	cfg = cfg.withDefaults()
	norm, err := bill.Normalize(items)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		id:       id,
		items:    norm,
		cfg:      cfg,
		detector: settlement.Detector{Epsilon: cfg.Epsilon},
		opened:   cfg.Now().UTC(),
		claims:   make(bill.Claims),
	}
	return l, nil
}

// ID returns the bill identifier.
func (l *Ledger) ID() string { return l.id }

// OpenedAt returns when the ledger was created.
func (l *Ledger) OpenedAt() time.Time { return l.opened }

// DefaultTip returns the tip percent the bill was opened with.
func (l *Ledger) DefaultTip() int { return l.cfg.Rates.TipPercent }

// Items returns the normalized bill lines.
func (l *Ledger) Items() []bill.BillItem {
	out := make([]bill.BillItem, len(l.items))
	copy(out, l.items)
	return out
}

// View returns a snapshot for quoting at tipPercent; zero selects the default tip.
func (l *Ledger) View(tipPercent int) split.View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked(tipPercent)
}

// Bill returns the outstanding bill at tipPercent; zero selects the default tip.
func (l *Ledger) Bill(tipPercent int) bill.Bill {
	return l.View(tipPercent).Bill
}

// Instances returns every unit with its paid flag.
func (l *Ledger) Instances() []bill.ItemInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return bill.Expand(l.items, l.claims)
}

// Payments returns committed payments in commit order.
func (l *Ledger) Payments() []bill.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bill.Payment, len(l.payments))
	copy(out, l.payments)
	return out
}

// Settled reports whether the bill reached its terminal state.
func (l *Ledger) Settled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled || l.detector.IsSettled(l.viewLocked(0).Bill)
}

// Status returns the settlement verdict at the default tip.
func (l *Ledger) Status() settlement.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.detector.Check(l.viewLocked(0).Bill)
	if l.settled && !st.Settled {
		st.Settled = true
	}
	return st
}

func (l *Ledger) viewLocked(tipPercent int) split.View {
	if tipPercent == 0 {
		tipPercent = l.cfg.Rates.TipPercent
	}
	rates := l.cfg.Rates.WithTip(tipPercent)
	b := bill.Project(l.items, l.payments, rates)
	b.ID = l.id
	v := split.View{
		Bill:      b,
		Instances: bill.Expand(l.items, l.claims),
		Rates:     rates,
	}
	if l.even != nil {
		plan := *l.even
		v.Even = &plan
	}
	return v
}

// Commit records a payment. Strategy-priced payments are re-quoted against
// the live state and rejected with a ConflictError when the quote moved.
func (l *Ledger) Commit(ctx context.Context, req CommitRequest) (bill.Payment, error) {
	if err := ctx.Err(); err != nil {
		return bill.Payment{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.settled || l.detector.IsSettled(l.viewLocked(0).Bill) {
		l.settled = true
		return bill.Payment{}, ErrBillAlreadySettled
	}
	if req.Amount < 0 {
		return bill.Payment{}, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	}
	if req.Strategy == "" {
		req.Strategy = bill.StrategyExternal
	}
	if !req.Strategy.Valid() {
		return bill.Payment{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidCommit, req.Strategy)
	}

	v := l.viewLocked(req.TipPercent)
	var (
		p   split.Proposal
		err error
	)
	switch req.Strategy {
	case bill.StrategyExternal:
		p, err = l.external(v, req)
	case bill.StrategyByItem:
		if err = l.checkClaims(v, req.Claims); err != nil {
			return bill.Payment{}, err
		}
		p, err = l.cfg.Resolver.Resolve(v, req.Strategy, 0, req.Claims)
	case bill.StrategyFull, bill.StrategyEven:
		p, err = l.cfg.Resolver.Resolve(v, req.Strategy, req.PartySize, nil)
	}
	if err != nil {
		return bill.Payment{}, err
	}
	if err := p.CheckCommittable(); err != nil {
		return bill.Payment{}, err
	}
	if req.Amount > v.Bill.Remaining+l.cfg.Epsilon {
		return bill.Payment{}, &OverpaymentError{Amount: req.Amount, Remaining: v.Bill.Remaining}
	}
	if req.Strategy != bill.StrategyExternal && req.Amount != p.Amount {
		return bill.Payment{}, &ConflictError{Expected: p.Amount, Got: req.Amount, Stale: true}
	}

	pay := bill.Payment{
		ID:            l.cfg.NewID(),
		PayerID:       req.PayerID,
		PayerLabel:    req.PayerLabel,
		Amount:        req.Amount,
		Strategy:      req.Strategy,
		TipPercent:    v.Rates.TipPercent,
		CreditApplied: p.CreditApplied,
		CommittedAt:   l.cfg.Now().UTC(),
	}
	if len(p.Claims) > 0 {
		pay.Claims = append([]bill.InstanceID(nil), p.Claims...)
	}
	if req.Strategy == bill.StrategyEven {
		pay.PartySize, pay.ShareIndex = p.PartySize, p.ShareIndex
	}

	l.payments = append(l.payments, pay)
	for _, id := range pay.Claims {
		l.claims[id] = pay.ID
	}
	l.advanceEven(req.Strategy, p)
	l.settled = l.detector.IsSettled(l.viewLocked(0).Bill)
	return pay, nil
}

// external prices a payment made outside any split session. A payment that
// covers the remaining balance claims every unpaid instance.
func (l *Ledger) external(v split.View, req CommitRequest) (split.Proposal, error) {
	if len(req.Claims) > 0 {
		return split.Proposal{}, fmt.Errorf("%w: external payments cannot claim items", ErrInvalidCommit)
	}
	if req.Amount == 0 {
		return split.Proposal{}, fmt.Errorf("%w: zero", ErrInvalidAmount)
	}
	p := split.Proposal{
		Strategy:    bill.StrategyExternal,
		Amount:      req.Amount,
		TipPercent:  v.Rates.TipPercent,
		Committable: true,
	}
	if req.Amount >= v.Bill.Remaining {
		p.Claims = bill.IDs(bill.Unpaid(v.Instances))
		p.CreditApplied = v.Bill.Credit
	}
	return p, nil
}

func (l *Ledger) checkClaims(v split.View, ids []bill.InstanceID) error {
	if len(ids) == 0 {
		return split.ErrEmptySelection
	}
	known := make(map[bill.InstanceID]bool, len(v.Instances))
	for _, inst := range v.Instances {
		known[inst.ID()] = inst.Paid
	}
	seen := make(map[bill.InstanceID]struct{}, len(ids))
	var taken []bill.InstanceID
	for _, id := range ids {
		paid, ok := known[id]
		if !ok {
			return fmt.Errorf("%w: %s", split.ErrUnknownInstance, id.Key())
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s claimed twice", ErrInvalidCommit, id.Key())
		}
		seen[id] = struct{}{}
		if paid {
			taken = append(taken, id)
		}
	}
	if len(taken) > 0 {
		return &ConflictError{Instances: taken}
	}
	return nil
}

func (l *Ledger) advanceEven(strategy bill.Strategy, p split.Proposal) {
	if strategy != bill.StrategyEven || len(p.Claims) > 0 {
		l.even = nil
		return
	}
	if p.ShareIndex > 1 && l.even != nil {
		l.even.SharesPaid++
		return
	}
	l.even = &split.EvenPlan{
		PartySize:  p.PartySize,
		TipPercent: p.TipPercent,
		Base:       p.ShareBase,
		SharesPaid: 1,
	}
}
