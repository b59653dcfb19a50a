package settle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/events"
	"github.com/noah-isme/backend-settle/internal/ledger"
	"github.com/noah-isme/backend-settle/internal/menu"
	"github.com/noah-isme/backend-settle/internal/obs"
	"github.com/noah-isme/backend-settle/internal/pricing"
	"github.com/noah-isme/backend-settle/internal/settlement"
	"github.com/noah-isme/backend-settle/internal/split"
)

var (
	ErrBillNotFound    = errors.New("settle: bill not found")
	ErrSessionNotFound = errors.New("settle: session not found")
	// ErrCommitInProgress rejects a second commit of a session whose first
	// commit has not finished.
	ErrCommitInProgress = errors.New("settle: session commit in progress")
)

// Config wires the service's policy and collaborators.
type Config struct {
	Ledger   ledger.Config
	Tip      pricing.TipPolicy
	Currency string
	Catalog  menu.Catalog
	Events   *events.Bus
	Metrics  *obs.SettlementMetrics
	NewID    func() string
}

// Service holds open bills and the payers' split sessions in memory.
type Service struct {
	cfg    Config
	tracer trace.Tracer

	mu         sync.RWMutex
	bills      map[string]*tab
	sessions   map[string]*split.Session
	committing map[string]struct{}
}

// tab is one open bill plus the payers seen on it.
type tab struct {
	ledger  *ledger.Ledger
	tableID string

	mu        sync.Mutex
	labels    map[string]string
	guests    int
	announced bool
}

// label returns the display name for payerID, numbering anonymous payers
// "Customer N" in arrival order.
func (t *tab) label(payerID, given string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if given = strings.TrimSpace(given); given != "" {
		t.labels[payerID] = given
		return given
	}
	if l, ok := t.labels[payerID]; ok {
		return l
	}
	t.guests++
	l := fmt.Sprintf("Customer %d", t.guests)
	t.labels[payerID] = l
	return l
}

// NewService constructs a Service. A nil catalog falls back to the demo menu.
func NewService(cfg Config) *Service {
	if cfg.Catalog == nil {
		cfg.Catalog = menu.Demo()
	}
	if cfg.Tip == (pricing.TipPolicy{}) {
		cfg.Tip = pricing.DefaultTipPolicy()
	}
	if cfg.Ledger.Resolver.PartyMax == 0 {
		cfg.Ledger.Resolver = split.DefaultResolver()
	}
	if cfg.Ledger.Rates.TipPercent == 0 {
		cfg.Ledger.Rates.TipPercent = cfg.Tip.Default
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Service{
		cfg:      cfg,
		tracer:   otel.Tracer("settle.Service"),
		bills:      make(map[string]*tab),
		sessions:   make(map[string]*split.Session),
		committing: make(map[string]struct{}),
	}
}

// OpenBills returns the number of bills held in memory.
func (s *Service) OpenBills() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bills)
}

// TipPolicy exposes the configured tip bounds.
func (s *Service) TipPolicy() pricing.TipPolicy { return s.cfg.Tip }

// OpenBill prices the ordered lines against the catalog and opens a ledger.
func (s *Service) OpenBill(ctx context.Context, in OpenBillInput) (BillView, error) {
	ctx, span := s.tracer.Start(ctx, "SettleService.OpenBill")
	defer span.End()

	tip := in.TipPercent
	if tip == 0 {
		tip = s.cfg.Tip.Default
	}
	if err := s.cfg.Tip.Validate(tip); err != nil {
		return BillView{}, fail(span, err)
	}
	locale := in.Locale
	if locale == "" {
		locale = menu.DefaultLocale
	}
	items := make([]bill.BillItem, 0, len(in.Items))
	for _, line := range in.Items {
		mi, err := s.cfg.Catalog.Lookup(ctx, strings.TrimSpace(line.MenuItemID))
		if err != nil {
			return BillView{}, fail(span, err)
		}
		items = append(items, bill.BillItem{
			MenuItemID: mi.ID,
			Name:       mi.Title(locale),
			UnitPrice:  mi.Price,
			Quantity:   line.Quantity,
		})
	}

	lc := s.cfg.Ledger
	lc.Rates = lc.Rates.WithTip(tip)
	l, err := ledger.New(s.cfg.NewID(), items, lc)
	if err != nil {
		return BillView{}, fail(span, err)
	}
	t := &tab{ledger: l, tableID: strings.TrimSpace(in.TableID), labels: make(map[string]string)}

	s.mu.Lock()
	s.bills[l.ID()] = t
	s.mu.Unlock()

	span.SetAttributes(attribute.String("bill.id", l.ID()), attribute.Int("bill.lines", len(items)))
	s.cfg.Metrics.BillOpened()

	view := s.billView(t, 0)
	s.emit(ctx, events.TopicBillOpened, l.ID(), events.BillOpened{
		TableID: t.tableID,
		Total:   view.Total,
		Units:   view.OutstandingUnits,
	})
	obs.Logger(ctx).Info().
		Str("bill_id", l.ID()).
		Str("table_id", t.tableID).
		Int64("total", view.Total).
		Msg("bill_opened")
	return view, nil
}

// Bill returns the outstanding bill at tipPercent; zero selects the bill's tip.
func (s *Service) Bill(ctx context.Context, billID string, tipPercent int) (BillView, error) {
	_, span := s.tracer.Start(ctx, "SettleService.Bill", trace.WithAttributes(attribute.String("bill.id", billID)))
	defer span.End()
	t, err := s.tab(billID)
	if err != nil {
		return BillView{}, fail(span, err)
	}
	if tipPercent != 0 {
		if err := s.cfg.Tip.Validate(tipPercent); err != nil {
			return BillView{}, fail(span, err)
		}
	}
	return s.billView(t, tipPercent), nil
}

// Instances lists every unit of the bill with its paid flag.
func (s *Service) Instances(_ context.Context, billID string) ([]bill.ItemInstance, error) {
	t, err := s.tab(billID)
	if err != nil {
		return nil, err
	}
	return t.ledger.Instances(), nil
}

// Payments lists committed payments in commit order.
func (s *Service) Payments(_ context.Context, billID string) ([]bill.Payment, error) {
	t, err := s.tab(billID)
	if err != nil {
		return nil, err
	}
	return t.ledger.Payments(), nil
}

// Settlement reports whether the bill is settled.
func (s *Service) Settlement(_ context.Context, billID string) (settlement.Status, error) {
	t, err := s.tab(billID)
	if err != nil {
		return settlement.Status{}, err
	}
	return t.ledger.Status(), nil
}

// OpenSession starts a payer's split session on an unsettled bill.
func (s *Service) OpenSession(ctx context.Context, billID string, in OpenSessionInput) (SessionView, error) {
	_, span := s.tracer.Start(ctx, "SettleService.OpenSession", trace.WithAttributes(attribute.String("bill.id", billID)))
	defer span.End()

	t, err := s.tab(billID)
	if err != nil {
		return SessionView{}, fail(span, err)
	}
	if t.ledger.Settled() {
		return SessionView{}, fail(span, ledger.ErrBillAlreadySettled)
	}
	tip := in.TipPercent
	if tip == 0 {
		tip = t.ledger.DefaultTip()
	}
	if err := s.cfg.Tip.Validate(tip); err != nil {
		return SessionView{}, fail(span, err)
	}
	payerID := strings.TrimSpace(in.PayerID)
	if payerID == "" {
		payerID = "payer-" + s.cfg.NewID()
	}
	sess := split.NewSession(s.cfg.NewID(), billID, payerID, t.label(payerID, in.PayerLabel), tip)
	if in.Strategy != "" {
		if err := s.applyStrategy(sess, bill.Strategy(in.Strategy), in.PartySize); err != nil {
			return SessionView{}, fail(span, err)
		}
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	view, err := s.sessionView(t, sess)
	s.mu.Unlock()
	if err != nil {
		return SessionView{}, fail(span, err)
	}
	s.cfg.Metrics.SessionDelta(1)
	span.SetAttributes(attribute.String("session.id", sess.ID), attribute.String("split.strategy", string(sess.Strategy)))
	return view, nil
}

// Session returns the session with a quote against the live bill.
func (s *Service) Session(_ context.Context, billID, sessionID string) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, sess, err := s.lookup(billID, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.sessionView(t, sess)
}

// UpdateSession changes the strategy, party size or tip of a session.
func (s *Service) UpdateSession(ctx context.Context, billID, sessionID string, in UpdateSessionInput) (SessionView, error) {
	_, span := s.tracer.Start(ctx, "SettleService.UpdateSession", trace.WithAttributes(attribute.String("bill.id", billID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	t, sess, err := s.lookup(billID, sessionID)
	if err != nil {
		return SessionView{}, fail(span, err)
	}
	if in.TipPercent != nil {
		if err := sess.SetTipPercent(*in.TipPercent, s.cfg.Tip); err != nil {
			return SessionView{}, fail(span, err)
		}
	}
	strategy := sess.Strategy
	if in.Strategy != nil {
		strategy = bill.Strategy(*in.Strategy)
	}
	partySize := 0
	if in.PartySize != nil {
		partySize = *in.PartySize
	}
	if in.Strategy != nil || in.PartySize != nil {
		if err := s.applyStrategy(sess, strategy, partySize); err != nil {
			return SessionView{}, fail(span, err)
		}
	}
	return s.sessionView(t, sess)
}

// Toggle flips one instance in a by-item selection. Toggling switches the
// session to the by-item strategy.
func (s *Service) Toggle(_ context.Context, billID, sessionID, instanceKey string) (SessionView, error) {
	id, err := bill.ParseInstanceID(strings.TrimSpace(instanceKey))
	if err != nil {
		return SessionView{}, fmt.Errorf("%w: %v", split.ErrUnknownInstance, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, sess, err := s.lookup(billID, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.Toggle(id, t.ledger.Instances()); err != nil {
		return SessionView{}, err
	}
	sess.Strategy = bill.StrategyByItem
	return s.sessionView(t, sess)
}

// Adjust selects or releases one unit of menuItemID (quick select).
func (s *Service) Adjust(_ context.Context, billID, sessionID, menuItemID string, delta int) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, sess, err := s.lookup(billID, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.Adjust(strings.TrimSpace(menuItemID), delta, t.ledger.Instances()); err != nil {
		return SessionView{}, err
	}
	sess.Strategy = bill.StrategyByItem
	return s.sessionView(t, sess)
}

// CancelSession discards a session without paying.
func (s *Service) CancelSession(_ context.Context, billID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, err := s.lookup(billID, sessionID); err != nil {
		return err
	}
	delete(s.sessions, sessionID)
	s.cfg.Metrics.SessionDelta(-1)
	return nil
}

// Commit pays the session's quote. Without in.Amount the amount last quoted
// to the payer is charged; either way it must still match the live quote.
// A session commits at most once: a concurrent second commit fails with
// ErrCommitInProgress and a later one finds the session gone. When the bill
// moved underneath the quote the session is refreshed and returned inside a
// *RefreshedError.
func (s *Service) Commit(ctx context.Context, billID, sessionID string, in CommitInput) (CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "SettleService.Commit", trace.WithAttributes(
		attribute.String("bill.id", billID),
		attribute.String("session.id", sessionID),
	))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	t, sess, err := s.lookup(billID, sessionID)
	if err != nil {
		s.mu.Unlock()
		return CommitResult{}, fail(span, err)
	}
	if _, busy := s.committing[sessionID]; busy {
		s.mu.Unlock()
		return CommitResult{}, fail(span, fmt.Errorf("%w: %s", ErrCommitInProgress, sessionID))
	}
	v := t.ledger.View(sess.TipPercent)
	req := ledger.CommitRequest{
		PayerID:    sess.PayerID,
		PayerLabel: sess.PayerLabel,
		Strategy:   sess.Strategy,
		PartySize:  sess.PartySize,
		TipPercent: sess.TipPercent,
	}
	if sess.Strategy == bill.StrategyByItem {
		req.Claims = sess.Selected(v.Instances)
	}
	if in.Amount != nil {
		req.Amount = *in.Amount
	} else if amount, ok := sess.Pinned(); ok {
		req.Amount = amount
	} else if p, err := s.cfg.Ledger.Resolver.Quote(sess, v); err == nil {
		req.Amount = p.Amount
	}
	s.committing[sessionID] = struct{}{}
	s.mu.Unlock()
	span.SetAttributes(attribute.String("split.strategy", string(req.Strategy)), attribute.Int64("payment.amount", req.Amount))

	pay, err := t.ledger.Commit(ctx, req)
	s.cfg.Metrics.ObserveCommit(string(req.Strategy), commitResult(err), time.Since(start))

	s.mu.Lock()
	delete(s.committing, sessionID)
	if err == nil {
		delete(s.sessions, sessionID)
		s.cfg.Metrics.SessionDelta(-1)
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, ledger.ErrConflict) || errors.Is(err, ledger.ErrOverpayment) {
			return CommitResult{}, fail(span, s.refresh(ctx, t, sessionID, err))
		}
		return CommitResult{}, fail(span, err)
	}
	return s.committed(ctx, t, pay), nil
}

// ExternalPayment records an amount paid on a terminal outside any session.
func (s *Service) ExternalPayment(ctx context.Context, billID string, in ExternalInput) (CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "SettleService.ExternalPayment", trace.WithAttributes(attribute.String("bill.id", billID)))
	defer span.End()
	start := time.Now()

	t, err := s.tab(billID)
	if err != nil {
		return CommitResult{}, fail(span, err)
	}
	if in.TipPercent != 0 {
		if err := s.cfg.Tip.Validate(in.TipPercent); err != nil {
			return CommitResult{}, fail(span, err)
		}
	}
	payerID := strings.TrimSpace(in.PayerID)
	if payerID == "" {
		payerID = "terminal-" + s.cfg.NewID()
	}
	pay, err := t.ledger.Commit(ctx, ledger.CommitRequest{
		PayerID:    payerID,
		PayerLabel: t.label(payerID, in.PayerLabel),
		Amount:     in.Amount,
		Strategy:   bill.StrategyExternal,
		TipPercent: in.TipPercent,
	})
	s.cfg.Metrics.ObserveCommit(string(bill.StrategyExternal), commitResult(err), time.Since(start))
	if err != nil {
		return CommitResult{}, fail(span, err)
	}
	return s.committed(ctx, t, pay), nil
}

// refresh prunes the session after a rejected commit and wraps cause with
// the session's new quote. Only conflicts are announced.
func (s *Service) refresh(ctx context.Context, t *tab, sessionID string, cause error) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return cause
	}
	dropped := sess.Prune(t.ledger.Instances())
	view, err := s.sessionView(t, sess)
	payerID := sess.PayerID
	s.mu.Unlock()
	if err != nil {
		return cause
	}

	var conflict *ledger.ConflictError
	if !errors.As(cause, &conflict) {
		return &RefreshedError{Err: cause, Session: view, Pruned: dropped}
	}
	stale := conflict.Stale
	s.emit(ctx, events.TopicCommitConflict, t.ledger.ID(), events.CommitConflict{
		SessionID: sessionID,
		PayerID:   payerID,
		Instances: dropped,
		Stale:     stale,
	})
	obs.Logger(ctx).Warn().
		Str("bill_id", t.ledger.ID()).
		Str("session_id", sessionID).
		Int("pruned", len(dropped)).
		Bool("stale", stale).
		Msg("commit_conflict")
	return &RefreshedError{Err: cause, Session: view, Pruned: dropped}
}

// committed publishes a recorded payment and announces settlement once.
func (s *Service) committed(ctx context.Context, t *tab, pay bill.Payment) CommitResult {
	view := s.billView(t, 0)
	id := t.ledger.ID()
	s.emit(ctx, events.TopicPaymentCommitted, id, events.PaymentCommitted{
		TableID:   t.tableID,
		Payment:   pay,
		Remaining: view.Remaining,
		Settled:   view.Settled,
	})
	obs.Logger(ctx).Info().
		Str("bill_id", id).
		Str("payment_id", pay.ID).
		Str("payer_id", pay.PayerID).
		Str("strategy", string(pay.Strategy)).
		Int64("amount", pay.Amount).
		Int64("remaining", view.Remaining).
		Msg("payment_committed")

	if view.Settled {
		t.mu.Lock()
		first := !t.announced
		t.announced = true
		t.mu.Unlock()
		if first {
			status := t.ledger.Status()
			s.cfg.Metrics.BillSettled()
			s.emit(ctx, events.TopicBillSettled, id, events.BillSettled{
				TableID:   t.tableID,
				Paid:      view.Paid,
				Payments:  len(view.Payments),
				Reason:    string(status.Reason),
				SettledAt: pay.CommittedAt,
			})
			obs.Logger(ctx).Info().Str("bill_id", id).Str("reason", string(status.Reason)).Msg("bill_settled")
		}
	}
	return CommitResult{Payment: pay, Bill: view}
}

func (s *Service) applyStrategy(sess *split.Session, strategy bill.Strategy, partySize int) error {
	if strategy == bill.StrategyEven {
		n := partySize
		if n == 0 {
			n = sess.PartySize
		}
		if err := s.cfg.Ledger.Resolver.CheckPartySize(n); err != nil {
			return err
		}
	}
	return sess.SetStrategy(strategy, partySize)
}

func (s *Service) tab(billID string) (*tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.bills[billID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBillNotFound, billID)
	}
	return t, nil
}

// lookup requires s.mu.
func (s *Service) lookup(billID, sessionID string) (*tab, *split.Session, error) {
	t, ok := s.bills[billID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrBillNotFound, billID)
	}
	sess, ok := s.sessions[sessionID]
	if !ok || sess.BillID != billID {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return t, sess, nil
}

func (s *Service) billView(t *tab, tipPercent int) BillView {
	return BillView{
		Bill:       t.ledger.Bill(tipPercent),
		TableID:    t.tableID,
		Currency:   s.cfg.Currency,
		Settled:    t.ledger.Settled(),
		TipOptions: s.cfg.Tip.Options(),
		OpenedAt:   t.ledger.OpenedAt(),
	}
}

// sessionView requires s.mu held for writing; it pins the quote it returns.
func (s *Service) sessionView(t *tab, sess *split.Session) (SessionView, error) {
	v := t.ledger.View(sess.TipPercent)
	out := SessionView{
		ID:         sess.ID,
		BillID:     sess.BillID,
		PayerID:    sess.PayerID,
		PayerLabel: sess.PayerLabel,
		Strategy:   sess.Strategy,
		PartySize:  sess.PartySize,
		TipPercent: sess.TipPercent,
		Selected:   sess.Selected(v.Instances),
		Remaining:  v.Bill.Remaining,
		Settled:    t.ledger.Settled(),
	}
	quote, err := s.cfg.Ledger.Resolver.Quote(sess, v)
	var taken *split.AlreadyPaidError
	switch {
	case errors.As(err, &taken):
		sess.Unpin()
		out.Unavailable = taken.Instances
	case err != nil:
		return SessionView{}, err
	default:
		sess.Pin(quote)
		out.Quote = &quote
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, topic, billID string, payload any) {
	if s.cfg.Events == nil {
		return
	}
	if _, err := s.cfg.Events.Emit(ctx, topic, billID, payload); err != nil {
		obs.Logger(ctx).Warn().Err(err).Str("topic", topic).Str("bill_id", billID).Msg("event_emit_failed")
	}
}

func commitResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	case errors.Is(err, ledger.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ledger.ErrBillAlreadySettled):
		return "settled"
	default:
		return "rejected"
	}
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
