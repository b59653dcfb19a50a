package settle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/events"
	"github.com/noah-isme/backend-settle/internal/ledger"
	"github.com/noah-isme/backend-settle/internal/menu"
	"github.com/noah-isme/backend-settle/internal/obs"
	"github.com/noah-isme/backend-settle/internal/pricing"
	"github.com/noah-isme/backend-settle/internal/settlement"
	"github.com/noah-isme/backend-settle/internal/split"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Notify(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Topic
	}
	return out
}

func (r *recorder) count(topic string) int {
	n := 0
	for _, t := range r.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	events  *recorder
	metrics *obs.SettlementMetrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	catalog, err := menu.NewStaticCatalog("USD", []menu.MenuItem{
		{ID: "A", Name: map[string]string{"en": "Pad Thai", "es": "Pad Thai"}, Price: 1000, Category: "Mains"},
		{ID: "B", Name: map[string]string{"en": "Iced Tea", "es": "Té helado"}, Price: 500, Category: "Drinks"},
	})
	require.NoError(t, err)
	rec := &recorder{}
	metrics := obs.NewSettlementMetrics("settle", prometheus.NewRegistry())
	svc := NewService(Config{
		Ledger: ledger.Config{
			Rates:   pricing.Rates{Service: decimal.RequireFromString("0.08999")},
			Epsilon: settlement.DefaultEpsilon,
		},
		Catalog: catalog,
		Events:  &events.Bus{Notifiers: []events.Notifier{rec}, Observer: metrics},
		Metrics: metrics,
	})
	return fixture{svc: svc, events: rec, metrics: metrics}
}

func (f fixture) openScenario(t *testing.T) BillView {
	t.Helper()
	view, err := f.svc.OpenBill(context.Background(), OpenBillInput{
		TableID: "T4",
		Items: []LineInput{
			{MenuItemID: "A", Quantity: 2},
			{MenuItemID: "B", Quantity: 1},
		},
	})
	require.NoError(t, err)
	return view
}

var (
	a0 = bill.InstanceID{MenuItemID: "A", Index: 0}
	b0 = bill.InstanceID{MenuItemID: "B", Index: 0}
)

func TestOpenBill(t *testing.T) {
	f := newFixture(t)
	view := f.openScenario(t)

	require.Equal(t, pricing.Money(2500), view.Subtotal)
	require.Equal(t, pricing.Money(225), view.ServiceCharge)
	require.Equal(t, pricing.Money(375), view.Tip)
	require.Equal(t, pricing.Money(3100), view.Total)
	require.Equal(t, pricing.Money(3100), view.Remaining)
	require.Equal(t, "T4", view.TableID)
	require.Equal(t, "USD", view.Currency)
	require.Equal(t, []int{10, 15, 20, 25, 30}, view.TipOptions)
	require.False(t, view.Settled)
	require.Equal(t, 1, f.svc.OpenBills())
	require.Equal(t, []string{events.TopicBillOpened}, f.events.topics())
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OpenBills))

	at20, err := f.svc.Bill(context.Background(), view.ID, 20)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(3225), at20.Total)

	_, err = f.svc.Bill(context.Background(), view.ID, 12)
	require.ErrorIs(t, err, pricing.ErrInvalidTipPercent)
	_, err = f.svc.Bill(context.Background(), "missing", 0)
	require.ErrorIs(t, err, ErrBillNotFound)
}

func TestOpenBillLocalizesNames(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.OpenBill(context.Background(), OpenBillInput{
		Locale: "es",
		Items:  []LineInput{{MenuItemID: "B", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "Té helado", view.Items[0].Name)
}

func TestOpenBillRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenBill(ctx, OpenBillInput{})
	require.ErrorIs(t, err, bill.ErrEmptyOrder)

	_, err = f.svc.OpenBill(ctx, OpenBillInput{Items: []LineInput{{MenuItemID: "Z", Quantity: 1}}})
	require.ErrorIs(t, err, menu.ErrUnknownItem)

	_, err = f.svc.OpenBill(ctx, OpenBillInput{Items: []LineInput{{MenuItemID: "A", Quantity: 0}}})
	require.ErrorIs(t, err, bill.ErrInvalidItem)

	_, err = f.svc.OpenBill(ctx, OpenBillInput{TipPercent: 35, Items: []LineInput{{MenuItemID: "A", Quantity: 1}}})
	require.ErrorIs(t, err, pricing.ErrInvalidTipPercent)
	require.Zero(t, f.svc.OpenBills())
}

func TestByItemThenFullSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)

	first, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{PayerID: "p1"})
	require.NoError(t, err)
	require.Equal(t, "Customer 1", first.PayerLabel)
	require.Equal(t, bill.StrategyFull, first.Strategy)
	require.Equal(t, pricing.Money(3100), first.Quote.Amount)

	_, err = f.svc.Toggle(ctx, b.ID, first.ID, a0.Key())
	require.NoError(t, err)
	view, err := f.svc.Adjust(ctx, b.ID, first.ID, "A", 1)
	require.NoError(t, err)
	require.Equal(t, bill.StrategyByItem, view.Strategy)
	require.Len(t, view.Selected, 2)
	require.Equal(t, pricing.Money(2480), view.Quote.Amount)

	res, err := f.svc.Commit(ctx, b.ID, first.ID, CommitInput{})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(2480), res.Payment.Amount)
	require.Equal(t, pricing.Money(620), res.Bill.Remaining)
	require.False(t, res.Bill.Settled)

	_, err = f.svc.Session(ctx, b.ID, first.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	second, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{PayerID: "p2"})
	require.NoError(t, err)
	require.Equal(t, "Customer 2", second.PayerLabel)
	require.Equal(t, pricing.Money(620), second.Quote.Amount)

	amount := pricing.Money(620)
	res, err = f.svc.Commit(ctx, b.ID, second.ID, CommitInput{Amount: &amount})
	require.NoError(t, err)
	require.True(t, res.Bill.Settled)
	require.Zero(t, res.Bill.Remaining)

	st, err := f.svc.Settlement(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, st.Settled)

	pays, err := f.svc.Payments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pays, 2)
	require.Equal(t, pricing.Money(3100), pays[0].Amount+pays[1].Amount)

	require.Equal(t, 1, f.events.count(events.TopicBillSettled))
	require.Equal(t, 2, f.events.count(events.TopicPaymentCommitted))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SettledTotal))
	require.Equal(t, float64(0), testutil.ToFloat64(f.metrics.OpenBills))
	require.Equal(t, float64(0), testutil.ToFloat64(f.metrics.SessionsActive))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CommitTotal.WithLabelValues("by_item", "ok")))

	_, err = f.svc.OpenSession(ctx, b.ID, OpenSessionInput{})
	require.ErrorIs(t, err, ledger.ErrBillAlreadySettled)
}

func TestConflictPrunesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)

	s1, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{PayerID: "p1"})
	require.NoError(t, err)
	s2, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{PayerID: "p2"})
	require.NoError(t, err)

	_, err = f.svc.Toggle(ctx, b.ID, s1.ID, a0.Key())
	require.NoError(t, err)
	_, err = f.svc.Toggle(ctx, b.ID, s2.ID, a0.Key())
	require.NoError(t, err)
	_, err = f.svc.Toggle(ctx, b.ID, s2.ID, b0.Key())
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, b.ID, s1.ID, CommitInput{})
	require.NoError(t, err)

	stale, err := f.svc.Session(ctx, b.ID, s2.ID)
	require.NoError(t, err)
	require.Nil(t, stale.Quote)
	require.Equal(t, []bill.InstanceID{a0}, stale.Unavailable)

	_, err = f.svc.Commit(ctx, b.ID, s2.ID, CommitInput{})
	require.ErrorIs(t, err, ledger.ErrConflict)
	var refreshed *RefreshedError
	require.ErrorAs(t, err, &refreshed)
	require.Equal(t, []bill.InstanceID{a0}, refreshed.Pruned)
	require.Equal(t, []bill.InstanceID{b0}, refreshed.Session.Selected)
	require.NotNil(t, refreshed.Session.Quote)
	require.Equal(t, 1, f.events.count(events.TopicCommitConflict))

	res, err := f.svc.Commit(ctx, b.ID, s2.ID, CommitInput{Amount: &refreshed.Session.Quote.Amount})
	require.NoError(t, err)
	require.Equal(t, []bill.InstanceID{b0}, res.Payment.Claims)
}

func TestStaleAmountIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)

	s, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{})
	require.NoError(t, err)
	wrong := pricing.Money(3000)
	_, err = f.svc.Commit(ctx, b.ID, s.ID, CommitInput{Amount: &wrong})
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.True(t, conflict.Stale)
	require.Equal(t, pricing.Money(3100), conflict.Expected)

	var refreshed *RefreshedError
	require.ErrorAs(t, err, &refreshed)
	require.Equal(t, pricing.Money(3100), refreshed.Session.Quote.Amount)
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CommitTotal.WithLabelValues("full", "conflict")))
}

func TestUpdateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)

	s, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{Strategy: "even", PartySize: 2})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1550), s.Quote.Amount)

	three := 3
	view, err := f.svc.UpdateSession(ctx, b.ID, s.ID, UpdateSessionInput{PartySize: &three})
	require.NoError(t, err)
	require.Equal(t, 3, view.PartySize)
	require.Equal(t, pricing.Money(1033), view.Quote.Amount)

	one := 1
	_, err = f.svc.UpdateSession(ctx, b.ID, s.ID, UpdateSessionInput{PartySize: &one})
	require.ErrorIs(t, err, split.ErrInvalidPartySize)

	tip := 20
	view, err = f.svc.UpdateSession(ctx, b.ID, s.ID, UpdateSessionInput{TipPercent: &tip})
	require.NoError(t, err)
	require.Equal(t, 20, view.TipPercent)
	require.Equal(t, pricing.Money(3225), view.Remaining)

	bad := 22
	_, err = f.svc.UpdateSession(ctx, b.ID, s.ID, UpdateSessionInput{TipPercent: &bad})
	require.ErrorIs(t, err, pricing.ErrInvalidTipPercent)

	unknown := "split_by_mood"
	_, err = f.svc.UpdateSession(ctx, b.ID, s.ID, UpdateSessionInput{Strategy: &unknown})
	require.ErrorIs(t, err, split.ErrUnknownStrategy)

	require.NoError(t, f.svc.CancelSession(ctx, b.ID, s.ID))
	require.ErrorIs(t, f.svc.CancelSession(ctx, b.ID, s.ID), ErrSessionNotFound)
}

func TestToggleErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)
	s, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{})
	require.NoError(t, err)

	_, err = f.svc.Toggle(ctx, b.ID, s.ID, "A#9")
	require.ErrorIs(t, err, split.ErrUnknownInstance)
	_, err = f.svc.Toggle(ctx, b.ID, s.ID, "garbage")
	require.ErrorIs(t, err, split.ErrUnknownInstance)
	_, err = f.svc.Adjust(ctx, b.ID, s.ID, "Z", 1)
	require.ErrorIs(t, err, split.ErrUnknownInstance)

	_, err = f.svc.ExternalPayment(ctx, b.ID, ExternalInput{Amount: 3100})
	require.NoError(t, err)
	_, err = f.svc.Toggle(ctx, b.ID, s.ID, a0.Key())
	require.ErrorIs(t, err, split.ErrAlreadyPaid)
}

func TestExternalPaymentLabels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)

	res, err := f.svc.ExternalPayment(ctx, b.ID, ExternalInput{PayerID: "t1", Amount: 1000})
	require.NoError(t, err)
	require.Equal(t, "Customer 1", res.Payment.PayerLabel)
	require.Equal(t, bill.StrategyExternal, res.Payment.Strategy)
	require.Equal(t, pricing.Money(2100), res.Bill.Remaining)

	res, err = f.svc.ExternalPayment(ctx, b.ID, ExternalInput{PayerID: "t2", PayerLabel: "Bar tab", Amount: 100})
	require.NoError(t, err)
	require.Equal(t, "Bar tab", res.Payment.PayerLabel)

	res, err = f.svc.ExternalPayment(ctx, b.ID, ExternalInput{PayerID: "t1", Amount: 100})
	require.NoError(t, err)
	require.Equal(t, "Customer 1", res.Payment.PayerLabel)

	_, err = f.svc.ExternalPayment(ctx, b.ID, ExternalInput{PayerID: "t3", Amount: 5000})
	require.ErrorIs(t, err, ledger.ErrOverpayment)
	_, err = f.svc.ExternalPayment(ctx, b.ID, ExternalInput{PayerID: "t3", Amount: 0})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestConcurrentTerminals(t *testing.T) {
	f := newFixture(t)
	b := f.openScenario(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ExternalPayment(context.Background(), b.ID, ExternalInput{Amount: 500})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrOverpayment):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 6, ok)
	require.Equal(t, 4, refused)
	view, err := f.svc.Bill(context.Background(), b.ID, 0)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(100), view.Remaining)
	require.False(t, view.Settled)
	require.Equal(t, float64(6), testutil.ToFloat64(f.metrics.CommitTotal.WithLabelValues("external", "ok")))
	require.Equal(t, float64(4), testutil.ToFloat64(f.metrics.CommitTotal.WithLabelValues("external", "overpayment")))
}

func TestSessionCommitsOnce(t *testing.T) {
	for round := 0; round < 25; round++ {
		f := newFixture(t)
		ctx := context.Background()
		b := f.openScenario(t)
		s, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{PayerID: "p1", Strategy: "even", PartySize: 2})
		require.NoError(t, err)
		require.Equal(t, pricing.Money(1550), s.Quote.Amount)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
			errs     []error
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Commit(ctx, b.ID, s.ID, CommitInput{})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					accepted++
					return
				}
				errs = append(errs, err)
			}()
		}
		wg.Wait()

		require.Equal(t, 1, accepted)
		require.Len(t, errs, 1)
		require.True(t, errors.Is(errs[0], ErrCommitInProgress) || errors.Is(errs[0], ErrSessionNotFound), "unexpected error: %v", errs[0])

		pays, err := f.svc.Payments(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, pays, 1)
		require.Equal(t, 1, pays[0].ShareIndex)
		view, err := f.svc.Bill(ctx, b.ID, 0)
		require.NoError(t, err)
		require.Equal(t, pricing.Money(1550), view.Remaining)
		require.False(t, view.Settled)
	}
}

func TestCommitAfterSuccessFindsSessionGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)
	s, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{Strategy: "even", PartySize: 2})
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, b.ID, s.ID, CommitInput{})
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, b.ID, s.ID, CommitInput{})
	require.ErrorIs(t, err, ErrSessionNotFound)

	pays, err := f.svc.Payments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pays, 1)
}

func TestCommitChargesLastQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)
	require.False(t, b.OpenedAt.IsZero())

	s, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{PayerID: "p1"})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(3100), s.Quote.Amount)

	_, err = f.svc.ExternalPayment(ctx, b.ID, ExternalInput{PayerID: "t1", Amount: 500})
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, b.ID, s.ID, CommitInput{})
	require.ErrorIs(t, err, ledger.ErrOverpayment)
	var refreshed *RefreshedError
	require.ErrorAs(t, err, &refreshed)
	require.Equal(t, pricing.Money(2600), refreshed.Session.Quote.Amount)
	require.Zero(t, f.events.count(events.TopicCommitConflict))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CommitTotal.WithLabelValues("full", "overpayment")))

	res, err := f.svc.Commit(ctx, b.ID, s.ID, CommitInput{})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(2600), res.Payment.Amount)
	require.True(t, res.Bill.Settled)
}

func TestByItemCommitDoesNotAbsorbNewCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.openScenario(t)

	s, err := f.svc.OpenSession(ctx, b.ID, OpenSessionInput{PayerID: "p1"})
	require.NoError(t, err)
	view, err := f.svc.Toggle(ctx, b.ID, s.ID, a0.Key())
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1240), view.Quote.Amount)

	_, err = f.svc.ExternalPayment(ctx, b.ID, ExternalInput{PayerID: "t1", Amount: 500})
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, b.ID, s.ID, CommitInput{})
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.True(t, conflict.Stale)
	require.Equal(t, pricing.Money(1040), conflict.Expected)
	require.Equal(t, pricing.Money(1240), conflict.Got)
	var refreshed *RefreshedError
	require.ErrorAs(t, err, &refreshed)
	require.Equal(t, pricing.Money(1040), refreshed.Session.Quote.Amount)

	res, err := f.svc.Commit(ctx, b.ID, s.ID, CommitInput{})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1040), res.Payment.Amount)
	require.Equal(t, []bill.InstanceID{a0}, res.Payment.Claims)
}
