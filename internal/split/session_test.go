package split

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
)

func TestToggle(t *testing.T) {
	insts := bill.Expand(scenarioItems(), nil)
	s := NewSession("s", "b", "p", "P", 15)

	require.NoError(t, s.Toggle(a1, insts))
	require.True(t, s.IsSelected(a1))
	require.NoError(t, s.Toggle(a1, insts))
	require.False(t, s.IsSelected(a1))

	err := s.Toggle(bill.InstanceID{MenuItemID: "A", Index: 9}, insts)
	require.True(t, errors.Is(err, ErrUnknownInstance))
}

func TestToggleRejectsPaid(t *testing.T) {
	claims := bill.Claims{a0: "p1"}
	insts := bill.Expand(scenarioItems(), claims)
	s := NewSession("s", "b", "p", "P", 15)

	err := s.Toggle(a0, insts)
	require.True(t, errors.Is(err, ErrAlreadyPaid))
	require.False(t, s.IsSelected(a0))
}

func TestAdjustWalksExpanderOrder(t *testing.T) {
	insts := bill.Expand(scenarioItems(), bill.Claims{a0: "p1"})
	s := NewSession("s", "b", "p", "P", 15)

	require.NoError(t, s.Adjust("A", 1, insts))
	require.Equal(t, []bill.InstanceID{a1}, s.Selected(insts))

	// a0 is paid, so there is nothing more to add.
	require.NoError(t, s.Adjust("A", 1, insts))
	require.Equal(t, []bill.InstanceID{a1}, s.Selected(insts))

	require.NoError(t, s.Adjust("A", -1, insts))
	require.Empty(t, s.Selected(insts))
	require.NoError(t, s.Adjust("A", -1, insts))
	require.Empty(t, s.Selected(insts))

	require.True(t, errors.Is(s.Adjust("nope", 1, insts), ErrUnknownInstance))
}

func TestAdjustReleasesLastSelected(t *testing.T) {
	insts := bill.Expand(scenarioItems(), nil)
	s := NewSession("s", "b", "p", "P", 15)

	require.NoError(t, s.Adjust("A", 1, insts))
	require.NoError(t, s.Adjust("A", 1, insts))
	require.Equal(t, []bill.InstanceID{a0, a1}, s.Selected(insts))

	require.NoError(t, s.Adjust("A", -1, insts))
	require.Equal(t, []bill.InstanceID{a0}, s.Selected(insts))
}

func TestAdjustRejectsReleasingPaid(t *testing.T) {
	s := NewSession("s", "b", "p", "P", 15)
	require.NoError(t, s.Toggle(a1, bill.Expand(scenarioItems(), nil)))

	stale := bill.Expand(scenarioItems(), bill.Claims{a1: "p2"})
	err := s.Adjust("A", -1, stale)
	require.True(t, errors.Is(err, ErrAlreadyPaid))
}

func TestPrune(t *testing.T) {
	insts := bill.Expand(scenarioItems(), nil)
	s := NewSession("s", "b", "p", "P", 15)
	require.NoError(t, s.Toggle(a0, insts))
	require.NoError(t, s.Toggle(b0, insts))
	require.NoError(t, s.Toggle(a1, insts))

	dropped := s.Prune(bill.Expand(scenarioItems(), bill.Claims{a0: "x", b0: "x"}))
	require.Equal(t, []bill.InstanceID{a0, b0}, dropped)
	require.Equal(t, []bill.InstanceID{a1}, s.Selected(insts))
}

func TestPinnedQuote(t *testing.T) {
	s := NewSession("s", "b", "p", "P", 15)
	_, ok := s.Pinned()
	require.False(t, ok)

	s.Pin(Proposal{Amount: 2480})
	amount, ok := s.Pinned()
	require.True(t, ok)
	require.Equal(t, pricing.Money(2480), amount)

	s.Pin(Proposal{Amount: 620})
	amount, _ = s.Pinned()
	require.Equal(t, pricing.Money(620), amount)

	s.Unpin()
	_, ok = s.Pinned()
	require.False(t, ok)
}

func TestSetStrategy(t *testing.T) {
	s := NewSession("s", "b", "p", "P", 15)
	require.Equal(t, bill.StrategyFull, s.Strategy)
	require.NoError(t, s.SetStrategy(bill.StrategyEven, 4))
	require.Equal(t, 4, s.PartySize)
	require.NoError(t, s.SetStrategy(bill.StrategyByItem, 0))
	require.Equal(t, 4, s.PartySize)
	require.True(t, errors.Is(s.SetStrategy(bill.StrategyExternal, 0), ErrUnknownStrategy))
}

func TestSetTipPercent(t *testing.T) {
	s := NewSession("s", "b", "p", "P", 15)
	policy := pricing.DefaultTipPolicy()

	require.NoError(t, s.SetTipPercent(25, policy))
	require.Equal(t, 25, s.TipPercent)

	err := s.SetTipPercent(12, policy)
	require.ErrorIs(t, err, pricing.ErrInvalidTipPercent)
	require.Equal(t, 25, s.TipPercent)
}
