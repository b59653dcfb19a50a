package bill_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-settle/internal/bill"
)

func TestExpandOrdering(t *testing.T) {
	insts := bill.Expand(order(), nil)
	require.Len(t, insts, 3)
	require.Equal(t, []bill.InstanceID{
		{MenuItemID: "A", Index: 0},
		{MenuItemID: "A", Index: 1},
		{MenuItemID: "B", Index: 0},
	}, bill.IDs(insts))
	for _, inst := range insts {
		require.False(t, inst.Paid)
	}
}

func TestExpandReadsClaims(t *testing.T) {
	payments := []bill.Payment{{ID: "p1", Claims: []bill.InstanceID{{MenuItemID: "A", Index: 1}}}}
	insts := bill.Expand(order(), bill.ClaimsOf(payments))

	require.False(t, insts[0].Paid)
	require.True(t, insts[1].Paid)
	require.Equal(t, "p1", insts[1].PaymentID)

	unpaid := bill.Unpaid(insts)
	require.Len(t, unpaid, 2)
	require.Equal(t, int64(1500), bill.Subtotal(unpaid))
}
