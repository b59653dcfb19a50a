package bill

import "github.com/noah-isme/backend-settle/internal/pricing"

// Claims maps claimed instances to the claiming payment id.
type Claims map[InstanceID]string

// ClaimsOf collects the claims recorded on payments.
func ClaimsOf(payments []Payment) Claims {
	out := make(Claims)
	for _, p := range payments {
		for _, id := range p.Claims {
			out[id] = p.ID
		}
	}
	return out
}

// Expand produces one instance per unit, in item order and then by index.
// Paid flags are read from claims on every call.
func Expand(items []BillItem, claims Claims) []ItemInstance {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	out := make([]ItemInstance, 0, n)
	for _, it := range items {
		for i := 0; i < it.Quantity; i++ {
			inst := ItemInstance{
				MenuItemID:    it.MenuItemID,
				InstanceIndex: i,
				Name:          it.Name,
				UnitPrice:     it.UnitPrice,
			}
			if pid, ok := claims[inst.ID()]; ok {
				inst.Paid = true
				inst.PaymentID = pid
			}
			out = append(out, inst)
		}
	}
	return out
}

// Unpaid filters instances that have not been claimed.
func Unpaid(instances []ItemInstance) []ItemInstance {
	out := make([]ItemInstance, 0, len(instances))
	for _, inst := range instances {
		if !inst.Paid {
			out = append(out, inst)
		}
	}
	return out
}

// Subtotal sums unit prices of instances.
func Subtotal(instances []ItemInstance) pricing.Money {
	var sum pricing.Money
	for _, inst := range instances {
		sum += inst.UnitPrice
	}
	return sum
}

// IDs lists the identifiers of instances.
func IDs(instances []ItemInstance) []InstanceID {
	out := make([]InstanceID, len(instances))
	for i, inst := range instances {
		out[i] = inst.ID()
	}
	return out
}
