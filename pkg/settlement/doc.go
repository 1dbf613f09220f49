// Package settlement splits per-appointment payments between the salon and
// the professional who rendered the service.
//
// Calculate is a pure function over minor units. The professional share is
// total*pct/100 rounded half up, and the salon receives total minus that share,
// so the parts always sum to the total without a remainder:
//
//	split, err := settlement.Calculate(10000, decimal.NewFromInt(40), 299)
//	// split.ProfessionalAmount == 4000, split.SalonAmount == 6000, split.NetAmount == 9701
//
// Service.CreateTransaction resolves the commission once, through
// ResolveCommission, and freezes the split on the record. Later changes to the
// professional's commission never touch existing transactions. Once a
// transaction is paid, Recalculate returns ErrImmutable and Refund is the only
// move left.
package settlement
