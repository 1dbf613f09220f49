package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Split is the division of a gross payment between the salon and the professional.
// Amounts are in the smallest currency unit.
type Split struct {
	TotalAmount          int64           `json:"total_amount"`
	CommissionPercentage decimal.Decimal `json:"commission_percentage"`
	SalonPercentage      decimal.Decimal `json:"salon_percentage"`
	SalonAmount          int64           `json:"salon_amount"`
	ProfessionalAmount   int64           `json:"professional_amount"`
	GatewayFee           int64           `json:"gateway_fee"`
	NetAmount            int64           `json:"net_amount"`
}

// Calculate splits total by the professional commission percentage.
// The professional share is rounded half up and the salon takes the rest,
// so the two always add up to total.
func Calculate(total int64, commissionPct decimal.Decimal, fee int64) (Split, error) {
	switch {
	case total < 0:
		return Split{}, fmt.Errorf("%w: total must not be negative", ErrInvalidInput)
	case commissionPct.IsNegative() || commissionPct.GreaterThan(hundred):
		return Split{}, fmt.Errorf("%w: commission must be between 0 and 100, got %s", ErrInvalidInput, commissionPct)
	case fee < 0 || fee > total:
		return Split{}, fmt.Errorf("%w: gateway fee %d must be between 0 and %d", ErrInvalidInput, fee, total)
	}

	professional := decimal.NewFromInt(total).Mul(commissionPct).Div(hundred).Round(0).IntPart()
	return Split{
		TotalAmount:          total,
		CommissionPercentage: commissionPct,
		SalonPercentage:      hundred.Sub(commissionPct),
		SalonAmount:          total - professional,
		ProfessionalAmount:   professional,
		GatewayFee:           fee,
		NetAmount:            total - fee,
	}, nil
}

// Balanced reports whether the split sums hold exactly.
func (s Split) Balanced() bool {
	return s.SalonAmount+s.ProfessionalAmount == s.TotalAmount &&
		s.NetAmount == s.TotalAmount-s.GatewayFee &&
		s.SalonPercentage.Add(s.CommissionPercentage).Equal(hundred)
}
