package settlement

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Professional is a service provider paid by commission.
type Professional struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Name           string          `json:"name"`
	BaseCommission decimal.Decimal `json:"base_commission"`
	// ServiceCommissions overrides BaseCommission for specific services.
	ServiceCommissions map[uuid.UUID]decimal.Decimal `json:"service_commissions,omitempty"`
}

// ResolveCommission returns the per-service commission of pro when one is
// configured, and the base commission otherwise.
func ResolveCommission(pro Professional, serviceID uuid.UUID) decimal.Decimal {
	if pct, ok := pro.ServiceCommissions[serviceID]; ok {
		return pct
	}
	return pro.BaseCommission
}
