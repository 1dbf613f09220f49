package subscription

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// Status is the lifecycle status of a subscription.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Name implements statemachine.State.
func (s Status) Name() string { return string(s) }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusPastDue, StatusSuspended, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// AccessAllowed reports whether a tenant in this status may use the product.
// Past due subscriptions keep access during the grace period.
func (s Status) AccessAllowed() bool {
	return s == StatusTrial || s == StatusActive || s == StatusPastDue
}

// BillingCycle is how often a subscription renews.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Valid reports whether c is a known cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Advance returns t moved forward by one cycle, keeping the day of t.
func (c BillingCycle) Advance(t time.Time) time.Time {
	return c.AdvanceOnDay(t, t.Day())
}

// AdvanceOnDay returns t moved forward by one cycle onto the given day of the
// month, clamped to the last day of the target month: an anchor of 31 renews
// on Feb 28 (or 29) and on Mar 31 after that.
func (c BillingCycle) AdvanceOnDay(t time.Time, day int) time.Time {
	months := 1
	if c == CycleYearly {
		months = 12
	}
	y, m, _ := t.Date()
	// day 0 of the month after the target is the last day of the target
	last := time.Date(y, m+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	day = min(max(day, 1), last)
	return time.Date(y, m+time.Month(months), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Interval maps the cycle to the gateway vocabulary.
func (c BillingCycle) Interval() gateway.Interval {
	if c == CycleYearly {
		return gateway.IntervalYear
	}
	return gateway.IntervalMonth
}

// PaymentMethod is how a tenant pays.
type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "card"
	PaymentPix    PaymentMethod = "pix"
	PaymentBoleto PaymentMethod = "boleto"
)

// Resource is a countable tenant resource limited by plan.
type Resource string

const (
	ResourceProfessionals Resource = "professionals"
	ResourceAppointments  Resource = "appointments" // per month
	ResourceClients       Resource = "clients"
	ResourceServices      Resource = "services"
	ResourceStorage       Resource = "storage" // MB
)

// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility)
const Unlimited int64 = -1

// Feature is a plan capability that can be enabled or disabled.
type Feature string

const (
	FeatureOnlineBooking     Feature = "online_booking"
	FeatureWhatsAppReminders Feature = "whatsapp_reminders"
	FeatureReports           Feature = "reports"
	FeaturePixPayments       Feature = "pix_payments"
	FeatureMultiLocation     Feature = "multi_location"
	FeatureCommissions       Feature = "commissions"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, R$59,90 is Amount: 5990, Currency: "BRL".
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
