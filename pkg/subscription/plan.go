package subscription

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// SnapshotVersion is the layout version of PlanSnapshot.
const SnapshotVersion = 1

// Plan describes a catalog plan and its resource/feature constraints.
type Plan struct {
	ID           string
	Slug         string
	Name         string
	Description  string
	MonthlyPrice int64 // smallest currency unit
	YearlyPrice  int64
	Currency     string
	TrialDays    int
	Limits       map[Resource]int64 // -1 represents unlimited
	Features     []Feature
	Active       bool // accepts new activations
	Public       bool // available for self-service signup
	Version      int
	// GatewayPrices maps a cycle to the provider's price reference (e.g. price_pro_monthly).
	GatewayPrices map[BillingCycle]string
}

// Price returns the plan price for the cycle.
func (p Plan) Price(cycle BillingCycle) Money {
	if cycle == CycleYearly {
		return Money{Amount: p.YearlyPrice, Currency: p.Currency}
	}
	return Money{Amount: p.MonthlyPrice, Currency: p.Currency}
}

// TrialEndsAt calculates when the trial period ends.
// Returns startedAt unchanged if no trial is available.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// Validate checks the plan is usable by the catalog.
func (p Plan) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: plan id is required", ErrInvalidPlanConfiguration)
	case p.Name == "":
		return fmt.Errorf("%w: plan %s has no name", ErrInvalidPlanConfiguration, p.ID)
	case p.Currency == "":
		return fmt.Errorf("%w: plan %s has no currency", ErrInvalidPlanConfiguration, p.ID)
	case p.MonthlyPrice < 0 || p.YearlyPrice < 0:
		return fmt.Errorf("%w: plan %s has a negative price", ErrInvalidPlanConfiguration, p.ID)
	case p.TrialDays < 0:
		return fmt.Errorf("%w: plan %s has negative trial days", ErrInvalidPlanConfiguration, p.ID)
	}
	for res, limit := range p.Limits {
		if limit < Unlimited {
			return fmt.Errorf("%w: plan %s limit %s is below -1", ErrInvalidPlanConfiguration, p.ID, res)
		}
	}
	return nil
}

// Snapshot captures the plan terms a subscription was sold under.
func (p Plan) Snapshot() PlanSnapshot {
	return PlanSnapshot{
		Version:       SnapshotVersion,
		PlanID:        p.ID,
		PlanVersion:   p.Version,
		Slug:          p.Slug,
		Name:          p.Name,
		MonthlyPrice:  p.MonthlyPrice,
		YearlyPrice:   p.YearlyPrice,
		Currency:      p.Currency,
		TrialDays:     p.TrialDays,
		Limits:        maps.Clone(p.Limits),
		Features:      slices.Clone(p.Features),
		GatewayPrices: maps.Clone(p.GatewayPrices),
	}
}

// PlanSnapshot is the copy of plan terms stored on a subscription.
// Later catalog edits do not affect existing subscriptions.
type PlanSnapshot struct {
	Version       int                     `json:"version"`
	PlanID        string                  `json:"plan_id"`
	PlanVersion   int                     `json:"plan_version"`
	Slug          string                  `json:"slug,omitempty"`
	Name          string                  `json:"name"`
	MonthlyPrice  int64                   `json:"monthly_price"`
	YearlyPrice   int64                   `json:"yearly_price"`
	Currency      string                  `json:"currency"`
	TrialDays     int                     `json:"trial_days"`
	Limits        map[Resource]int64      `json:"limits,omitempty"`
	Features      []Feature               `json:"features,omitempty"`
	GatewayPrices map[BillingCycle]string `json:"gateway_prices,omitempty"`
}

// Price returns the snapshot price for the cycle.
func (s PlanSnapshot) Price(cycle BillingCycle) Money {
	if cycle == CycleYearly {
		return Money{Amount: s.YearlyPrice, Currency: s.Currency}
	}
	return Money{Amount: s.MonthlyPrice, Currency: s.Currency}
}

// Limit returns the limit for a resource and whether the plan defines it.
func (s PlanSnapshot) Limit(res Resource) (int64, bool) {
	limit, ok := s.Limits[res]
	return limit, ok
}

// HasFeature reports whether the snapshot includes the feature.
func (s PlanSnapshot) HasFeature(f Feature) bool {
	return slices.Contains(s.Features, f)
}

func (s PlanSnapshot) clone() PlanSnapshot {
	c := s
	c.Limits = maps.Clone(s.Limits)
	c.Features = slices.Clone(s.Features)
	c.GatewayPrices = maps.Clone(s.GatewayPrices)
	return c
}

// PlanComparison contains the differences between two plans.
// Used to validate downgrades and communicate changes to users.
type PlanComparison struct {
	NewFeatures      []Feature
	LostFeatures     []Feature
	IncreasedLimits  map[Resource]ResourceChange
	DecreasedLimits  map[Resource]ResourceChange
	NewResources     map[Resource]int64
	RemovedResources map[Resource]int64
}

// ResourceChange represents a change in resource limit.
type ResourceChange struct {
	From int64
	To   int64
}

// HasResourceDecreases returns true if any resources have decreased limits.
func (c *PlanComparison) HasResourceDecreases() bool {
	return len(c.DecreasedLimits) > 0 || len(c.RemovedResources) > 0
}

// ComparePlans returns the differences between current and target terms.
func ComparePlans(current, target *PlanSnapshot) *PlanComparison {
	if current == nil || target == nil {
		return nil
	}

	comparison := &PlanComparison{
		NewFeatures:      make([]Feature, 0),
		LostFeatures:     make([]Feature, 0),
		IncreasedLimits:  make(map[Resource]ResourceChange),
		DecreasedLimits:  make(map[Resource]ResourceChange),
		NewResources:     make(map[Resource]int64),
		RemovedResources: make(map[Resource]int64),
	}

	for _, feature := range target.Features {
		if !slices.Contains(current.Features, feature) {
			comparison.NewFeatures = append(comparison.NewFeatures, feature)
		}
	}
	for _, feature := range current.Features {
		if !slices.Contains(target.Features, feature) {
			comparison.LostFeatures = append(comparison.LostFeatures, feature)
		}
	}

	for resource, targetLimit := range target.Limits {
		currentLimit, exists := current.Limits[resource]
		if !exists {
			comparison.NewResources[resource] = targetLimit
			continue
		}
		if targetLimit == currentLimit {
			continue
		}

		change := ResourceChange{From: currentLimit, To: targetLimit}
		switch {
		// unlimited-to-limited counts as a decrease
		case currentLimit == Unlimited:
			comparison.DecreasedLimits[resource] = change
		case targetLimit == Unlimited, targetLimit > currentLimit:
			comparison.IncreasedLimits[resource] = change
		default:
			comparison.DecreasedLimits[resource] = change
		}
	}

	for resource, currentLimit := range current.Limits {
		if _, exists := target.Limits[resource]; !exists {
			comparison.RemovedResources[resource] = currentLimit
		}
	}

	return comparison
}

// usageBlocksDowngrade lists resources whose current usage does not fit the target limits.
func usageBlocksDowngrade(cmp *PlanComparison, usage map[Resource]int64) []Resource {
	var blocked []Resource
	for res, change := range cmp.DecreasedLimits {
		if change.To != Unlimited && usage[res] > change.To {
			blocked = append(blocked, res)
		}
	}
	for res := range cmp.RemovedResources {
		if usage[res] > 0 {
			blocked = append(blocked, res)
		}
	}
	slices.Sort(blocked)
	return blocked
}
