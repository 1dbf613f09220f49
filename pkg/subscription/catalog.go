package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// PlansSource defines how plans are loaded into the catalog.
type PlansSource interface {
	Load(ctx context.Context) ([]Plan, error)
}

// StaticPlans is a PlansSource backed by a Go slice.
type StaticPlans []Plan

// Load implements PlansSource.
func (s StaticPlans) Load(context.Context) ([]Plan, error) {
	return slices.Clone(s), nil
}

// Catalog holds the validated plan set, keyed by plan id.
type Catalog struct {
	plans map[string]Plan
	order []string
}

// NewCatalog loads and validates plans from src.
func NewCatalog(ctx context.Context, src PlansSource) (*Catalog, error) {
	if src == nil {
		panic("subscription: PlansSource is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidPlanConfiguration)
	}

	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	slugs := make(map[string]string, len(plans))
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan id %s", ErrInvalidPlanConfiguration, p.ID)
		}
		if p.Slug != "" {
			if other, dup := slugs[p.Slug]; dup {
				return nil, fmt.Errorf("%w: plans %s and %s share slug %s", ErrInvalidPlanConfiguration, other, p.ID, p.Slug)
			}
			slugs[p.Slug] = p.ID
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// Get returns the plan with the given id or slug.
func (c *Catalog) Get(id string) (Plan, error) {
	if p, ok := c.plans[id]; ok {
		return p, nil
	}
	for _, p := range c.plans {
		if p.Slug != "" && p.Slug == id {
			return p, nil
		}
	}
	return Plan{}, ErrPlanNotFound
}

// List returns plans in load order. With publicOnly, only active public plans are returned.
func (c *Catalog) List(publicOnly bool) []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		p := c.plans[id]
		if publicOnly && (!p.Public || !p.Active) {
			continue
		}
		out = append(out, p)
	}
	return out
}
