package subscription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLFile is a PlansSource that reads a YAML catalog from disk.
type YAMLFile string

// Load implements PlansSource.
func (f YAMLFile) Load(context.Context) ([]Plan, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return ParsePlansYAML(data)
}

// YAMLBytes is a PlansSource over an in-memory YAML document, handy with go:embed.
type YAMLBytes []byte

// Load implements PlansSource.
func (b YAMLBytes) Load(context.Context) ([]Plan, error) {
	return ParsePlansYAML(b)
}

type yamlCatalog struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlPlan struct {
	ID           string           `yaml:"id"`
	Slug         string           `yaml:"slug"`
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description"`
	MonthlyPrice int64            `yaml:"monthly_price"`
	YearlyPrice  int64            `yaml:"yearly_price"`
	Currency     string           `yaml:"currency"`
	TrialDays    int              `yaml:"trial_days"`
	Limits       map[string]int64 `yaml:"limits"`
	Features     []string         `yaml:"features"`
	Active       *bool            `yaml:"active"`
	Public       bool             `yaml:"public"`
	Version      int              `yaml:"version"`
	Gateway      struct {
		Monthly string `yaml:"monthly"`
		Yearly  string `yaml:"yearly"`
	} `yaml:"gateway_prices"`
}

// ParsePlansYAML decodes a catalog document. Unknown keys are rejected.
// Plans are active unless "active: false" is set.
func ParsePlansYAML(data []byte) ([]Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc yamlCatalog
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	plans := make([]Plan, 0, len(doc.Plans))
	for _, yp := range doc.Plans {
		p := Plan{
			ID:           yp.ID,
			Slug:         yp.Slug,
			Name:         yp.Name,
			Description:  yp.Description,
			MonthlyPrice: yp.MonthlyPrice,
			YearlyPrice:  yp.YearlyPrice,
			Currency:     yp.Currency,
			TrialDays:    yp.TrialDays,
			Active:       yp.Active == nil || *yp.Active,
			Public:       yp.Public,
			Version:      max(yp.Version, 1),
		}
		if len(yp.Limits) > 0 {
			p.Limits = make(map[Resource]int64, len(yp.Limits))
			for k, v := range yp.Limits {
				p.Limits[Resource(k)] = v
			}
		}
		for _, f := range yp.Features {
			p.Features = append(p.Features, Feature(f))
		}
		if yp.Gateway.Monthly != "" || yp.Gateway.Yearly != "" {
			p.GatewayPrices = map[BillingCycle]string{}
			if yp.Gateway.Monthly != "" {
				p.GatewayPrices[CycleMonthly] = yp.Gateway.Monthly
			}
			if yp.Gateway.Yearly != "" {
				p.GatewayPrices[CycleYearly] = yp.Gateway.Yearly
			}
		}
		plans = append(plans, p)
	}
	return plans, nil
}
