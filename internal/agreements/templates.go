package agreements

import (
	"fmt"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Template is a predefined agreement configuration for one service tier.
type Template struct {
	AgreementType  string
	Terms          map[string]interface{}
	UsageLimits    map[string]float64
	Pricing        models.AgreementPricing
	ExpirationDays int
}

// FreeTierTemplate has basic limits and no fees. Exhausting a limit
// suspends the agreement.
func FreeTierTemplate() Template {
	return Template{
		AgreementType: models.AgreementFree,
		Terms: map[string]interface{}{
			"service_level":      "basic",
			"support":            "community",
			"updates":            "security only",
			"termination_notice": "none",
		},
		UsageLimits: map[string]float64{
			MetricAPICalls:  100,
			MetricCPUTime:   10,
			MetricMemory:    256,
			MetricStorage:   100,
			MetricBandwidth: 1000,
		},
		Pricing:        models.AgreementPricing{BaseFee: 0},
		ExpirationDays: 30,
	}
}

// PersonalTierTemplate has moderate limits with metered overage.
func PersonalTierTemplate() Template {
	return Template{
		AgreementType: models.AgreementPersonal,
		Terms: map[string]interface{}{
			"service_level":      "standard",
			"support":            "email",
			"updates":            "feature and security",
			"termination_notice": "7 days",
		},
		UsageLimits: map[string]float64{
			MetricAPICalls:  1000,
			MetricCPUTime:   60,
			MetricMemory:    1024,
			MetricStorage:   1000,
			MetricBandwidth: 5000,
		},
		Pricing: models.AgreementPricing{
			BaseFee: 9.99,
			OverageRates: map[string]float64{
				MetricAPICalls:  0.001,
				MetricCPUTime:   0.01,
				MetricMemory:    0.005,
				MetricStorage:   0.0005,
				MetricBandwidth: 0.0001,
			},
		},
		ExpirationDays: 30,
	}
}

// BusinessTierTemplate has high limits, cheaper overage and an SLA.
func BusinessTierTemplate() Template {
	return Template{
		AgreementType: models.AgreementBusiness,
		Terms: map[string]interface{}{
			"service_level":      "premium",
			"support":            "priority",
			"updates":            "feature and security",
			"termination_notice": "30 days",
			"sla": map[string]interface{}{
				"uptime":        99.9,
				"response_time": "4 hours",
			},
		},
		UsageLimits: map[string]float64{
			MetricAPICalls:  10000,
			MetricCPUTime:   600,
			MetricMemory:    4096,
			MetricStorage:   10000,
			MetricBandwidth: 50000,
		},
		Pricing: models.AgreementPricing{
			BaseFee: 49.99,
			OverageRates: map[string]float64{
				MetricAPICalls:  0.0008,
				MetricCPUTime:   0.008,
				MetricMemory:    0.004,
				MetricStorage:   0.0004,
				MetricBandwidth: 0.00008,
			},
		},
		ExpirationDays: 365,
	}
}

// EnterpriseTierTemplate has very high limits and custom pricing.
func EnterpriseTierTemplate() Template {
	return Template{
		AgreementType: models.AgreementEnterprise,
		Terms: map[string]interface{}{
			"service_level":      "enterprise",
			"support":            "dedicated",
			"updates":            "feature and security",
			"termination_notice": "90 days",
			"sla": map[string]interface{}{
				"uptime":        99.99,
				"response_time": "1 hour",
			},
			"custom_integration": true,
			"white_label":        true,
		},
		UsageLimits: map[string]float64{
			MetricAPICalls:  1000000,
			MetricCPUTime:   10000,
			MetricMemory:    32768,
			MetricStorage:   100000,
			MetricBandwidth: 500000,
		},
		Pricing: models.AgreementPricing{
			BaseFee: 499.99,
			OverageRates: map[string]float64{
				MetricAPICalls:  0.0005,
				MetricCPUTime:   0.005,
				MetricMemory:    0.0025,
				MetricStorage:   0.0002,
				MetricBandwidth: 0.00005,
			},
			Custom: true,
		},
		ExpirationDays: 365,
	}
}

// TemplateForTier maps a tier name to its template.
func TemplateForTier(tier string) (Template, error) {
	switch tier {
	case models.AgreementFree:
		return FreeTierTemplate(), nil
	case models.AgreementPersonal:
		return PersonalTierTemplate(), nil
	case models.AgreementBusiness:
		return BusinessTierTemplate(), nil
	case models.AgreementEnterprise:
		return EnterpriseTierTemplate(), nil
	}
	return Template{}, fmt.Errorf("%w: unknown agreement tier %q", models.ErrValidation, tier)
}

// CreateFromTemplate creates, configures and submits an agreement from a
// template, returning its id in pending status ready for signatures.
func CreateFromTemplate(engine *Engine, consumerID, providerID, resourceID string, tpl Template) (string, error) {
	a, err := engine.CreateAgreement(consumerID, providerID, resourceID, tpl.AgreementType)
	if err != nil {
		return "", err
	}
	if tpl.Terms != nil {
		if err := engine.SetTerms(a.AgreementID, tpl.Terms); err != nil {
			return "", err
		}
	}
	if tpl.UsageLimits != nil {
		if err := engine.SetUsageLimits(a.AgreementID, tpl.UsageLimits); err != nil {
			return "", err
		}
	}
	if err := engine.SetPricing(a.AgreementID, tpl.Pricing); err != nil {
		return "", err
	}
	if tpl.ExpirationDays > 0 {
		if err := engine.SetExpiration(a.AgreementID, tpl.ExpirationDays); err != nil {
			return "", err
		}
	}
	if err := engine.Submit(a.AgreementID); err != nil {
		return "", err
	}
	return a.AgreementID, nil
}
