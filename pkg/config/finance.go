package config

import "fmt"

// FinanceConfig extends the built-in financial vocabulary and tunes alerts.
//
//	finance:
//	  companies: [平安银行]
//	  indicator_mapping:
//	    利息净收入: 净利息收入
//	  industry_threshold: 0.15
type FinanceConfig struct {
	Companies        []string          `yaml:"companies,omitempty"`
	Indicators       []string          `yaml:"indicators,omitempty"`
	IndicatorMapping map[string]string `yaml:"indicator_mapping,omitempty"`

	// IndustryThreshold is the relative deviation from the peer average that raises an alert.
	IndustryThreshold float64 `yaml:"industry_threshold,omitempty"`

	// HistoricalThreshold is the relative deviation from the company's own history.
	HistoricalThreshold float64 `yaml:"historical_threshold,omitempty"`

	// DefaultYear is used by financial:// reads without a year.
	DefaultYear int `yaml:"default_year,omitempty"`
}

func (c *FinanceConfig) SetDefaults() {
	if c.IndustryThreshold == 0 {
		c.IndustryThreshold = 0.15
	}
	if c.HistoricalThreshold == 0 {
		c.HistoricalThreshold = 0.20
	}
	if c.DefaultYear == 0 {
		c.DefaultYear = 2023
	}
}

func (c *FinanceConfig) Validate() error {
	if c.IndustryThreshold <= 0 || c.HistoricalThreshold <= 0 {
		return fmt.Errorf("alert thresholds must be positive")
	}
	for alias, canonical := range c.IndicatorMapping {
		if canonical == "" {
			return fmt.Errorf("indicator_mapping[%s] is empty", alias)
		}
	}
	return nil
}
