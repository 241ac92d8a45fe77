package config

import "fmt"

// ServicesConfig configures the analysis services behind the tools.
type ServicesConfig struct {
	// OutputDir receives generated reports. Empty means .finrag/reports.
	OutputDir string `yaml:"output_dir,omitempty"`

	// Directories scanned by integrate_data, keyed by data type.
	BankReportsDir string `yaml:"bank_reports_dir,omitempty"`
	MacroDataDir   string `yaml:"macro_data_dir,omitempty"`
	PolicyFilesDir string `yaml:"policy_files_dir,omitempty"`

	// Concurrency bounds parallel per-company lookups.
	Concurrency int `yaml:"concurrency,omitempty"`
}

func (c *ServicesConfig) SetDefaults() {
	if c.BankReportsDir == "" {
		c.BankReportsDir = "data/bank_reports"
	}
	if c.MacroDataDir == "" {
		c.MacroDataDir = "data/macro"
	}
	if c.PolicyFilesDir == "" {
		c.PolicyFilesDir = "data/policy"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

func (c *ServicesConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}
