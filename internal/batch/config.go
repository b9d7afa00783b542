package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CampaignConfig describes a recurring outreach campaign: which
// workspace to run, which firms to target, and when.
type CampaignConfig struct {
	Name      string   `yaml:"name"`
	Cron      string   `yaml:"cron"`
	Workspace string   `yaml:"workspace"`
	Mode      string   `yaml:"mode"`
	Firms     []string `yaml:"firms"`
	MaxFirms  int      `yaml:"max_firms"`
}

// Validate checks if the config is valid
func (c *CampaignConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	switch c.Mode {
	case "":
		c.Mode = "simulation"
	case "simulation", "live":
	default:
		return fmt.Errorf("mode must be simulation or live, got %q", c.Mode)
	}
	if c.MaxFirms < 0 {
		return fmt.Errorf("max_firms must not be negative")
	}
	return nil
}

// LoadCampaign loads a single campaign definition from a YAML file
func LoadCampaign(path string) (*CampaignConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg CampaignConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// LoadCampaignDir loads all campaign definitions (*.yaml, *.yml) from
// a directory, sorted by file name. A missing directory is not an
// error, it just means no scheduled campaigns.
func LoadCampaignDir(dir string) ([]CampaignConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string)
	configs := make([]CampaignConfig, 0, len(names))
	for _, name := range names {
		cfg, err := LoadCampaign(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("campaign %q defined in both %s and %s", cfg.Name, prev, name)
		}
		seen[cfg.Name] = name
		configs = append(configs, *cfg)
	}
	return configs, nil
}
