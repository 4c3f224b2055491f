package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"rotaline/internal/domain"
)

// Config models rotaline.yml.
type Config struct {
	Owner struct {
		ID       string `yaml:"id"`
		Timezone string `yaml:"timezone"`
	} `yaml:"owner"`
	Proposals struct {
		ExpiryHours int `yaml:"expiry_hours"`
	} `yaml:"proposals"`
	Calendar struct {
		HorizonDays int `yaml:"horizon_days"`
	} `yaml:"calendar"`
	Work struct {
		ShiftHours     float64 `yaml:"shift_hours"`
		DayFreeHours   float64 `yaml:"day_free_hours"`
		NightFreeHours float64 `yaml:"night_free_hours"`
		OffFreeHours   float64 `yaml:"off_free_hours"`
		LeaveFreeHours float64 `yaml:"leave_free_hours"`
	} `yaml:"work"`
	Constraints struct {
		Mode            string `yaml:"mode"`
		AcceptThreshold int    `yaml:"accept_threshold"`
		SeedSystem      bool   `yaml:"seed_system"`
	} `yaml:"constraints"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run rl init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Owner.ID == "" {
		return fmt.Errorf("config.owner.id is required")
	}
	if c.Proposals.ExpiryHours < 0 {
		return fmt.Errorf("config.proposals.expiry_hours must not be negative")
	}
	if c.Calendar.HorizonDays < 1 || c.Calendar.HorizonDays > 366 {
		return fmt.Errorf("config.calendar.horizon_days must be in [1,366]")
	}
	for name, v := range map[string]float64{
		"shift_hours":      c.Work.ShiftHours,
		"day_free_hours":   c.Work.DayFreeHours,
		"night_free_hours": c.Work.NightFreeHours,
		"off_free_hours":   c.Work.OffFreeHours,
		"leave_free_hours": c.Work.LeaveFreeHours,
	} {
		if v < 0 || v > 24 {
			return fmt.Errorf("config.work.%s must be in [0,24]", name)
		}
	}
	switch domain.ConstraintMode(c.Constraints.Mode) {
	case domain.ModeBinary, domain.ModeWeighted:
	default:
		return fmt.Errorf("config.constraints.mode must be binary or weighted")
	}
	if c.Constraints.Mode == string(domain.ModeWeighted) && c.Constraints.AcceptThreshold < 1 {
		return fmt.Errorf("config.constraints.accept_threshold must be positive in weighted mode")
	}
	return nil
}

// WorkParams converts the work section to the domain shape.
func (c *Config) WorkParams() domain.WorkParams {
	return domain.WorkParams{
		ShiftHours:     c.Work.ShiftHours,
		DayFreeHours:   c.Work.DayFreeHours,
		NightFreeHours: c.Work.NightFreeHours,
		OffFreeHours:   c.Work.OffFreeHours,
		LeaveFreeHours: c.Work.LeaveFreeHours,
	}
}

// Preferences converts the constraints section to the domain shape.
func (c *Config) Preferences() domain.Preferences {
	return domain.Preferences{
		Timezone:        c.Owner.Timezone,
		ConstraintMode:  domain.ConstraintMode(c.Constraints.Mode),
		AcceptThreshold: c.Constraints.AcceptThreshold,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rotaline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(ownerID string) string {
	return fmt.Sprintf(defaultTemplate, ownerID)
}

// Default returns the default Config struct for an owner.
func Default(ownerID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, ownerID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `owner:
  id: %s
  timezone: Europe/Paris

proposals:
  expiry_hours: 72

calendar:
  horizon_days: 90

work:
  shift_hours: 12
  day_free_hours: 4
  night_free_hours: 2
  off_free_hours: 12
  leave_free_hours: 16

constraints:
  mode: binary
  accept_threshold: 10
  seed_system: true
`
