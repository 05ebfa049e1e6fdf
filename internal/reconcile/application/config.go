package application

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a yaml-friendly duration accepting Go duration strings
// ("180s", "24h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("reconcile config: %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Thresholds controls gap detection and filling.
type Thresholds struct {
	// GapThreshold is the silence after which a device is flagged.
	GapThreshold Duration `yaml:"gap_threshold"`
	// MaxFill caps how much of a gap is filled with estimates.
	MaxFill Duration `yaml:"max_fill"`
	// MinFill is the shortest gap worth filling; shorter gaps are
	// flagged only.
	MinFill Duration `yaml:"min_fill"`
}

// Config defines reconciliation configuration.
type Config struct {
	Defaults   Thresholds            `yaml:"defaults"`
	Classrooms map[string]Thresholds `yaml:"classrooms"`
	Schedule   ScheduleConfig        `yaml:"schedule"`
	WebhookURL string                `yaml:"webhook_url"`
}

// ScheduleConfig defines the daily run time (facility-local hh:mm).
type ScheduleConfig struct {
	DailyAt string `yaml:"daily_at"`
}

// LoadConfig loads config from the RECONCILE_CONFIG yaml file with env
// fallbacks for unset values.
func LoadConfig() (Config, error) {
	cfg := Config{
		Defaults: Thresholds{
			GapThreshold: Duration(getenvDurationDefault("RECONCILE_GAP_THRESHOLD", 3*time.Minute)),
			MaxFill:      Duration(getenvDurationDefault("RECONCILE_MAX_FILL", 24*time.Hour)),
			MinFill:      Duration(getenvDurationDefault("RECONCILE_MIN_FILL", time.Minute)),
		},
		WebhookURL: os.Getenv("RECONCILE_WEBHOOK_URL"),
	}

	if path := os.Getenv("RECONCILE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = getenvDefault("RECONCILE_DAILY_AT", "02:15")
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("RECONCILE_WEBHOOK_URL")
	}
	return cfg, nil
}

// ThresholdsForClassroom returns the thresholds for a classroom,
// merging any override onto the defaults.
func (c Config) ThresholdsForClassroom(classroom string) Thresholds {
	if c.Classrooms != nil {
		if override, ok := c.Classrooms[classroom]; ok {
			return mergeThresholds(c.Defaults, override)
		}
	}
	return c.Defaults
}

func mergeThresholds(base, override Thresholds) Thresholds {
	if override.GapThreshold != 0 {
		base.GapThreshold = override.GapThreshold
	}
	if override.MaxFill != 0 {
		base.MaxFill = override.MaxFill
	}
	if override.MinFill != 0 {
		base.MinFill = override.MinFill
	}
	return base
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
