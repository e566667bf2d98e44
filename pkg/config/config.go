package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/retry"
)

// Config holds all configuration for veritas-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (signing keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Auth       AuthConfig       `yaml:"auth"`
	Analytics  Analytics        `yaml:"analytics"`
	Reports    ReportsConfig    `yaml:"reports"`
	Datasource DatasourceConfig `yaml:"datasource"`
}

// AuthConfig holds e-signature credential settings.
type AuthConfig struct {
	// SigningTokenSecret signs short-lived re-authentication tokens. When
	// empty, only password verification is available.
	SigningTokenSecret string `yaml:"-" env:"SIGNING_TOKEN_SECRET"` // Secret - not in YAML

	// SigningTokenTTL is the lifetime of issued re-authentication tokens.
	SigningTokenTTL time.Duration `yaml:"signing_token_ttl" env:"SIGNING_TOKEN_TTL" env-default:"5m"`

	// Users maps user names to bcrypt password hashes.
	Users map[string]string `yaml:"users"`
}

// Analytics holds the quality settings every analysis runs against.
type Analytics struct {
	CQAs            []string `yaml:"cqas" env:"ANALYTICS_CQAS" env-default:"purity,main_impurity,bio_activity"`
	CriticalColumns []string `yaml:"critical_columns" env:"ANALYTICS_CRITICAL_COLUMNS" env-default:"purity,main_impurity,bio_activity"`
	ActivityColumn  string   `yaml:"activity_column" env:"ANALYTICS_ACTIVITY_COLUMN" env-default:"bio_activity"`

	// SpecLimits are the process specification limits per CQA.
	SpecLimits models.SpecLimits `yaml:"spec_limits"`
	// StabilitySpecLimits are the shelf-life limits used for stability trending.
	StabilitySpecLimits models.SpecLimits `yaml:"stability_spec_limits"`

	CpkTarget float64 `yaml:"cpk_target" env:"ANALYTICS_CPK_TARGET" env-default:"1.33"`

	// AnomalyFeatures are the three distinct columns anomaly detection runs on.
	AnomalyFeatures      []string `yaml:"anomaly_features" env:"ANALYTICS_ANOMALY_FEATURES" env-default:"purity,bio_activity,main_impurity"`
	AnomalyContamination float64  `yaml:"anomaly_contamination" env:"ANALYTICS_ANOMALY_CONTAMINATION" env-default:"0.05"`
	AnomalySeed          int64    `yaml:"anomaly_seed" env:"ANALYTICS_ANOMALY_SEED" env-default:"42"`

	// DeviationStates is the ordered deviation workflow.
	DeviationStates models.DeviationWorkflow `yaml:"deviation_states"`

	// Parallelism bounds concurrent per-CQA analyses.
	Parallelism int `yaml:"parallelism" env:"ANALYTICS_PARALLELISM" env-default:"4"`
}

// ReportsConfig controls report rendering.
type ReportsConfig struct {
	// Renderer is "html" or "pdf".
	Renderer     string        `yaml:"renderer" env:"REPORTS_RENDERER" env-default:"html"`
	ChromiumPath string        `yaml:"chromium_path" env:"REPORTS_CHROMIUM_PATH" env-default:""`
	Timeout      time.Duration `yaml:"timeout" env:"REPORTS_TIMEOUT" env-default:"15s"`
	Watermark    string        `yaml:"watermark" env:"REPORTS_WATERMARK" env-default:"DRAFT"`
}

// DatasourceConfig selects and tunes the tabular data provider.
type DatasourceConfig struct {
	// Type is a registered provider type ("fixture", "memory").
	Type string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"fixture"`
	// Source is the provider location, e.g. the fixture file path.
	Source string `yaml:"source" env:"DATASOURCE_SOURCE" env-default:"fixtures/veritas.yaml"`
	// DefaultDataset backs dashboard KPIs when a request names none.
	DefaultDataset string       `yaml:"default_dataset" env:"DATASOURCE_DEFAULT_DATASET" env-default:"hplc"`
	Retry          retry.Config `yaml:"retry"`
}

// DefaultAnalytics returns the built-in quality settings.
func DefaultAnalytics() Analytics {
	return Analytics{
		CQAs:            []string{"purity", "main_impurity", "bio_activity"},
		CriticalColumns: []string{"purity", "main_impurity", "bio_activity"},
		ActivityColumn:  "bio_activity",
		SpecLimits: models.SpecLimits{
			{CQA: "purity", Limit: models.NewSpecLimit(98.0, 102.0)},
			{CQA: "main_impurity", Limit: models.NewSpecLimit(0.0, 0.5)},
			{CQA: "bio_activity", Limit: models.NewSpecLimit(90.0, 110.0)},
		},
		StabilitySpecLimits: models.SpecLimits{
			{CQA: "purity", Limit: models.LowerOnly(98.0)},
			{CQA: "main_impurity", Limit: models.UpperOnly(0.75)},
		},
		CpkTarget:            1.33,
		AnomalyFeatures:      []string{"purity", "bio_activity", "main_impurity"},
		AnomalyContamination: 0.05,
		AnomalySeed:          42,
		DeviationStates:      append(models.DeviationWorkflow(nil), models.DefaultDeviationWorkflow...),
		Parallelism:          4,
	}
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path. A missing file falls back to
// environment variables and defaults.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(statErr, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, statErr)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills structured fields that have no env-default form.
func (c *Config) applyDefaults() {
	def := DefaultAnalytics()
	if len(c.Analytics.SpecLimits) == 0 {
		c.Analytics.SpecLimits = def.SpecLimits
	}
	if len(c.Analytics.StabilitySpecLimits) == 0 {
		c.Analytics.StabilitySpecLimits = def.StabilitySpecLimits
	}
	if len(c.Analytics.DeviationStates) == 0 {
		c.Analytics.DeviationStates = def.DeviationStates
	}
	if c.Analytics.Parallelism < 1 {
		c.Analytics.Parallelism = 1
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Analytics.Validate(); err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	switch c.Reports.Renderer {
	case "html", "pdf":
	default:
		return fmt.Errorf("reports: unknown renderer %q (want html or pdf)", c.Reports.Renderer)
	}
	if c.Reports.Watermark == "" {
		return errors.New("reports: watermark must not be empty")
	}
	if c.Auth.SigningTokenSecret == "" && len(c.Auth.Users) == 0 {
		return errors.New("auth: configure users or SIGNING_TOKEN_SECRET so signers can authenticate")
	}
	return nil
}

// AnomalyFeatureCount is the number of columns anomaly detection runs on.
const AnomalyFeatureCount = 3

// ValidateAnomalyFeatures requires exactly AnomalyFeatureCount distinct,
// non-empty column names.
func ValidateAnomalyFeatures(features []string) error {
	if len(features) != AnomalyFeatureCount {
		return fmt.Errorf("need exactly %d features, got %d: %w", AnomalyFeatureCount, len(features), apperrors.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if f == "" {
			return fmt.Errorf("feature names must not be empty: %w", apperrors.ErrInvalidInput)
		}
		if seen[f] {
			return fmt.Errorf("feature %q selected twice: %w", f, apperrors.ErrInvalidInput)
		}
		seen[f] = true
	}
	return nil
}

// Validate checks spec limits, the deviation workflow and anomaly settings.
func (a *Analytics) Validate() error {
	if err := a.SpecLimits.Validate(); err != nil {
		return fmt.Errorf("spec_limits: %w", err)
	}
	if err := a.StabilitySpecLimits.Validate(); err != nil {
		return fmt.Errorf("stability_spec_limits: %w", err)
	}
	if err := a.DeviationStates.Validate(); err != nil {
		return fmt.Errorf("deviation_states: %w", err)
	}
	if err := ValidateAnomalyFeatures(a.AnomalyFeatures); err != nil {
		return fmt.Errorf("anomaly_features: %w", err)
	}
	if a.AnomalyContamination <= 0 || a.AnomalyContamination >= 0.5 {
		return fmt.Errorf("anomaly_contamination %v must be in (0, 0.5)", a.AnomalyContamination)
	}
	if a.CpkTarget <= 0 {
		return fmt.Errorf("cpk_target %v must be positive", a.CpkTarget)
	}
	return nil
}
