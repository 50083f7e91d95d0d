// Package config loads the pipeline coordinator's configuration from a
// YAML file plus OMR_-prefixed environment overrides, following the
// teacher's viper.ReadInConfig + Unmarshal pattern in main.go.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full recognized option set of the HTTP/pipeline coordinator.
type Config struct {
	Ledger struct {
		DifficultyHexZeros int    `mapstructure:"difficulty_hex_zeros"`
		Path               string `mapstructure:"path"`
	} `mapstructure:"ledger"`

	Adapter struct {
		TimeoutSeconds      int            `mapstructure:"timeout_seconds"`
		MaxAttempts         int            `mapstructure:"max_attempts"`
		TotalBudgetSeconds  int            `mapstructure:"total_budget_seconds"`
		RateLimitPerSecond  map[string]float64 `mapstructure:"rate_limit_per_second"`
		QualityBaseURL      string         `mapstructure:"quality_base_url"`
		ReconstructBaseURL  string         `mapstructure:"reconstruct_base_url"`
		VerifyBaseURL       string         `mapstructure:"verify_base_url"`
		SolveBaseURL        string         `mapstructure:"solve_base_url"`
	} `mapstructure:"adapter"`

	Orchestrator struct {
		Workers              int    `mapstructure:"workers"`
		SheetDeadlineSeconds int    `mapstructure:"sheet_deadline_seconds"`
		AISolveMode          string `mapstructure:"ai_solve_mode"`
	} `mapstructure:"orchestrator"`

	Reconciliation struct {
		LowConfidenceThreshold float64 `mapstructure:"low_confidence_threshold"`
	} `mapstructure:"reconciliation"`

	Scoring struct {
		MarksTallyTolerance float64 `mapstructure:"marks_tally_tolerance"`
		MultipleMarkPolicy  string  `mapstructure:"multiple_mark_policy"`
	} `mapstructure:"scoring"`

	Quality struct {
		ProceedMinScore float64 `mapstructure:"proceed_min_score"`
		RejectMaxScore  float64 `mapstructure:"reject_max_score"`
	} `mapstructure:"quality"`

	Signers struct {
		RegistryPath string `mapstructure:"registry_path"`
	} `mapstructure:"signers"`

	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`

	HTTP struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"http"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("ledger.difficulty_hex_zeros", 0)
	v.SetDefault("adapter.timeout_seconds", 30)
	v.SetDefault("adapter.max_attempts", 3)
	v.SetDefault("adapter.total_budget_seconds", 90)
	v.SetDefault("adapter.rate_limit_per_second", map[string]float64{
		"assess_quality":    10,
		"reconstruct":       10,
		"verify_answer_key": 10,
		"solve_question":    10,
	})
	v.SetDefault("orchestrator.workers", 4*runtime.NumCPU())
	v.SetDefault("orchestrator.sheet_deadline_seconds", 600)
	v.SetDefault("orchestrator.ai_solve_mode", "all")
	v.SetDefault("reconciliation.low_confidence_threshold", 0.7)
	v.SetDefault("scoring.marks_tally_tolerance", 0.01)
	v.SetDefault("scoring.multiple_mark_policy", "zero")
	v.SetDefault("quality.proceed_min_score", 0.70)
	v.SetDefault("quality.reject_max_score", 0.30)
	v.SetDefault("http.port", "8080")
}

// Load reads a YAML config file (path may be empty to rely purely on
// environment variables and defaults), overlays OMR_-prefixed environment
// variables, and decodes into Config. flags, when non-nil, are bound so a
// flag set on the command line wins over env vars, env vars win over the
// file, and the file wins over defaults, matching the teacher's
// flag+viper layering.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("OMR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.Wrap(err, "config: bind flags")
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Ledger.Path == "" {
		return errors.New("config: ledger.path is mandatory")
	}
	if c.Signers.RegistryPath == "" {
		return errors.New("config: signers.registry_path is mandatory")
	}
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("config: orchestrator.workers must be positive, got %d", c.Orchestrator.Workers)
	}
	return nil
}
