package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings are the tool's own options, as opposed to the spec being applied.
type Settings struct {
	Log       LogSettings       `mapstructure:"log"`
	Metrics   MetricsSettings   `mapstructure:"metrics"`
	Tracing   TracingSettings   `mapstructure:"tracing"`
	Runner    RunnerSettings    `mapstructure:"runner"`
	Retry     RetrySettings     `mapstructure:"retry"`
	HTTP      HTTPSettings      `mapstructure:"http"`
	WaitUp    WaitUpSettings    `mapstructure:"wait_up"`
	Container ContainerSettings `mapstructure:"container"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsSettings struct {
	// Listen is the address serving /metrics. Empty disables the endpoint.
	Listen string `mapstructure:"listen"`
}

type TracingSettings struct {
	// Exporter is one of none, stdout, otlp.
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type RunnerSettings struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type RetrySettings struct {
	WaitMin     time.Duration `mapstructure:"wait_min"`
	WaitMax     time.Duration `mapstructure:"wait_max"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type HTTPSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type WaitUpSettings struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

type ContainerSettings struct {
	// Binary is the container CLI, e.g. docker or podman.
	Binary string `mapstructure:"binary"`
}

// EnvPrefix prefixes environment overrides, e.g. PROVISION_LOG_LEVEL.
const EnvPrefix = "PROVISION"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("runner.poll_interval", 100*time.Millisecond)
	v.SetDefault("retry.wait_min", time.Second)
	v.SetDefault("retry.wait_max", 2*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.burst", 10)
	v.SetDefault("wait_up.timeout", 5*time.Minute)
	v.SetDefault("wait_up.interval", 2*time.Second)
	v.SetDefault("container.binary", "docker")
}

// flagKeys maps command-line flag names to settings keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"metrics-listen": "metrics.listen",
	"trace-exporter": "tracing.exporter",
	"container":      "container.binary",
}

// LoadSettings resolves settings from defaults, then the optional file,
// then PROVISION_* environment variables, then any flags that were set.
func LoadSettings(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the tool cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", s.Retry.MaxAttempts))
	}
	if s.Retry.WaitMin < 0 || s.Retry.WaitMax < s.Retry.WaitMin {
		errs = append(errs, fmt.Errorf("retry window [%s, %s] is invalid", s.Retry.WaitMin, s.Retry.WaitMax))
	}
	if s.WaitUp.Interval <= 0 {
		errs = append(errs, errors.New("wait_up.interval must be positive"))
	}
	if s.WaitUp.Timeout <= 0 {
		errs = append(errs, errors.New("wait_up.timeout must be positive"))
	}
	if s.Runner.PollInterval <= 0 {
		errs = append(errs, errors.New("runner.poll_interval must be positive"))
	}
	switch s.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not one of none, stdout, otlp", s.Tracing.Exporter))
	}
	switch s.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of console, json", s.Log.Format))
	}
	return errors.Join(errs...)
}
