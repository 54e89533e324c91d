package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms" validate:"gte=0"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms" validate:"gte=0"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms" validate:"gte=0"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes" validate:"gte=0"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	PrometheusPath string `yaml:"prometheus_path" validate:"startswith=/"`
}

// Role is the burst/refill policy of one role class.
type Role struct {
	Capacity        int     `yaml:"capacity" validate:"gt=0"`
	RefillPerSecond float64 `yaml:"refill_per_second" validate:"gt=0"`
}

type APIKey struct {
	ID     string `yaml:"id" validate:"required"`
	Secret string `yaml:"secret" validate:"required"`
	Role   string `yaml:"role" validate:"required"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys" validate:"dive"`
}

type Janitor struct {
	IntervalMS int `yaml:"interval_ms" validate:"gte=0"`
	MaxIdleMS  int `yaml:"max_idle_ms" validate:"gte=0"`
}

type Root struct {
	Server        Server          `yaml:"server"`
	Observability Observability   `yaml:"observability"`
	Auth          Auth            `yaml:"auth"`
	Roles         map[string]Role `yaml:"roles" validate:"dive"`
	Janitor       Janitor         `yaml:"janitor"`
}

// DefaultRoles is used when the config file declares no roles.
func DefaultRoles() map[string]Role {
	return map[string]Role{
		"admin": {Capacity: 7, RefillPerSecond: 0.583}, // full again after ~12s
		"user":  {Capacity: 5, RefillPerSecond: 0.5},   // full again after 10s
	}
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (j Janitor) Interval() time.Duration { return time.Duration(j.IntervalMS) * time.Millisecond }
func (j Janitor) MaxIdle() time.Duration  { return time.Duration(j.MaxIdleMS) * time.Millisecond }

// BucketConfigs converts the role table into the limiter's input.
func (r *Root) BucketConfigs() map[string]ratelimit.BucketConfig {
	out := make(map[string]ratelimit.BucketConfig, len(r.Roles))
	for name, role := range r.Roles {
		out[name] = ratelimit.BucketConfig{
			Capacity:            role.Capacity,
			RefillRatePerSecond: role.RefillPerSecond,
		}
	}
	return out
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Root) applyDefaults() {
	if r.Server.Addr == "" {
		r.Server.Addr = ":8080"
	}
	if r.Observability.LogLevel == "" {
		r.Observability.LogLevel = "info"
	}
	r.Observability.LogLevel = strings.ToLower(r.Observability.LogLevel)
	if r.Observability.PrometheusPath == "" {
		r.Observability.PrometheusPath = "/metrics"
	}
	if r.Auth.Header == "" {
		r.Auth.Header = "X-API-Key"
	}
	if len(r.Roles) == 0 {
		r.Roles = DefaultRoles()
	}
}

// Validate checks struct tags, then that every API key names a known role.
func (r *Root) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(r); err != nil {
		return formatValidationErrors(err)
	}

	var unknown []string
	for i, k := range r.Auth.Keys {
		if _, ok := r.Roles[k.Role]; !ok {
			unknown = append(unknown, fmt.Sprintf("auth.keys[%d]: references unknown role %q", i, k.Role))
		}
	}
	if len(unknown) > 0 {
		return errors.New(strings.Join(unknown, "; "))
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatSingleValidationError(e))
	}
	sort.Strings(messages)
	return errors.New(strings.Join(messages, "; "))
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
