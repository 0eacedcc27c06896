// Package config builds the single, range-validated Config the process runs
// with. Values come from defaults, then an optional YAML file, then
// SAFEGUARD_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // risk.time_zone must resolve on hosts without zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/safeguard/internal/risk"
)

// Config is the process configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Ledger LedgerConfig `yaml:"ledger"`
	Risk   RiskConfig   `yaml:"risk"`
	Canary CanaryConfig `yaml:"canary"`
	Audit  AuditConfig  `yaml:"audit"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	AdminToken      string        `yaml:"admin_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LedgerConfig struct {
	Backend          string        `yaml:"backend" validate:"oneof=sqlite redis"`
	RedisAddr        string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix      string        `yaml:"redis_prefix"`
	TTL              time.Duration `yaml:"ttl" validate:"gt=0,gtfield=OperationTimeout"`
	Retention        time.Duration `yaml:"retention" validate:"gt=0"`
	ReapInterval     time.Duration `yaml:"reap_interval" validate:"gt=0"`
	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"gt=0"`
}

type RiskConfig struct {
	MaxNotional       float64            `yaml:"max_notional" validate:"gte=0"`
	MaxPosition       float64            `yaml:"max_position" validate:"gte=0"`
	SymbolPositions   map[string]float64 `yaml:"symbol_positions" validate:"dive,keys,required,endkeys,gte=0"`
	DailyLossLimit    float64            `yaml:"daily_loss_limit" validate:"gte=0"`
	TimeZone          string             `yaml:"time_zone" validate:"required"`
	ResetInterval     time.Duration      `yaml:"reset_interval" validate:"gt=0,lte=1m"`
	BreakerRetryAfter time.Duration      `yaml:"breaker_retry_after" validate:"gt=0"`
	ExecTimeout       time.Duration      `yaml:"exec_timeout" validate:"gt=0"`
	Persist           bool               `yaml:"persist"`
}

type CanaryConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	ReportPath   string        `yaml:"report_path"`
}

type AuditConfig struct {
	Sink         string        `yaml:"sink" validate:"oneof=sqlite file"`
	FilePath     string        `yaml:"file_path" validate:"required_if=Sink file"`
	Buffer       int           `yaml:"buffer" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Path: "safeguard.db"},
		Ledger: LedgerConfig{
			Backend:          "sqlite",
			TTL:              24 * time.Hour,
			Retention:        7 * 24 * time.Hour,
			ReapInterval:     10 * time.Minute,
			OperationTimeout: 30 * time.Second,
		},
		Risk: RiskConfig{
			MaxNotional:       10000,
			MaxPosition:       1,
			DailyLossLimit:    500,
			TimeZone:          "UTC",
			ResetInterval:     time.Minute,
			BreakerRetryAfter: 300 * time.Second,
			ExecTimeout:       5 * time.Second,
		},
		Canary: CanaryConfig{FetchTimeout: 10 * time.Second},
		Audit: AuditConfig{
			Sink:         "sqlite",
			Buffer:       1024,
			WriteTimeout: 2 * time.Second,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment read through getenv (os.Getenv when
// nil). The result is validated.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate range-checks every field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Risk.TimeZone); err != nil {
		return fmt.Errorf("invalid config: risk.time_zone: %w", err)
	}
	return nil
}

// Location returns the risk reset time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Risk.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Limits converts the risk section to gate limits.
func (c *Config) Limits() risk.Limits {
	l := risk.Limits{
		MaxNotional:    decimal.NewFromFloat(c.Risk.MaxNotional),
		MaxPosition:    decimal.NewFromFloat(c.Risk.MaxPosition),
		DailyLossLimit: decimal.NewFromFloat(c.Risk.DailyLossLimit),
	}
	if len(c.Risk.SymbolPositions) > 0 {
		l.SymbolPositions = make(map[string]decimal.Decimal, len(c.Risk.SymbolPositions))
		for sym, v := range c.Risk.SymbolPositions {
			l.SymbolPositions[sym] = decimal.NewFromFloat(v)
		}
	}
	return l
}

// envBindings maps SAFEGUARD_* variables onto fields.
var envBindings = map[string]func(c *Config, v string) error{
	"SAFEGUARD_ADDR":                 func(c *Config, v string) error { c.Server.Addr = v; return nil },
	"SAFEGUARD_ADMIN_TOKEN":          func(c *Config, v string) error { c.Server.AdminToken = v; return nil },
	"SAFEGUARD_STORE_PATH":           func(c *Config, v string) error { c.Store.Path = v; return nil },
	"SAFEGUARD_LEDGER_BACKEND":       func(c *Config, v string) error { c.Ledger.Backend = v; return nil },
	"SAFEGUARD_REDIS_ADDR":           func(c *Config, v string) error { c.Ledger.RedisAddr = v; return nil },
	"SAFEGUARD_LEDGER_TTL":           durationInto(func(c *Config) *time.Duration { return &c.Ledger.TTL }),
	"SAFEGUARD_RISK_MAX_NOTIONAL":    floatInto(func(c *Config) *float64 { return &c.Risk.MaxNotional }),
	"SAFEGUARD_RISK_MAX_POSITION":    floatInto(func(c *Config) *float64 { return &c.Risk.MaxPosition }),
	"SAFEGUARD_RISK_DAILY_LOSS":      floatInto(func(c *Config) *float64 { return &c.Risk.DailyLossLimit }),
	"SAFEGUARD_RISK_TIME_ZONE":       func(c *Config, v string) error { c.Risk.TimeZone = v; return nil },
	"SAFEGUARD_RISK_PERSIST":         boolInto(func(c *Config) *bool { return &c.Risk.Persist }),
	"SAFEGUARD_AUDIT_SINK":           func(c *Config, v string) error { c.Audit.Sink = v; return nil },
	"SAFEGUARD_AUDIT_FILE":           func(c *Config, v string) error { c.Audit.FilePath = v; return nil },
	"SAFEGUARD_CANARY_FETCH_TIMEOUT": durationInto(func(c *Config) *time.Duration { return &c.Canary.FetchTimeout }),
}

func applyEnv(c *Config, getenv func(string) string) error {
	for name, set := range envBindings {
		v := getenv(name)
		if v == "" {
			continue
		}
		if err := set(c, v); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}

func durationInto(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func floatInto(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolInto(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}
