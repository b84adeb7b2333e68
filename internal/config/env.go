package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHIPSURE_"

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func dur(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"MIRROR_DIALECT", str(func(c *Config) *string { return &c.Mirror.Dialect })},
	{"MIRROR_DSN", str(func(c *Config) *string { return &c.Mirror.DSN })},
	{"LEDGER_PATH", str(func(c *Config) *string { return &c.Ledger.Path })},
	{"LEDGER_OWNER", str(func(c *Config) *string { return &c.Ledger.Owner })},
	{"LEDGER_ORACLE", str(func(c *Config) *string { return &c.Ledger.Oracle })},
	{"ORACLE_KIND", str(func(c *Config) *string { return &c.Oracle.Kind })},
	{"ORACLE_URL", str(func(c *Config) *string { return &c.Oracle.URL })},
	{"ORACLE_API_KEY", str(func(c *Config) *string { return &c.Oracle.APIKey })},
	{"ORACLE_SEED", func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		c.Oracle.Seed = n
		return nil
	}},
	{"ORACLE_CACHE_TTL", dur(func(c *Config) *time.Duration { return &c.Oracle.CacheTTL })},
	{"ORACLE_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Oracle.Timeout })},
	{"ENGINE_CONCURRENCY", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Engine.Concurrency = n
		return nil
	}},
	{"ENGINE_ITEM_DELAY", dur(func(c *Config) *time.Duration { return &c.Engine.ItemDelay })},
	{"ENGINE_CALL_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Engine.CallTimeout })},
	{"ENGINE_INTERVAL", dur(func(c *Config) *time.Duration { return &c.Engine.Interval })},
	{"ENGINE_EXPIRY_SWEEP", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Engine.ExpirySweep = b
		return nil
	}},
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.HTTP.Addr })},
	{"HTTP_CORS_ORIGINS", func(c *Config, v string) error {
		c.HTTP.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.HTTP.CORSOrigins = append(c.HTTP.CORSOrigins, o)
			}
		}
		return nil
	}},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

// applyEnv overrides cfg fields from SHIPSURE_* variables found by lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}
