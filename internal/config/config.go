// Package config loads shipsure configuration from a YAML file, a .env file
// and SHIPSURE_* environment variables, in that order of precedence (lowest
// first), and validates the result against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the full process configuration.
type Config struct {
	Mirror MirrorConfig `yaml:"mirror" json:"mirror"`
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`
	Oracle OracleConfig `yaml:"oracle" json:"oracle"`
	Engine EngineConfig `yaml:"engine" json:"engine"`
	HTTP   HTTPConfig   `yaml:"http" json:"http"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// MirrorConfig selects the off-ledger mirror database.
type MirrorConfig struct {
	Dialect string `yaml:"dialect" json:"dialect"` // "sqlite" | "postgres"
	DSN     string `yaml:"dsn" json:"dsn"`
}

// LedgerConfig locates the ledger book and the identities acting on it.
type LedgerConfig struct {
	Path   string `yaml:"path" json:"path"`
	Owner  string `yaml:"owner" json:"owner"`
	Oracle string `yaml:"oracle" json:"oracle"` // identity the engine submits as
}

// OracleConfig selects the tracking source.
type OracleConfig struct {
	Kind     string        `yaml:"kind" json:"kind"` // "simulator" | "http"
	URL      string        `yaml:"url" json:"url,omitempty"`
	APIKey   string        `yaml:"api_key" json:"apiKey,omitempty"`
	Seed     uint64        `yaml:"seed" json:"seed"`
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cacheTTL"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// EngineConfig tunes the reconciliation engine and scheduler.
type EngineConfig struct {
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	ItemDelay   time.Duration `yaml:"item_delay" json:"itemDelay"`
	CallTimeout time.Duration `yaml:"call_timeout" json:"callTimeout"`
	Interval    time.Duration `yaml:"interval" json:"interval"`
	ExpirySweep bool          `yaml:"expiry_sweep" json:"expirySweep"`
}

// HTTPConfig configures the admin server.
type HTTPConfig struct {
	Addr        string   `yaml:"addr" json:"addr"`
	CORSOrigins []string `yaml:"cors_origins" json:"corsOrigins,omitempty"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file or env overrides a
// field. Ledger identities have no defaults.
func Default() Config {
	return Config{
		Mirror: MirrorConfig{Dialect: "sqlite", DSN: "shipsure.db"},
		Ledger: LedgerConfig{Path: "ledger.db"},
		Oracle: OracleConfig{
			Kind:    "simulator",
			Seed:    1,
			Timeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			Concurrency: 4,
			CallTimeout: 10 * time.Second,
			Interval:    5 * time.Minute,
			ExpirySweep: true,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), a .env file in the working directory if present, and
// SHIPSURE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks cfg against the embedded CUE schema, then applies the
// cross-field rules the schema does not express.
func (c Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(cctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	if c.Oracle.Kind == "http" && c.Oracle.URL == "" {
		return errors.New("invalid config: oracle.url is required when oracle.kind is http")
	}
	if c.Engine.CallTimeout > c.Engine.Interval {
		return fmt.Errorf("invalid config: engine.call_timeout %s exceeds engine.interval %s",
			c.Engine.CallTimeout, c.Engine.Interval)
	}
	return nil
}

// Handler builds the slog handler described by l. verbose forces debug.
func (l LogConfig) Handler(w io.Writer, verbose bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.level()}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (l LogConfig) level() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
