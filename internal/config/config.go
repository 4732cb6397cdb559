// Package config loads server and engine settings from a .env file, the
// environment, and an optional CUE file checked against the embedded #Config
// definition. Environment variables override file values.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"

	"github.com/matthewbaird/bidconfig/internal/logging"
)

//go:embed schema.cue
var schemaSource string

// Config is the resolved configuration.
type Config struct {
	Port               int
	DatabaseURL        string
	CatalogDatabaseURL string
	MeasurementURL     string
	Log                logging.Config
	Engine             Engine
}

// Engine tunes the editing engine.
type Engine struct {
	Debounce           time.Duration
	MeasurementTimeout time.Duration
	GlobalRequired     []string
	SessionIdleTimeout time.Duration
	SessionMaxAge      time.Duration
}

// DefaultDatabaseURL is the SQLite DSN used when DATABASE_URL is unset.
const DefaultDatabaseURL = "file:bidconfig.db?_pragma=foreign_keys(1)"

type fileConfig struct {
	Port               int    `json:"port"`
	DatabaseURL        string `json:"database_url"`
	CatalogDatabaseURL string `json:"catalog_database_url"`
	MeasurementURL     string `json:"measurement_url"`
	Log                struct {
		Level       string `json:"level"`
		Format      string `json:"format"`
		Development bool   `json:"development"`
	} `json:"log"`
	Engine struct {
		Debounce           string   `json:"debounce"`
		MeasurementTimeout string   `json:"measurement_timeout"`
		GlobalRequired     []string `json:"global_required"`
		SessionIdleTimeout string   `json:"session_idle_timeout"`
		SessionMaxAge      string   `json:"session_max_age"`
	} `json:"engine"`
}

// Load reads .env from the working directory if present, then the CUE file
// at path (or $CONFIG_FILE when path is empty), then the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	var src []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		src = b
	}
	fc, err := decode(src, path)
	if err != nil {
		return nil, err
	}
	cfg, err := fc.resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unifies src with #Config and decodes the result. Empty src yields
// the schema defaults.
func decode(src []byte, filename string) (*fileConfig, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := def
	if len(src) > 0 {
		file := ctx.CompileBytes(src, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filename, err)
		}
		val = def.Unify(file)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var fc fileConfig
	if err := val.Decode(&fc); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &fc, nil
}

func (fc *fileConfig) resolve() (*Config, error) {
	cfg := &Config{
		Port:               8080,
		DatabaseURL:        DefaultDatabaseURL,
		CatalogDatabaseURL: fc.CatalogDatabaseURL,
		MeasurementURL:     fc.MeasurementURL,
		Log: logging.Config{
			Level:       fc.Log.Level,
			Format:      fc.Log.Format,
			Development: fc.Log.Development,
		},
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"engine.debounce", fc.Engine.Debounce, &cfg.Engine.Debounce},
		{"engine.measurement_timeout", fc.Engine.MeasurementTimeout, &cfg.Engine.MeasurementTimeout},
		{"engine.session_idle_timeout", fc.Engine.SessionIdleTimeout, &cfg.Engine.SessionIdleTimeout},
		{"engine.session_max_age", fc.Engine.SessionMaxAge, &cfg.Engine.SessionMaxAge},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	cfg.Engine.GlobalRequired = append([]string{}, fc.Engine.GlobalRequired...)
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("PORT: invalid port %q", v)
		}
		c.Port = p
	}
	for env, dst := range map[string]*string{
		"DATABASE_URL":         &c.DatabaseURL,
		"CATALOG_DATABASE_URL": &c.CatalogDatabaseURL,
		"MEASUREMENT_URL":      &c.MeasurementURL,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	return nil
}
