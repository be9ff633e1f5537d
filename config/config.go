/*
config.go - Server configuration

PURPOSE:
  Builds the server Config from four layers, later layers winning:

    1. Defaults (Default())
    2. YAML file named by -config
    3. Environment variables
    4. Command-line flags that were explicitly set

ENVIRONMENT:
  LEDGER_PORT        HTTP port
  LEDGER_DB_DRIVER   memory | sqlite | postgres
  LEDGER_DB_DSN      SQLite path or PostgreSQL DSN
  LEDGER_LOG_LEVEL   debug | info | warn | error
  LEDGER_ORG         Organization the books belong to

FILE FORMAT:
  port: 8080
  driver: postgres
  dsn: "host=localhost user=ledger dbname=ledger sslmode=disable"
  log_level: debug
  log_format: console
  org: parish-1
  audit_interval: 1h
  seed: ./books.yaml
  cors_origins: ["http://localhost:5173"]

SEE ALSO:
  - cmd/server/main.go: The only caller
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port          int           `yaml:"port"`
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	Org           string        `yaml:"org"`
	AuditInterval time.Duration `yaml:"audit_interval"`
	Seed          string        `yaml:"seed"`
	CORSOrigins   []string      `yaml:"cors_origins"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:          8080,
		Driver:        DriverSQLite,
		DSN:           "ledger.db",
		LogLevel:      "info",
		LogFormat:     "console",
		Org:           "default",
		AuditInterval: time.Hour,
		CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Load builds the configuration from args (without the program name) and
// the process environment.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		path          = fs.String("config", "", "YAML configuration file")
		port          = fs.Int("port", cfg.Port, "HTTP server port")
		driver        = fs.String("driver", cfg.Driver, "storage driver: memory, sqlite or postgres")
		dsn           = fs.String("db", cfg.DSN, `SQLite path (":memory:" allowed) or PostgreSQL DSN`)
		logLevel      = fs.String("log-level", cfg.LogLevel, "log level")
		logFormat     = fs.String("log-format", cfg.LogFormat, "log format: console or json")
		org           = fs.String("org", cfg.Org, "organization id")
		auditInterval = fs.Duration("audit-interval", cfg.AuditInterval, "balance audit interval, 0 disables")
		seed          = fs.String("seed", cfg.Seed, "books seed file applied at startup")
	)
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}

	if *path != "" {
		if err := cfg.loadFile(*path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.applyEnv(lookupEnv); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "driver":
			cfg.Driver = *driver
		case "db":
			cfg.DSN = *dsn
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "org":
			cfg.Org = *org
		case "audit-interval":
			cfg.AuditInterval = *auditInterval
		case "seed":
			cfg.Seed = *seed
		}
	})

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv("LEDGER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDGER_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookupEnv("LEDGER_DB_DRIVER"); ok && v != "" {
		c.Driver = v
	}
	if v, ok := lookupEnv("LEDGER_DB_DSN"); ok && v != "" {
		c.DSN = v
	}
	if v, ok := lookupEnv("LEDGER_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookupEnv("LEDGER_ORG"); ok && v != "" {
		c.Org = v
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch strings.ToLower(c.Driver) {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DSN == "" {
			errs = append(errs, fmt.Errorf("driver %s needs a dsn", c.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if strings.TrimSpace(c.Org) == "" {
		errs = append(errs, errors.New("org is required"))
	}
	if c.AuditInterval < 0 {
		errs = append(errs, errors.New("audit interval must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
