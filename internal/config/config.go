package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	// Embedded zone database so TIMEZONE resolves on minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/vxs/registro/internal/platform/session"
)

const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	StoreBackend      string        `mapstructure:"STORE_BACKEND"`
	SupabaseURL       string        `mapstructure:"SUPABASE_URL"`
	SupabaseKey       string        `mapstructure:"SUPABASE_KEY"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	StoreTimeout      time.Duration `mapstructure:"STORE_TIMEOUT"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	AccessKeys        string        `mapstructure:"ACCESS_KEYS"`
	SessionSigningKey string        `mapstructure:"SESSION_SIGNING_KEY"`
	SessionIdleTTL    time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	LogoPath          string        `mapstructure:"LOGO_PATH"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	Timezone          string        `mapstructure:"TIMEZONE"`
	ExportFilename    string        `mapstructure:"EXPORT_FILENAME"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "STORE_BACKEND", "SUPABASE_URL", "SUPABASE_KEY",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "STORE_TIMEOUT",
	"REQUEST_TIMEOUT", "ACCESS_KEYS", "SESSION_SIGNING_KEY", "SESSION_IDLE_TTL", "LOGO_PATH",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "TIMEZONE",
	"EXPORT_FILENAME", "BODY_LIMIT",
}

// Load reads .env (if present) and the environment, falling back to
// defaults. It does not validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendREST)
	v.SetDefault("SUPABASE_URL", "https://uumezwowrtumbonsotyc.supabase.co")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("STORE_TIMEOUT", "15s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("ACCESS_KEYS", "equipo_vxs=,valentina_master=Andrea")
	v.SetDefault("SESSION_IDLE_TTL", "24h")
	v.SetDefault("LOGO_PATH", "VxS_logo.png")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("TIMEZONE", "America/Mexico_City")
	v.SetDefault("EXPORT_FILENAME", "pacientes_valentina.xlsx")
	v.SetDefault("BODY_LIMIT", "256K")

	// Bind explicitly so Unmarshal sees variables with no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	cfg.CORSOrigins = nil
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Keys parses ACCESS_KEYS into the login table.
func (c *Config) Keys() (map[string]string, error) {
	return session.ParseKeys(c.AccessKeys)
}

// SigningKey decodes SESSION_SIGNING_KEY. Nil means "generate one".
func (c *Config) SigningKey() ([]byte, error) {
	if c.SessionSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SessionSigningKey)
	if err != nil {
		return nil, fmt.Errorf("SESSION_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 16 {
		return nil, fmt.Errorf("SESSION_SIGNING_KEY must be at least 16 bytes (32 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Location resolves TIMEZONE, used for "today" in ages and birthdays and
// for the last-edit display.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is consistent for the selected
// backend and environment.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendREST:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required when STORE_BACKEND is %q", BackendREST)
		}
		if c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_KEY is required when STORE_BACKEND is %q", BackendREST)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendREST, BackendPostgres, c.StoreBackend)
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}

	keys, err := c.Keys()
	if err != nil {
		return fmt.Errorf("ACCESS_KEYS: %w", err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("ACCESS_KEYS must define at least one key")
	}

	if c.IsProduction() && c.SessionSigningKey == "" {
		return fmt.Errorf("SESSION_SIGNING_KEY is required in production")
	}
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must not be negative, got %s", c.SessionIdleTTL)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.ExportFilename == "" {
		return fmt.Errorf("EXPORT_FILENAME must not be empty")
	}
	return nil
}
