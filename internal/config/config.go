package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	NacppBaseURL       string  `mapstructure:"NACPP_BASE_URL"`
	NacppLogin         string  `mapstructure:"NACPP_LOGIN"`
	NacppPassword      string  `mapstructure:"NACPP_PASSWORD"`
	NacppLoginPath     string  `mapstructure:"NACPP_LOGIN_PATH"`
	NacppLoginField    string  `mapstructure:"NACPP_LOGIN_FIELD"`
	NacppPasswordField string  `mapstructure:"NACPP_PASSWORD_FIELD"`
	NacppRequireCSRF   bool    `mapstructure:"NACPP_REQUIRE_CSRF"`
	NacppHTTPTimeout   int     `mapstructure:"NACPP_HTTP_TIMEOUT"`
	NacppRetries       int     `mapstructure:"NACPP_RETRIES"`
	NacppRetryBackoff  float64 `mapstructure:"NACPP_RETRY_BACKOFF"`

	DefaultCurrency string `mapstructure:"DEFAULT_CURRENCY"`
	ReportsDir      string `mapstructure:"REPORTS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("NACPP_LOGIN_PATH", "/login.php")
	v.SetDefault("NACPP_LOGIN_FIELD", "login")
	v.SetDefault("NACPP_PASSWORD_FIELD", "password")
	v.SetDefault("NACPP_REQUIRE_CSRF", false)
	v.SetDefault("NACPP_HTTP_TIMEOUT", 25)
	v.SetDefault("NACPP_RETRIES", 3)
	v.SetDefault("NACPP_RETRY_BACKOFF", 1.5)
	v.SetDefault("DEFAULT_CURRENCY", "RUB")
	v.SetDefault("REPORTS_DIR", "data/reports")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("NACPP_BASE_URL")
	v.BindEnv("NACPP_LOGIN")
	v.BindEnv("NACPP_PASSWORD")
	v.BindEnv("NACPP_LOGIN_PATH")
	v.BindEnv("NACPP_LOGIN_FIELD")
	v.BindEnv("NACPP_PASSWORD_FIELD")
	v.BindEnv("NACPP_REQUIRE_CSRF")
	v.BindEnv("NACPP_HTTP_TIMEOUT")
	v.BindEnv("NACPP_RETRIES")
	v.BindEnv("NACPP_RETRY_BACKOFF")
	v.BindEnv("DEFAULT_CURRENCY")
	v.BindEnv("REPORTS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.NacppBaseURL = strings.TrimRight(cfg.NacppBaseURL, "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HTTPTimeout returns the configured upstream request timeout as a Duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.NacppHTTPTimeout) * time.Second
}

// Validate checks that the configuration is sufficient for commands that talk
// to the upstream lab system. Commands that only touch the local store (serve,
// migrate, prices-csv) call Load alone.
func (c *Config) Validate() error {
	if c.NacppBaseURL == "" {
		return fmt.Errorf("NACPP_BASE_URL is required")
	}
	if !strings.HasPrefix(c.NacppBaseURL, "http://") && !strings.HasPrefix(c.NacppBaseURL, "https://") {
		return fmt.Errorf("NACPP_BASE_URL must be an absolute http(s) URL, got %q", c.NacppBaseURL)
	}
	if c.NacppLogin == "" || c.NacppPassword == "" {
		return fmt.Errorf("NACPP_LOGIN and NACPP_PASSWORD are required")
	}
	if c.NacppRetries < 0 {
		return fmt.Errorf("NACPP_RETRIES must be >= 0, got %d", c.NacppRetries)
	}
	if c.NacppRetryBackoff < 0 {
		return fmt.Errorf("NACPP_RETRY_BACKOFF must be >= 0, got %f", c.NacppRetryBackoff)
	}
	return nil
}
