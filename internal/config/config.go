package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds process-wide engine settings.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" validate:"required"`
	DataDir    string `mapstructure:"data_dir" json:"data_dir" validate:"required"`
	DBPath     string `mapstructure:"db_path" json:"db_path"` // empty = in-memory L1 only

	// Upstream (ESI) client.
	ESIBaseURL          string        `mapstructure:"esi_base_url" json:"esi_base_url" validate:"required,url"`
	UserAgent           string        `mapstructure:"user_agent" json:"user_agent" validate:"required"`
	MaxConnections      int           `mapstructure:"max_connections" json:"max_connections" validate:"gte=1"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" json:"request_timeout" validate:"gt=0"`
	RetryAttempts       int           `mapstructure:"retry_attempts" json:"retry_attempts" validate:"gte=1,lte=10"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff" json:"retry_initial_backoff" validate:"gt=0"`
	RateLimitPerSecond  float64       `mapstructure:"rate_limit_per_second" json:"rate_limit_per_second" validate:"gt=0"`
	RateLimitBurst      int           `mapstructure:"rate_limit_burst" json:"rate_limit_burst" validate:"gte=1"`

	// Cache TTLs.
	OrderTTL    time.Duration `mapstructure:"order_ttl" json:"order_ttl" validate:"gt=0"`
	TaxonomyTTL time.Duration `mapstructure:"taxonomy_ttl" json:"taxonomy_ttl" validate:"gt=0"`
	UniverseTTL time.Duration `mapstructure:"universe_ttl" json:"universe_ttl" validate:"gt=0"`

	// Scan policy.
	MaxConcurrency int     `mapstructure:"max_concurrency" json:"max_concurrency" validate:"gte=1"`
	AdjacencyHops  int     `mapstructure:"adjacency_hops" json:"adjacency_hops" validate:"gte=1,lte=10"`
	MinutesPerJump float64 `mapstructure:"minutes_per_jump" json:"minutes_per_jump" validate:"gt=0"`
	MinProfitISK   float64 `mapstructure:"min_profit_isk" json:"min_profit_isk" validate:"gte=0"`

	MetricsEnabled bool `mapstructure:"metrics_enabled" json:"metrics_enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ListenAddr:          "127.0.0.1:13371",
		DataDir:             "data",
		DBPath:              "data/arbitrage.db",
		ESIBaseURL:          "https://esi.evetech.net/latest",
		UserAgent:           "eve-arbitrage/1.0 (github.com)",
		MaxConnections:      50,
		RequestTimeout:      15 * time.Second,
		RetryAttempts:       3,
		RetryInitialBackoff: 500 * time.Millisecond,
		RateLimitPerSecond:  100,
		RateLimitBurst:      20,
		OrderTTL:            5 * time.Minute,
		TaxonomyTTL:         6 * time.Hour,
		UniverseTTL:         24 * time.Hour,
		MaxConcurrency:      16,
		AdjacencyHops:       1,
		MinutesPerJump:      1.5,
		MinProfitISK:        100000,
		MetricsEnabled:      true,
	}
}

// Load reads configuration from defaults, an optional YAML file and ARB_*
// environment variables (highest priority), then validates it.
func Load(configPath string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("esi_base_url", d.ESIBaseURL)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_initial_backoff", d.RetryInitialBackoff)
	v.SetDefault("rate_limit_per_second", d.RateLimitPerSecond)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)
	v.SetDefault("order_ttl", d.OrderTTL)
	v.SetDefault("taxonomy_ttl", d.TaxonomyTTL)
	v.SetDefault("universe_ttl", d.UniverseTTL)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("adjacency_hops", d.AdjacencyHops)
	v.SetDefault("minutes_per_jump", d.MinutesPerJump)
	v.SetDefault("min_profit_isk", d.MinProfitISK)
	v.SetDefault("metrics_enabled", d.MetricsEnabled)
}

// Validate checks struct tags and returns a readable error.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", e.Field(), e.Tag(), e.Value()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}
