package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Gateways GatewaysConfig `mapstructure:"gateways"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Mode        string `mapstructure:"mode"` // debug, release, test
	SwaggerPath string `mapstructure:"swagger_path"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// GatewayConfig holds one provider's credentials. For PayPal the
// webhook_secret field carries the registered webhook ID used by the
// remote verification call.
type GatewayConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
	BaseURL       string `mapstructure:"base_url"`
}

type GatewaysConfig struct {
	Stripe      GatewayConfig `mapstructure:"stripe"`
	Razorpay    GatewayConfig `mapstructure:"razorpay"`
	PayPal      GatewayConfig `mapstructure:"paypal"`
	Paystack    GatewayConfig `mapstructure:"paystack"`
	MercadoPago GatewayConfig `mapstructure:"mercadopago"`
}

// ByName returns the config block for a gateway name, false if unknown.
func (g GatewaysConfig) ByName(name string) (GatewayConfig, bool) {
	switch name {
	case "stripe":
		return g.Stripe, true
	case "razorpay":
		return g.Razorpay, true
	case "paypal":
		return g.PayPal, true
	case "paystack":
		return g.Paystack, true
	case "mercadopago":
		return g.MercadoPago, true
	}
	return GatewayConfig{}, false
}

type RetryConfig struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Expiry          time.Duration `mapstructure:"expiry"`
	ProcessingLease time.Duration `mapstructure:"processing_lease"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PR_ (Payment Reconciler).
// Nested keys use underscore: PR_DATABASE_HOST, PR_GATEWAYS_STRIPE_WEBHOOK_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.swagger_path", "docs/openapi.yaml")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_reconciler")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "payment-reconciler")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("retry.sweep_interval", "30s")
	v.SetDefault("retry.batch_size", 50)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.expiry", "24h")
	v.SetDefault("retry.processing_lease", "5m")

	for _, gw := range []string{"stripe", "razorpay", "paypal", "paystack", "mercadopago"} {
		v.SetDefault("gateways."+gw+".enabled", false)
		v.SetDefault("gateways."+gw+".api_key", "")
		v.SetDefault("gateways."+gw+".api_secret", "")
		v.SetDefault("gateways."+gw+".webhook_secret", "")
		v.SetDefault("gateways."+gw+".base_url", "")
	}
	v.SetDefault("gateways.stripe.currency", "usd")
	v.SetDefault("gateways.razorpay.currency", "inr")
	v.SetDefault("gateways.paypal.currency", "usd")
	v.SetDefault("gateways.paystack.currency", "ngn")
	v.SetDefault("gateways.mercadopago.currency", "brl")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PR_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
