// Package config loads the pay desk configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	x402 "github.com/boorich/naveens"
	"github.com/boorich/naveens/mechanisms/evm"
	"github.com/boorich/naveens/payment"
)

const (
	DefaultPort       = 4021
	DefaultNetwork    = "eip155:84532"
	DefaultLkrPerUsdc = 300
)

// Config is the pay desk configuration
type Config struct {
	Port           int    `validate:"min=1,max=65535"`
	BaseURL        string `validate:"required,url"`
	Mode           string `validate:"required"`
	FacilitatorURL string `validate:"omitempty,url"`
	PayTo          string `validate:"required"`
	Network        string `validate:"required,contains=:"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	DatabaseURL    string

	MockVerifyDelay time.Duration `validate:"gte=0"`
	MockSettleDelay time.Duration `validate:"gte=0"`

	LkrPerUsdc    float64 `validate:"gt=0"`
	DriverName    string
	DriverCity    string
	DriverCountry string
}

// Load reads the given .env files (".env" when none are named) without
// overriding variables already set, then parses the process environment.
// Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return Parse(os.LookupEnv)
}

// Parse builds a Config from lookup, applying defaults and validating the result
func Parse(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}

	port, err := strconv.Atoi(get("PORT", strconv.Itoa(DefaultPort)))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	verifyDelay, err := parseDelay(get("MOCK_VERIFY_DELAY", ""), payment.DefaultMockVerifyDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid MOCK_VERIFY_DELAY: %w", err)
	}
	settleDelay, err := parseDelay(get("MOCK_SETTLE_DELAY", ""), payment.DefaultMockSettleDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid MOCK_SETTLE_DELAY: %w", err)
	}

	rate, err := strconv.ParseFloat(get("LKR_PER_USDC", strconv.Itoa(DefaultLkrPerUsdc)), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LKR_PER_USDC: %w", err)
	}

	cfg := &Config{
		Port:            port,
		BaseURL:         strings.TrimRight(get("BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),
		Mode:            normalizeMode(get("X402_MODE", payment.ProviderMock)),
		FacilitatorURL:  get("FACILITATOR_URL", ""),
		PayTo:           get("DRIVER_USDC_WALLET", evm.ZeroAddress),
		Network:         get("NETWORK", DefaultNetwork),
		LogLevel:        strings.ToLower(get("LOG_LEVEL", "info")),
		DatabaseURL:     get("DATABASE_URL", ""),
		MockVerifyDelay: verifyDelay,
		MockSettleDelay: settleDelay,
		LkrPerUsdc:      rate,
		DriverName:      get("DRIVER_NAME", "Driver"),
		DriverCity:      get("DRIVER_CITY", "Sri Lanka"),
		DriverCountry:   get("DRIVER_COUNTRY", "Sri Lanka"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// normalizeMode maps the legacy "coinbase" mode onto the facilitator-backed provider
func normalizeMode(mode string) string {
	mode = strings.ToLower(mode)
	if mode == payment.ProviderCoinbase {
		return payment.ProviderX402Coinbase
	}
	return mode
}

// parseDelay accepts a Go duration ("800ms") or a bare number of milliseconds
func parseDelay(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

// Address is the listen address for the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ZapLevel returns the configured log level
func (c *Config) ZapLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// PaymentConfig is the provider configuration for every pay request
func (c *Config) PaymentConfig() payment.Config {
	return payment.Config{
		Mode:           c.Mode,
		BaseURL:        c.BaseURL,
		PayTo:          c.PayTo,
		FacilitatorURL: c.FacilitatorURL,
		Network:        x402.Network(c.Network),
	}
}

// PublicConfig is what GET /api/config exposes
func (c *Config) PublicConfig() payment.PublicConfig {
	return payment.PublicConfig{
		Mode:          c.Mode,
		Network:       x402.Network(c.Network),
		DriverWallet:  c.PayTo,
		LkrPerUsdc:    c.LkrPerUsdc,
		DriverName:    c.DriverName,
		DriverCity:    c.DriverCity,
		DriverCountry: c.DriverCountry,
	}
}
