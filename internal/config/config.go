// Package config loads pricewatch settings from a config file, the
// environment and command-line flags through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pricewatch/internal/analyzer"
	"github.com/jmylchreest/pricewatch/internal/session"
	"github.com/jmylchreest/pricewatch/pkg/extractor"
	"github.com/jmylchreest/pricewatch/pkg/llm"
)

// EnvPrefix is prepended to environment variable names: llm.api_key is
// read from PRICEWATCH_LLM_API_KEY.
const EnvPrefix = "PRICEWATCH"

// Config holds every pricewatch setting.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Scrape     ScrapeConfig     `mapstructure:"scrape"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" validate:"required"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url" validate:"omitempty,url"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	StrictMode  bool          `mapstructure:"strict_mode"`
}

// ExtractionConfig tunes the extraction client.
type ExtractionConfig struct {
	MaxRetries       int           `mapstructure:"max_retries" validate:"gte=1"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
	MaxContentSize   int           `mapstructure:"max_content_size" validate:"gt=0"`
	MaxPrice         float64       `mapstructure:"max_price" validate:"gt=0"`
	Currencies       []string      `mapstructure:"currencies" validate:"min=1,dive,required,max=3"`
	FallbackCurrency string        `mapstructure:"fallback_currency" validate:"required,max=3"`
}

// ScrapeConfig tunes the session pipeline.
type ScrapeConfig struct {
	BatchSize         int               `mapstructure:"batch_size" validate:"gt=0"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" validate:"gt=0"`
	FetchMode         string            `mapstructure:"fetch_mode" validate:"oneof=static dynamic"`
	SnapshotLimit     int               `mapstructure:"snapshot_limit" validate:"gt=0"`
	Workers           int               `mapstructure:"workers" validate:"gte=1,lte=16"`
	UserAgent         string            `mapstructure:"user_agent"`
	ChromePath        string            `mapstructure:"chrome_path"`
	WaitSelector      string            `mapstructure:"wait_selector"`
	WaitDuration      time.Duration     `mapstructure:"wait_duration" validate:"gte=0"`
	Headers           map[string]string `mapstructure:"headers" validate:"omitempty,dive,keys,required,endkeys"`
}

// AnalysisConfig holds the price change thresholds, in percent.
type AnalysisConfig struct {
	ThresholdPct    float64 `mapstructure:"threshold_pct" validate:"gt=0"`
	HighSeverityPct float64 `mapstructure:"high_severity_pct" validate:"gtefield=ThresholdPct"`
}

// AlertsConfig toggles optional alert kinds.
type AlertsConfig struct {
	Promotions bool `mapstructure:"promotions"`
}

// CacheConfig enables the redis extraction cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
	Prefix   string        `mapstructure:"prefix"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `mapstructure:"json"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	ed := extractor.DefaultConfig()
	sd := session.DefaultOptions()
	ad := analyzer.DefaultOptions()

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pricewatch.db")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", ed.Temperature)
	v.SetDefault("llm.max_tokens", ed.MaxTokens)
	v.SetDefault("llm.timeout", llm.DefaultProviderConfig().Timeout)
	v.SetDefault("llm.strict_mode", false)

	v.SetDefault("extraction.max_retries", ed.MaxAttempts)
	v.SetDefault("extraction.retry_backoff", ed.RetryBackoff)
	v.SetDefault("extraction.max_content_size", ed.MaxContentSize)
	v.SetDefault("extraction.max_price", ed.MaxPrice)
	v.SetDefault("extraction.currencies", ed.Currencies)
	v.SetDefault("extraction.fallback_currency", ed.FallbackCurrency)

	v.SetDefault("scrape.batch_size", sd.BatchSize)
	v.SetDefault("scrape.navigation_timeout", sd.NavigationTimeout)
	v.SetDefault("scrape.fetch_mode", "dynamic")
	v.SetDefault("scrape.snapshot_limit", sd.SnapshotLimit)
	v.SetDefault("scrape.workers", sd.Workers)
	v.SetDefault("scrape.user_agent", "")
	v.SetDefault("scrape.chrome_path", "")
	v.SetDefault("scrape.wait_selector", "")
	v.SetDefault("scrape.wait_duration", time.Duration(0))

	v.SetDefault("analysis.threshold_pct", ad.ThresholdPct)
	v.SetDefault("analysis.high_severity_pct", ad.HighSeverityPct)

	v.SetDefault("alerts.promotions", false)

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", ed.CacheTTL)
	v.SetDefault("cache.prefix", "pricewatch:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Init prepares v to read the config file and environment. An empty
// cfgFile searches $HOME and the working directory for .pricewatch.yaml.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".pricewatch")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("invalid %s: %q fails %s", keyName(fe.Namespace()), fmt.Sprint(fe.Value()), fe.Tag()))
		}
	}
	if c.Scrape.BatchSize > c.Extraction.MaxContentSize {
		errs = append(errs, fmt.Errorf("invalid scrape.batch_size: %d exceeds extraction.max_content_size %d",
			c.Scrape.BatchSize, c.Extraction.MaxContentSize))
	}
	if !llm.IsRegistered(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("invalid llm.provider: unknown provider %q (available: %s)",
			c.LLM.Provider, strings.Join(llm.AvailableProviders(), ", ")))
	}
	return errors.Join(errs...)
}

// keyName turns a validator namespace such as Config.LLM.MaxTokens into
// the config key llm.max_tokens.
func keyName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteString(strings.ToLower(string(r)))
	}
	return b.String()
}

// ProviderConfig returns the settings for the model provider.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		APIKey:     c.LLM.APIKey,
		BaseURL:    c.LLM.BaseURL,
		Model:      c.LLM.Model,
		MaxRetries: llm.DefaultProviderConfig().MaxRetries,
		Timeout:    c.LLM.Timeout,
	}
}

// ExtractorConfig returns the settings for the extraction client.
func (c *Config) ExtractorConfig() extractor.Config {
	return extractor.Config{
		Temperature:      c.LLM.Temperature,
		MaxTokens:        c.LLM.MaxTokens,
		MaxAttempts:      c.Extraction.MaxRetries,
		RetryBackoff:     c.Extraction.RetryBackoff,
		MaxContentSize:   c.Extraction.MaxContentSize,
		MaxPrice:         c.Extraction.MaxPrice,
		Currencies:       c.Extraction.Currencies,
		FallbackCurrency: c.Extraction.FallbackCurrency,
		StrictMode:       c.LLM.StrictMode,
		CacheTTL:         c.Cache.TTL,
	}
}

// SessionOptions returns the settings for the session controller.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		BatchSize:         c.Scrape.BatchSize,
		NavigationTimeout: c.Scrape.NavigationTimeout,
		SnapshotLimit:     c.Scrape.SnapshotLimit,
		Workers:           c.Scrape.Workers,
		UserAgent:         c.Scrape.UserAgent,
		WaitForSelector:   c.Scrape.WaitSelector,
		WaitDuration:      c.Scrape.WaitDuration,
		Headers:           c.Scrape.Headers,
		PromotionAlerts:   c.Alerts.Promotions,
		Analysis: analyzer.Options{
			ThresholdPct:    c.Analysis.ThresholdPct,
			HighSeverityPct: c.Analysis.HighSeverityPct,
		},
	}
}
