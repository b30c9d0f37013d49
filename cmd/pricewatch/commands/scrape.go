package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	clifetcher "github.com/jmylchreest/pricewatch/cmd/pricewatch/fetcher"
	"github.com/jmylchreest/pricewatch/internal/cache"
	"github.com/jmylchreest/pricewatch/internal/logger"
	"github.com/jmylchreest/pricewatch/internal/session"
	"github.com/jmylchreest/pricewatch/internal/storage"
	"github.com/jmylchreest/pricewatch/pkg/extractor"
	"github.com/jmylchreest/pricewatch/pkg/fetcher"
	"github.com/jmylchreest/pricewatch/pkg/llm"
)

// scrapeReport is the printed outcome of a scrape, with the optional
// follow-up analysis.
type scrapeReport struct {
	session.ScrapeResult `yaml:",inline"`
	Duration             string                  `json:"duration" yaml:"duration"`
	Analysis             *session.AnalysisResult `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

func (scrapeReport) Columns() []string {
	return []string{"SESSION", "SUCCESS", "PRODUCTS", "PROMOTIONS", "TOKENS", "DURATION", "ALERTS", "ERROR"}
}

func (r scrapeReport) Row() []string {
	alerts := "-"
	if r.Analysis != nil {
		alerts = strconv.Itoa(r.Analysis.AlertsCreated)
	}
	return []string{
		r.SessionID,
		strconv.FormatBool(r.Success),
		strconv.Itoa(r.ProductsFound),
		strings.Join(r.Promotions, "; "),
		humanize.Comma(int64(r.TokensUsed)),
		r.Duration,
		alerts,
		r.Error,
	}
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <competitor-id>",
	Short: "Scrape a competitor and record its products and prices",
	Long: `Fetch the competitor's storefront, extract products and promotions
with the configured LLM and reconcile them into the product catalog and
price history. The run is recorded as a scrape session.

Examples:
  pricewatch scrape 3b9e... --fetch-mode static
  pricewatch scrape 3b9e... --wait-selector .product-grid --wait 2s
  pricewatch scrape 3b9e... -p openai -m gpt-4o-mini --workers 4 --analyze`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	flags := scrapeCmd.Flags()

	// LLM settings
	flags.StringP("provider", "p", "", "LLM provider: "+strings.Join(llm.AvailableProviders(), ", "))
	flags.StringP("model", "m", "", "model name (provider-specific)")
	flags.StringP("api-key", "k", "", "API key (or use env var)")
	flags.String("base-url", "", "custom API base URL")

	// Fetch settings
	flags.String("fetch-mode", "", "fetch mode: static, dynamic")
	flags.Duration("navigation-timeout", 0, "page load timeout (e.g. 45s)")
	flags.String("chrome-path", "", "browser binary for dynamic fetch mode")
	flags.String("wait-selector", "", "CSS selector to wait for before reading the page (dynamic mode)")
	flags.Duration("wait", 0, "extra settle time after the page loads (dynamic mode)")
	flags.StringToString("header", nil, "extra request header, repeatable (e.g. --header Accept-Language=fr-TN)")

	// Pipeline settings
	flags.String("batch-size", "", "max characters per extraction batch (e.g. 7.5KB)")
	flags.Int("workers", 0, "concurrent extraction calls")
	flags.Bool("promotions", false, "raise an alert for each detected promotion")
	flags.Bool("analyze", false, "run price analysis after a successful scrape")

	_ = viper.BindPFlag("llm.provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("llm.model", flags.Lookup("model"))
	_ = viper.BindPFlag("llm.api_key", flags.Lookup("api-key"))
	_ = viper.BindPFlag("llm.base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("scrape.fetch_mode", flags.Lookup("fetch-mode"))
	_ = viper.BindPFlag("scrape.navigation_timeout", flags.Lookup("navigation-timeout"))
	_ = viper.BindPFlag("scrape.chrome_path", flags.Lookup("chrome-path"))
	_ = viper.BindPFlag("scrape.wait_selector", flags.Lookup("wait-selector"))
	_ = viper.BindPFlag("scrape.wait_duration", flags.Lookup("wait"))
	_ = viper.BindPFlag("scrape.headers", flags.Lookup("header"))
	_ = viper.BindPFlag("scrape.workers", flags.Lookup("workers"))
	_ = viper.BindPFlag("alerts.promotions", flags.Lookup("promotions"))
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id, err := parseID("competitor", args[0])
	if err != nil {
		return err
	}

	if s, _ := cmd.Flags().GetString("batch-size"); strings.TrimSpace(s) != "" {
		n, err := humanize.ParseBytes(s)
		if err != nil || n == 0 {
			logError("invalid batch-size %q", s)
			return fmt.Errorf("invalid batch-size %q", s)
		}
		cfg.Scrape.BatchSize = int(n)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctrl, cleanup, err := newController(ctx, store)
	if err != nil {
		logError("%v", err)
		return err
	}
	defer cleanup()

	logInfo("Scraping competitor %s (%s fetch, %s)...", id, cfg.Scrape.FetchMode, cfg.LLM.Provider)
	start := time.Now()
	res := ctrl.RunScrape(ctx, id)
	report := scrapeReport{ScrapeResult: res, Duration: time.Since(start).Round(time.Millisecond).String()}

	if res.Success {
		logInfo("Found %d products using %s tokens in %s", res.ProductsFound, humanize.Comma(int64(res.TokensUsed)), report.Duration)
		if analyze, _ := cmd.Flags().GetBool("analyze"); analyze {
			ar := ctrl.RunPriceAnalysis(ctx, id)
			report.Analysis = &ar
		}
	}

	w, err := newWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := w.Write(report); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	if !res.Success {
		return fmt.Errorf("scrape failed: %s", res.Error)
	}
	if report.Analysis != nil && !report.Analysis.Success {
		return fmt.Errorf("price analysis failed: %s", report.Analysis.Error)
	}
	return nil
}

// newController wires the configured provider, cache and fetcher into a
// session controller. cleanup releases the fetcher and cache connection.
func newController(ctx context.Context, store storage.Store) (*session.Controller, func(), error) {
	provider, err := llm.NewProvider(cfg.LLM.Provider, cfg.ProviderConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("create %s provider: %w", cfg.LLM.Provider, err)
	}
	logger.Debug("provider ready", "provider", provider.Name(), "model", provider.Model())

	var (
		opts    []extractor.Option
		closers []func() error
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}
	}

	if cfg.Cache.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		opts = append(opts, extractor.WithCache(cache.NewRedis(client, cfg.Cache.Prefix)))
		logger.Debug("extraction cache enabled", "ttl", cfg.Cache.TTL)
	}

	f := newFetcher()
	closers = append(closers, f.Close)

	ex := extractor.New(provider, cfg.ExtractorConfig(), opts...)
	return session.New(store, f, ex, cfg.SessionOptions()), cleanup, nil
}

func newFetcher() fetcher.Fetcher {
	if cfg.Scrape.FetchMode == "static" {
		return fetcher.NewStatic(fetcher.StaticConfig{
			UserAgent: cfg.Scrape.UserAgent,
			Timeout:   cfg.Scrape.NavigationTimeout,
		})
	}
	return clifetcher.NewDynamicFetcher(clifetcher.Config{
		UserAgent:  cfg.Scrape.UserAgent,
		Timeout:    cfg.Scrape.NavigationTimeout,
		ChromePath: cfg.Scrape.ChromePath,
		Headless:   true,
	})
}
