// Package commands implements the CLI commands for pricewatch.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pricewatch/internal/config"
	"github.com/jmylchreest/pricewatch/internal/logger"
	"github.com/jmylchreest/pricewatch/internal/output"
	"github.com/jmylchreest/pricewatch/internal/storage"
)

var (
	cfgFile string
	format  string
	initErr error
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pricewatch",
	Short: "Competitor price monitoring with LLM extraction",
	Long: `Pricewatch fetches competitor storefronts, extracts products and
promotions with an LLM, keeps a price history per product and raises
alerts for new products and significant price changes.

Examples:
  # Register a competitor
  pricewatch competitor add --owner 6f1c... --name "Shop" --url https://shop.example.tn

  # Scrape it with a local Ollama model, then look for price changes
  pricewatch scrape 3b9e... -p ollama -m llama3.1
  pricewatch analyze 3b9e...

  # Unread alerts as JSON
  pricewatch alerts list --unread -f json`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.pricewatch.yaml)")
	flags.StringVarP(&format, "format", "f", string(output.FormatTable), "output format: table, json, jsonl, yaml")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "suppress progress output")
	flags.Bool("json-logs", false, "write logs as JSON")
	flags.String("db-driver", "", "database driver: sqlite, postgres")
	flags.String("dsn", "", "database connection string")

	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("log.json", flags.Lookup("json-logs"))
	_ = viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", flags.Lookup("dsn"))
}

func initConfig() {
	initErr = config.Init(viper.GetViper(), cfgFile)
}

func loadConfig(_ *cobra.Command, _ []string) error {
	if initErr != nil {
		return initErr
	}
	c, err := config.Load(viper.GetViper())
	if err != nil {
		logError("%v", err)
		return err
	}
	cfg = c

	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  cfg.Log.JSON,
		Level: cfg.Log.Level,
	})
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openStore connects to the configured database, applying migrations.
func openStore(ctx context.Context) (*storage.SQLStore, error) {
	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	logger.Debug("store opened", "driver", cfg.Database.Driver)
	return store, nil
}

func newWriter(w io.Writer) (output.Writer, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(w, f)
}

func parseID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, s, err)
	}
	return id, nil
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
