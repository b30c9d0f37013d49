package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pricewatch/internal/session"
)

type analysisReport struct {
	CompetitorID           string `json:"competitor_id,omitempty" yaml:"competitor_id,omitempty"`
	ProductID              string `json:"product_id,omitempty" yaml:"product_id,omitempty"`
	session.AnalysisResult `yaml:",inline"`
}

func (analysisReport) Columns() []string {
	return []string{"COMPETITOR", "PRODUCT", "SUCCESS", "ALERTS", "ERROR"}
}

func (r analysisReport) Row() []string {
	return []string{orDash(r.CompetitorID), orDash(r.ProductID), strconv.FormatBool(r.Success), strconv.Itoa(r.AlertsCreated), r.Error}
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [competitor-id]",
	Short: "Compare the latest two prices of every product and raise alerts",
	Long: `Compare each product's two most recent price observations. A change
at or above the threshold raises a price_increase or price_decrease alert,
with high severity at or above the high threshold.

Pass a competitor ID to analyze all of its products, or --product to
analyze a single product.

Examples:
  pricewatch analyze 3b9e...
  pricewatch analyze 3b9e... --threshold 3 --high-threshold 10
  pricewatch analyze --product 7c1d...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	flags := analyzeCmd.Flags()
	flags.String("product", "", "analyze a single product by ID")
	flags.Float64("threshold", 0, "minimum change in percent that raises an alert")
	flags.Float64("high-threshold", 0, "change in percent at which alerts become high severity")

	_ = viper.BindPFlag("analysis.threshold_pct", flags.Lookup("threshold"))
	_ = viper.BindPFlag("analysis.high_severity_pct", flags.Lookup("high-threshold"))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	product, _ := cmd.Flags().GetString("product")
	if (product == "") == (len(args) == 0) {
		return errors.New("pass either a competitor id or --product")
	}

	var (
		report analysisReport
		run    func(*session.Controller) session.AnalysisResult
	)
	if product != "" {
		id, err := parseID("product", product)
		if err != nil {
			return err
		}
		report.ProductID = id.String()
		run = func(c *session.Controller) session.AnalysisResult { return c.RunProductAnalysis(ctx, id) }
	} else {
		id, err := parseID("competitor", args[0])
		if err != nil {
			return err
		}
		report.CompetitorID = id.String()
		run = func(c *session.Controller) session.AnalysisResult { return c.RunPriceAnalysis(ctx, id) }
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// Analysis never fetches or extracts.
	res := run(session.New(store, nil, nil, cfg.SessionOptions()))
	report.AnalysisResult = res

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
		return fmt.Errorf("price analysis failed: %s", res.Error)
	}
	logInfo("%d alerts created", res.AlertsCreated)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
