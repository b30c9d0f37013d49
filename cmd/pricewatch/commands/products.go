package commands

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/output"
)

type productView struct {
	ID           string    `json:"id" yaml:"id"`
	Identifier   string    `json:"product_identifier" yaml:"product_identifier"`
	Name         string    `json:"name" yaml:"name"`
	Category     string    `json:"category,omitempty" yaml:"category,omitempty"`
	Price        float64   `json:"current_price" yaml:"current_price"`
	Currency     string    `json:"currency" yaml:"currency"`
	IsAvailable  bool      `json:"is_available" yaml:"is_available"`
	ProductURL   string    `json:"product_url,omitempty" yaml:"product_url,omitempty"`
	FirstSeen    time.Time `json:"first_detected_at" yaml:"first_detected_at"`
	LastUpdated  time.Time `json:"last_updated_at" yaml:"last_updated_at"`
	PriceHistory []float64 `json:"price_history,omitempty" yaml:"price_history,omitempty"`
}

func newProductView(p model.Product) productView {
	return productView{
		ID:          p.ID.String(),
		Identifier:  p.Identifier,
		Name:        p.Name,
		Category:    p.Category,
		Price:       p.CurrentPrice,
		Currency:    p.Currency,
		IsAvailable: p.IsAvailable,
		ProductURL:  p.ProductURL,
		FirstSeen:   p.FirstDetectedAt,
		LastUpdated: p.LastUpdatedAt,
	}
}

func (productView) Columns() []string {
	return []string{"IDENTIFIER", "NAME", "PRICE", "AVAILABLE", "UPDATED", "HISTORY"}
}

func (v productView) Row() []string {
	history := make([]byte, 0, 32)
	for i, p := range v.PriceHistory {
		if i > 0 {
			history = append(history, ' ')
		}
		history = strconv.AppendFloat(history, p, 'f', -1, 64)
	}
	return []string{
		v.Identifier,
		v.Name,
		humanize.CommafWithDigits(v.Price, 3) + " " + v.Currency,
		strconv.FormatBool(v.IsAvailable),
		humanize.Time(v.LastUpdated),
		string(history),
	}
}

var productsCmd = &cobra.Command{
	Use:   "products <competitor-id>",
	Short: "List the product catalog of a competitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runProducts,
}

func init() {
	rootCmd.AddCommand(productsCmd)
	productsCmd.Flags().Int("history", 0, "include up to N recent prices per product, newest first")
}

func runProducts(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id, err := parseID("competitor", args[0])
	if err != nil {
		return err
	}
	history, _ := cmd.Flags().GetInt("history")

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	products, err := store.ListProducts(ctx, id)
	if err != nil {
		return err
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		v := newProductView(p)
		if history > 0 {
			rows, err := store.RecentPrices(ctx, p.ID, history)
			if err != nil {
				return err
			}
			for _, h := range rows {
				v.PriceHistory = append(v.PriceHistory, h.Price)
			}
		}
		views = append(views, v)
	}

	w, err := newWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return output.WriteAll(w, views)
}
