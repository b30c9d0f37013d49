package commands

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/output"
)

type competitorView struct {
	ID            string     `json:"id" yaml:"id"`
	OwnerID       string     `json:"owner_id" yaml:"owner_id"`
	Name          string     `json:"name" yaml:"name"`
	BaseURL       string     `json:"base_url" yaml:"base_url"`
	IsActive      bool       `json:"is_active" yaml:"is_active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty" yaml:"last_scraped_at,omitempty"`
}

func newCompetitorView(c model.Competitor) competitorView {
	return competitorView{
		ID:            c.ID.String(),
		OwnerID:       c.OwnerID.String(),
		Name:          c.Name,
		BaseURL:       c.BaseURL,
		IsActive:      c.IsActive,
		LastScrapedAt: c.LastScrapedAt,
	}
}

func (competitorView) Columns() []string {
	return []string{"ID", "NAME", "URL", "ACTIVE", "LAST SCRAPED"}
}

func (v competitorView) Row() []string {
	last := "never"
	if v.LastScrapedAt != nil {
		last = humanize.Time(*v.LastScrapedAt)
	}
	return []string{v.ID, v.Name, v.BaseURL, strconv.FormatBool(v.IsActive), last}
}

var competitorCmd = &cobra.Command{
	Use:   "competitor",
	Short: "Manage monitored competitors",
}

var competitorAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a competitor storefront",
	Args:  cobra.NoArgs,
	RunE:  runCompetitorAdd,
}

var competitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List competitors",
	Args:  cobra.NoArgs,
	RunE:  runCompetitorList,
}

func init() {
	rootCmd.AddCommand(competitorCmd)
	competitorCmd.AddCommand(competitorAddCmd, competitorListCmd)

	flags := competitorAddCmd.Flags()
	flags.String("owner", "", "owner account id (generated when empty)")
	flags.String("name", "", "display name (required)")
	flags.String("url", "", "storefront URL to scrape (required)")
	flags.Bool("inactive", false, "register the competitor as inactive")
	_ = competitorAddCmd.MarkFlagRequired("name")
	_ = competitorAddCmd.MarkFlagRequired("url")
}

func runCompetitorAdd(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	name, _ := cmd.Flags().GetString("name")
	rawURL, _ := cmd.Flags().GetString("url")
	owner, _ := cmd.Flags().GetString("owner")
	inactive, _ := cmd.Flags().GetBool("inactive")

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: must be an absolute http(s) URL", rawURL)
	}

	ownerID := uuid.New()
	if owner != "" {
		if ownerID, err = parseID("owner", owner); err != nil {
			return err
		}
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	comp := &model.Competitor{OwnerID: ownerID, Name: name, BaseURL: u.String(), IsActive: !inactive}
	if err := store.CreateCompetitor(ctx, comp); err != nil {
		logError("%v", err)
		return err
	}
	logInfo("Competitor %q registered", comp.Name)

	w, err := newWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := w.Write(newCompetitorView(*comp)); err != nil {
		return err
	}
	return w.Close()
}

func runCompetitorList(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	comps, err := store.ListCompetitors(ctx)
	if err != nil {
		return err
	}

	views := make([]competitorView, 0, len(comps))
	for _, c := range comps {
		views = append(views, newCompetitorView(c))
	}

	w, err := newWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return output.WriteAll(w, views)
}
