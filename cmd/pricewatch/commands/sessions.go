package commands

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/output"
)

type sessionView struct {
	ID            string              `json:"id" yaml:"id"`
	Status        model.SessionStatus `json:"status" yaml:"status"`
	StartedAt     time.Time           `json:"started_at" yaml:"started_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ProductsFound int                 `json:"products_found" yaml:"products_found"`
	TokensUsed    int                 `json:"tokens_used" yaml:"tokens_used"`
	SnapshotBytes int                 `json:"snapshot_bytes" yaml:"snapshot_bytes"`
	Error         *model.SessionError `json:"error,omitempty" yaml:"error,omitempty"`
}

func newSessionView(s model.ScrapeSession) sessionView {
	return sessionView{
		ID:            s.ID.String(),
		Status:        s.Status,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		ProductsFound: s.ProductsFound,
		TokensUsed:    s.TokensUsed,
		SnapshotBytes: len(s.RawContent),
		Error:         s.Error,
	}
}

func (sessionView) Columns() []string {
	return []string{"ID", "STATUS", "STARTED", "DURATION", "PRODUCTS", "TOKENS", "SNAPSHOT", "ERROR"}
}

func (v sessionView) Row() []string {
	duration := "-"
	if v.CompletedAt != nil {
		duration = v.CompletedAt.Sub(v.StartedAt).Round(time.Millisecond).String()
	}
	errText := ""
	if v.Error != nil {
		errText = v.Error.Stage + ": " + v.Error.Message
	}
	return []string{
		v.ID,
		string(v.Status),
		humanize.Time(v.StartedAt),
		duration,
		strconv.Itoa(v.ProductsFound),
		humanize.Comma(int64(v.TokensUsed)),
		humanize.Bytes(uint64(v.SnapshotBytes)),
		errText,
	}
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <competitor-id>",
	Short: "List recent scrape sessions of a competitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().IntP("limit", "n", 20, "max sessions to show, newest first")
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id, err := parseID("competitor", args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions, err := store.ListSessions(ctx, id, limit)
	if err != nil {
		return err
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}

	w, err := newWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return output.WriteAll(w, views)
}
