package commands

import (
	"errors"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/output"
	"github.com/jmylchreest/pricewatch/internal/storage"
)

type alertView struct {
	ID           string          `json:"id" yaml:"id"`
	CompetitorID string          `json:"competitor_id" yaml:"competitor_id"`
	ProductID    string          `json:"product_id,omitempty" yaml:"product_id,omitempty"`
	Type         model.AlertType `json:"alert_type" yaml:"alert_type"`
	Severity     model.Severity  `json:"severity" yaml:"severity"`
	Title        string          `json:"title" yaml:"title"`
	Message      string          `json:"message" yaml:"message"`
	OldValue     map[string]any  `json:"old_value,omitempty" yaml:"old_value,omitempty"`
	NewValue     map[string]any  `json:"new_value,omitempty" yaml:"new_value,omitempty"`
	IsRead       bool            `json:"is_read" yaml:"is_read"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
}

func newAlertView(a model.Alert) alertView {
	v := alertView{
		ID:           a.ID.String(),
		CompetitorID: a.CompetitorID.String(),
		Type:         a.Type,
		Severity:     a.Severity,
		Title:        a.Title,
		Message:      a.Message,
		OldValue:     a.OldValue,
		NewValue:     a.NewValue,
		IsRead:       a.IsRead,
		CreatedAt:    a.CreatedAt,
	}
	if a.ProductID.Valid {
		v.ProductID = a.ProductID.UUID.String()
	}
	return v
}

func (alertView) Columns() []string {
	return []string{"ID", "TYPE", "SEVERITY", "MESSAGE", "READ", "CREATED"}
}

func (v alertView) Row() []string {
	return []string{v.ID, string(v.Type), string(v.Severity), v.Message, strconv.FormatBool(v.IsRead), humanize.Time(v.CreatedAt)}
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and acknowledge alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAlertsList,
}

var alertsReadCmd = &cobra.Command{
	Use:   "read <alert-id>...",
	Short: "Mark alerts as read",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAlertsRead,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsReadCmd)

	flags := alertsListCmd.Flags()
	flags.String("owner", "", "only alerts of this owner")
	flags.String("competitor", "", "only alerts of this competitor")
	flags.Bool("unread", false, "only unread alerts")
	flags.IntP("limit", "n", 50, "max alerts to show (0=all)")
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var f storage.AlertFilter
	for flag, dst := range map[string]*uuid.NullUUID{"owner": &f.OwnerID, "competitor": &f.CompetitorID} {
		s, _ := cmd.Flags().GetString(flag)
		if s == "" {
			continue
		}
		id, err := parseID(flag, s)
		if err != nil {
			return err
		}
		*dst = uuid.NullUUID{UUID: id, Valid: true}
	}
	f.UnreadOnly, _ = cmd.Flags().GetBool("unread")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	alerts, err := store.ListAlerts(ctx, f)
	if err != nil {
		return err
	}

	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, newAlertView(a))
	}

	w, err := newWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return output.WriteAll(w, views)
}

func runAlertsRead(_ *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := parseID("alert", arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var errs []error
	for _, id := range ids {
		if err := store.MarkAlertRead(ctx, id); err != nil {
			logError("%v", err)
			errs = append(errs, err)
			continue
		}
		logInfo("Alert %s marked as read", id)
	}
	return errors.Join(errs...)
}
