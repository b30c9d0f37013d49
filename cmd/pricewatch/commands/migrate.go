package commands

import (
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pricewatch/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status|version]",
	Short: "Manage the database schema",
	Long: `Apply or inspect schema migrations. Every command that opens the
database applies pending migrations first, so "up" is only needed to
prepare a database ahead of time.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status", "version"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	action := "up"
	if len(args) == 1 {
		action = args[0]
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	dir, err := migrations.Setup(store.Dialect())
	if err != nil {
		return err
	}

	db := store.DB()
	switch action {
	case "up":
		err = goose.UpContext(ctx, db, dir)
	case "down":
		err = goose.DownContext(ctx, db, dir)
	case "status":
		err = goose.StatusContext(ctx, db, dir)
	case "version":
		err = goose.VersionContext(ctx, db, dir)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	return nil
}
