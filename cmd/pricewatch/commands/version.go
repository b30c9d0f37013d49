package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pricewatch/internal/output"
	"github.com/jmylchreest/pricewatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// No config or database is needed.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		if f, _ := output.ParseFormat(format); f == output.FormatTable || f == "" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return err
		}
		w, err := newWriter(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := w.Write(version.Get()); err != nil {
			return err
		}
		return w.Close()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
