package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLConsole/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info and exit",
	// needs no configuration
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	},
}
