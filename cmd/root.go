package cmd

import (
	"fmt"
	"os"

	"github.com/dbmirror/dbmirror/cmd/plan"
	"github.com/dbmirror/dbmirror/cmd/sync"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dbmirror",
	Short: "One-way database mirroring between servers of the same dialect",
	Long: `dbmirror keeps a target database in step with a source database by
comparing their catalogs and re-transferring only the relations that changed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(sync.Command())
	rootCmd.AddCommand(plan.Command())
}
