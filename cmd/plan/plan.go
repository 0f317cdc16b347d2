package plan

import (
	"context"
	"fmt"

	"github.com/dbmirror/dbmirror/cmd/internal/cmdutil"
	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/dbmirror/dbmirror/ledger"
	"github.com/dbmirror/dbmirror/plan"
	"github.com/dbmirror/dbmirror/relation"
	"github.com/dbmirror/dbmirror/snapshot"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	var (
		compareBy string
		dir       string
		noViews   bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would do, without touching the target.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			logger, err := cmdutil.Logger()
			if err != nil {
				return err
			}
			by, err := plan.ParseCompareBy(compareBy)
			if err != nil {
				return err
			}

			conns, err := cmdutil.LoadDBConns(ctx)
			if err != nil {
				return err
			}
			defer func() {
				for _, conn := range conns {
					if err := conn.Close(ctx); err != nil {
						logger.Err(err).Msgf("error closing connection")
					}
				}
			}()
			if err := dbconn.ValidatePair(conns); err != nil {
				return err
			}

			opts := snapshot.Options{Checksums: by == plan.CompareByChecksum}
			srcSnap, err := snapshot.Read(ctx, conns.Source(), opts)
			if err != nil {
				return err
			}
			tgtSnap, err := snapshot.Read(ctx, conns.Target(), opts)
			if err != nil {
				return err
			}

			led, err := ledger.Open(dir, conns.Target().Database())
			if err != nil {
				return err
			}
			defer func() { _ = led.Close() }()
			done := led.Entries()
			for _, name := range srcSnap.Names() {
				if _, ok := done[name]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: skipped (resume ledger)\n", srcSnap[name].Kind, name)
				}
			}
			srcSnap = srcSnap.Without(done)
			tgtSnap = tgtSnap.Without(done)

			decisions, err := plan.Decide(srcSnap, tgtSnap, by)
			if err != nil {
				return err
			}
			for _, d := range decisions {
				if noViews && d.Kind == relation.KindView {
					continue
				}
				if d.Reason != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (%s)\n", d.Kind, d.Name, d.Action, d.Reason)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", d.Kind, d.Name, d.Action)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(
		&compareBy,
		"compare-by",
		"",
		"how to decide whether a table changed: date, count, checksum or force",
	)
	cmd.PersistentFlags().StringVar(
		&dir,
		"dir",
		".",
		"directory holding the resume ledger",
	)
	cmd.PersistentFlags().BoolVar(
		&noViews,
		"no-views",
		false,
		"whether views should be excluded",
	)
	cmdutil.RegisterDBConnFlags(cmd)
	cmdutil.RegisterLoggerFlags(cmd)
	return cmd
}
