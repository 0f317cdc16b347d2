package sync

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/cmd/internal/cmdutil"
	"github.com/dbmirror/dbmirror/ledger"
	"github.com/dbmirror/dbmirror/mirror"
	"github.com/dbmirror/dbmirror/plan"
	"github.com/dbmirror/dbmirror/transfer"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	var (
		compareBy    string
		strategyName string
		dir          string
		noViews      bool
		cfg          mirror.Config
		cleanup      bool
		format       = transfer.DefaultFileFormat()
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the target database against the source.",
		Long: `Sync snapshots both catalogs, transfers every relation that was created
or changed on the source, and removes relations the source no longer has.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			logger, err := cmdutil.Logger()
			if err != nil {
				return err
			}
			cmdutil.RunMetricsServer(logger)

			cfg.CompareBy, err = plan.ParseCompareBy(compareBy)
			if err != nil {
				return err
			}
			cfg.SyncViews = !noViews
			cfg.Dir = dir

			var strategy transfer.Strategy
			switch strategyName {
			case "flatfile":
				strategy = transfer.NewFlatFile(dir, format, cleanup)
			case "native":
				strategy = transfer.NewNativeBulk(dir, format, cleanup)
			default:
				return errors.Newf("unknown transfer strategy %q (want flatfile or native)", strategyName)
			}

			conns, err := cmdutil.LoadDBConns(ctx)
			if err != nil {
				return err
			}
			led, err := ledger.Open(dir, conns.Target().Database())
			if err != nil {
				return err
			}
			defer func() {
				if err := led.Close(); err != nil {
					logger.Err(err).Msgf("error closing resume ledger")
				}
			}()

			res, err := mirror.Mirror(ctx, cfg, logger, conns, strategy, led)
			if err != nil {
				return err
			}
			if res.Failed() {
				return errors.Newf(
					"sync completed with %d errored and %d mismatched relations",
					len(res.Errored), len(res.Mismatched),
				)
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
		&strategyName,
		"transfer",
		"flatfile",
		"transfer strategy: flatfile or native",
	)
	cmd.PersistentFlags().StringVar(
		&dir,
		"dir",
		".",
		"directory holding transfer artifacts and the resume ledger",
	)
	cmd.PersistentFlags().BoolVar(
		&noViews,
		"no-views",
		false,
		"whether views should be excluded from the sync",
	)
	cmd.PersistentFlags().BoolVar(
		&cfg.DisableFKChecks,
		"disable-fk-checks",
		false,
		"whether foreign key checks are suspended on the target for the run",
	)
	cmd.PersistentFlags().BoolVar(
		&cleanup,
		"cleanup",
		false,
		"whether data artifacts should be deleted after a successful load",
	)
	cmd.PersistentFlags().StringVar(
		&format.FieldDelimiter,
		"fields-terminated-by",
		format.FieldDelimiter,
		"field delimiter in data artifacts",
	)
	cmd.PersistentFlags().StringVar(
		&format.FieldEnclosure,
		"fields-enclosed-by",
		format.FieldEnclosure,
		"field enclosure character in data artifacts",
	)
	cmd.PersistentFlags().StringVar(
		&format.LineTerminator,
		"lines-terminated-by",
		format.LineTerminator,
		"record terminator in data artifacts",
	)
	cmd.PersistentFlags().StringVar(
		&format.NullToken,
		"null-as",
		format.NullToken,
		"token representing NULL in data artifacts",
	)
	cmdutil.RegisterDBConnFlags(cmd)
	cmdutil.RegisterLoggerFlags(cmd)
	cmdutil.RegisterMetricsFlags(cmd)
	return cmd
}
