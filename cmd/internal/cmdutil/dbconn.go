package cmdutil

import (
	"context"

	"github.com/dbmirror/dbmirror/dbconn"
	"github.com/spf13/cobra"
)

var DBConnConfig = dbconn.Config{}

func RegisterDBConnFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&DBConnConfig.Source,
		"source",
		"",
		"URL of the source database",
	)
	cmd.PersistentFlags().StringVar(
		&DBConnConfig.Target,
		"target",
		"",
		"URL of the target database",
	)

	for _, required := range []string{"source", "target"} {
		if err := cmd.MarkPersistentFlagRequired(required); err != nil {
			panic(err)
		}
	}
}

func LoadDBConns(ctx context.Context) (dbconn.OrderedConns, error) {
	source, err := dbconn.Connect(ctx, "source", DBConnConfig.Source)
	if err != nil {
		return dbconn.OrderedConns{}, err
	}
	target, err := dbconn.Connect(ctx, "target", DBConnConfig.Target)
	if err != nil {
		_ = source.Close(ctx)
		return dbconn.OrderedConns{}, err
	}
	return dbconn.OrderedConns{source, target}, nil
}
