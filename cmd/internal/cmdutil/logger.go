package cmdutil

import (
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var logLevel = zerolog.InfoLevel.String()

func RegisterLoggerFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&logLevel,
		"level",
		logLevel,
		"log verbosity: trace, debug, info, warn or error",
	)
}

// Logger builds the console logger every subcommand shares, at the
// level selected by --level.
func Logger() (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return zerolog.Logger{}, errors.Wrapf(err, "invalid log level %q", logLevel)
	}
	return zerolog.New(zerolog.NewConsoleWriter()).Level(lvl).With().Timestamp().Logger(), nil
}
