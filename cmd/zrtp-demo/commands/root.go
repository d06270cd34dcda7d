package commands

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var (
	logLevel      string
	loggerFactory logging.LoggerFactory
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "zrtp-demo",
		Short:         "ZRTP key agreement demo",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lf, err := newLoggerFactory(logLevel)
			if err != nil {
				return err
			}
			loggerFactory = lf
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: error, warn, info, debug, trace (default: no logs)")

	root.AddCommand(handshakeCmd(), listenCmd(), cacheCmd())
	return root.Execute()
}

// newLoggerFactory returns nil when logging is off.
func newLoggerFactory(level string) (logging.LoggerFactory, error) {
	if level == "" {
		return nil, nil
	}
	lf := logging.NewDefaultLoggerFactory()
	switch strings.ToLower(level) {
	case "error":
		lf.DefaultLogLevel = logging.LogLevelError
	case "warn":
		lf.DefaultLogLevel = logging.LogLevelWarn
	case "info":
		lf.DefaultLogLevel = logging.LogLevelInfo
	case "debug":
		lf.DefaultLogLevel = logging.LogLevelDebug
	case "trace":
		lf.DefaultLogLevel = logging.LogLevelTrace
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return lf, nil
}
