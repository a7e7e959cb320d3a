// Command coapctl serves CoAP resources and sends requests to CoAP servers.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/options/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	envPrefix string
	logLevel  string

	// set during PersistentPreRun
	protoCfg      config.Config
	loggerFactory *logging.DefaultLoggerFactory
)

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func newLoggerFactory(level string) (*logging.DefaultLoggerFactory, error) {
	l, ok := logLevels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = l
	return f, nil
}

var rootCmd = &cobra.Command{
	Use:           "coapctl",
	Short:         "CoAP over UDP client and server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		var err error
		loggerFactory, err = newLoggerFactory(logLevel)
		if err != nil {
			return err
		}
		protoCfg, err = config.Load(cfgFile, envPrefix)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML file with the protocol parameters")
	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", "COAP_", "prefix of the environment variables overriding the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "one of disabled, error, warn, info, debug, trace")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
