// Command node runs an ecobuild ledger node.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/tolelom/ecobuild/config"
)

const (
	programName = "ecobuild"
	passwordEnv = "ECOBUILD_PASSWORD"
)

var globalFlags = struct {
	debug      bool
	configFile string
	keyFile    string
}{}

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", programName)
}

func commonRun() *slog.Logger {
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	return logger
}

// loadConfig reads --config, or only defaults and environment when unset.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// password reads the keystore password from the environment; flags would
// leak it through the process list.
func password(logger *slog.Logger) string {
	pw := os.Getenv(passwordEnv)
	if pw == "" {
		logger.Warn(passwordEnv+" not set, keystore uses an empty password", "component", programName)
	}
	return pw
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Recycling rewards ledger node",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.keyFile, "key", "validator.key", "path to keystore file")

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(genkeyCommand())
	rootCmd.AddCommand(exportCommand())
	rootCmd.AddCommand(addressCommand())
	rootCmd.AddCommand(mintBlocksCommand())

	if err := rootCmd.Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
