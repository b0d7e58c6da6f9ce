package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/tphakala/arstream/cmd/config"
	"github.com/tphakala/arstream/cmd/simulate"
	"github.com/tphakala/arstream/cmd/stress"
	"github.com/tphakala/arstream/cmd/version"
	"github.com/tphakala/arstream/internal/buildinfo"
	"github.com/tphakala/arstream/internal/conf"
	"github.com/tphakala/arstream/internal/logging"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var configFile string
	var closeLog io.Closer

	rootCmd := &cobra.Command{
		Use:           "arstream",
		Short:         "Timestamp indexed sensor timelines and multi-stream synchronization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (searched in default locations when empty)")
	if err := setupFlags(rootCmd); err != nil {
		// Flag names are static; failure here is a programming error
		panic(err)
	}

	versionCmd := version.Command(info)
	rootCmd.AddCommand(
		simulate.Command(settings, info),
		stress.Command(settings),
		configcmd.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		closer, err := initialize(settings)
		if err != nil {
			return err
		}
		closeLog = closer
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog.Close()
		}
		return nil
	}

	return rootCmd
}

// initialize sets up logging from the loaded settings. The returned closer is
// non-nil when logs go to a rotated file.
func initialize(settings *conf.Settings) (io.Closer, error) {
	logging.Init()

	level := logging.ParseLevel(settings.Log.Level)
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.SetLevel(level)

	if settings.Log.File == "" {
		return nil, nil
	}

	w, err := logging.NewRotatingWriter(logging.FileConfig{
		Path:       settings.Log.File,
		MaxSizeMB:  settings.Log.MaxSizeMB,
		MaxBackups: settings.Log.MaxBackups,
		MaxAgeDays: settings.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.SetOutput(w, os.Stderr)
	return w, nil
}

// setupFlags defines flags that are global to the command line interface and
// binds them to their configuration keys
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-file", "", "Write structured logs to this file with rotation")
	flags.Bool("metrics", false, "Serve Prometheus metrics")
	flags.String("metrics-listen", "127.0.0.1:9090", "Metrics listen address")
	flags.Bool("mqtt", false, "Forward notifications to an MQTT broker")
	flags.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")

	bindings := map[string]string{
		"debug":           "debug",
		"log.level":       "log-level",
		"log.file":        "log-file",
		"metrics.enabled": "metrics",
		"metrics.listen":  "metrics-listen",
		"mqtt.enabled":    "mqtt",
		"mqtt.broker":     "mqtt-broker",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
