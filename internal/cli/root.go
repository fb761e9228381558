// Package cli defines the cobra command tree for the caregiver agent.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careviah/caregiver/internal/config"
)

// Version and BuildTime are set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "caregiver-agent"

// options are the global flags shared by every command.
type options struct {
	configPath string
	format     string
}

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "caregiver",
		Short:         "Caregiver visit scheduling agent",
		Long:          "Polls the care API for the caregiver's visits, decides what each visit's status is right now, and serves clock-in and clock-out over a local JSON API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CAREGIVER_CONFIG"), "YAML config file (env vars override it)")
	root.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (text|json)")

	root.AddCommand(
		newServeCmd(opts),
		newTodayCmd(opts),
		newVersionCmd(),
	)

	return root
}

func (o *options) load() (config.Config, error) {
	return config.Load(o.configPath)
}

func (o *options) isJSON() bool {
	return o.format == "json"
}

// newLogger builds the JSON logger used by every command.
func newLogger(w io.Writer, cfg config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Str("env", cfg.Environment).
		Logger(), nil
}
