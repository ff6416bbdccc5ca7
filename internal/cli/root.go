package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/spineguard/internal/config"
	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/version"
)

// Dependencies is shared by every command. Config is filled in before any
// command runs.
type Dependencies struct {
	ConfigPath string
	LogLevel   string
	LogColor   bool
	Config     config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spineguard",
		Short: "Real-time sitting posture monitor",
		Long: "SpineGuard evaluates shoulder and hip landmarks, classifies spinal tilt, draws a live overlay " +
			"and warns when posture turns risky.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return deps.load(cmd)
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&deps.ConfigPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	flags.StringVar(&deps.LogLevel, "log-level", "", "log level (debug, info, warn, error, silent)")
	flags.BoolVar(&deps.LogColor, "log-color", false, "enable colored log output")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewReplayCmd(deps))
	rootCmd.AddCommand(NewEvalCmd(deps))
	rootCmd.AddCommand(NewPresetsCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// load reads the config file and initializes logging. Flags win over the
// file when set.
func (d *Dependencies) load(cmd *cobra.Command) error {
	cfg, err := config.Load(d.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = d.LogLevel
	}
	if flags.Changed("log-color") {
		cfg.Log.Color = d.LogColor
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.Init(level, cmd.ErrOrStderr(), cfg.Log.Color)
	d.Config = cfg
	return nil
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
