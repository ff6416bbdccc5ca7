package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/spineguard/internal/app"
	"github.com/dj-oyu/spineguard/internal/output"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var (
		addr      string
		source    string
		replay    string
		autoStart bool
		noWebRTC  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web monitor and tracking session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			if flags.Changed("source") {
				cfg.Source.Kind = source
			}
			if flags.Changed("replay") {
				cfg.Source.Replay.Path = replay
			}
			if flags.Changed("auto-start") {
				cfg.Session.AutoStart = autoStart
			}
			if noWebRTC {
				cfg.WebRTC.Enabled = false
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			a, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			output.NewFormatter(cmd.OutOrStdout()).Serving(cfg.HTTP.Addr)
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().StringVar(&source, "source", "", "landmark source: ingest, replay or worker")
	cmd.Flags().StringVar(&replay, "replay", "", "JSON-lines recording for the replay source")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "start tracking without waiting for the browser")
	cmd.Flags().BoolVar(&noWebRTC, "no-webrtc", false, "disable the WebRTC data-channel readout")

	return cmd
}
