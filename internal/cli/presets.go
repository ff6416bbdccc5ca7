package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/spineguard/internal/output"
	"github.com/dj-oyu/spineguard/internal/posture"
)

func NewPresetsCmd(deps *Dependencies) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List built-in posture presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := posture.PresetNames()
			profiles := make([]posture.Profile, 0, len(names))
			for _, name := range names {
				p, err := posture.Preset(name)
				if err != nil {
					return err
				}
				profiles = append(profiles, p)
			}

			if asYAML {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(map[string][]posture.Profile{"presets": profiles})
			}
			current := deps.Config.Posture.Preset
			if current == "" {
				current = posture.DefaultPreset
			}
			output.NewFormatter(cmd.OutOrStdout()).PresetList(profiles, current)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "dump the presets as a YAML document")
	return cmd
}
