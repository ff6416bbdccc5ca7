package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/spineguard/internal/app"
	"github.com/dj-oyu/spineguard/internal/output"
	"github.com/dj-oyu/spineguard/internal/pose"
)

type evalResult struct {
	Preset       string   `json:"preset"`
	AngleDegrees float64  `json:"angle_degrees"`
	IdealAngle   *float64 `json:"ideal_angle,omitempty"`
	Deviation    float64  `json:"deviation"`
	Class        string   `json:"class"`
	Label        string   `json:"label"`
	Advice       string   `json:"advice"`
}

func NewEvalCmd(deps *Dependencies) *cobra.Command {
	var (
		shoulder string
		hip      string
		preset   string
		ideal    float64
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Classify one shoulder/hip midpoint pair",
		Example: "  spineguard eval --shoulder 0.52,0.30 --hip 0.50,0.70\n" +
			"  spineguard eval --shoulder 330,140 --hip 320,330 --preset strict --json",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parsePoint(shoulder)
			if err != nil {
				return fmt.Errorf("--shoulder: %w", err)
			}
			h, err := parsePoint(hip)
			if err != nil {
				return fmt.Errorf("--hip: %w", err)
			}

			cfg := deps.Config
			if preset != "" {
				cfg.Posture.Preset = preset
			}
			if cmd.Flags().Changed("ideal") {
				cfg.Posture.IdealAngle = &ideal
			}
			ev, err := app.NewEvaluator(cfg)
			if err != nil {
				return err
			}

			r := ev.EvaluatePoints(s, h)
			name := ev.Profile().Name
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(evalResult{
					Preset:       name,
					AngleDegrees: r.AngleDegrees,
					IdealAngle:   cfg.Posture.IdealAngle,
					Deviation:    r.Deviation,
					Class:        r.Class.String(),
					Label:        r.Label,
					Advice:       r.Advice,
				})
			}
			output.NewFormatter(cmd.OutOrStdout()).Reading(name, r, cfg.Posture.IdealAngle)
			return nil
		},
	}

	cmd.Flags().StringVar(&shoulder, "shoulder", "", "shoulder midpoint as x,y")
	cmd.Flags().StringVar(&hip, "hip", "", "hip midpoint as x,y")
	cmd.Flags().StringVar(&preset, "preset", "", "posture preset (see 'spineguard presets')")
	cmd.Flags().Float64Var(&ideal, "ideal", 0, "calibrated neutral angle in degrees")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reading as JSON")
	cmd.MarkFlagRequired("shoulder")
	cmd.MarkFlagRequired("hip")

	return cmd
}

func parsePoint(s string) (pose.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return pose.Point{}, fmt.Errorf("want x,y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return pose.Point{}, fmt.Errorf("bad x in %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return pose.Point{}, fmt.Errorf("bad y in %q: %w", s, err)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return pose.Point{}, fmt.Errorf("point %q must be finite", s)
	}
	return pose.Point{X: x, Y: y}, nil
}
