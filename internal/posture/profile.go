package posture

import (
	_ "embed"
	"fmt"
	"image/color"
	"math"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/spineguard/internal/pose"
)

// Profile bundles everything that differs between posture monitor variants:
// thresholds, band count, wording and colors.
type Profile struct {
	Name       string     `yaml:"name"`
	Thresholds Thresholds `yaml:"thresholds"`
	// Bands is 3, or 2 for variants that only distinguish good from poor.
	// With two bands only Thresholds.Low is used.
	Bands    int               `yaml:"bands"`
	MinScore float64           `yaml:"min_score"`
	Labels   map[string]string `yaml:"labels"`
	Advice   map[string]string `yaml:"advice"`
	Colors   map[string]RGB    `yaml:"colors"`
}

// RGB is a color written as [r, g, b] in preset files.
type RGB [3]uint8

func (c RGB) NRGBA(alpha float64) color.NRGBA {
	a := uint8(math.Round(math.Max(0, math.Min(1, alpha)) * 255))
	return color.NRGBA{R: c[0], G: c[1], B: c[2], A: a}
}

//go:embed presets.yaml
var presetsYAML []byte

var presets map[string]Profile

func init() {
	var doc struct {
		Presets []Profile `yaml:"presets"`
	}
	if err := yaml.Unmarshal(presetsYAML, &doc); err != nil {
		panic(fmt.Sprintf("posture: bad embedded presets: %v", err))
	}
	presets = make(map[string]Profile, len(doc.Presets))
	for _, p := range doc.Presets {
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("posture: preset %s: %v", p.Name, err))
		}
		presets[p.Name] = p
	}
}

// DefaultPreset is the preset used when none is configured.
const DefaultPreset = "spineguard"

// Preset returns a copy of the named built-in profile.
func Preset(name string) (Profile, error) {
	p, ok := presets[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown posture preset %q", name)
	}
	return p.clone(), nil
}

// PresetNames lists the built-in profiles in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the default preset.
func Default() Profile {
	p, _ := Preset(DefaultPreset)
	return p
}

func (p Profile) clone() Profile {
	out := p
	out.Labels = make(map[string]string, len(p.Labels))
	for k, v := range p.Labels {
		out.Labels[k] = v
	}
	out.Advice = make(map[string]string, len(p.Advice))
	for k, v := range p.Advice {
		out.Advice[k] = v
	}
	out.Colors = make(map[string]RGB, len(p.Colors))
	for k, v := range p.Colors {
		out.Colors[k] = v
	}
	return out
}

// Validate checks band count and thresholds, and that every reachable class
// has wording and a color.
func (p Profile) Validate() error {
	if p.Bands != 2 && p.Bands != 3 {
		return fmt.Errorf("bands must be 2 or 3, got %d", p.Bands)
	}
	if err := p.Thresholds.Validate(); err != nil {
		return err
	}
	if p.MinScore < 0 || p.MinScore > 1 {
		return fmt.Errorf("min_score %g outside [0,1]", p.MinScore)
	}
	for _, c := range p.Classes() {
		key := c.String()
		if p.Labels[key] == "" {
			return fmt.Errorf("missing label for %s", key)
		}
		if p.Advice[key] == "" {
			return fmt.Errorf("missing advice for %s", key)
		}
		if _, ok := p.Colors[key]; !ok {
			return fmt.Errorf("missing color for %s", key)
		}
	}
	return nil
}

// Classes lists the classes this profile can produce, least severe first.
func (p Profile) Classes() []Class {
	if p.Bands == 2 {
		return []Class{Good, Poor}
	}
	return []Class{Good, Moderate, Poor}
}

// Worst is the most severe class.
func (p Profile) Worst() Class { return Poor }

// Classify applies the profile's band layout.
func (p Profile) Classify(angle float64) Class {
	if p.Bands == 2 {
		if math.Abs(angle) <= p.Thresholds.Low {
			return Good
		}
		return Poor
	}
	return Classify(angle, p.Thresholds)
}

// Evaluate classifies the anchor pair with no calibration.
func (p Profile) Evaluate(shoulder, hip pose.Point) Reading {
	return p.reading(Angle(shoulder, hip), 0)
}

func (p Profile) reading(angle, ideal float64) Reading {
	dev := angle - ideal
	c := p.Classify(dev)
	return Reading{
		AngleDegrees: angle,
		Deviation:    math.Abs(dev),
		Class:        c,
		Label:        p.Labels[c.String()],
		Advice:       p.Advice[c.String()],
	}
}

// Color returns the configured color for a class.
func (p Profile) Color(c Class) RGB {
	return p.Colors[c.String()]
}
