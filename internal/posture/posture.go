// Package posture turns shoulder and hip anchor points into a tilt angle and
// a severity class with fixed advice text.
package posture

import (
	"fmt"
	"math"

	"github.com/dj-oyu/spineguard/internal/pose"
)

// Class is a posture severity bucket. Larger values are more severe.
type Class int

const (
	Good Class = iota
	Moderate
	Poor
)

func (c Class) String() string {
	switch c {
	case Good:
		return "good"
	case Moderate:
		return "moderate"
	case Poor:
		return "poor"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass is the inverse of Class.String.
func ParseClass(s string) (Class, error) {
	switch s {
	case "good":
		return Good, nil
	case "moderate":
		return Moderate, nil
	case "poor":
		return Poor, nil
	}
	return Good, fmt.Errorf("unknown posture class %q", s)
}

// Thresholds are the two ascending angle magnitudes, in degrees, that split
// the bands. Both bounds are inclusive on the less severe side.
type Thresholds struct {
	Low  float64 `yaml:"low" toml:"low" json:"low"`
	High float64 `yaml:"high" toml:"high" json:"high"`
}

// Validate checks that the thresholds are non-negative and ascending.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High < 0 {
		return fmt.Errorf("thresholds must be non-negative (low=%g, high=%g)", t.Low, t.High)
	}
	if t.Low > t.High {
		return fmt.Errorf("low threshold %g exceeds high threshold %g", t.Low, t.High)
	}
	return nil
}

// Angle returns the signed tilt of the shoulder-to-hip vector in degrees.
// 0 means the hip is directly below the shoulder; the sign gives the lean
// direction. Arguments to atan2 are (dx, dy) on purpose.
func Angle(shoulder, hip pose.Point) float64 {
	return math.Atan2(hip.X-shoulder.X, hip.Y-shoulder.Y) * 180 / math.Pi
}

// Classify maps an angle onto three bands by magnitude.
func Classify(angle float64, t Thresholds) Class {
	mag := math.Abs(angle)
	switch {
	case mag <= t.Low:
		return Good
	case mag <= t.High:
		return Moderate
	default:
		return Poor
	}
}

// Reading is the per-frame posture judgment.
type Reading struct {
	AngleDegrees float64 `json:"angle_degrees"`
	// Deviation is the magnitude that was classified: |angle| without
	// calibration, |angle - ideal| with it.
	Deviation float64 `json:"deviation"`
	Class     Class   `json:"-"`
	Label     string  `json:"label"`
	Advice    string  `json:"advice"`
}

// Anchors derives the shoulder and hip midpoints. ok is false when any of
// the four required landmarks scores below minScore.
func Anchors(set *pose.LandmarkSet, minScore float64) (shoulder, hip pose.Point, ok bool) {
	if set == nil {
		return pose.Point{}, pose.Point{}, false
	}
	for _, part := range []pose.BodyPart{pose.LeftShoulder, pose.RightShoulder, pose.LeftHip, pose.RightHip} {
		lm := set.At(part)
		if !set.Visible(part, minScore) || math.IsNaN(lm.X) || math.IsNaN(lm.Y) {
			return pose.Point{}, pose.Point{}, false
		}
	}
	shoulder = pose.Midpoint(set.At(pose.LeftShoulder).Point(), set.At(pose.RightShoulder).Point())
	hip = pose.Midpoint(set.At(pose.LeftHip).Point(), set.At(pose.RightHip).Point())
	return shoulder, hip, true
}
