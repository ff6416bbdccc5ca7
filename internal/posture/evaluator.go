package posture

import (
	"sync"

	"github.com/dj-oyu/spineguard/internal/pose"
)

// Evaluator applies a Profile to landmark frames. With a calibrated ideal
// angle, classification uses |angle - ideal| instead of |angle|.
type Evaluator struct {
	mu       sync.RWMutex
	profile  Profile
	ideal    float64
	hasIdeal bool
}

// NewEvaluator returns an uncalibrated evaluator.
func NewEvaluator(p Profile) *Evaluator {
	return &Evaluator{profile: p}
}

// Profile returns the active profile.
func (e *Evaluator) Profile() Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// SetProfile swaps the profile. Calibration is kept.
func (e *Evaluator) SetProfile(p Profile) {
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()
}

// SetThresholds replaces only the thresholds of the active profile.
func (e *Evaluator) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.profile.Thresholds = t
	e.mu.Unlock()
	return nil
}

// Calibrate records angle as the neutral pose.
func (e *Evaluator) Calibrate(angle float64) {
	e.mu.Lock()
	e.ideal, e.hasIdeal = angle, true
	e.mu.Unlock()
}

// Reset returns to deviation-from-vertical.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.ideal, e.hasIdeal = 0, false
	e.mu.Unlock()
}

// Ideal returns the calibrated angle, if any.
func (e *Evaluator) Ideal() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ideal, e.hasIdeal
}

// EvaluatePoints classifies an anchor pair.
func (e *Evaluator) EvaluatePoints(shoulder, hip pose.Point) Reading {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile.reading(Angle(shoulder, hip), e.ideal)
}

// Evaluate classifies a landmark set. ok is false when there is no person or
// the anchors are below the profile's minimum score.
func (e *Evaluator) Evaluate(set *pose.LandmarkSet) (Reading, bool) {
	e.mu.RLock()
	minScore := e.profile.MinScore
	e.mu.RUnlock()

	shoulder, hip, ok := Anchors(set, minScore)
	if !ok {
		return Reading{}, false
	}
	return e.EvaluatePoints(shoulder, hip), true
}
