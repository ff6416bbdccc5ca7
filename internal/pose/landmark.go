// Package pose holds the landmark model produced by an external pose
// estimator and the sources that deliver it to a session, one frame at a time.
package pose

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"
)

// BodyPart indexes a LandmarkSet following the MediaPipe Pose convention.
type BodyPart int

const (
	Nose BodyPart = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
	NumLandmarks = 33
)

var bodyPartNames = [NumLandmarks]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "right_pinky",
	"left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee",
	"left_ankle", "right_ankle", "left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

func (b BodyPart) String() string {
	if b < 0 || int(b) >= NumLandmarks {
		return fmt.Sprintf("body_part(%d)", int(b))
	}
	return bodyPartNames[b]
}

// ErrLandmarkCount is returned when a landmark sequence does not match the
// body-part enumeration.
var ErrLandmarkCount = errors.New("landmark count does not match pose model")

// Point is a 2-D position, normalized or in pixels depending on context.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Lerp interpolates from a to b; t=0 yields a, t=1 yields b.
func Lerp(a, b Point, t float64) Point {
	return Point{X: a.X*(1-t) + b.X*t, Y: a.Y*(1-t) + b.Y*t}
}

// Landmark is one tracked body point. X and Y are normalized to [0,1]
// within the video frame.
type Landmark struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z,omitempty"`
	Score float64 `json:"score"`
}

// UnmarshalJSON accepts MediaPipe's "visibility" as the confidence score
// when "score" is absent. A point with neither has zero confidence.
func (l *Landmark) UnmarshalJSON(data []byte) error {
	var raw struct {
		X          float64  `json:"x"`
		Y          float64  `json:"y"`
		Z          float64  `json:"z"`
		Score      *float64 `json:"score"`
		Visibility *float64 `json:"visibility"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Landmark{X: raw.X, Y: raw.Y, Z: raw.Z}
	switch {
	case raw.Score != nil:
		l.Score = *raw.Score
	case raw.Visibility != nil:
		l.Score = *raw.Visibility
	}
	return nil
}

// Point drops the depth and confidence.
func (l Landmark) Point() Point {
	return Point{X: l.X, Y: l.Y}
}

// ToPixels maps the normalized position onto a frame of the given size.
func (l Landmark) ToPixels(width, height int) Point {
	return Point{X: l.X * float64(width), Y: l.Y * float64(height)}
}

// LandmarkSet is the full per-frame landmark collection for one person.
// A missing person is a nil *LandmarkSet, never an empty set.
type LandmarkSet struct {
	points [NumLandmarks]Landmark
}

// NewLandmarkSet validates the sequence length against the enumeration.
func NewLandmarkSet(landmarks []Landmark) (*LandmarkSet, error) {
	if len(landmarks) != NumLandmarks {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLandmarkCount, len(landmarks), NumLandmarks)
	}
	s := &LandmarkSet{}
	copy(s.points[:], landmarks)
	return s, nil
}

// At returns the landmark for a body part.
func (s *LandmarkSet) At(part BodyPart) Landmark {
	return s.points[part]
}

// Visible reports whether the part meets the minimum confidence score.
func (s *LandmarkSet) Visible(part BodyPart, minScore float64) bool {
	return s.points[part].Score >= minScore
}

// Slice returns a copy of the landmarks in index order.
func (s *LandmarkSet) Slice() []Landmark {
	out := make([]Landmark, NumLandmarks)
	copy(out, s.points[:])
	return out
}

func (s *LandmarkSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.points[:])
}

func (s *LandmarkSet) UnmarshalJSON(data []byte) error {
	var landmarks []Landmark
	if err := json.Unmarshal(data, &landmarks); err != nil {
		return err
	}
	set, err := NewLandmarkSet(landmarks)
	if err != nil {
		return err
	}
	*s = *set
	return nil
}

// Frame is one processed video frame as delivered by a Source.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	// Width and Height are the pixel dimensions of the video frame. They may
	// change between frames.
	Width  int
	Height int
	// Image is the video frame itself, if the source has one.
	Image     image.Image
	Landmarks *LandmarkSet
}

// HasPerson reports whether the estimator found a person in the frame.
func (f Frame) HasPerson() bool {
	return f.Landmarks != nil
}
