package pose

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func uprightLandmarks() []Landmark {
	lms := make([]Landmark, NumLandmarks)
	for i := range lms {
		lms[i] = Landmark{X: 0.5, Y: 0.5, Score: 0.9}
	}
	lms[LeftShoulder] = Landmark{X: 0.45, Y: 0.3, Score: 0.9}
	lms[RightShoulder] = Landmark{X: 0.55, Y: 0.3, Score: 0.9}
	lms[LeftHip] = Landmark{X: 0.45, Y: 0.6, Score: 0.9}
	lms[RightHip] = Landmark{X: 0.55, Y: 0.6, Score: 0.9}
	return lms
}

func TestNewLandmarkSetValidatesLength(t *testing.T) {
	for _, n := range []int{0, 17, NumLandmarks - 1, NumLandmarks + 1} {
		_, err := NewLandmarkSet(make([]Landmark, n))
		if !errors.Is(err, ErrLandmarkCount) {
			t.Fatalf("len %d: expected ErrLandmarkCount, got %v", n, err)
		}
	}

	set, err := NewLandmarkSet(uprightLandmarks())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := set.At(LeftHip).Y; got != 0.6 {
		t.Fatalf("LeftHip.Y = %v, want 0.6", got)
	}
}

func TestLandmarkSetSliceIsACopy(t *testing.T) {
	set, _ := NewLandmarkSet(uprightLandmarks())
	s := set.Slice()
	s[Nose].X = 99
	if set.At(Nose).X == 99 {
		t.Fatal("Slice exposed internal storage")
	}
}

func TestLandmarkVisibilityFallback(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{`{"x":0.1,"y":0.2,"score":0.4}`, 0.4},
		{`{"x":0.1,"y":0.2,"visibility":0.7}`, 0.7},
		{`{"x":0.1,"y":0.2,"score":0.2,"visibility":0.9}`, 0.2},
		{`{"x":0.1,"y":0.2}`, 0},
	}
	for _, tc := range cases {
		var lm Landmark
		if err := json.Unmarshal([]byte(tc.in), &lm); err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if lm.Score != tc.want {
			t.Fatalf("%s: score = %v, want %v", tc.in, lm.Score, tc.want)
		}
	}
}

func TestUnscoredLandmarksFailConfidenceGate(t *testing.T) {
	raw := "[" + strings.TrimSuffix(strings.Repeat(`{"x":0.5,"y":0.5},`, NumLandmarks), ",") + "]"
	var set LandmarkSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		t.Fatal(err)
	}
	if set.Visible(LeftShoulder, 0.5) {
		t.Fatal("landmark without a confidence passed the 0.5 gate")
	}
}

func TestLandmarkSetUnmarshalRejectsShortList(t *testing.T) {
	var set LandmarkSet
	err := json.Unmarshal([]byte(`[{"x":0,"y":0}]`), &set)
	if !errors.Is(err, ErrLandmarkCount) {
		t.Fatalf("expected ErrLandmarkCount, got %v", err)
	}
}

func TestToPixels(t *testing.T) {
	p := Landmark{X: 0.25, Y: 0.5}.ToPixels(640, 480)
	if p.X != 160 || p.Y != 240 {
		t.Fatalf("ToPixels = %+v", p)
	}
}

func TestBodyPartNames(t *testing.T) {
	if LeftShoulder != 11 || RightShoulder != 12 || LeftHip != 23 || RightHip != 24 {
		t.Fatal("MediaPipe indices shifted")
	}
	if RightFootIndex.String() != "right_foot_index" {
		t.Fatalf("got %q", RightFootIndex.String())
	}
	if BodyPart(40).String() != "body_part(40)" {
		t.Fatalf("got %q", BodyPart(40).String())
	}
}
