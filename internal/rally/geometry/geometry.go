// Package geometry holds the angle, distance and camera-orientation
// helpers shared by every detection layer.
//
// Keypoint labels from the pose service are anatomical when the subject
// faces the camera. When the subject faces away the service reliably
// swaps them, so the dominant side is mirrored before any keypoint is
// looked up.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
)

// Handedness is the subject's hitting hand.
type Handedness string

const (
	RightHanded Handedness = "right"
	LeftHanded  Handedness = "left"
)

// Facing describes whether the subject faces the camera.
type Facing string

const (
	FacingToward Facing = "toward"
	FacingAway   Facing = "away"
)

// Side selects the left or right keypoint family.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// ParseHandedness accepts "right"/"left" (case-insensitive) and
// defaults to right-handed for an empty string.
func ParseHandedness(s string) (Handedness, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "right", "r":
		return RightHanded, nil
	case "left", "l":
		return LeftHanded, nil
	}
	return "", fmt.Errorf("invalid handedness %q", s)
}

// ParseFacing accepts "toward"/"away" (case-insensitive) and defaults to
// toward for an empty string.
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "toward", "towards", "front":
		return FacingToward, nil
	case "away", "back":
		return FacingAway, nil
	}
	return "", fmt.Errorf("invalid camera facing %q", s)
}

// DominantSide resolves which keypoint family belongs to the hitting arm.
func DominantSide(h Handedness, f Facing) Side {
	side := SideRight
	if h == LeftHanded {
		side = SideLeft
	}
	if f == FacingAway {
		side = side.Opposite()
	}
	return side
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Name returns the keypoint or joint name for this side, e.g.
// SideRight.Name("wrist") == "right_wrist".
func (s Side) Name(joint string) string {
	return string(s) + "_" + joint
}

// Point converts a keypoint into a vector.
func Point(k l1inputs.Keypoint) r2.Point {
	return r2.Point{X: k.X, Y: k.Y}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b r2.Point) float64 {
	return a.Sub(b).Norm()
}

// Angle returns the angle ABC in degrees, in [0, 180]. It reports false
// when either arm of the angle has zero length.
func Angle(a, b, c r2.Point) (float64, bool) {
	ba := a.Sub(b)
	bc := c.Sub(b)
	na, nc := ba.Norm(), bc.Norm()
	if na == 0 || nc == 0 {
		return 0, false
	}
	cos := ba.Dot(bc) / (na * nc)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, true
}

// NormalizeAngle maps degrees into (-180, 180].
func NormalizeAngle(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}

// AngleDelta returns the signed shortest rotation from a to b in degrees.
func AngleDelta(a, b float64) float64 {
	return NormalizeAngle(b - a)
}

// jointChains maps a joint to the keypoints forming its angle.
var jointChains = map[string][3]string{
	"elbow": {"shoulder", "elbow", "wrist"},
	"knee":  {"hip", "knee", "ankle"},
}

// JointAngle returns the angle of joint ("elbow" or "knee") on side. It
// prefers the upstream joint_angles value and falls back to computing
// it from keypoints at or above minConfidence.
func JointAngle(f l1inputs.PoseFrame, side Side, joint string, minConfidence float64) (float64, bool) {
	if v, ok := f.JointAngle(side.Name(joint)); ok {
		return v, true
	}
	chain, ok := jointChains[joint]
	if !ok {
		return 0, false
	}
	var pts [3]r2.Point
	for i, name := range chain {
		kp, ok := f.Keypoint(side.Name(name), minConfidence)
		if !ok {
			return 0, false
		}
		pts[i] = Point(kp)
	}
	return Angle(pts[0], pts[1], pts[2])
}

// BodyCenterX returns the horizontal body centre: the hip midpoint,
// falling back to the shoulder midpoint.
func BodyCenterX(f l1inputs.PoseFrame, minConfidence float64) (float64, bool) {
	pairs := [][2]string{
		{l1inputs.LeftHip, l1inputs.RightHip},
		{l1inputs.LeftShoulder, l1inputs.RightShoulder},
	}
	for _, pair := range pairs {
		l, okL := f.Keypoint(pair[0], minConfidence)
		r, okR := f.Keypoint(pair[1], minConfidence)
		if okL && okR {
			return (l.X + r.X) / 2, true
		}
	}
	return 0, false
}

// Wrist returns the wrist on side, falling back to the other wrist. The
// returned side identifies which wrist was used.
func Wrist(f l1inputs.PoseFrame, side Side, minConfidence float64) (r2.Point, Side, bool) {
	if kp, ok := f.Keypoint(side.Name("wrist"), minConfidence); ok {
		return Point(kp), side, true
	}
	other := side.Opposite()
	if kp, ok := f.Keypoint(other.Name("wrist"), minConfidence); ok {
		return Point(kp), other, true
	}
	return r2.Point{}, side, false
}
