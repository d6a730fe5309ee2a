package l1inputs

import (
	"math"
)

// Person IDs assigned by the pose tracker.
const (
	PersonSubject  = 0 // the tracked player being analysed
	PersonOpponent = 1
)

// Keypoint names emitted by the pose service.
const (
	LeftShoulder  = "left_shoulder"
	RightShoulder = "right_shoulder"
	LeftElbow     = "left_elbow"
	RightElbow    = "right_elbow"
	LeftWrist     = "left_wrist"
	RightWrist    = "right_wrist"
	LeftHip       = "left_hip"
	RightHip      = "right_hip"
	LeftKnee      = "left_knee"
	RightKnee     = "right_knee"
	LeftAnkle     = "left_ankle"
	RightAnkle    = "right_ankle"
)

// Body metric names. Rotations are signed degrees; positive means the
// torso is turned toward the subject's dominant side.
const (
	MetricShoulderRotation = "shoulder_rotation"
	MetricHipRotation      = "hip_rotation"
	MetricSpineLean        = "spine_lean"
)

// Rect is an axis-aligned bounding box in pixel coordinates.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// Valid reports whether the box has finite, ordered corners.
func (r Rect) Valid() bool {
	return finiteCoord(r.X1) && finiteCoord(r.Y1) && finiteCoord(r.X2) && finiteCoord(r.Y2) &&
		r.X2 >= r.X1 && r.Y2 >= r.Y1
}

// TrackPoint is one frame's estimated ball position.
type TrackPoint struct {
	Frame      int     `json:"frame"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	BBox       *Rect   `json:"bbox,omitempty"`
}

// Valid reports whether the point carries usable coordinates.
func (p TrackPoint) Valid() bool {
	return p.Frame >= 0 && finiteCoord(p.X) && finiteCoord(p.Y)
}

// Center returns the ball's estimated centre: the bounding box midpoint
// when a valid box is present, otherwise the reported position.
func (p TrackPoint) Center() (float64, float64) {
	if p.BBox != nil && p.BBox.Valid() {
		return p.BBox.Center()
	}
	return p.X, p.Y
}

// Keypoint is a single body landmark.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Valid reports whether the landmark has usable coordinates.
func (k Keypoint) Valid() bool {
	return finiteCoord(k.X) && finiteCoord(k.Y)
}

// PoseFrame holds one frame's keypoints, joint angles and body metrics
// for one tracked person.
type PoseFrame struct {
	FrameNumber int                 `json:"frame_number"`
	Timestamp   float64             `json:"timestamp"`
	PersonID    int                 `json:"person_id"`
	Keypoints   map[string]Keypoint `json:"keypoints"`
	JointAngles map[string]float64  `json:"joint_angles"`
	BodyMetrics map[string]float64  `json:"body_metrics"`
}

// Keypoint returns the named landmark if present, valid and at least
// minConfidence.
func (f PoseFrame) Keypoint(name string, minConfidence float64) (Keypoint, bool) {
	kp, ok := f.Keypoints[name]
	if !ok || !kp.Valid() || kp.Confidence < minConfidence {
		return Keypoint{}, false
	}
	return kp, true
}

// JointAngle returns the named joint angle in degrees.
func (f PoseFrame) JointAngle(name string) (float64, bool) {
	v, ok := f.JointAngles[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Metric returns the named body metric.
func (f PoseFrame) Metric(name string) (float64, bool) {
	v, ok := f.BodyMetrics[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// VideoMeta describes the recording the streams were extracted from.
type VideoMeta struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
}

// DefaultFPS is used when the recording does not report a frame rate.
const DefaultFPS = 30.0

// FrameRate returns FPS, falling back to DefaultFPS.
func (m VideoMeta) FrameRate() float64 {
	if m.FPS <= 0 || math.IsNaN(m.FPS) {
		return DefaultFPS
	}
	return m.FPS
}

// MaxFrame is the last valid frame index, or -1 when unknown.
func (m VideoMeta) MaxFrame() int {
	return m.TotalFrames - 1
}

// Diagonal returns the frame diagonal in pixels.
func (m VideoMeta) Diagonal() float64 {
	return math.Hypot(float64(m.Width), float64(m.Height))
}

func finiteCoord(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
