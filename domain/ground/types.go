package ground

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Pose represents a rigid placement in world space. The zero position with an
// identity orientation doubles as the "no ground found yet" sentinel.
type Pose struct {
	Position    mgl64.Vec3 `json:"position"`
	Orientation mgl64.Quat `json:"orientation"`
}

// IdentityPose returns the sentinel pose.
func IdentityPose() Pose {
	return Pose{Orientation: mgl64.QuatIdent()}
}

// IsIdentity reports whether the pose is the sentinel value.
func (p Pose) IsIdentity() bool {
	ident := mgl64.QuatIdent()
	return p.Position == (mgl64.Vec3{}) && p.Orientation == ident
}

// RaycastHit is one result from the external plane-detection query. Only the
// pose field is consumed here; Metadata is carried through untouched.
type RaycastHit struct {
	Pose     Pose                   `json:"pose"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScreenPoint is a 2D point in screen space.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CameraFrame is the camera state for one rendered frame, supplied by the
// owning update loop.
type CameraFrame struct {
	Position       mgl64.Vec3  `json:"position"`
	Forward        mgl64.Vec3  `json:"forward"`
	ViewportCenter ScreenPoint `json:"viewport_center"`
}

// PlaneDetector abstracts the plane-detection subsystem. Implementations are
// expected to return hits ordered by relevance; the tracker takes the first
// and never re-sorts.
type PlaneDetector interface {
	DetectPlane(screen ScreenPoint) []RaycastHit
}

// DetectorFunc adapts a plain function to the PlaneDetector interface.
type DetectorFunc func(screen ScreenPoint) []RaycastHit

// DetectPlane calls the function
func (f DetectorFunc) DetectPlane(screen ScreenPoint) []RaycastHit {
	return f(screen)
}

// TransformHandle is an opaque mutable transform collaborator (the ground
// indicator and the placement target).
type TransformHandle interface {
	SetPosition(mgl64.Vec3)
	SetRotation(mgl64.Quat)
}
