package ground

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/open-ar/groundtracker/pkg/geom"
)

const tolerance = 1e-9

// nopLogger satisfies the Logger interface for tests.
type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}
func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Warnf(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}
func (nopLogger) Fatalf(format string, args ...interface{}) {}

// recordingTransform captures SetPosition/SetRotation calls.
type recordingTransform struct {
	position     mgl64.Vec3
	rotation     mgl64.Quat
	positionSets int
	rotationSets int
}

func (r *recordingTransform) SetPosition(v mgl64.Vec3) {
	r.position = v
	r.positionSets++
}

func (r *recordingTransform) SetRotation(q mgl64.Quat) {
	r.rotation = q
	r.rotationSets++
}

// staticDetector returns the same hits on every query.
type staticDetector struct {
	hits []RaycastHit
}

func (d *staticDetector) DetectPlane(screen ScreenPoint) []RaycastHit {
	return d.hits
}

func vecNear(a, b mgl64.Vec3, tol float64) bool {
	return math.Abs(a[0]-b[0]) < tol &&
		math.Abs(a[1]-b[1]) < tol &&
		math.Abs(a[2]-b[2]) < tol
}

func newTestTracker(detector PlaneDetector) (*Tracker, *recordingTransform, *recordingTransform) {
	indicator := &recordingTransform{}
	target := &recordingTransform{}
	tracker := NewTracker(detector, indicator, target, DefaultOptions(), nopLogger{})
	return tracker, indicator, target
}

func TestDetectionHitSetsGroundPose(t *testing.T) {
	hitPose := Pose{
		Position:    mgl64.Vec3{1, 0.2, 3},
		Orientation: geom.LookRotation(mgl64.Vec3{1, 0, 0}, geom.WorldUp),
	}
	detector := &staticDetector{hits: []RaycastHit{{Pose: hitPose}}}
	tracker, indicator, _ := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{0, -0.3, 1}.Normalize(),
	})

	got := tracker.CurrentGroundPose()
	if got != hitPose {
		t.Errorf("Expected ground pose %v, got %v", hitPose, got)
	}
	if !vecNear(indicator.position, hitPose.Position, tolerance) {
		t.Errorf("Expected indicator at %v, got %v", hitPose.Position, indicator.position)
	}
	if !tracker.Tracking() {
		t.Errorf("Expected tracker to report tracking after a detection hit")
	}
}

func TestFirstHitWins(t *testing.T) {
	first := Pose{Position: mgl64.Vec3{1, 0, 1}, Orientation: mgl64.QuatIdent()}
	second := Pose{Position: mgl64.Vec3{9, 9, 9}, Orientation: mgl64.QuatIdent()}
	detector := &staticDetector{hits: []RaycastHit{{Pose: first}, {Pose: second}}}
	tracker, _, _ := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{Forward: mgl64.Vec3{0, -1, 1}.Normalize()})

	if got := tracker.CurrentGroundPose(); got.Position != first.Position {
		t.Errorf("Expected first hit position %v, got %v", first.Position, got.Position)
	}
}

func TestIndicatorBearingIgnoresPitch(t *testing.T) {
	detector := &staticDetector{}
	tracker, indicator, _ := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.5, 0},
		Forward:  mgl64.Vec3{1, -0.7, 1}.Normalize(),
	})

	if indicator.rotationSets != 1 {
		t.Fatalf("Expected one rotation update, got %d", indicator.rotationSets)
	}
	bearing := indicator.rotation.Rotate(mgl64.Vec3{0, 0, 1})
	want := mgl64.Vec3{1, 0, 1}.Normalize()
	if !vecNear(bearing, want, 1e-6) {
		t.Errorf("Expected indicator bearing %v, got %v", want, bearing)
	}
}

func TestIndicatorRotationUpdatesOnPositionNoOp(t *testing.T) {
	detector := &staticDetector{}
	tracker, indicator, _ := newTestTracker(detector)

	// Horizontal ray over a horizontal plane: position update is a no-op,
	// rotation must still follow the camera.
	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 2, 0},
		Forward:  mgl64.Vec3{0, 0, 1},
	})

	if indicator.rotationSets != 1 {
		t.Errorf("Expected rotation update despite position no-op, got %d", indicator.rotationSets)
	}
	if indicator.positionSets != 0 {
		t.Errorf("Expected no position update for a parallel fallback ray, got %d", indicator.positionSets)
	}
}

func TestFallbackKeepsLastKnownHeight(t *testing.T) {
	const height = 0.4
	hitPose := Pose{
		Position:    mgl64.Vec3{0, height, 2},
		Orientation: geom.LookRotation(geom.WorldUp, geom.WorldUp),
	}
	detector := &staticDetector{hits: []RaycastHit{{Pose: hitPose}}}
	tracker, _, _ := newTestTracker(detector)

	// First frame establishes ground at the given height.
	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{0, -0.5, 1}.Normalize(),
	})

	// Detection goes away, fallback must stay on the plane at that height.
	detector.hits = nil
	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0.5, 1.6, 0.5},
		Forward:  mgl64.Vec3{0.2, -0.4, 1}.Normalize(),
	})

	got := tracker.CurrentGroundPose()
	if math.Abs(got.Position[1]-height) > tolerance {
		t.Errorf("Expected fallback position at height %v, got %v", height, got.Position[1])
	}
}

func TestFallbackDistanceClamp(t *testing.T) {
	detector := &staticDetector{}
	tracker, _, _ := newTestTracker(detector)

	// Camera 1m up, looking almost at the horizon: the unclamped
	// intersection with the ground plane is ~100m out.
	origin := mgl64.Vec3{0, 1, 0}
	forward := mgl64.Vec3{0, -0.01, 1}.Normalize()
	tracker.OnFrame(CameraFrame{Position: origin, Forward: forward})

	opts := DefaultOptions()
	ray := geom.Ray{Origin: origin, Dir: forward}
	plane := geom.HorizontalPlane(mgl64.Vec3{})
	want := plane.Project(ray.Point(opts.MaxFallbackDistance))

	got := tracker.CurrentGroundPose()
	if !vecNear(got.Position, want, tolerance) {
		t.Errorf("Expected clamped fallback position %v, got %v", want, got.Position)
	}

	// Sanity: unclamped intersection really was beyond the limit.
	if unclamped, ok := plane.IntersectRay(ray); !ok || unclamped <= opts.MaxFallbackDistance {
		t.Fatalf("Test geometry broken: unclamped t=%v", unclamped)
	}
}

func TestFallbackParallelRayKeepsPose(t *testing.T) {
	hitPose := Pose{Position: mgl64.Vec3{2, 0.1, 2}, Orientation: mgl64.QuatIdent()}
	detector := &staticDetector{hits: []RaycastHit{{Pose: hitPose}}}
	tracker, _, _ := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{0, -0.5, 1}.Normalize(),
	})

	// Horizontal ray with a horizontal plane: silent no-op.
	detector.hits = nil
	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{1, 0, 0},
	})

	if got := tracker.CurrentGroundPose(); got.Position != hitPose.Position {
		t.Errorf("Expected pose unchanged at %v, got %v", hitPose.Position, got.Position)
	}
}

func TestFallbackDivergingRayKeepsPose(t *testing.T) {
	hitPose := Pose{Position: mgl64.Vec3{2, 0.1, 2}, Orientation: mgl64.QuatIdent()}
	detector := &staticDetector{hits: []RaycastHit{{Pose: hitPose}}}
	tracker, _, _ := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{0, -0.5, 1}.Normalize(),
	})

	// Looking up and away from the ground.
	detector.hits = nil
	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{0, 0.5, 1}.Normalize(),
	})

	if got := tracker.CurrentGroundPose(); got.Position != hitPose.Position {
		t.Errorf("Expected pose unchanged at %v, got %v", hitPose.Position, got.Position)
	}
}

func TestFallbackOrientationFacesPlaneNormal(t *testing.T) {
	detector := &staticDetector{}
	tracker, _, _ := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{0, -0.5, 1}.Normalize(),
	})

	got := tracker.CurrentGroundPose()
	forward := got.Orientation.Rotate(mgl64.Vec3{0, 0, 1})
	if !vecNear(forward, geom.WorldUp, 1e-6) {
		t.Errorf("Expected fallback orientation to face the plane normal, got forward %v", forward)
	}
}

func TestPlaceWithoutGroundUsesCameraOffset(t *testing.T) {
	detector := &staticDetector{}
	tracker, _, target := newTestTracker(detector)

	// Camera at origin facing +Z, parallel fallback ray keeps the sentinel.
	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 0, 0},
		Forward:  mgl64.Vec3{0, 0, 1},
	})

	tracker.Place()

	want := mgl64.Vec3{0, -1, 2}
	if !vecNear(target.position, want, tolerance) {
		t.Errorf("Expected target at %v, got %v", want, target.position)
	}
	bearing := target.rotation.Rotate(mgl64.Vec3{0, 0, 1})
	if !vecNear(bearing, mgl64.Vec3{0, 0, 1}, 1e-6) {
		t.Errorf("Expected target facing +Z, got %v", bearing)
	}
}

func TestPlaceWithGroundUsesPoseAndCameraBearing(t *testing.T) {
	tiltedOrientation := geom.LookRotation(mgl64.Vec3{0.2, 0.9, 0.1}.Normalize(), geom.WorldUp)
	hitPose := Pose{Position: mgl64.Vec3{1, 0.3, 4}, Orientation: tiltedOrientation}
	detector := &staticDetector{hits: []RaycastHit{{Pose: hitPose}}}
	tracker, _, target := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{1, -0.2, 0}.Normalize(),
	})

	tracker.Place()

	if !vecNear(target.position, hitPose.Position, tolerance) {
		t.Errorf("Expected target at ground position %v, got %v", hitPose.Position, target.position)
	}
	// The target yaws with the camera, not the detected plane orientation.
	bearing := target.rotation.Rotate(mgl64.Vec3{0, 0, 1})
	if !vecNear(bearing, mgl64.Vec3{1, 0, 0}, 1e-6) {
		t.Errorf("Expected target bearing +X, got %v", bearing)
	}
}

func TestPlaceIsIdempotent(t *testing.T) {
	detector := &staticDetector{hits: []RaycastHit{{
		Pose: Pose{Position: mgl64.Vec3{0.5, 0, 1.5}, Orientation: mgl64.QuatIdent()},
	}}}
	tracker, _, target := newTestTracker(detector)

	tracker.OnFrame(CameraFrame{
		Position: mgl64.Vec3{0, 1.6, 0},
		Forward:  mgl64.Vec3{0, -0.5, 1}.Normalize(),
	})

	tracker.Place()
	firstPosition := target.position
	firstRotation := target.rotation

	tracker.Place()
	if target.position != firstPosition {
		t.Errorf("Expected identical position on repeat place: %v vs %v", firstPosition, target.position)
	}
	if target.rotation != firstRotation {
		t.Errorf("Expected identical rotation on repeat place: %v vs %v", firstRotation, target.rotation)
	}
}

func TestNewTrackerNilCollaboratorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic for nil detector")
		}
	}()
	NewTracker(nil, &recordingTransform{}, &recordingTransform{}, DefaultOptions(), nopLogger{})
}
