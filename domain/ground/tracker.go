package ground

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/open-ar/groundtracker/pkg/geom"
	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// Options holds the tunable distances of the tracker. Distances are meters.
type Options struct {
	// MaxFallbackDistance bounds how far a fallback ground estimate can be
	// projected in front of the camera.
	MaxFallbackDistance float64
	// PlaceForwardOffset is how far ahead of the camera the target lands when
	// no ground was ever found.
	PlaceForwardOffset float64
	// PlaceDropOffset is how far below the camera the target lands when no
	// ground was ever found.
	PlaceDropOffset float64
}

// DefaultOptions returns the stock tracker tuning.
func DefaultOptions() Options {
	return Options{
		MaxFallbackDistance: 15.0,
		PlaceForwardOffset:  2.0,
		PlaceDropOffset:     1.0,
	}
}

// Tracker estimates a ground-plane pose from per-frame camera state and
// places a target object on it. It is the single writer of the current ground
// pose; estimation runs once per frame, placement on demand.
type Tracker struct {
	detector  PlaneDetector
	indicator TransformHandle
	target    TransformHandle
	opts      Options
	logger    customlog.Logger

	mu         sync.RWMutex
	groundPose Pose
	lastFrame  CameraFrame
	frameCount int64
}

// NewTracker creates a tracker with explicit collaborator references.
// Collaborators must be non-nil; violating that is a configuration error.
func NewTracker(detector PlaneDetector, indicator, target TransformHandle, opts Options, logger customlog.Logger) *Tracker {
	if detector == nil {
		panic("PlaneDetector cannot be nil in NewTracker")
	}
	if indicator == nil {
		panic("indicator TransformHandle cannot be nil in NewTracker")
	}
	if target == nil {
		panic("target TransformHandle cannot be nil in NewTracker")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewTracker")
	}
	if opts.MaxFallbackDistance <= 0 {
		opts.MaxFallbackDistance = DefaultOptions().MaxFallbackDistance
	}
	if opts.PlaceForwardOffset <= 0 {
		opts.PlaceForwardOffset = DefaultOptions().PlaceForwardOffset
	}
	if opts.PlaceDropOffset <= 0 {
		opts.PlaceDropOffset = DefaultOptions().PlaceDropOffset
	}
	return &Tracker{
		detector:   detector,
		indicator:  indicator,
		target:     target,
		opts:       opts,
		logger:     logger,
		groundPose: IdentityPose(),
	}
}

// OnFrame runs the pose estimator for one rendered frame. It never fails: a
// detection miss triggers the geometric fallback and a degenerate fallback ray
// leaves the current estimate untouched.
func (t *Tracker) OnFrame(frame CameraFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastFrame = frame
	t.frameCount++

	// The indicator always yaws with the camera, even when the position
	// update below is a no-op for this frame.
	if q, ok := geom.BearingRotation(frame.Forward); ok {
		t.indicator.SetRotation(q)
	}

	hits := t.detector.DetectPlane(frame.ViewportCenter)
	if len(hits) > 0 {
		t.groundPose = hits[0].Pose
		t.indicator.SetPosition(t.groundPose.Position)
		t.logger.Debugf("Ground pose from detection hit at %v", t.groundPose.Position)
		return
	}

	t.fallbackEstimate(frame)
}

// fallbackEstimate re-derives the ground pose by intersecting the camera ray
// with a horizontal plane anchored at the last known ground height. Caller
// holds the lock.
func (t *Tracker) fallbackEstimate(frame CameraFrame) {
	if frame.Forward.Len() == 0 {
		return
	}

	plane := geom.HorizontalPlane(t.groundPose.Position)
	ray := geom.Ray{Origin: frame.Position, Dir: frame.Forward.Normalize()}

	dist, ok := plane.IntersectRay(ray)
	if !ok {
		// Parallel or diverging ray: keep the previous estimate.
		return
	}
	if dist > t.opts.MaxFallbackDistance {
		dist = t.opts.MaxFallbackDistance
	}

	position := plane.Project(ray.Point(dist))
	t.groundPose = Pose{
		Position:    position,
		Orientation: geom.LookRotation(plane.Normal, geom.WorldUp),
	}
	t.indicator.SetPosition(position)
	t.logger.Debugf("Ground pose from fallback intersection at %v (t=%.2f)", position, dist)
}

// Place computes the final world transform for the target object from the
// current state. It always succeeds and is idempotent while no frames arrive
// in between.
func (t *Tracker) Place() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.groundPose.IsIdentity() {
		t.target.SetPosition(t.groundPose.Position)
	} else {
		// No ground ever found: a crude "on the floor in front of you" guess.
		position := t.lastFrame.Position.
			Add(t.lastFrame.Forward.Mul(t.opts.PlaceForwardOffset)).
			Sub(mgl64.Vec3{0, t.opts.PlaceDropOffset, 0})
		t.target.SetPosition(position)
	}

	// The object always yaws to match the camera, regardless of the ground
	// pose's own orientation.
	if q, ok := geom.BearingRotation(t.lastFrame.Forward); ok {
		t.target.SetRotation(q)
	}
	t.logger.Debugf("Placed target object (tracking=%v)", !t.groundPose.IsIdentity())
}

// CurrentGroundPose returns an immutable snapshot of the current ground pose.
// The snapshot is only valid for the frame in which it was read.
func (t *Tracker) CurrentGroundPose() Pose {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.groundPose
}

// Tracking reports whether a ground pose has ever been estimated.
func (t *Tracker) Tracking() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.groundPose.IsIdentity()
}

// FrameCount returns the number of frames the estimator has consumed.
func (t *Tracker) FrameCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frameCount
}
