// Package geom provides the small set of 3D primitives the ground tracker
// needs: rays, infinite planes and look-rotations, built on mgl64.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// epsilon below which a direction component is treated as zero.
const epsilon = 1e-9

// WorldUp is the world-space up axis (+Y).
var WorldUp = mgl64.Vec3{0, 1, 0}

// Ray is a half-line from Origin along Dir. Dir is expected to be unit length.
type Ray struct {
	Origin mgl64.Vec3
	Dir    mgl64.Vec3
}

// Point returns the point at parametric distance t along the ray.
func (r Ray) Point(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// Plane is an infinite plane defined by a unit Normal and any Point on it.
type Plane struct {
	Normal mgl64.Vec3
	Point  mgl64.Vec3
}

// HorizontalPlane returns the plane with normal WorldUp passing through p.
func HorizontalPlane(p mgl64.Vec3) Plane {
	return Plane{Normal: WorldUp, Point: p}
}

// IntersectRay returns the parametric distance t at which the ray crosses the
// plane. ok is false when the ray is parallel to the plane or points away from
// it (t < 0).
func (p Plane) IntersectRay(r Ray) (t float64, ok bool) {
	denom := p.Normal.Dot(r.Dir)
	if math.Abs(denom) < epsilon {
		return 0, false
	}
	t = p.Normal.Dot(p.Point.Sub(r.Origin)) / denom
	if t < 0 {
		return 0, false
	}
	return t, true
}

// Project returns v projected onto the plane, removing any off-plane
// component.
func (p Plane) Project(v mgl64.Vec3) mgl64.Vec3 {
	d := p.Normal.Dot(v.Sub(p.Point))
	return v.Sub(p.Normal.Mul(d))
}

// LookRotation returns the rotation that maps +Z onto forward with up as the
// vertical hint. When forward and up are collinear a fixed secondary axis is
// substituted so the result stays well defined.
func LookRotation(forward, up mgl64.Vec3) mgl64.Quat {
	f := forward
	if l := f.Len(); l < epsilon {
		return mgl64.QuatIdent()
	}
	f = f.Normalize()

	right := up.Cross(f)
	if right.Len() < epsilon {
		// forward is (anti)parallel to up, pick another vertical hint
		right = mgl64.Vec3{0, 0, 1}.Cross(f)
		if right.Len() < epsilon {
			right = mgl64.Vec3{1, 0, 0}.Cross(f)
		}
	}
	right = right.Normalize()
	u := f.Cross(right)

	m := mgl64.Mat4{
		right[0], right[1], right[2], 0,
		u[0], u[1], u[2], 0,
		f[0], f[1], f[2], 0,
		0, 0, 0, 1,
	}
	return mgl64.Mat4ToQuat(m).Normalize()
}

// HorizontalBearing flattens forward onto the ground plane and normalizes it.
// ok is false when forward is (nearly) vertical and no bearing exists.
func HorizontalBearing(forward mgl64.Vec3) (mgl64.Vec3, bool) {
	flat := mgl64.Vec3{forward[0], 0, forward[2]}
	if flat.Len() < epsilon {
		return mgl64.Vec3{}, false
	}
	return flat.Normalize(), true
}

// BearingRotation is the yaw-only look-rotation for the given forward vector.
// ok is false when no horizontal bearing exists.
func BearingRotation(forward mgl64.Vec3) (mgl64.Quat, bool) {
	bearing, ok := HorizontalBearing(forward)
	if !ok {
		return mgl64.QuatIdent(), false
	}
	return LookRotation(bearing, WorldUp), true
}
