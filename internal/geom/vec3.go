// Package geom holds the small amount of 3D math the session layer
// needs: vector arithmetic for render interpolation and the sphere
// hitscan test behind replicated damage rays.
package geom

import "math"

// Vec3 represents a point or direction in world space.
type Vec3 struct {
	X float32
	Y float32
	Z float32
}

// FromArray converts a wire-format coordinate triple.
func FromArray(a [3]float32) Vec3 {
	return Vec3{X: a[0], Y: a[1], Z: a[2]}
}

// Array converts back to the wire-format coordinate triple.
func (v Vec3) Array() [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

// Normalize returns the unit vector, or the zero vector when the input
// has no length.
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// Lerp moves v toward target by fraction t. Callers pass dt-scaled
// fractions above 1 during long frames; clamping keeps the result from
// overshooting the target.
func (v Vec3) Lerp(target Vec3, t float32) Vec3 {
	if t >= 1 {
		return target
	}
	if t <= 0 {
		return v
	}
	return v.Add(target.Sub(v).Scale(t))
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Vec3) float32 {
	return a.Sub(b).Length()
}

// HitscanSphere intersects a ray with a sphere and reports the distance
// along the ray to the nearest intersection in front of the origin. The
// direction must be normalized; a zero direction never hits.
func HitscanSphere(origin, dir, center Vec3, radius float32) (float32, bool) {
	oc := origin.Sub(center)
	b := oc.Dot(dir)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	root := float32(math.Sqrt(float64(disc)))
	t := -b - root
	if t < 0 {
		// Origin is inside the sphere; take the far intersection.
		t = -b + root
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}
