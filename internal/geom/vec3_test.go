package geom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	v := Vec3{X: 3, Y: 0, Z: 4}.Normalize()
	require.InDelta(t, 0.6, v.X, 1e-6)
	require.InDelta(t, 0.8, v.Z, 1e-6)
	require.InDelta(t, 1.0, v.Length(), 1e-6)

	require.Equal(t, Vec3{}, Vec3{}.Normalize())
}

func TestLerpClamps(t *testing.T) {
	a := Vec3{X: 0}
	b := Vec3{X: 10}

	require.InDelta(t, 5.0, a.Lerp(b, 0.5).X, 1e-6)
	require.Equal(t, b, a.Lerp(b, 1.5))
	require.Equal(t, a, a.Lerp(b, -0.1))
}

func TestHitscanSphereDirectHit(t *testing.T) {
	origin := Vec3{Z: -10}
	dir := Vec3{Z: 1}
	center := Vec3{}

	dist, hit := HitscanSphere(origin, dir, center, 0.35)
	require.True(t, hit)
	require.InDelta(t, 9.65, dist, 1e-4)
}

func TestHitscanSphereGrazingAndMiss(t *testing.T) {
	origin := Vec3{Z: -10}
	dir := Vec3{Z: 1}

	// Offset just inside the radius still hits.
	_, hit := HitscanSphere(origin, dir, Vec3{X: 0.34}, 0.35)
	require.True(t, hit)

	// Offset outside the radius misses.
	_, hit = HitscanSphere(origin, dir, Vec3{X: 0.36}, 0.35)
	require.False(t, hit)
}

func TestHitscanSphereBehindOrigin(t *testing.T) {
	origin := Vec3{Z: 10}
	dir := Vec3{Z: 1}

	_, hit := HitscanSphere(origin, dir, Vec3{}, 0.35)
	require.False(t, hit)
}

func TestHitscanSphereFromInside(t *testing.T) {
	dist, hit := HitscanSphere(Vec3{}, Vec3{Z: 1}, Vec3{}, 0.35)
	require.True(t, hit)
	require.InDelta(t, 0.35, dist, 1e-4)
}
