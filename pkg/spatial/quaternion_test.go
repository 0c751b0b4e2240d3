package spatial

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const tol = 1e-9

func randomUnit(rng *rand.Rand) Quaternion {
	return Q(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()).Normalize()
}

func assertQuatNear(t *testing.T, want, got Quaternion) {
	t.Helper()
	assert.InDelta(t, want.W, got.W, tol, "w")
	assert.InDelta(t, want.X, got.X, tol, "x")
	assert.InDelta(t, want.Y, got.Y, tol, "y")
	assert.InDelta(t, want.Z, got.Z, tol, "z")
}

func TestProduct_Hamilton(t *testing.T) {
	i := Q(0, 1, 0, 0)
	j := Q(0, 0, 1, 0)
	k := Q(0, 0, 0, 1)

	assertQuatNear(t, k, Product(i, j))
	assertQuatNear(t, SignCorrect(k), Product(j, i))
	assertQuatNear(t, Q(-1, 0, 0, 0), Product(i, i))
	assertQuatNear(t, i, Product(Identity, i))
}

func TestDivide_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 200; n++ {
		p := randomUnit(rng)
		q := randomUnit(rng)

		d, err := Divide(p, q)
		require.NoError(t, err)

		got := Product(d, q)
		// Same rotation; sign may differ when q was flipped into p's hemisphere.
		assert.InDelta(t, 1, math.Abs(Dot(got, p)), 1e-9, "iteration %d", n)
		if Dot(p, q) >= 0 {
			assertQuatNear(t, p, got)
		}
	}
}

func TestDivide_ShortestPath(t *testing.T) {
	p := Q(1, 0, 0, 0)
	q := Q(-0.9, 0.1, 0, 0).Normalize()

	d, err := Divide(p, q)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.W, 0.0, "quotient should be the short rotation")
}

func TestDivide_OppositeHemisphereNegates(t *testing.T) {
	p := Identity
	q := Q(-0.9, 0.1, 0, 0).Normalize()
	require.Less(t, Dot(p, q), 0.0)

	d, err := Divide(p, q)
	require.NoError(t, err)
	assertQuatNear(t, Q(-1, 0, 0, 0), Product(d, q))
}

func TestDivide_NonUnit(t *testing.T) {
	p := Q(0.5, 0.5, 0.5, 0.5)
	q := Q(2, 0, 0, 0)

	d, err := Divide(p, q)
	require.NoError(t, err)
	assertQuatNear(t, Q(0.25, 0.25, 0.25, 0.25), d)
}

func TestDivide_Degenerate(t *testing.T) {
	d, err := Divide(Identity, Quaternion{})
	assert.ErrorIs(t, err, ErrDegenerateQuaternion)
	assert.Equal(t, Identity, d)
}

func TestDivide_SelfIsIdentity(t *testing.T) {
	q := Q(0.3, -0.2, 0.9, 0.1).Normalize()
	d, err := Divide(q, q)
	require.NoError(t, err)
	assertQuatNear(t, Identity, d)
}

func TestHemisphere(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for n := 0; n < 100; n++ {
		a := randomUnit(rng)
		b := randomUnit(rng)
		assert.GreaterOrEqual(t, Dot(Hemisphere(a, b), b), 0.0)
	}
}

func TestSlerp(t *testing.T) {
	a := Identity
	half := math.Pi / 4
	b := Q(math.Cos(half), 0, 0, math.Sin(half)) // 90° about z

	assert.Equal(t, a, Slerp(a, b, 0))
	assert.Equal(t, b, Slerp(a, b, 1))

	mid := Slerp(a, b, 0.5)
	quarter := math.Pi / 8
	assertQuatNear(t, Q(math.Cos(quarter), 0, 0, math.Sin(quarter)), mid)
	assert.InDelta(t, 1, mid.Norm(), tol)
}

func TestSlerp_NearlyParallel(t *testing.T) {
	a := Identity
	b := Q(1, 0, 0, 1e-6).Normalize()
	got := Slerp(a, b, 0.5)
	assert.InDelta(t, 1, got.Norm(), tol)
	assert.InDelta(t, 5e-7, got.Z, 1e-9)
}

func TestAngularDistance(t *testing.T) {
	half := math.Pi / 4
	b := Q(math.Cos(half), math.Sin(half), 0, 0)
	assert.InDelta(t, half, AngularDistance(Identity, b), tol)
	assert.InDelta(t, half, AngularDistance(Identity, SignCorrect(b)), tol)
	assert.InDelta(t, 0, AngularDistance(b, b), 1e-6)
}

func TestParsePoseArray(t *testing.T) {
	tests := []struct {
		name    string
		in      []float64
		wantErr bool
	}{
		{name: "valid", in: []float64{0.4, -0.05, 0.25, 0, 1, 0, 0}},
		{name: "too short", in: []float64{0, 0, 0, 1, 0, 0}, wantErr: true},
		{name: "too long", in: []float64{0, 0, 0, 1, 0, 0, 0, 0}, wantErr: true},
		{name: "nan", in: []float64{math.NaN(), 0, 0, 1, 0, 0, 0}, wantErr: true},
		{name: "inf", in: []float64{0, math.Inf(1), 0, 1, 0, 0, 0}, wantErr: true},
		{name: "zero quaternion", in: []float64{0, 0, 0, 0, 0, 0, 0}, wantErr: true},
		{name: "non unit", in: []float64{0, 0, 0, 2, 0, 0, 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePoseArray(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPose)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, r3.Vec{X: 0.4, Y: -0.05, Z: 0.25}, p.Position)
			assert.Equal(t, Q(0, 1, 0, 0), p.Orientation)
		})
	}
}

func TestPose_Equal(t *testing.T) {
	a := Pose{Position: r3.Vec{X: 1}, Orientation: Identity}
	b := a
	assert.True(t, a.Equal(b))

	b.Position.Z = 1e-12
	assert.False(t, a.Equal(b))
}
