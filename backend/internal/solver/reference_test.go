package solver

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-physync/backend/internal/config"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
)

const step = 1.0 / 60.0

func newWorld(t *testing.T) *Reference {
	t.Helper()
	return NewReference(config.WorldConfig{}.Resolve())
}

func box(half float32) protocol.ShapeDescriptor {
	return protocol.ShapeDescriptor{
		Type:        protocol.ShapeBox,
		Fit:         protocol.FitManual,
		HalfExtents: mgl32.Vec3{half, half, half},
	}
}

func addFloor(t *testing.T, w *Reference) Body {
	t.Helper()
	floor, err := w.CreateBody(protocol.ShapeDescriptor{
		Type:        protocol.ShapeBox,
		Fit:         protocol.FitManual,
		HalfExtents: mgl32.Vec3{50, 0.5, 50},
	}, nil, protocol.BodyConfig{Type: protocol.Static}, mgl32.Translate3D(0, -0.5, 0))
	require.NoError(t, err)
	return floor
}

func TestStep_SubstepAccounting(t *testing.T) {
	w := newWorld(t)

	n, err := w.Step(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = w.Step(step / 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "half a step is accumulated")

	n, err = w.Step(step / 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.Step(step * 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.Step(1)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "substeps are clamped to maxSubSteps")

	n, err = w.Step(step / 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "time beyond the clamp is dropped")

	_, err = w.Step(math.NaN())
	assert.ErrorIs(t, err, physerr.ErrSolverFault)
}

func TestFallingBoxSettlesOnFloor(t *testing.T) {
	w := newWorld(t)
	floor := addFloor(t, w)

	b, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{Mass: 1}, mgl32.Translate3D(0, 5, 0))
	require.NoError(t, err)

	prev := b.Transform().Col(3).Y()
	touched := false
	for i := 0; i < 120; i++ {
		n, err := w.Step(step)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		y := b.Transform().Col(3).Y()
		assert.LessOrEqual(t, y, prev+1e-5, "box must not move up (step %d)", i)
		prev = y

		for _, c := range w.Contacts() {
			if c.B == b && c.A == floor {
				touched = true
			}
		}
	}

	assert.InDelta(t, 0.5, prev, 0.01)
	assert.True(t, touched, "contact with the floor must be reported")
	assert.Equal(t, mgl32.Translate3D(0, -0.5, 0), floor.Transform(), "static floor must stay put")
}

func TestImpulsesAndForces(t *testing.T) {
	w := NewReference(config.Resolved{
		FixedTimeStep:    step,
		MaxSubSteps:      4,
		SolverIterations: 10,
	})
	b, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{Mass: 2}, mgl32.Ident4())
	require.NoError(t, err)

	b.ApplyCentralImpulse(mgl32.Vec3{2, 0, 0})
	assert.InDelta(t, 1, b.LinearVelocity().X(), 1e-6)

	b.ApplyImpulse(mgl32.Vec3{0, 2, 0}, mgl32.Vec3{1, 0, 0})
	assert.Greater(t, b.AngularVelocity().Z(), float32(0), "off-centre impulse spins the body")

	b.Reset()
	assert.Equal(t, mgl32.Vec3{}, b.LinearVelocity())
	assert.Equal(t, mgl32.Vec3{}, b.AngularVelocity())

	b.ApplyCentralForce(mgl32.Vec3{120, 0, 0})
	_, err = w.Step(step)
	require.NoError(t, err)
	assert.InDelta(t, 1, b.LinearVelocity().X(), 1e-4, "F/m*dt = 120/2/60")

	_, err = w.Step(step)
	require.NoError(t, err)
	assert.InDelta(t, 1, b.LinearVelocity().X(), 1e-4, "forces are cleared after a step")
}

func TestSetTransformDropsScale(t *testing.T) {
	w := newWorld(t)
	m := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(90))).Mul4(mgl32.Scale3D(2, 2, 2))

	b, err := w.CreateBody(box(1), nil, protocol.BodyConfig{Type: protocol.Kinematic}, m)
	require.NoError(t, err)

	want := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(90)))
	assert.True(t, b.Transform().ApproxEqualThreshold(want, 1e-5))
}

func TestKinematicAndStaticBodiesIgnoreGravity(t *testing.T) {
	w := newWorld(t)
	k, err := w.CreateBody(box(1), nil, protocol.BodyConfig{Type: protocol.Kinematic}, mgl32.Translate3D(0, 3, 0))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := w.Step(step)
		require.NoError(t, err)
	}
	assert.Equal(t, float32(3), k.Transform().Col(3).Y())
}

func TestPointToPointConstraintHoldsBody(t *testing.T) {
	w := newWorld(t)
	b, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{Mass: 1}, mgl32.Translate3D(0, 10, 0))
	require.NoError(t, err)

	c, err := w.CreateConstraint(b, nil, protocol.ConstraintConfig{
		Type:   protocol.ConstraintPointToPoint,
		PivotB: mgl32.Vec3{0, 10, 0},
	})
	require.NoError(t, err)
	assert.True(t, c.Enabled())

	for i := 0; i < 30; i++ {
		_, err := w.Step(step)
		require.NoError(t, err)
	}
	assert.InDelta(t, 10, b.Transform().Col(3).Y(), 1e-3)

	disabled := false
	c.Update(protocol.ConstraintUpdate{Enabled: &disabled})
	for i := 0; i < 30; i++ {
		_, err := w.Step(step)
		require.NoError(t, err)
	}
	assert.Less(t, b.Transform().Col(3).Y(), float32(9.5), "free body falls")

	_, err = w.CreateConstraint(b, nil, protocol.ConstraintConfig{Type: protocol.ConstraintHinge})
	assert.ErrorIs(t, err, physerr.ErrUnsupported)
}

func TestDestroyBodyDropsConstraints(t *testing.T) {
	w := newWorld(t)
	a, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{}, mgl32.Ident4())
	require.NoError(t, err)
	b, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{}, mgl32.Translate3D(2, 0, 0))
	require.NoError(t, err)

	_, err = w.CreateConstraint(a, b, protocol.ConstraintConfig{Type: protocol.ConstraintFixed})
	require.NoError(t, err)
	require.Len(t, w.constraints, 1)

	w.DestroyBody(b)
	assert.Empty(t, w.constraints)
	assert.Len(t, w.bodies, 1)
}

func TestRopeAnchoredToWorld(t *testing.T) {
	w := newWorld(t)
	sb, err := w.CreateSoftBody(protocol.SoftBodyConfig{
		Type:     protocol.SoftBodyRope,
		Vertices: []float32{0, 5, 0, 1, 5, 0, 2, 5, 0},
	}, []Anchor{{Node: 0}})
	require.NoError(t, err)
	require.Equal(t, 3, sb.Nodes())

	for i := 0; i < 60; i++ {
		_, err := w.Step(step)
		require.NoError(t, err)
	}

	pos := make([]float32, 9)
	require.Equal(t, 3, sb.CopyPositions(pos))
	assert.Equal(t, []float32{0, 5, 0}, pos[:3], "anchored node stays in place")
	assert.Less(t, pos[7], float32(5), "free end falls")
	assert.Equal(t, 0, sb.CopyNormals(pos), "ropes have no normals")
}

func TestTriMeshNormals(t *testing.T) {
	w := NewReference(config.Resolved{FixedTimeStep: step, MaxSubSteps: 1, SolverIterations: 1})
	sb, err := w.CreateSoftBody(protocol.SoftBodyConfig{
		Type:     protocol.SoftBodyTriMesh,
		Vertices: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:  []uint32{0, 1, 2},
	}, nil)
	require.NoError(t, err)

	normals := make([]float32, 9)
	require.Equal(t, 3, sb.CopyNormals(normals))
	assert.Equal(t, []float32{0, 0, 1}, normals[:3])
}

func TestRaycast(t *testing.T) {
	w := newWorld(t)
	near, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{Type: protocol.Static}, mgl32.Translate3D(0, 0, 0))
	require.NoError(t, err)
	far, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{Type: protocol.Static}, mgl32.Translate3D(5, 0, 0))
	require.NoError(t, err)

	hits := w.Raycast(mgl32.Vec3{-10, 0, 0}, mgl32.Vec3{10, 0, 0}, true)
	require.Len(t, hits, 2)
	assert.Same(t, near, hits[0].Body)
	assert.Same(t, far, hits[1].Body)
	assert.InDelta(t, -0.5, hits[0].Point.X(), 1e-5)
	assert.Equal(t, mgl32.Vec3{-1, 0, 0}, hits[0].Normal)

	hits = w.Raycast(mgl32.Vec3{-10, 0, 0}, mgl32.Vec3{10, 0, 0}, false)
	require.Len(t, hits, 1)
	assert.Same(t, near, hits[0].Body)

	assert.Empty(t, w.Raycast(mgl32.Vec3{-10, 5, 0}, mgl32.Vec3{10, 5, 0}, true))
}

type lineRecorder struct {
	lines int
}

func (r *lineRecorder) DrawLine(_, _, _ mgl32.Vec3) {
	r.lines++
}

func TestDebugDraw(t *testing.T) {
	w := newWorld(t)
	addFloor(t, w)

	rec := &lineRecorder{}
	w.DebugDraw(rec, protocol.DrawWireframe)
	assert.Equal(t, 12, rec.lines, "one box is twelve edges")

	rec.lines = 0
	w.DebugDraw(rec, protocol.NoDebug)
	assert.Zero(t, rec.lines)
}

func TestFitAllUsesGeometryBounds(t *testing.T) {
	w := newWorld(t)
	mesh := &protocol.SerializedMesh{
		Vertices: [][]float32{{-1, -2, -3, 1, 2, 3}},
		Matrices: []mgl32.Mat4{mgl32.Translate3D(0, 1, 0)},
	}
	b, err := w.CreateBody(protocol.ShapeDescriptor{Type: protocol.ShapeBox, Fit: protocol.FitAll}, mesh,
		protocol.BodyConfig{Type: protocol.Static}, mgl32.Ident4())
	require.NoError(t, err)

	bounds := b.(*rigidBody).bounds()
	assert.Equal(t, mgl32.Vec3{-1, -1, -3}, bounds.min)
	assert.Equal(t, mgl32.Vec3{1, 3, 3}, bounds.max)

	_, err = w.CreateBody(protocol.ShapeDescriptor{Type: protocol.ShapeMesh}, nil, protocol.BodyConfig{}, mgl32.Ident4())
	assert.ErrorIs(t, err, physerr.ErrInvalidShape)
}

func TestNonFiniteStateIsASolverFault(t *testing.T) {
	w := newWorld(t)
	b, err := w.CreateBody(box(0.5), nil, protocol.BodyConfig{}, mgl32.Ident4())
	require.NoError(t, err)

	inf := float32(math.Inf(1))
	b.SetLinearVelocity(mgl32.Vec3{inf, 0, 0})
	_, err = w.Step(step)
	assert.ErrorIs(t, err, physerr.ErrSolverFault)
}
