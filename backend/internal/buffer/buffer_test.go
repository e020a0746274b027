package buffer

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRigid_MatrixRoundTrip(t *testing.T) {
	r := NewRigid(4)

	m := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.HomogRotate3DY(0.5))
	r.SetMatrix(2, m)

	assert.Equal(t, m, r.Matrix(2))
	assert.Equal(t, mgl32.Ident4(), r.Matrix(1), "neighbour slot must stay untouched")
	assert.Equal(t, mgl32.Ident4(), r.Matrix(3))
}

func TestRigid_StateTransitions(t *testing.T) {
	r := NewRigid(1)
	assert.Equal(t, Uninitialized, r.State())

	r.SetState(Ready)
	assert.Equal(t, Ready, r.State())

	assert.False(t, r.CompareAndSwapState(Consumed, Ready))
	assert.True(t, r.CompareAndSwapState(Ready, Consumed))
	assert.Equal(t, Consumed, r.State())
	assert.Equal(t, "CONSUMED", r.State().String())
}

func TestRigid_HeaderAndExtendedFields(t *testing.T) {
	r := NewRigid(3)
	r.WriteHeader(1.5, 0x7fffffff, 59.5)

	assert.Equal(t, float32(1.5), r.StepDuration())
	assert.Equal(t, int32(0x7fffffff), r.SubstepCounter())
	assert.Equal(t, float32(59.5), r.FPS())

	assert.Zero(t, r.Frame())
	r.SetFrame(7)
	assert.Equal(t, uint32(7), r.Frame())
	assert.Equal(t, int32(0x7fffffff), r.SubstepCounter())

	r.SetVelocity(1, 3, 0.25)
	lin, ang := r.Velocity(1)
	assert.Equal(t, float32(3), lin)
	assert.Equal(t, float32(0.25), ang)

	assert.Empty(t, r.Collisions(0))
	r.SetCollisions(0, []int{2, 1})
	assert.Equal(t, []int{2, 1}, r.Collisions(0))

	many := []int{1, 2, 1, 2, 1, 2, 1, 2, 1, 2}
	r.SetCollisions(0, many)
	assert.Len(t, r.Collisions(0), MaxCollisions)
}

func TestFrameReached(t *testing.T) {
	tests := []struct {
		frame, since uint32
		want         bool
	}{
		{frame: 0, since: 1, want: false},
		{frame: 1, since: 1, want: true},
		{frame: 5, since: 3, want: true},
		{frame: 2, since: 3, want: false},
		{frame: 1, since: 0xffffffff, want: true},
		{frame: 0xffffffff, since: 1, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FrameReached(tt.frame, tt.since), "frame %d since %d", tt.frame, tt.since)
	}
}

func TestDebug_AddLineAndDrain(t *testing.T) {
	d := NewDebug(6)
	red := mgl32.Vec3{1, 0, 0}

	d.AddLine(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1}, red)
	d.AddLine(mgl32.Vec3{2, 2, 2}, mgl32.Vec3{3, 3, 3}, red)
	assert.Equal(t, 4, d.Index())

	from, to, color := d.Line(1)
	assert.Equal(t, mgl32.Vec3{2, 2, 2}, from)
	assert.Equal(t, mgl32.Vec3{3, 3, 3}, to)
	assert.Equal(t, red, color)

	assert.Equal(t, 4, d.Drain())
	assert.Equal(t, 0, d.Index())
	assert.Equal(t, 0, d.Drain())
}

func TestDebug_OverflowWraps(t *testing.T) {
	d := NewDebug(4)
	white := mgl32.Vec3{1, 1, 1}

	for i := 0; i < 3; i++ {
		v := float32(i)
		d.AddLine(mgl32.Vec3{v, 0, 0}, mgl32.Vec3{v, 1, 0}, white)
	}

	// третья линия вытеснила первую
	from, _, _ := d.Line(0)
	assert.Equal(t, float32(2), from.X())
	from, _, _ = d.Line(1)
	assert.Equal(t, float32(1), from.X())

	assert.Equal(t, d.Capacity(), d.Drain())
	assert.Len(t, d.Vertices(), 12, "debug arrays must never be reallocated")
}

func TestBuffers_DetachMovesOwnership(t *testing.T) {
	b, err := New(Layout{MaxBodies: 2, DebugVertexCapacity: 8})
	require.NoError(t, err)
	b.SoftBodies = append(b.SoftBodies, NewSoftBody("cloth", 4, true))
	b.Rigid.SetMatrix(0, mgl32.Translate3D(1, 2, 3))
	require.True(t, b.Held())

	moved := b.Detach()

	assert.False(t, b.Held())
	assert.Equal(t, 0, b.Rigid.Len())
	assert.Equal(t, 0, b.Debug.Len())
	assert.Nil(t, b.SoftBody("cloth"))

	require.True(t, moved.Held())
	assert.Equal(t, mgl32.Translate3D(1, 2, 3), moved.Rigid.Matrix(0))
	assert.NotNil(t, moved.SoftBody("cloth"))

	b.Attach(moved)
	assert.True(t, b.Held())
	assert.False(t, moved.Held())
	assert.Equal(t, HeaderLength+2*BodyDataSize, b.Rigid.Len())
	assert.NotNil(t, b.SoftBody("cloth"))
}

func TestLayout_Validate(t *testing.T) {
	assert.NoError(t, DefaultLayout().Validate())
	assert.Error(t, Layout{MaxBodies: 0}.Validate())
	assert.Error(t, Layout{MaxBodies: 1, DebugVertexCapacity: -1}.Validate())

	_, err := New(Layout{})
	assert.Error(t, err)
}
