package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/config"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/solver"
	"x-physync/backend/internal/telemetry"
)

var t0 = time.Unix(1000, 0)

const frame = time.Second / 60

type fixture struct {
	w       *Worker
	link    *protocol.Link
	buffers *buffer.Buffers
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, mode buffer.Mode, maxBodies int) *fixture {
	t.Helper()
	return newFixtureWithFactory(t, mode, maxBodies, solver.ReferenceFactory)
}

func newFixtureWithFactory(t *testing.T, mode buffer.Mode, maxBodies int, factory solver.Factory) *fixture {
	t.Helper()
	link := protocol.NewLink()
	metrics := telemetry.New(nil)
	w := New(link, factory, Options{Logger: zaptest.NewLogger(t), Metrics: metrics})

	bufs, err := buffer.New(buffer.Layout{MaxBodies: maxBodies, DebugVertexCapacity: 4096})
	require.NoError(t, err)

	init := &protocol.Init{Mode: mode}
	if mode == buffer.ModeTransfer {
		init.Buffers = bufs.Detach()
	} else {
		init.Buffers = bufs
	}
	link.Commands.Push(init)
	w.Tick(t0)

	f := &fixture{w: w, link: link, buffers: bufs, metrics: metrics}
	ready := findEvent[*protocol.Ready](f.events())
	require.NotNil(t, ready)
	if mode == buffer.ModeTransfer {
		require.True(t, ready.Buffers.Held())
		bufs.Attach(ready.Buffers)
	}
	return f
}

func (f *fixture) events() []protocol.Event {
	return f.link.Events.Drain(nil)
}

func (f *fixture) send(cmds ...protocol.Command) {
	for _, c := range cmds {
		f.link.Commands.Push(c)
	}
}

func findEvent[T protocol.Event](events []protocol.Event) T {
	var zero T
	for _, ev := range events {
		if e, ok := ev.(T); ok {
			return e
		}
	}
	return zero
}

func allEvents[T protocol.Event](events []protocol.Event) []T {
	var out []T
	for _, ev := range events {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func box(uuid string, bodyType protocol.BodyType, m mgl32.Mat4, half mgl32.Vec3) *protocol.AddRigidBody {
	return &protocol.AddRigidBody{
		UUID:    uuid,
		Matrix:  m,
		Shape:   protocol.ShapeDescriptor{Type: protocol.ShapeBox, Fit: protocol.FitManual, HalfExtents: half},
		Options: protocol.BodyConfig{Type: bodyType, Mass: 1},
	}
}

func unitBox(uuid string, x, y, z float32) *protocol.AddRigidBody {
	return box(uuid, protocol.Dynamic, mgl32.Translate3D(x, y, z), mgl32.Vec3{0.5, 0.5, 0.5})
}

func TestWorker_InitShared(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 8)

	assert.Equal(t, buffer.Uninitialized, f.buffers.Rigid.State())
	assert.True(t, f.buffers.Held())
}

func TestWorker_SecondInitIsDropped(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 8)

	other, err := buffer.New(buffer.Layout{MaxBodies: 2, DebugVertexCapacity: 2})
	require.NoError(t, err)
	init := &protocol.Init{Mode: buffer.ModeShared, Buffers: other}
	init.SetRequest(5)
	f.send(init)
	f.w.Tick(t0)

	events := f.events()
	assert.Nil(t, findEvent[*protocol.Ready](events))
	ack := findEvent[*protocol.Ack](events)
	require.NotNil(t, ack)
	assert.Equal(t, uint64(5), ack.RequestID)
	assert.Equal(t, "ProtocolViolation", ack.Kind)
	assert.Equal(t, 8, f.w.slots.Cap())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues("protocol_violation")))
}

func TestWorker_CommandBeforeInitIsDropped(t *testing.T) {
	link := protocol.NewLink()
	w := New(link, nil, Options{Logger: zaptest.NewLogger(t)})

	add := unitBox("early", 0, 0, 0)
	add.SetRequest(1)
	link.Commands.Push(add)
	w.Tick(t0)

	events := link.Events.Drain(nil)
	assert.Nil(t, findEvent[*protocol.BodyReady](events))
	ack := findEvent[*protocol.Ack](events)
	require.NotNil(t, ack)
	assert.Equal(t, "ProtocolViolation", ack.Kind)
}

func TestWorker_RaycastBeforeInitIsAcked(t *testing.T) {
	link := protocol.NewLink()
	w := New(link, nil, Options{Logger: zaptest.NewLogger(t)})

	ray := &protocol.Raycast{To: mgl32.Vec3{0, -1, 0}}
	ray.SetRequest(5)
	link.Commands.Push(ray)
	w.Tick(t0)

	events := link.Events.Drain(nil)
	assert.Nil(t, findEvent[*protocol.RaycastResult](events))
	ack := findEvent[*protocol.Ack](events)
	require.NotNil(t, ack)
	assert.Equal(t, uint64(5), ack.RequestID)
	assert.Equal(t, "ProtocolViolation", ack.Kind)
}

func TestWorker_RoundTripWithoutSubsteps(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 8)

	f.send(unitBox("crate", 1, 2, 3))
	f.w.Tick(t0)

	ready := findEvent[*protocol.BodyReady](f.events())
	require.NotNil(t, ready)
	assert.Equal(t, "crate", ready.UUID)
	assert.Equal(t, 0, ready.Slot)

	rigid := f.buffers.Rigid
	require.Equal(t, buffer.Ready, rigid.State())
	assert.Equal(t, int32(0), rigid.SubstepCounter())
	assert.Equal(t, ready.Frame, rigid.Frame(), "body appears in the frame BODY_READY names")

	pos := rigid.Matrix(ready.Slot).Col(3).Vec3()
	assert.InDelta(t, 1, pos.X(), 1e-5)
	assert.InDelta(t, 2, pos.Y(), 1e-5)
	assert.InDelta(t, 3, pos.Z(), 1e-5)
}

func TestWorker_NoWritesWhileReady(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 8)
	f.send(unitBox("crate", 0, 10, 0))
	f.w.Tick(t0)
	rigid := f.buffers.Rigid
	require.Equal(t, buffer.Ready, rigid.State())
	before := rigid.Matrix(0)

	// хост не прочитал кадр: симуляция идёт, регион не меняется
	f.w.Tick(t0.Add(frame))
	f.w.Tick(t0.Add(2 * frame))
	assert.Equal(t, buffer.Ready, rigid.State())
	assert.Equal(t, before, rigid.Matrix(0))
	assert.Equal(t, int32(0), rigid.SubstepCounter())

	rigid.SetState(buffer.Consumed)
	f.w.Tick(t0.Add(3 * frame))
	assert.Equal(t, buffer.Ready, rigid.State())
	assert.Equal(t, int32(3), rigid.SubstepCounter())
	assert.Less(t, rigid.Matrix(0).Col(3).Y(), before.Col(3).Y())

	linear, _ := rigid.Velocity(0)
	assert.Greater(t, linear, float32(0))
}

func TestWorker_AddWhileReadyNamesNextFrame(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 8)
	f.send(unitBox("first", 0, 0, 0))
	f.w.Tick(t0)
	rigid := f.buffers.Rigid
	require.Equal(t, buffer.Ready, rigid.State())
	published := rigid.Frame()
	f.events()

	f.send(unitBox("second", 4, 0, 0))
	f.w.Tick(t0)
	ready := findEvent[*protocol.BodyReady](f.events())
	require.NotNil(t, ready)
	assert.Equal(t, published+1, ready.Frame)
	assert.Equal(t, published, rigid.Frame(), "nothing is published while READY")

	rigid.SetState(buffer.Consumed)
	f.w.Tick(t0)
	assert.Equal(t, ready.Frame, rigid.Frame())
	assert.InDelta(t, 4, rigid.Matrix(ready.Slot).Col(3).X(), 1e-5)
}

func TestWorker_ZeroSubstepsSkipPublication(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 8)
	f.send(unitBox("crate", 0, 0, 0))
	f.w.Tick(t0)
	rigid := f.buffers.Rigid
	rigid.SetState(buffer.Consumed)

	f.w.Tick(t0.Add(frame / 4))
	assert.Equal(t, buffer.Consumed, rigid.State())
}

func TestWorker_InvalidShapeReportsBodyError(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 8)

	bad := box("bad", protocol.Dynamic, mgl32.Ident4(), mgl32.Vec3{0, 1, 1})
	f.send(bad, unitBox("good", 0, 0, 0))
	f.w.Tick(t0)

	events := f.events()
	bodyErr := findEvent[*protocol.BodyError](events)
	require.NotNil(t, bodyErr)
	assert.Equal(t, "bad", bodyErr.UUID)
	assert.Equal(t, "InvalidShapeDescriptor", bodyErr.Kind)

	ready := findEvent[*protocol.BodyReady](events)
	require.NotNil(t, ready)
	assert.Equal(t, "good", ready.UUID)
	assert.Equal(t, 0, ready.Slot, "failed add must not consume a slot")
}

func TestWorker_CapacityExceeded(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 2)

	f.send(unitBox("a", 0, 0, 0), unitBox("b", 2, 0, 0), unitBox("c", 4, 0, 0))
	f.w.Tick(t0)

	events := f.events()
	assert.Len(t, allEvents[*protocol.BodyReady](events), 2)
	errs := allEvents[*protocol.BodyError](events)
	require.Len(t, errs, 1)
	assert.Equal(t, "c", errs[0].UUID)
	assert.Equal(t, "CapacityExceeded", errs[0].Kind)

	f.send(&protocol.RemoveRigidBody{UUID: "a"}, unitBox("c", 4, 0, 0))
	f.w.Tick(t0)
	ready := findEvent[*protocol.BodyReady](f.events())
	require.NotNil(t, ready)
	assert.Equal(t, "c", ready.UUID)
	assert.Equal(t, 0, ready.Slot)
}

func TestWorker_RemoveIsIdempotent(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(unitBox("crate", 0, 0, 0))
	f.w.Tick(t0)
	f.events()

	first := &protocol.RemoveRigidBody{UUID: "crate"}
	first.SetRequest(1)
	second := &protocol.RemoveRigidBody{UUID: "crate"}
	second.SetRequest(2)
	f.send(first, second)
	f.w.Tick(t0)

	acks := allEvents[*protocol.Ack](f.events())
	require.Len(t, acks, 2)
	for _, ack := range acks {
		assert.Empty(t, ack.Error)
	}
	assert.Equal(t, 0, f.w.slots.Len())
	assert.Empty(t, f.w.bodies)
}

func TestWorker_StaleReferenceIsSilent(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)

	cmd := &protocol.ApplyCentralImpulse{UUID: "ghost", Impulse: mgl32.Vec3{0, 1, 0}}
	cmd.SetRequest(9)
	f.send(cmd)
	f.w.Tick(t0)

	events := f.events()
	assert.Nil(t, findEvent[*protocol.BodyError](events))
	ack := findEvent[*protocol.Ack](events)
	require.NotNil(t, ack)
	assert.Equal(t, "StaleReference", ack.Kind)
}

func TestWorker_StaticSlotFollowsHost(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(box("wall", protocol.Static, mgl32.Translate3D(0, 5, 0), mgl32.Vec3{0.5, 0.5, 0.5}))
	f.w.Tick(t0)
	rigid := f.buffers.Rigid
	require.Equal(t, buffer.Ready, rigid.State())
	assert.Equal(t, mgl32.Translate3D(0, 5, 0), rigid.Matrix(0))
	f.events()

	// хост двигает статическое тело и отдаёт кадр
	rigid.SetMatrix(0, mgl32.Translate3D(3, 5, 0))
	rigid.SetState(buffer.Consumed)
	f.w.Tick(t0.Add(frame))
	assert.Equal(t, mgl32.Translate3D(3, 5, 0), rigid.Matrix(0))

	ray := &protocol.Raycast{From: mgl32.Vec3{3, 10, 0}, To: mgl32.Vec3{3, -10, 0}}
	ray.SetRequest(3)
	f.send(ray)
	f.w.Tick(t0.Add(frame))

	res := findEvent[*protocol.RaycastResult](f.events())
	require.NotNil(t, res)
	assert.Equal(t, uint64(3), res.RequestID)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "wall", res.Hits[0].UUID)
	assert.InDelta(t, 5.5, res.Hits[0].Point.Y(), 1e-4)
}

func TestWorker_FallingBoxCollides(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(
		box("floor", protocol.Static, mgl32.Translate3D(0, -0.5, 0), mgl32.Vec3{50, 0.5, 50}),
		unitBox("crate", 0, 3, 0),
	)
	rigid := f.buffers.Rigid
	now := t0
	for i := 0; i < 90; i++ {
		if rigid.State() == buffer.Ready {
			rigid.SetState(buffer.Consumed)
		}
		f.w.Tick(now)
		now = now.Add(frame)
	}

	y := rigid.Matrix(1).Col(3).Y()
	assert.InDelta(t, 0.5, y, 0.02)
	assert.Contains(t, rigid.Collisions(1), 0)
	assert.Contains(t, rigid.Collisions(0), 1)
}

func TestWorker_SimulationSpeedZeroFreezes(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(unitBox("crate", 0, 3, 0), &protocol.SetSimulationSpeed{Speed: 0})
	f.w.Tick(t0)
	rigid := f.buffers.Rigid
	rigid.SetState(buffer.Consumed)

	for i := 1; i <= 10; i++ {
		f.w.Tick(t0.Add(time.Duration(i) * frame))
	}
	assert.Equal(t, int32(0), rigid.SubstepCounter())
	assert.Equal(t, buffer.Consumed, rigid.State())

	bad := &protocol.SetSimulationSpeed{Speed: -1}
	bad.SetRequest(4)
	f.send(bad)
	f.w.Tick(t0.Add(11 * frame))
	ack := findEvent[*protocol.Ack](f.events())
	require.NotNil(t, ack)
	assert.Equal(t, "ProtocolViolation", ack.Kind)
}

func TestWorker_DebugGeometry(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(&protocol.EnableDebug{Enable: true}, unitBox("crate", 0, 0, 0))
	f.w.Tick(t0)

	require.Equal(t, buffer.Ready, f.buffers.Rigid.State())
	assert.Equal(t, 24, f.buffers.Debug.Index(), "wireframe box is 12 lines")
}

func TestWorker_SoftBodyPublished(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	rope := protocol.SoftBodyConfig{
		Type:     protocol.SoftBodyRope,
		Vertices: []float32{0, 5, 0, 1, 5, 0, 2, 5, 0},
		Anchors:  []protocol.SoftBodyAnchor{{NodeIndex: 0}},
	}
	f.send(&protocol.AddSoftBody{UUID: "rope", Buffers: buffer.NewSoftBody("rope", 3, false), Config: rope})
	f.w.Tick(t0)

	ready := findEvent[*protocol.BodyReady](f.events())
	require.NotNil(t, ready)
	assert.Equal(t, -1, ready.Slot)

	sb := f.buffers.SoftBody("rope")
	require.NotNil(t, sb)
	assert.Equal(t, rope.Vertices, sb.Vertices)

	f.send(&protocol.RemoveSoftBody{UUID: "rope"}, &protocol.RemoveSoftBody{UUID: "rope"})
	f.buffers.Rigid.SetState(buffer.Consumed)
	f.w.Tick(t0)
	assert.Nil(t, f.buffers.SoftBody("rope"))
}

func TestWorker_SoftBodyAnchorToMissingBody(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(&protocol.AddSoftBody{UUID: "rope", Config: protocol.SoftBodyConfig{
		Type:     protocol.SoftBodyRope,
		Vertices: []float32{0, 0, 0, 1, 0, 0},
		Anchors:  []protocol.SoftBodyAnchor{{NodeIndex: 0, BodyUUID: "ghost"}},
	}})
	f.w.Tick(t0)

	bodyErr := findEvent[*protocol.BodyError](f.events())
	require.NotNil(t, bodyErr)
	assert.Equal(t, "StaleReference", bodyErr.Kind)
	assert.Empty(t, f.w.softBodies)
}

func TestWorker_Constraints(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(unitBox("a", 0, 5, 0), unitBox("b", 1, 5, 0))
	cfg := protocol.ConstraintConfig{Type: protocol.ConstraintPointToPoint, PivotA: mgl32.Vec3{0.5, 0, 0}, PivotB: mgl32.Vec3{-0.5, 0, 0}}
	f.send(
		&protocol.AddConstraint{ConstraintID: "joint", BodyA: "a", BodyB: "b", Config: cfg},
		&protocol.AddConstraint{ConstraintID: "joint", BodyA: "a", BodyB: "b", Config: cfg},
		&protocol.AddConstraint{ConstraintID: "hinge", BodyA: "a", Config: protocol.ConstraintConfig{Type: protocol.ConstraintHinge}},
	)
	f.w.Tick(t0)

	errs := allEvents[*protocol.BodyError](f.events())
	require.Len(t, errs, 2)
	assert.Equal(t, "ProtocolViolation", errs[0].Kind)
	assert.Equal(t, "Unsupported", errs[1].Kind)
	assert.Len(t, f.w.constraints, 1)

	// удаление тела снимает связи с ним
	f.send(&protocol.RemoveRigidBody{UUID: "b"}, &protocol.RemoveConstraint{ConstraintID: "joint"})
	f.w.Tick(t0)
	assert.Empty(t, f.w.constraints)
}

func TestWorker_BulkUpdateChangesKind(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(unitBox("crate", 0, 3, 0))
	f.w.Tick(t0)
	rigid := f.buffers.Rigid
	rigid.SetState(buffer.Consumed)

	static := protocol.Static
	f.send(&protocol.BulkUpdateRigidBody{Updates: []protocol.RigidBodyUpdate{{UUID: "crate", Options: protocol.BodyUpdate{Type: &static}}}})
	for i := 1; i <= 30; i++ {
		f.w.Tick(t0.Add(time.Duration(i) * frame))
		if rigid.State() == buffer.Ready {
			rigid.SetState(buffer.Consumed)
		}
	}
	assert.InDelta(t, 3, rigid.Matrix(0).Col(3).Y(), 1e-5)
	assert.Equal(t, protocol.Static, f.w.bodies["crate"].kind())
}

func TestWorker_MotionStateTeleports(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	f.send(unitBox("crate", 0, 0, 0))
	f.w.Tick(t0)
	f.buffers.Rigid.SetState(buffer.Consumed)

	pos := mgl32.Vec3{7, 8, 9}
	f.send(&protocol.BulkSetMotionState{Updates: []protocol.MotionStateUpdate{{UUID: "crate", State: protocol.MotionState{Position: &pos}}}})
	f.w.Tick(t0)

	got := f.buffers.Rigid.Matrix(0).Col(3).Vec3()
	assert.True(t, got.ApproxEqualThreshold(pos, 1e-5), "got %v", got)
}

func TestWorker_TransferMode(t *testing.T) {
	f := newFixture(t, buffer.ModeTransfer, 4)
	f.send(unitBox("crate", 1, 2, 3))
	f.w.Tick(t0)

	// регион у хоста: воркер не публикует
	assert.Nil(t, findEvent[*protocol.TransferData](f.events()))
	assert.False(t, f.w.buffers.Held())

	f.send(&protocol.TransferBuffers{Buffers: f.buffers.Detach()})
	f.w.Tick(t0)

	data := findEvent[*protocol.TransferData](f.events())
	require.NotNil(t, data)
	require.True(t, data.Buffers.Held())
	assert.False(t, f.w.buffers.Held())
	pos := data.Buffers.Rigid.Matrix(0).Col(3).Vec3()
	assert.True(t, pos.ApproxEqualThreshold(mgl32.Vec3{1, 2, 3}, 1e-5))

	// повторная передача, пока регион у воркера, нарушает протокол
	f.buffers.Attach(data.Buffers)
	f.send(&protocol.TransferBuffers{Buffers: f.buffers.Detach()})
	dup := &protocol.TransferBuffers{Buffers: &buffer.Buffers{}}
	dup.SetRequest(11)
	f.send(dup)
	f.w.Tick(t0)
	ack := findEvent[*protocol.Ack](f.events())
	require.NotNil(t, ack)
	assert.Equal(t, "ProtocolViolation", ack.Kind)
}

func TestWorker_TransferBuffersInSharedMode(t *testing.T) {
	f := newFixture(t, buffer.ModeShared, 4)
	cmd := &protocol.TransferBuffers{}
	cmd.SetRequest(2)
	f.send(cmd)
	f.w.Tick(t0)

	ack := findEvent[*protocol.Ack](f.events())
	require.NotNil(t, ack)
	assert.Equal(t, "ProtocolViolation", ack.Kind)
}

type panicSolver struct {
	*solver.Reference
}

func (s panicSolver) Step(dt float64) (int, error) {
	if dt > 0 {
		panic("broken broadphase")
	}
	return s.Reference.Step(dt)
}

func panicFactory(cfg config.Resolved) (solver.Solver, error) {
	return panicSolver{solver.NewReference(cfg)}, nil
}

func TestWorker_SolverFaultStops(t *testing.T) {
	f := newFixtureWithFactory(t, buffer.ModeShared, 4, panicFactory)
	f.send(unitBox("crate", 0, 0, 0))
	f.w.Tick(t0)
	require.NoError(t, f.w.Err())
	f.w.Tick(t0.Add(frame))

	require.ErrorIs(t, f.w.Err(), physerr.ErrSolverFault)
	fault := findEvent[*protocol.WorkerFault](f.events())
	require.NotNil(t, fault)
	assert.Contains(t, fault.Message, "broken broadphase")
	assert.Equal(t, uint64(1), f.w.Stats().Errors)

	// после сбоя команды не обрабатываются
	add := unitBox("late", 0, 0, 0)
	add.SetRequest(1)
	f.send(add)
	f.w.Tick(t0.Add(2 * frame))
	assert.Empty(t, f.events())
}

func TestWorker_SolverFaultReleasesTransferBuffers(t *testing.T) {
	f := newFixtureWithFactory(t, buffer.ModeTransfer, 4, panicFactory)
	f.send(&protocol.TransferBuffers{Buffers: f.buffers.Detach()})
	f.w.Tick(t0.Add(frame))

	fault := findEvent[*protocol.WorkerFault](f.events())
	require.NotNil(t, fault)
	assert.True(t, fault.Buffers.Held())
}

func TestWorker_Run(t *testing.T) {
	link := protocol.NewLink()
	w := New(link, nil, Options{Logger: zaptest.NewLogger(t), Interval: time.Millisecond})
	bufs, err := buffer.New(buffer.Layout{MaxBodies: 4, DebugVertexCapacity: 16})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	link.Commands.Push(&protocol.Init{Mode: buffer.ModeShared, Buffers: bufs})
	link.Commands.Push(unitBox("crate", 0, 0, 0))

	require.Eventually(t, func() bool {
		return bufs.Rigid.State() == buffer.Ready
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_RunReturnsFault(t *testing.T) {
	link := protocol.NewLink()
	w := New(link, panicFactory, Options{Logger: zaptest.NewLogger(t), Interval: time.Millisecond})
	bufs, err := buffer.New(buffer.Layout{MaxBodies: 4, DebugVertexCapacity: 16})
	require.NoError(t, err)
	link.Commands.Push(&protocol.Init{Mode: buffer.ModeShared, Buffers: bufs})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, physerr.ErrSolverFault))
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on fault")
	}
}
