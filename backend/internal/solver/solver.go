// Package solver описывает физический движок, которым управляет воркер, и
// содержит детерминированную эталонную реализацию Reference.
//
// Движок однопоточный: все вызовы делает горутина воркера.
package solver

import (
	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/config"
	"x-physync/backend/internal/protocol"
)

// Solver - мир физического движка.
type Solver interface {
	// Step продвигает симуляцию на dt секунд фиксированными подшагами и
	// возвращает их число. Ноль означает, что накопленного времени не хватило.
	Step(dt float64) (int, error)

	CreateBody(shape protocol.ShapeDescriptor, mesh *protocol.SerializedMesh, cfg protocol.BodyConfig, transform mgl32.Mat4) (Body, error)
	DestroyBody(b Body)

	CreateConstraint(a, b Body, cfg protocol.ConstraintConfig) (Constraint, error)
	DestroyConstraint(c Constraint)

	CreateSoftBody(cfg protocol.SoftBodyConfig, anchors []Anchor) (SoftBody, error)
	DestroySoftBody(s SoftBody)

	SetGravity(g mgl32.Vec3)
	// Contacts - пары тел, касавшихся друг друга за последний Step.
	Contacts() []Contact
	Raycast(from, to mgl32.Vec3, all bool) []Hit
	DebugDraw(d DebugDrawer, mode protocol.DebugMode)
}

// Body - дескриптор твёрдого тела внутри движка.
type Body interface {
	Type() protocol.BodyType
	Transform() mgl32.Mat4
	SetTransform(m mgl32.Mat4)
	LinearVelocity() mgl32.Vec3
	SetLinearVelocity(v mgl32.Vec3)
	AngularVelocity() mgl32.Vec3
	SetAngularVelocity(v mgl32.Vec3)
	ApplyCentralForce(f mgl32.Vec3)
	ApplyForce(f, relativeOffset mgl32.Vec3)
	ApplyCentralImpulse(i mgl32.Vec3)
	ApplyImpulse(i, relativeOffset mgl32.Vec3)
	// Reset обнуляет скорости и накопленные силы.
	Reset()
	Activate()
	Active() bool
	Update(cfg protocol.BodyConfig)
	SetShapesOffset(offset mgl32.Vec3)
	// UserIndex - произвольное число владельца, воркер хранит в нём слот.
	UserIndex() int
	SetUserIndex(i int)
}

// Constraint - связь между телами.
type Constraint interface {
	Update(u protocol.ConstraintUpdate)
	Enabled() bool
}

// SoftBody - мягкое тело из узлов.
type SoftBody interface {
	Nodes() int
	// CopyPositions пишет координаты узлов в dst и возвращает число узлов.
	CopyPositions(dst []float32) int
	// CopyNormals пишет нормали узлов; для каната нормалей нет.
	CopyNormals(dst []float32) int
}

// Anchor - крепление узла мягкого тела. Body == nil крепит узел к миру.
type Anchor struct {
	Node        int
	Body        Body
	LocalOffset mgl32.Vec3
}

// Contact - пара касающихся тел.
type Contact struct {
	A, B Body
}

// Hit - пересечение луча с телом.
type Hit struct {
	Body     Body
	Point    mgl32.Vec3
	Normal   mgl32.Vec3
	Fraction float32
}

// DebugDrawer принимает отладочные линии.
type DebugDrawer interface {
	DrawLine(from, to, color mgl32.Vec3)
}

// Factory создаёт мир по разрешённой конфигурации.
type Factory func(cfg config.Resolved) (Solver, error)

// ReferenceFactory - Factory для эталонного движка.
func ReferenceFactory(cfg config.Resolved) (Solver, error) {
	return NewReference(cfg), nil
}
