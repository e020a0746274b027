package solver

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/protocol"
)

// Пороги засыпания тела.
const (
	sleepLinear  = 0.08
	sleepAngular = 0.1
	sleepAfter   = 2.0
)

type rigidBody struct {
	id    int
	world *Reference

	cfg    protocol.BodyConfig
	kind   protocol.BodyType
	shape  shape
	offset mgl32.Vec3

	position mgl32.Vec3
	rotation mgl32.Quat
	linear   mgl32.Vec3
	angular  mgl32.Vec3

	force  mgl32.Vec3
	torque mgl32.Vec3

	invMass    float32
	invInertia mgl32.Vec3

	active    bool
	idleTime  float64
	userIndex int
}

func newRigidBody(id int, w *Reference, s shape, cfg protocol.BodyConfig, m mgl32.Mat4) *rigidBody {
	b := &rigidBody{
		id:        id,
		world:     w,
		shape:     s,
		active:    true,
		userIndex: -1,
	}
	b.Update(cfg)
	b.SetTransform(m)
	return b
}

func (b *rigidBody) Type() protocol.BodyType {
	return b.kind
}

func (b *rigidBody) dynamic() bool {
	return b.kind == protocol.Dynamic
}

func (b *rigidBody) Transform() mgl32.Mat4 {
	return mgl32.Translate3D(b.position.X(), b.position.Y(), b.position.Z()).Mul4(b.rotation.Mat4())
}

// SetTransform принимает мировую матрицу; масштаб отбрасывается.
func (b *rigidBody) SetTransform(m mgl32.Mat4) {
	b.position = m.Col(3).Vec3()
	b.rotation = rotationOf(m)
	b.Activate()
}

func rotationOf(m mgl32.Mat4) mgl32.Quat {
	var r mgl32.Mat3
	for col := 0; col < 3; col++ {
		axis := m.Col(col).Vec3()
		if l := axis.Len(); l > 0 {
			axis = axis.Mul(1 / l)
		}
		r.SetCol(col, axis)
	}
	q := mgl32.Mat4ToQuat(r.Mat4())
	if q.Len() == 0 {
		return mgl32.QuatIdent()
	}
	return q.Normalize()
}

func (b *rigidBody) LinearVelocity() mgl32.Vec3 {
	return b.linear
}

func (b *rigidBody) SetLinearVelocity(v mgl32.Vec3) {
	b.linear = v
	b.Activate()
}

func (b *rigidBody) AngularVelocity() mgl32.Vec3 {
	return b.angular
}

func (b *rigidBody) SetAngularVelocity(v mgl32.Vec3) {
	b.angular = v
	b.Activate()
}

func (b *rigidBody) ApplyCentralForce(f mgl32.Vec3) {
	b.force = b.force.Add(f)
	b.Activate()
}

func (b *rigidBody) ApplyForce(f, rel mgl32.Vec3) {
	b.force = b.force.Add(f)
	b.torque = b.torque.Add(rel.Cross(f))
	b.Activate()
}

func (b *rigidBody) ApplyCentralImpulse(i mgl32.Vec3) {
	if !b.dynamic() {
		return
	}
	b.linear = b.linear.Add(i.Mul(b.invMass))
	b.Activate()
}

func (b *rigidBody) ApplyImpulse(i, rel mgl32.Vec3) {
	if !b.dynamic() {
		return
	}
	b.linear = b.linear.Add(i.Mul(b.invMass))
	b.angular = b.angular.Add(mulElem(b.invInertia, rel.Cross(i)))
	b.Activate()
}

func (b *rigidBody) Reset() {
	b.linear = mgl32.Vec3{}
	b.angular = mgl32.Vec3{}
	b.force = mgl32.Vec3{}
	b.torque = mgl32.Vec3{}
}

func (b *rigidBody) Activate() {
	b.active = true
	b.idleTime = 0
}

func (b *rigidBody) Active() bool {
	return b.active
}

// Update применяет конфигурацию тела и пересчитывает массу и инерцию.
func (b *rigidBody) Update(cfg protocol.BodyConfig) {
	b.cfg = cfg
	b.kind = cfg.Kind()
	b.invMass = 0
	b.invInertia = mgl32.Vec3{}

	if b.dynamic() {
		mass := cfg.Mass
		if mass <= 0 {
			mass = 1
		}
		b.invMass = 1 / mass
		// инерция сплошного бокса по полуразмерам формы
		h := b.shape.half.Mul(2)
		ix := mass / 12 * (h.Y()*h.Y() + h.Z()*h.Z())
		iy := mass / 12 * (h.X()*h.X() + h.Z()*h.Z())
		iz := mass / 12 * (h.X()*h.X() + h.Y()*h.Y())
		b.invInertia = mgl32.Vec3{safeInv(ix), safeInv(iy), safeInv(iz)}
	} else {
		b.linear = mgl32.Vec3{}
		b.angular = mgl32.Vec3{}
	}
	b.Activate()
}

func (b *rigidBody) SetShapesOffset(offset mgl32.Vec3) {
	b.offset = offset
	b.Activate()
}

func (b *rigidBody) UserIndex() int {
	return b.userIndex
}

func (b *rigidBody) SetUserIndex(i int) {
	b.userIndex = i
}

func (b *rigidBody) gravity() mgl32.Vec3 {
	if b.cfg.Gravity != nil {
		return *b.cfg.Gravity
	}
	return b.world.gravity
}

func (b *rigidBody) collides() bool {
	return !b.cfg.DisableCollision
}

// bounds - мировой бокс тела.
func (b *rigidBody) bounds() aabb {
	rot := b.rotation.Mat4().Mat3()
	center := b.position.Add(rot.Mul3x1(b.shape.center.Add(b.offset)))
	return boxAround(center, rotatedHalf(rot, b.shape.half))
}

// integrate - полунеявный Эйлер: сначала скорость, затем положение.
func (b *rigidBody) integrate(h float32) {
	if !b.dynamic() || !b.active {
		return
	}
	acc := b.gravity().Add(b.force.Mul(b.invMass))
	b.linear = b.linear.Add(acc.Mul(h))
	b.angular = b.angular.Add(mulElem(b.invInertia, b.torque).Mul(h))

	b.linear = b.linear.Mul(damping(b.cfg.LinearDamping, h))
	b.angular = b.angular.Mul(damping(b.cfg.AngularDamping, h))

	b.position = b.position.Add(b.linear.Mul(h))
	if b.angular.Len() > 0 {
		spin := mgl32.Quat{W: 0, V: b.angular}.Mul(b.rotation).Scale(0.5 * h)
		b.rotation = b.rotation.Add(spin).Normalize()
	}
}

// updateSleep усыпляет тело, долго пребывающее в покое.
func (b *rigidBody) updateSleep(h float64) {
	if !b.dynamic() || !b.active {
		return
	}
	if b.linear.Len() < sleepLinear && b.angular.Len() < sleepAngular {
		b.idleTime += h
		if b.idleTime >= sleepAfter {
			b.active = false
			b.linear = mgl32.Vec3{}
			b.angular = mgl32.Vec3{}
		}
		return
	}
	b.idleTime = 0
}

func (b *rigidBody) finite() bool {
	for _, v := range [...]float32{
		b.position.X(), b.position.Y(), b.position.Z(),
		b.rotation.W, b.rotation.V.X(), b.rotation.V.Y(), b.rotation.V.Z(),
	} {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func damping(d, h float32) float32 {
	if d <= 0 {
		return 1
	}
	return float32(math.Pow(float64(1-min(d, 1)), float64(h)))
}

func mulElem(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a.X() * b.X(), a.Y() * b.Y(), a.Z() * b.Z()}
}

func safeInv(v float32) float32 {
	if v <= 0 {
		return 0
	}
	return 1 / v
}
