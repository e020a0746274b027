package solver

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/config"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
)

// Reference - простой детерминированный движок: боксовые формы, полунеявный
// Эйлер, разрешение контактов по оси наименьшего проникновения,
// позиционные связи и мягкие тела. Коллекции хранятся в срезах в порядке
// создания, обход карт в шаге не используется.
type Reference struct {
	cfg     config.Resolved
	gravity mgl32.Vec3

	accumulator float64
	nextID      int

	bodies      []*rigidBody
	constraints []*constraint
	softBodies  []*softBody

	contacts []Contact
	seen     map[[2]int]bool
}

// NewReference создаёт пустой мир.
func NewReference(cfg config.Resolved) *Reference {
	if cfg.FixedTimeStep <= 0 {
		cfg.FixedTimeStep = config.DefaultFixedTimeStep
	}
	if cfg.MaxSubSteps < 1 {
		cfg.MaxSubSteps = config.DefaultMaxSubSteps
	}
	if cfg.SolverIterations < 1 {
		cfg.SolverIterations = config.DefaultSolverIterations
	}
	return &Reference{
		cfg:     cfg,
		gravity: cfg.Gravity,
		seen:    make(map[[2]int]bool),
	}
}

// Step продвигает мир. Если накопилось больше MaxSubSteps подшагов,
// лишнее время отбрасывается.
func (r *Reference) Step(dt float64) (int, error) {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return 0, fmt.Errorf("step: invalid dt %v: %w", dt, physerr.ErrSolverFault)
	}

	fixed := r.cfg.FixedTimeStep
	r.accumulator += dt
	// относительный допуск: 1/60 + 1/60 не должно давать 1.9999 подшага
	n := int(math.Floor(r.accumulator/fixed + 1e-6))
	if n > r.cfg.MaxSubSteps {
		n = r.cfg.MaxSubSteps
		r.accumulator = 0
	} else {
		r.accumulator = max(0, r.accumulator-float64(n)*fixed)
	}
	if n == 0 {
		return 0, nil
	}

	r.contacts = r.contacts[:0]
	clear(r.seen)
	for i := 0; i < n; i++ {
		r.substep(fixed)
	}
	for _, b := range r.bodies {
		b.force = mgl32.Vec3{}
		b.torque = mgl32.Vec3{}
		if !b.finite() {
			return n, fmt.Errorf("step: body %d left the finite range: %w", b.id, physerr.ErrSolverFault)
		}
	}
	return n, nil
}

func (r *Reference) substep(fixed float64) {
	h := float32(fixed)

	for _, b := range r.bodies {
		b.integrate(h)
	}
	for iter := 0; iter < r.cfg.SolverIterations; iter++ {
		for _, c := range r.constraints {
			c.solve(h)
		}
	}
	r.resolveContacts()
	for _, sb := range r.softBodies {
		sb.step(h, r.gravity, r.cfg.SolverIterations, r.staticBounds())
	}
	for _, b := range r.bodies {
		b.updateSleep(fixed)
	}
}

// resolveContacts выталкивает пересекающиеся тела по оси наименьшего
// проникновения и гасит скорость сближения вдоль этой оси.
func (r *Reference) resolveContacts() {
	for i, a := range r.bodies {
		if !a.collides() {
			continue
		}
		for _, b := range r.bodies[i+1:] {
			if !b.collides() || (!a.dynamic() && !b.dynamic()) {
				continue
			}
			if !a.active && !b.active {
				continue
			}
			ba, bb := a.bounds(), b.bounds()
			if !ba.overlaps(bb) {
				continue
			}
			r.resolvePair(a, b, ba, bb)
			r.recordContact(a, b)
		}
	}
}

func (r *Reference) resolvePair(a, b *rigidBody, ba, bb aabb) {
	axis, depth := 0, float32(math.MaxFloat32)
	sign := float32(1)
	for i := 0; i < 3; i++ {
		// b выталкивается в положительную сторону
		up := ba.max[i] - bb.min[i]
		down := bb.max[i] - ba.min[i]
		if up < depth {
			axis, depth, sign = i, up, 1
		}
		if down < depth {
			axis, depth, sign = i, down, -1
		}
	}

	// спящее тело просыпается от удара движущегося
	if !a.active && b.linear.Len() > sleepLinear {
		a.Activate()
	}
	if !b.active && a.linear.Len() > sleepLinear {
		b.Activate()
	}

	wa, wb := a.invMass, b.invMass
	total := wa + wb
	if total == 0 {
		return
	}
	var n mgl32.Vec3
	n[axis] = sign

	a.position = a.position.Sub(n.Mul(depth * wa / total))
	b.position = b.position.Add(n.Mul(depth * wb / total))

	// скорость сближения вдоль нормали (от a к b)
	rel := b.linear.Sub(a.linear).Dot(n)
	if rel >= 0 {
		return
	}
	restitution := a.cfg.Restitution * b.cfg.Restitution
	impulse := -(1 + restitution) * rel / total
	a.linear = a.linear.Sub(n.Mul(impulse * wa))
	b.linear = b.linear.Add(n.Mul(impulse * wb))

	// кулоново трение: касательная скорость гасится не больше, чем на mu*|jn|
	mu := a.cfg.Friction * b.cfg.Friction
	if mu <= 0 {
		return
	}
	relV := b.linear.Sub(a.linear)
	tangent := relV.Sub(n.Mul(relV.Dot(n)))
	speed := tangent.Len()
	if speed == 0 {
		return
	}
	jt := min(speed/total, mu*impulse)
	dir := tangent.Mul(1 / speed)
	a.linear = a.linear.Add(dir.Mul(jt * wa))
	b.linear = b.linear.Sub(dir.Mul(jt * wb))
}

func (r *Reference) recordContact(a, b *rigidBody) {
	key := [2]int{a.id, b.id}
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.contacts = append(r.contacts, Contact{A: a, B: b})
}

func (r *Reference) staticBounds() []aabb {
	var out []aabb
	for _, b := range r.bodies {
		if !b.dynamic() && b.collides() {
			out = append(out, b.bounds())
		}
	}
	return out
}

// CreateBody создаёт тело по дескриптору формы.
func (r *Reference) CreateBody(d protocol.ShapeDescriptor, mesh *protocol.SerializedMesh, cfg protocol.BodyConfig, m mgl32.Mat4) (Body, error) {
	s, err := buildShape(d, mesh)
	if err != nil {
		return nil, err
	}
	r.nextID++
	b := newRigidBody(r.nextID, r, s, cfg, m)
	r.bodies = append(r.bodies, b)
	return b, nil
}

// DestroyBody удаляет тело вместе со связями и креплениями мягких тел.
func (r *Reference) DestroyBody(body Body) {
	b, ok := body.(*rigidBody)
	if !ok {
		return
	}
	for i, other := range r.bodies {
		if other == b {
			r.bodies = append(r.bodies[:i], r.bodies[i+1:]...)
			break
		}
	}
	kept := r.constraints[:0]
	for _, c := range r.constraints {
		if c.a != b && c.b != b {
			kept = append(kept, c)
		}
	}
	r.constraints = kept
	for _, sb := range r.softBodies {
		sb.detach(b)
	}
	b.world = nil
}

func (r *Reference) SetGravity(g mgl32.Vec3) {
	r.gravity = g
	for _, b := range r.bodies {
		b.Activate()
	}
}

// Gravity - текущая гравитация мира.
func (r *Reference) Gravity() mgl32.Vec3 {
	return r.gravity
}

func (r *Reference) Contacts() []Contact {
	return r.contacts
}
