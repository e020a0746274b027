package solver

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
)

type constraint struct {
	kind      protocol.ConstraintType
	a, b      *rigidBody
	pivotA    mgl32.Vec3
	pivotB    mgl32.Vec3
	stiffness float32
	enabled   bool
	// relRot - поворот b относительно a в момент создания (для fixed).
	relRot mgl32.Quat
}

// CreateConstraint связывает два тела. b == nil крепит a к миру, тогда
// PivotB задан в мировых координатах.
func (r *Reference) CreateConstraint(a, b Body, cfg protocol.ConstraintConfig) (Constraint, error) {
	switch cfg.Type {
	case protocol.ConstraintPointToPoint, protocol.ConstraintFixed:
	default:
		return nil, fmt.Errorf("constraint %q: %w", cfg.Type, physerr.ErrUnsupported)
	}
	ra, ok := a.(*rigidBody)
	if !ok || ra == nil {
		return nil, fmt.Errorf("constraint %q: body A is missing: %w", cfg.Type, physerr.ErrStaleReference)
	}
	var rb *rigidBody
	if b != nil {
		if rb, ok = b.(*rigidBody); !ok {
			return nil, fmt.Errorf("constraint %q: foreign body B: %w", cfg.Type, physerr.ErrStaleReference)
		}
	}

	c := &constraint{
		kind:      cfg.Type,
		a:         ra,
		b:         rb,
		pivotA:    cfg.PivotA,
		pivotB:    cfg.PivotB,
		stiffness: cfg.Stiffness,
		enabled:   true,
		relRot:    mgl32.QuatIdent(),
	}
	if c.stiffness <= 0 || c.stiffness > 1 {
		c.stiffness = 1
	}
	if rb != nil {
		c.relRot = ra.rotation.Inverse().Mul(rb.rotation)
	} else {
		c.relRot = ra.rotation
	}
	r.constraints = append(r.constraints, c)
	return c, nil
}

func (r *Reference) DestroyConstraint(cons Constraint) {
	c, ok := cons.(*constraint)
	if !ok {
		return
	}
	for i, other := range r.constraints {
		if other == c {
			r.constraints = append(r.constraints[:i], r.constraints[i+1:]...)
			return
		}
	}
}

func (c *constraint) Update(u protocol.ConstraintUpdate) {
	if u.Enabled != nil {
		c.enabled = *u.Enabled
	}
	if u.PivotA != nil {
		c.pivotA = *u.PivotA
	}
	if u.PivotB != nil {
		c.pivotB = *u.PivotB
	}
	if u.Stiffness != nil && *u.Stiffness > 0 && *u.Stiffness <= 1 {
		c.stiffness = *u.Stiffness
	}
	c.a.Activate()
	if c.b != nil {
		c.b.Activate()
	}
}

func (c *constraint) Enabled() bool {
	return c.enabled
}

func (c *constraint) worldPivots() (pa, pb mgl32.Vec3) {
	pa = c.a.position.Add(c.a.rotation.Rotate(c.pivotA))
	if c.b == nil {
		return pa, c.pivotB
	}
	return pa, c.b.position.Add(c.b.rotation.Rotate(c.pivotB))
}

// solve - одна итерация позиционной коррекции.
func (c *constraint) solve(h float32) {
	if !c.enabled {
		return
	}
	wa := c.a.invMass
	var wb float32
	if c.b != nil {
		wb = c.b.invMass
	}
	total := wa + wb
	if total == 0 {
		return
	}

	pa, pb := c.worldPivots()
	err := pb.Sub(pa).Mul(c.stiffness)
	if err.Len() > 0 {
		da := err.Mul(wa / total)
		c.a.position = c.a.position.Add(da)
		c.a.linear = c.a.linear.Add(da.Mul(1 / h))
		if c.b != nil {
			db := err.Mul(wb / total)
			c.b.position = c.b.position.Sub(db)
			c.b.linear = c.b.linear.Sub(db.Mul(1 / h))
		}
	}

	if c.kind != protocol.ConstraintFixed {
		return
	}
	switch {
	case c.b == nil:
		c.a.rotation = c.relRot
		c.a.angular = mgl32.Vec3{}
	case wb > 0:
		c.b.rotation = c.a.rotation.Mul(c.relRot).Normalize()
		c.b.angular = c.a.angular
	default:
		c.a.rotation = c.b.rotation.Mul(c.relRot.Inverse()).Normalize()
		c.a.angular = c.b.angular
	}
}
