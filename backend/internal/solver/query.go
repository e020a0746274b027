package solver

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/protocol"
)

// Raycast пересекает отрезок from-to с боксами тел. Результат упорядочен по
// расстоянию; при all == false возвращается только ближайшее попадание.
func (r *Reference) Raycast(from, to mgl32.Vec3, all bool) []Hit {
	dir := to.Sub(from)
	var hits []Hit
	for _, b := range r.bodies {
		if !b.collides() {
			continue
		}
		t, normal, ok := segmentBox(from, dir, b.bounds())
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Body:     b,
			Point:    from.Add(dir.Mul(t)),
			Normal:   normal,
			Fraction: t,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Fraction < hits[j].Fraction })
	if !all && len(hits) > 1 {
		hits = hits[:1]
	}
	return hits
}

// segmentBox - метод плит. Возвращает долю отрезка до входа в бокс.
func segmentBox(origin, dir mgl32.Vec3, box aabb) (float32, mgl32.Vec3, bool) {
	tMin, tMax := float32(0), float32(1)
	var normal mgl32.Vec3
	for i := 0; i < 3; i++ {
		if abs32(dir[i]) < 1e-12 {
			if origin[i] < box.min[i] || origin[i] > box.max[i] {
				return 0, normal, false
			}
			continue
		}
		inv := 1 / dir[i]
		t1 := (box.min[i] - origin[i]) * inv
		t2 := (box.max[i] - origin[i]) * inv
		sign := float32(-1)
		if t1 > t2 {
			t1, t2 = t2, t1
			sign = 1
		}
		if t1 > tMin {
			tMin = t1
			normal = mgl32.Vec3{}
			normal[i] = sign
		}
		tMax = min(tMax, t2)
		if tMin > tMax {
			return 0, normal, false
		}
	}
	return tMin, normal, true
}

var (
	colorActive   = mgl32.Vec3{0, 1, 0}
	colorSleeping = mgl32.Vec3{0.5, 0.5, 0.5}
	colorStatic   = mgl32.Vec3{0.2, 0.4, 1}
	colorContact  = mgl32.Vec3{1, 1, 0}
	colorJoint    = mgl32.Vec3{1, 0, 1}
	colorSoft     = mgl32.Vec3{1, 0.5, 0}
)

// DebugDraw рисует бокс каждого тела, точки контактов и связи.
func (r *Reference) DebugDraw(d DebugDrawer, mode protocol.DebugMode) {
	if mode == protocol.NoDebug {
		return
	}
	if mode.Has(protocol.DrawWireframe) || mode.Has(protocol.DrawAabb) {
		for _, b := range r.bodies {
			color := colorActive
			switch {
			case !b.dynamic():
				color = colorStatic
			case !b.active:
				color = colorSleeping
			}
			drawBox(d, b.bounds(), color)
		}
		for _, sb := range r.softBodies {
			for _, e := range sb.edges {
				d.DrawLine(sb.pos[e.i], sb.pos[e.j], colorSoft)
			}
		}
	}
	if mode.Has(protocol.DrawContactPoints) {
		for _, c := range r.contacts {
			a, b := c.A.(*rigidBody), c.B.(*rigidBody)
			d.DrawLine(a.position, b.position, colorContact)
		}
	}
	if mode.Has(protocol.DrawConstraints) {
		for _, c := range r.constraints {
			pa, pb := c.worldPivots()
			d.DrawLine(pa, pb, colorJoint)
		}
	}
}

func drawBox(d DebugDrawer, b aabb, color mgl32.Vec3) {
	corner := func(i int) mgl32.Vec3 {
		var p mgl32.Vec3
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				p[axis] = b.max[axis]
			} else {
				p[axis] = b.min[axis]
			}
		}
		return p
	}
	// рёбра соединяют вершины, отличающиеся одним битом
	for i := 0; i < 8; i++ {
		for axis := 0; axis < 3; axis++ {
			j := i | 1<<axis
			if j != i {
				d.DrawLine(corner(i), corner(j), color)
			}
		}
	}
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
