package solver

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
)

type edge struct {
	i, j int
	rest float32
}

type anchor struct {
	node   int
	body   *rigidBody
	offset mgl32.Vec3
	// fixed - мировая точка крепления, если тела нет.
	fixed mgl32.Vec3
}

// softBody - мягкое тело на позиционной динамике: узлы, связанные
// дистанционными ограничениями.
type softBody struct {
	kind      protocol.SoftBodyType
	pos       []mgl32.Vec3
	prev      []mgl32.Vec3
	vel       []mgl32.Vec3
	invMass   []float32
	edges     []edge
	triangles []uint32
	normals   []mgl32.Vec3
	anchors   []anchor
	stiffness float32
	iters     int
}

// CreateSoftBody строит мягкое тело по начальным позициям узлов.
func (r *Reference) CreateSoftBody(cfg protocol.SoftBodyConfig, anchors []Anchor) (SoftBody, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := len(cfg.Vertices) / 3
	sb := &softBody{
		kind:      cfg.Type,
		pos:       make([]mgl32.Vec3, n),
		prev:      make([]mgl32.Vec3, n),
		vel:       make([]mgl32.Vec3, n),
		invMass:   make([]float32, n),
		normals:   make([]mgl32.Vec3, n),
		triangles: cfg.Indices,
		stiffness: cfg.Stiffness,
		iters:     cfg.Iterations,
	}
	if sb.stiffness <= 0 || sb.stiffness > 1 {
		sb.stiffness = 1
	}
	mass := cfg.Mass
	if mass <= 0 {
		mass = 1
	}
	for i := 0; i < n; i++ {
		sb.pos[i] = mgl32.Vec3{cfg.Vertices[3*i], cfg.Vertices[3*i+1], cfg.Vertices[3*i+2]}
		sb.invMass[i] = float32(n) / mass
	}

	if cfg.Type == protocol.SoftBodyRope {
		for i := 0; i+1 < n; i++ {
			sb.addEdge(i, i+1, nil)
		}
	} else {
		seen := make(map[[2]int]bool)
		for t := 0; t+2 < len(cfg.Indices); t += 3 {
			a, b, c := int(cfg.Indices[t]), int(cfg.Indices[t+1]), int(cfg.Indices[t+2])
			sb.addEdge(a, b, seen)
			sb.addEdge(b, c, seen)
			sb.addEdge(c, a, seen)
		}
	}

	for _, a := range anchors {
		if a.Node < 0 || a.Node >= n {
			return nil, fmt.Errorf("anchor node %d out of range %d: %w", a.Node, n, physerr.ErrInvalidShape)
		}
		an := anchor{node: a.Node, offset: a.LocalOffset, fixed: sb.pos[a.Node]}
		if rb, ok := a.Body.(*rigidBody); ok && rb != nil {
			an.body = rb
		}
		sb.anchors = append(sb.anchors, an)
		sb.invMass[a.Node] = 0
	}

	r.softBodies = append(r.softBodies, sb)
	return sb, nil
}

func (sb *softBody) addEdge(i, j int, seen map[[2]int]bool) {
	if i > j {
		i, j = j, i
	}
	if seen != nil {
		if seen[[2]int{i, j}] {
			return
		}
		seen[[2]int{i, j}] = true
	}
	sb.edges = append(sb.edges, edge{i: i, j: j, rest: sb.pos[j].Sub(sb.pos[i]).Len()})
}

func (r *Reference) DestroySoftBody(s SoftBody) {
	sb, ok := s.(*softBody)
	if !ok {
		return
	}
	for i, other := range r.softBodies {
		if other == sb {
			r.softBodies = append(r.softBodies[:i], r.softBodies[i+1:]...)
			return
		}
	}
}

// detach отпускает узлы, прикреплённые к удалённому телу.
func (sb *softBody) detach(b *rigidBody) {
	kept := sb.anchors[:0]
	for _, a := range sb.anchors {
		if a.body == b {
			sb.invMass[a.node] = sb.freeInvMass()
			continue
		}
		kept = append(kept, a)
	}
	sb.anchors = kept
}

func (sb *softBody) freeInvMass() float32 {
	for _, w := range sb.invMass {
		if w > 0 {
			return w
		}
	}
	return 1
}

func (sb *softBody) step(h float32, gravity mgl32.Vec3, iterations int, obstacles []aabb) {
	if sb.iters > 0 {
		iterations = sb.iters
	}
	for i := range sb.pos {
		sb.prev[i] = sb.pos[i]
		if sb.invMass[i] == 0 {
			continue
		}
		sb.vel[i] = sb.vel[i].Add(gravity.Mul(h))
		sb.pos[i] = sb.pos[i].Add(sb.vel[i].Mul(h))
	}

	for it := 0; it < iterations; it++ {
		sb.pinAnchors()
		for _, e := range sb.edges {
			wi, wj := sb.invMass[e.i], sb.invMass[e.j]
			total := wi + wj
			if total == 0 {
				continue
			}
			delta := sb.pos[e.j].Sub(sb.pos[e.i])
			l := delta.Len()
			if l == 0 {
				continue
			}
			corr := delta.Mul((l - e.rest) / l * sb.stiffness)
			sb.pos[e.i] = sb.pos[e.i].Add(corr.Mul(wi / total))
			sb.pos[e.j] = sb.pos[e.j].Sub(corr.Mul(wj / total))
		}
	}
	sb.pinAnchors()

	for i := range sb.pos {
		if sb.invMass[i] == 0 {
			continue
		}
		for _, box := range obstacles {
			sb.pos[i] = pushOut(sb.pos[i], box)
		}
		sb.vel[i] = sb.pos[i].Sub(sb.prev[i]).Mul(1 / h)
	}
}

func (sb *softBody) pinAnchors() {
	for _, a := range sb.anchors {
		if a.body == nil {
			sb.pos[a.node] = a.fixed
			continue
		}
		sb.pos[a.node] = a.body.position.Add(a.body.rotation.Rotate(a.offset))
	}
}

// pushOut выталкивает точку из бокса по ближайшей грани.
func pushOut(p mgl32.Vec3, box aabb) mgl32.Vec3 {
	for i := 0; i < 3; i++ {
		if p[i] <= box.min[i] || p[i] >= box.max[i] {
			return p
		}
	}
	axis, best, target := 0, float32(-1), float32(0)
	for i := 0; i < 3; i++ {
		if d := box.max[i] - p[i]; best < 0 || d < best {
			axis, best, target = i, d, box.max[i]
		}
		if d := p[i] - box.min[i]; d < best {
			axis, best, target = i, d, box.min[i]
		}
	}
	p[axis] = target
	return p
}

func (sb *softBody) Nodes() int {
	return len(sb.pos)
}

func (sb *softBody) CopyPositions(dst []float32) int {
	n := min(len(sb.pos), len(dst)/3)
	for i := 0; i < n; i++ {
		copy(dst[3*i:3*i+3], sb.pos[i][:])
	}
	return n
}

// CopyNormals считает нормали вершин как сумму нормалей смежных треугольников.
func (sb *softBody) CopyNormals(dst []float32) int {
	if sb.kind != protocol.SoftBodyTriMesh {
		return 0
	}
	n := min(len(sb.pos), len(dst)/3)
	normals := sb.normals
	clear(normals)
	for t := 0; t+2 < len(sb.triangles); t += 3 {
		a, b, c := sb.triangles[t], sb.triangles[t+1], sb.triangles[t+2]
		face := sb.pos[b].Sub(sb.pos[a]).Cross(sb.pos[c].Sub(sb.pos[a]))
		normals[a] = normals[a].Add(face)
		normals[b] = normals[b].Add(face)
		normals[c] = normals[c].Add(face)
	}
	for i := 0; i < n; i++ {
		v := normals[i]
		if v.Len() > 0 {
			v = v.Normalize()
		}
		copy(dst[3*i:3*i+3], v[:])
	}
	return n
}
