package solver

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
)

// aabb - осевой ограничивающий параллелепипед.
type aabb struct {
	min, max mgl32.Vec3
}

func emptyAABB() aabb {
	inf := float32(math.Inf(1))
	return aabb{
		min: mgl32.Vec3{inf, inf, inf},
		max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

func (b aabb) valid() bool {
	return b.min.X() <= b.max.X() && b.min.Y() <= b.max.Y() && b.min.Z() <= b.max.Z()
}

func (b *aabb) extend(p mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		b.min[i] = min(b.min[i], p[i])
		b.max[i] = max(b.max[i], p[i])
	}
}

func (b *aabb) union(o aabb) {
	b.extend(o.min)
	b.extend(o.max)
}

func (b aabb) center() mgl32.Vec3 {
	return b.min.Add(b.max).Mul(0.5)
}

func (b aabb) half() mgl32.Vec3 {
	return b.max.Sub(b.min).Mul(0.5)
}

func (b aabb) overlaps(o aabb) bool {
	for i := 0; i < 3; i++ {
		if b.max[i] <= o.min[i] || o.max[i] <= b.min[i] {
			return false
		}
	}
	return true
}

func boxAround(center, half mgl32.Vec3) aabb {
	return aabb{min: center.Sub(half), max: center.Add(half)}
}

// shape - форма тела, сведённая к локальному боксу: центр относительно
// начала координат тела и полуразмеры.
type shape struct {
	kind   protocol.ShapeType
	center mgl32.Vec3
	half   mgl32.Vec3
}

// meshBounds - границы геометрии в локальных координатах тела.
func meshBounds(mesh *protocol.SerializedMesh) aabb {
	bounds := emptyAABB()
	if mesh == nil {
		return bounds
	}
	for i, verts := range mesh.Vertices {
		m := mgl32.Ident4()
		if i < len(mesh.Matrices) {
			m = mesh.Matrices[i]
		}
		for j := 0; j+2 < len(verts); j += 3 {
			p := m.Mul4x1(mgl32.Vec4{verts[j], verts[j+1], verts[j+2], 1}).Vec3()
			bounds.extend(p)
		}
	}
	return bounds
}

// buildShape сводит дескриптор к локальному боксу.
func buildShape(d protocol.ShapeDescriptor, mesh *protocol.SerializedMesh) (shape, error) {
	if err := d.Validate(mesh); err != nil {
		return shape{}, err
	}

	local, err := shapeBounds(d, mesh)
	if err != nil {
		return shape{}, err
	}
	if !local.valid() {
		return shape{}, fmt.Errorf("shape %s has no extent: %w", d.Type, physerr.ErrInvalidShape)
	}
	return shape{kind: d.Type, center: local.center(), half: local.half()}, nil
}

func shapeBounds(d protocol.ShapeDescriptor, mesh *protocol.SerializedMesh) (aabb, error) {
	if d.Type == protocol.ShapeCompound {
		bounds := emptyAABB()
		for _, child := range d.Children {
			b, err := shapeBounds(child, mesh)
			if err != nil {
				return aabb{}, err
			}
			bounds.union(b)
		}
		return offsetBounds(bounds, d), nil
	}

	var half, center mgl32.Vec3
	if d.Fit == protocol.FitManual {
		switch d.Type {
		case protocol.ShapeBox:
			half = d.HalfExtents
		case protocol.ShapeSphere:
			half = mgl32.Vec3{d.Radius, d.Radius, d.Radius}
		case protocol.ShapeCapsule:
			half = mgl32.Vec3{d.Radius, d.Height/2 + d.Radius, d.Radius}
		default:
			half = mgl32.Vec3{d.Radius, d.Height / 2, d.Radius}
		}
	} else {
		b := meshBounds(mesh)
		if !b.valid() {
			return aabb{}, fmt.Errorf("shape %s: geometry has no vertices: %w", d.Type, physerr.ErrInvalidShape)
		}
		center, half = b.center(), b.half()
		if d.Type == protocol.ShapeSphere {
			r := max(half.X(), half.Y(), half.Z())
			half = mgl32.Vec3{r, r, r}
		}
	}

	if d.Margin > 0 {
		half = half.Add(mgl32.Vec3{d.Margin, d.Margin, d.Margin})
	}
	return offsetBounds(boxAround(center, half), d), nil
}

// offsetBounds поворачивает и сдвигает бокс формы в систему координат тела.
func offsetBounds(b aabb, d protocol.ShapeDescriptor) aabb {
	if d.Orientation == nil && d.Offset == (mgl32.Vec3{}) {
		return b
	}
	rot := mgl32.Ident3()
	if d.Orientation != nil {
		rot = d.Orientation.Normalize().Mat4().Mat3()
	}
	c := rot.Mul3x1(b.center()).Add(d.Offset)
	return boxAround(c, rotatedHalf(rot, b.half()))
}

// rotatedHalf - полуразмеры бокса, повёрнутого матрицей rot, по осям мира.
func rotatedHalf(rot mgl32.Mat3, half mgl32.Vec3) mgl32.Vec3 {
	var out mgl32.Vec3
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[row] += abs32(rot.At(row, col)) * half[col]
		}
	}
	return out
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
