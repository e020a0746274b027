package host

import (
	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/scene"
)

// RenderTarget - объект сцены, в который копируется трансформация тела:
// отдельный узел или инстанс внутри пакетного меша.
type RenderTarget interface {
	// apply принимает мировую матрицу тела.
	apply(world mgl32.Mat4)
	// matrixWorld - текущая мировая матрица объекта сцены.
	matrixWorld() mgl32.Mat4
	position() mgl32.Vec3
}

// Single - тело связано с отдельным узлом сцены.
type Single struct {
	Node scene.Node
}

func (s Single) apply(world mgl32.Mat4) {
	local := s.Node.ParentMatrixWorld().Inv().Mul4(world)
	pos, rot := decompose(local)
	s.Node.SetLocal(pos, rot)
}

func (s Single) matrixWorld() mgl32.Mat4 {
	return s.Node.MatrixWorld()
}

func (s Single) position() mgl32.Vec3 {
	return s.Node.MatrixWorld().Col(3).Vec3()
}

// Batched - тело связано с инстансом Index пакетного меша.
type Batched struct {
	Mesh  scene.Instanced
	Index int
}

func (b Batched) apply(world mgl32.Mat4) {
	b.Mesh.SetInstanceMatrix(b.Index, b.Mesh.MatrixWorld().Inv().Mul4(world))
}

func (b Batched) matrixWorld() mgl32.Mat4 {
	return b.Mesh.MatrixWorld().Mul4(b.Mesh.InstanceMatrix(b.Index))
}

func (b Batched) position() mgl32.Vec3 {
	return b.matrixWorld().Col(3).Vec3()
}

// decompose раскладывает матрицу на позицию и поворот, отбрасывая масштаб.
func decompose(m mgl32.Mat4) (mgl32.Vec3, mgl32.Quat) {
	var r mgl32.Mat3
	for c := 0; c < 3; c++ {
		col := m.Col(c).Vec3()
		if l := col.Len(); l > 0 {
			col = col.Mul(1 / l)
		}
		r.SetCol(c, col)
	}
	return m.Col(3).Vec3(), mgl32.Mat4ToQuat(r.Mat4()).Normalize()
}

// SoftBodyGeometry - геометрия мягкого тела: scene.MeshGeometry для ткани
// или scene.LineGeometry для каната.
type SoftBodyGeometry interface {
	Positions() []float32
}
