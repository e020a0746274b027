// Package scene - минимальный граф сцены, с которым синхронизируется хост:
// узлы с локальными трансформациями, инстансы, геометрия мягких тел и
// отладочных линий.
package scene

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Node - узел сцены с локальной трансформацией относительно родителя.
type Node interface {
	MatrixWorld() mgl32.Mat4
	// ParentMatrixWorld - мировая матрица родителя; для корня единичная.
	ParentMatrixWorld() mgl32.Mat4
	SetLocal(position mgl32.Vec3, rotation mgl32.Quat)
}

// Instanced - узел с набором инстансов, у каждого своя матрица.
type Instanced interface {
	Node
	Count() int
	InstanceMatrix(i int) mgl32.Mat4
	SetInstanceMatrix(i int, m mgl32.Mat4)
	MarkInstancesDirty()
}

// MeshGeometry - треугольная геометрия мягкого тела.
type MeshGeometry interface {
	Positions() []float32
	Normals() []float32
	Indices() []uint32
	MarkDirty()
}

// LineGeometry - полилиния (канат).
type LineGeometry interface {
	Positions() []float32
	SetPositions(p []float32)
}

// DebugGeometry получает отладочные линии от хоста.
type DebugGeometry interface {
	Update(vertices, colors []float32, count int)
}

// Extractor обходит геометрию узла и отдаёт тройки
// (массив вершин, локальная матрица, индекс материала).
type Extractor interface {
	Extract(n Node, fn func(vertices []float32, local mgl32.Mat4, material int))
}
