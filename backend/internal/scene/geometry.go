package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh - треугольная геометрия.
type Mesh struct {
	mu        sync.Mutex
	positions []float32
	normals   []float32
	indices   []uint32
	version   int
}

// NewMesh создаёт геометрию; нормали выделяются под каждую вершину.
func NewMesh(positions []float32, indices []uint32) *Mesh {
	return &Mesh{
		positions: positions,
		normals:   make([]float32, len(positions)),
		indices:   indices,
	}
}

func (m *Mesh) Positions() []float32 { return m.positions }
func (m *Mesh) Normals() []float32   { return m.normals }
func (m *Mesh) Indices() []uint32    { return m.indices }

func (m *Mesh) MarkDirty() {
	m.mu.Lock()
	m.version++
	m.mu.Unlock()
}

// Version растёт при каждом MarkDirty.
func (m *Mesh) Version() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Lines - полилиния.
type Lines struct {
	mu        sync.Mutex
	positions []float32
	version   int
}

// NewLines создаёт полилинию по точкам.
func NewLines(points []mgl32.Vec3) *Lines {
	l := &Lines{positions: make([]float32, 0, len(points)*3)}
	for _, p := range points {
		l.positions = append(l.positions, p.X(), p.Y(), p.Z())
	}
	return l
}

func (l *Lines) Positions() []float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions
}

// SetPositions копирует точки в собственный массив.
func (l *Lines) SetPositions(p []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cap(l.positions) < len(p) {
		l.positions = make([]float32, len(p))
	}
	l.positions = l.positions[:len(p)]
	copy(l.positions, p)
	l.version++
}

func (l *Lines) Version() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// DebugLines хранит последнюю порцию отладочных линий.
type DebugLines struct {
	mu       sync.Mutex
	vertices []float32
	colors   []float32
	count    int
}

func (d *DebugLines) Update(vertices, colors []float32, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := count * 3
	d.vertices = append(d.vertices[:0], vertices[:n]...)
	d.colors = append(d.colors[:0], colors[:n]...)
	d.count = count
}

// Count - число вершин в последней порции.
func (d *DebugLines) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// BoxExtractor отдаёт Geometry объекта как единственную тройку.
type BoxExtractor struct{}

func (BoxExtractor) Extract(n Node, fn func(vertices []float32, local mgl32.Mat4, material int)) {
	switch o := n.(type) {
	case *Object:
		if len(o.Geometry) > 0 {
			fn(o.Geometry, mgl32.Ident4(), o.Material)
		}
	case *InstancedMesh:
		if len(o.Geometry) > 0 {
			fn(o.Geometry, mgl32.Ident4(), o.Material)
		}
	}
}

// BoxGeometry - восемь вершин бокса с полуразмерами half.
func BoxGeometry(half mgl32.Vec3) []float32 {
	out := make([]float32, 0, 24)
	for i := 0; i < 8; i++ {
		var p mgl32.Vec3
		for axis := 0; axis < 3; axis++ {
			p[axis] = -half[axis]
			if i&(1<<axis) != 0 {
				p[axis] = half[axis]
			}
		}
		out = append(out, p.X(), p.Y(), p.Z())
	}
	return out
}
