package buffer

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// Debug - область отладочной геометрии: пары вершин (линии) и их цвета.
// Массивы выделяются один раз; при переполнении запись продолжается с начала,
// вытесняя самые старые линии.
type Debug struct {
	index    atomic.Int32
	wrapped  atomic.Bool
	vertices []float32
	colors   []float32
}

// NewDebug выделяет область на capacity вершин (по 3 float на вершину).
func NewDebug(capacity int) *Debug {
	// линия занимает две вершины, нечётный хвост не используется
	capacity -= capacity % 2
	return &Debug{
		vertices: make([]float32, capacity*3),
		colors:   make([]float32, capacity*3),
	}
}

// Capacity - ёмкость в вершинах.
func (d *Debug) Capacity() int {
	if d == nil {
		return 0
	}
	return len(d.vertices) / 3
}

// Len - длина массива вершин во float. Ноль означает, что область передана.
func (d *Debug) Len() int {
	if d == nil {
		return 0
	}
	return len(d.vertices)
}

// Index - текущий индекс записи в вершинах.
func (d *Debug) Index() int {
	return int(d.index.Load())
}

// AddLine записывает отрезок from-to цветом color.
func (d *Debug) AddLine(from, to, color mgl32.Vec3) {
	capacity := d.Capacity()
	if capacity < 2 {
		return
	}
	i := int(d.index.Load())
	if i+2 > capacity {
		i = 0
		d.wrapped.Store(true)
	}
	d.put(i, from, color)
	d.put(i+1, to, color)
	d.index.Store(int32(i + 2))
}

func (d *Debug) put(vertex int, p, color mgl32.Vec3) {
	off := vertex * 3
	copy(d.vertices[off:off+3], p[:])
	copy(d.colors[off:off+3], color[:])
}

// Drain возвращает число вершин, пригодных для отрисовки, и сбрасывает
// индекс записи. После переполнения рисуется весь массив.
func (d *Debug) Drain() int {
	if d == nil || d.Len() == 0 {
		return 0
	}
	n := int(d.index.Swap(0))
	if d.wrapped.Swap(false) {
		n = d.Capacity()
	}
	return n
}

// Vertices - массив координат вершин.
func (d *Debug) Vertices() []float32 {
	return d.vertices
}

// Colors - массив цветов вершин.
func (d *Debug) Colors() []float32 {
	return d.colors
}

// Line возвращает концы и цвет линии с номером n.
func (d *Debug) Line(n int) (from, to, color mgl32.Vec3) {
	off := n * 6
	copy(from[:], d.vertices[off:off+3])
	copy(to[:], d.vertices[off+3:off+6])
	copy(color[:], d.colors[off:off+3])
	return from, to, color
}

func (d *Debug) detach() *Debug {
	if d == nil {
		return nil
	}
	out := &Debug{vertices: d.vertices, colors: d.colors}
	out.index.Store(d.index.Load())
	out.wrapped.Store(d.wrapped.Load())
	d.vertices, d.colors = nil, nil
	d.index.Store(0)
	d.wrapped.Store(false)
	return out
}
