package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Object - простой узел сцены.
type Object struct {
	Name string

	mu       sync.RWMutex
	position mgl32.Vec3
	rotation mgl32.Quat
	scale    mgl32.Vec3
	parent   *Object
	// Geometry - вершины в локальных координатах объекта, для BoxExtractor.
	Geometry []float32
	// Material - индекс материала геометрии.
	Material int
}

// NewObject создаёт узел в начале координат.
func NewObject(name string) *Object {
	return &Object{
		Name:     name,
		rotation: mgl32.QuatIdent(),
		scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Attach делает o дочерним узлом parent.
func (o *Object) Attach(parent *Object) *Object {
	o.mu.Lock()
	o.parent = parent
	o.mu.Unlock()
	return o
}

// SetPosition задаёт локальную позицию.
func (o *Object) SetPosition(p mgl32.Vec3) *Object {
	o.mu.Lock()
	o.position = p
	o.mu.Unlock()
	return o
}

// SetRotation задаёт локальный поворот.
func (o *Object) SetRotation(q mgl32.Quat) *Object {
	o.mu.Lock()
	o.rotation = q
	o.mu.Unlock()
	return o
}

// SetScale задаёт локальный масштаб.
func (o *Object) SetScale(s mgl32.Vec3) *Object {
	o.mu.Lock()
	o.scale = s
	o.mu.Unlock()
	return o
}

// Position - локальная позиция.
func (o *Object) Position() mgl32.Vec3 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.position
}

// Rotation - локальный поворот.
func (o *Object) Rotation() mgl32.Quat {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.rotation
}

// SetLocal применяет позицию и поворот, масштаб не меняется.
func (o *Object) SetLocal(position mgl32.Vec3, rotation mgl32.Quat) {
	o.mu.Lock()
	o.position = position
	o.rotation = rotation
	o.mu.Unlock()
}

// Matrix - локальная матрица T*R*S.
func (o *Object) Matrix() mgl32.Mat4 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return mgl32.Translate3D(o.position.X(), o.position.Y(), o.position.Z()).
		Mul4(o.rotation.Mat4()).
		Mul4(mgl32.Scale3D(o.scale.X(), o.scale.Y(), o.scale.Z()))
}

func (o *Object) MatrixWorld() mgl32.Mat4 {
	return o.ParentMatrixWorld().Mul4(o.Matrix())
}

func (o *Object) ParentMatrixWorld() mgl32.Mat4 {
	o.mu.RLock()
	parent := o.parent
	o.mu.RUnlock()
	if parent == nil {
		return mgl32.Ident4()
	}
	return parent.MatrixWorld()
}

// InstancedMesh - узел с инстансами.
type InstancedMesh struct {
	*Object

	mu        sync.RWMutex
	instances []mgl32.Mat4
	dirty     bool
}

// NewInstancedMesh создаёт count инстансов с единичными матрицами.
func NewInstancedMesh(name string, count int) *InstancedMesh {
	m := &InstancedMesh{
		Object:    NewObject(name),
		instances: make([]mgl32.Mat4, count),
	}
	for i := range m.instances {
		m.instances[i] = mgl32.Ident4()
	}
	return m
}

func (m *InstancedMesh) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

func (m *InstancedMesh) InstanceMatrix(i int) mgl32.Mat4 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[i]
}

func (m *InstancedMesh) SetInstanceMatrix(i int, mat mgl32.Mat4) {
	m.mu.Lock()
	m.instances[i] = mat
	m.mu.Unlock()
}

func (m *InstancedMesh) MarkInstancesDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// TakeDirty возвращает флаг изменения инстансов и сбрасывает его.
func (m *InstancedMesh) TakeDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.dirty
	m.dirty = false
	return d
}
