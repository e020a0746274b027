package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/physerr"
)

// BodyType определяет, кто управляет трансформацией тела.
type BodyType string

const (
	// Dynamic - трансформацией управляет солвер.
	Dynamic BodyType = "DYNAMIC"
	// Static - неподвижное тело, трансформацию задаёт хост.
	Static BodyType = "STATIC"
	// Kinematic - тело двигает хост, солвер только учитывает его в контактах.
	Kinematic BodyType = "KINEMATIC"
)

// ShapeType - тип формы столкновений.
type ShapeType string

const (
	ShapeBox         ShapeType = "box"
	ShapeSphere      ShapeType = "sphere"
	ShapeCapsule     ShapeType = "capsule"
	ShapeCylinder    ShapeType = "cylinder"
	ShapeCone        ShapeType = "cone"
	ShapeHull        ShapeType = "hull"
	ShapeMesh        ShapeType = "mesh"
	ShapeHeightfield ShapeType = "heightfield"
	ShapeCompound    ShapeType = "compound"
)

// ShapeFit - откуда берутся размеры формы.
type ShapeFit string

const (
	// FitAll - размеры вычисляются по геометрии объекта.
	FitAll ShapeFit = "all"
	// FitManual - размеры заданы явно.
	FitManual ShapeFit = "manual"
)

// ShapeDescriptor описывает форму тела.
type ShapeDescriptor struct {
	Type ShapeType `json:"type"`
	Fit  ShapeFit  `json:"fit,omitempty"`

	HalfExtents mgl32.Vec3 `json:"halfExtents,omitempty"`
	Radius      float32    `json:"radius,omitempty"`
	Height      float32    `json:"height,omitempty"`

	Offset      mgl32.Vec3  `json:"offset,omitempty"`
	Orientation *mgl32.Quat `json:"orientation,omitempty"`
	Margin      float32     `json:"margin,omitempty"`

	Children []ShapeDescriptor `json:"children,omitempty"`
}

// Validate проверяет дескриптор формы. mesh нужен для форм,
// размеры которых вычисляются по геометрии.
func (d ShapeDescriptor) Validate(mesh *SerializedMesh) error {
	switch d.Type {
	case ShapeBox, ShapeSphere, ShapeCapsule, ShapeCylinder, ShapeCone:
		if d.Fit == FitManual {
			return d.validateManual()
		}
		if mesh.Empty() {
			return fmt.Errorf("shape %s: fit %q needs geometry: %w", d.Type, FitAll, physerr.ErrInvalidShape)
		}
	case ShapeHull, ShapeMesh, ShapeHeightfield:
		if mesh.Empty() {
			return fmt.Errorf("shape %s: geometry is required: %w", d.Type, physerr.ErrInvalidShape)
		}
	case ShapeCompound:
		if len(d.Children) == 0 {
			return fmt.Errorf("compound shape without children: %w", physerr.ErrInvalidShape)
		}
		for i, child := range d.Children {
			if child.Type == ShapeCompound {
				return fmt.Errorf("compound child %d: nested compounds are not supported: %w", i, physerr.ErrInvalidShape)
			}
			if err := child.Validate(mesh); err != nil {
				return fmt.Errorf("compound child %d: %w", i, err)
			}
		}
	case "":
		return fmt.Errorf("shape type is empty: %w", physerr.ErrInvalidShape)
	default:
		return fmt.Errorf("unknown shape type %q: %w", d.Type, physerr.ErrInvalidShape)
	}
	return nil
}

func (d ShapeDescriptor) validateManual() error {
	switch d.Type {
	case ShapeBox:
		if d.HalfExtents.X() <= 0 || d.HalfExtents.Y() <= 0 || d.HalfExtents.Z() <= 0 {
			return fmt.Errorf("box half extents %v must be positive: %w", d.HalfExtents, physerr.ErrInvalidShape)
		}
	case ShapeSphere:
		if d.Radius <= 0 {
			return fmt.Errorf("sphere radius %v must be positive: %w", d.Radius, physerr.ErrInvalidShape)
		}
	default:
		if d.Radius <= 0 || d.Height <= 0 {
			return fmt.Errorf("%s radius %v and height %v must be positive: %w", d.Type, d.Radius, d.Height, physerr.ErrInvalidShape)
		}
	}
	return nil
}

// SerializedMesh - геометрия объекта, извлечённая один раз при добавлении тела.
// Vertices[i] - плоский массив координат, Matrices[i] - его локальная матрица,
// Indexes[i] - индекс материала.
type SerializedMesh struct {
	Vertices    [][]float32  `json:"vertices"`
	Matrices    []mgl32.Mat4 `json:"matrices"`
	Indexes     []int        `json:"indexes"`
	MatrixWorld mgl32.Mat4   `json:"matrixWorld"`
}

// Empty сообщает, что геометрии нет.
func (m *SerializedMesh) Empty() bool {
	if m == nil {
		return true
	}
	for _, v := range m.Vertices {
		if len(v) >= 3 {
			return false
		}
	}
	return true
}

// BodyConfig - параметры тела при создании.
type BodyConfig struct {
	Type           BodyType    `json:"type,omitempty"`
	Mass           float32     `json:"mass,omitempty"`
	Gravity        *mgl32.Vec3 `json:"gravity,omitempty"`
	LinearDamping  float32     `json:"linearDamping,omitempty"`
	AngularDamping float32     `json:"angularDamping,omitempty"`
	Friction       float32     `json:"friction,omitempty"`
	Restitution    float32     `json:"restitution,omitempty"`
	// DisableCollision исключает тело из разрешения контактов.
	DisableCollision bool `json:"disableCollision,omitempty"`
}

// Kind возвращает тип тела; пустой тип означает DYNAMIC.
func (c BodyConfig) Kind() BodyType {
	if c.Type == "" {
		return Dynamic
	}
	return c.Type
}

// Apply накладывает на конфигурацию заданные поля обновления.
func (c BodyConfig) Apply(u BodyUpdate) BodyConfig {
	if u.Type != nil {
		c.Type = *u.Type
	}
	if u.Mass != nil {
		c.Mass = *u.Mass
	}
	if u.Gravity != nil {
		g := *u.Gravity
		c.Gravity = &g
	}
	if u.LinearDamping != nil {
		c.LinearDamping = *u.LinearDamping
	}
	if u.AngularDamping != nil {
		c.AngularDamping = *u.AngularDamping
	}
	if u.Friction != nil {
		c.Friction = *u.Friction
	}
	if u.Restitution != nil {
		c.Restitution = *u.Restitution
	}
	if u.DisableCollision != nil {
		c.DisableCollision = *u.DisableCollision
	}
	return c
}

// BodyUpdate - частичное обновление тела. nil означает "поле не задано".
type BodyUpdate struct {
	Type             *BodyType   `json:"type,omitempty"`
	Mass             *float32    `json:"mass,omitempty"`
	Gravity          *mgl32.Vec3 `json:"gravity,omitempty"`
	LinearDamping    *float32    `json:"linearDamping,omitempty"`
	AngularDamping   *float32    `json:"angularDamping,omitempty"`
	Friction         *float32    `json:"friction,omitempty"`
	Restitution      *float32    `json:"restitution,omitempty"`
	DisableCollision *bool       `json:"disableCollision,omitempty"`
}

// Merge возвращает объединение обновлений: заданные поля next побеждают.
func (u BodyUpdate) Merge(next BodyUpdate) BodyUpdate {
	if next.Type != nil {
		u.Type = next.Type
	}
	if next.Mass != nil {
		u.Mass = next.Mass
	}
	if next.Gravity != nil {
		u.Gravity = next.Gravity
	}
	if next.LinearDamping != nil {
		u.LinearDamping = next.LinearDamping
	}
	if next.AngularDamping != nil {
		u.AngularDamping = next.AngularDamping
	}
	if next.Friction != nil {
		u.Friction = next.Friction
	}
	if next.Restitution != nil {
		u.Restitution = next.Restitution
	}
	if next.DisableCollision != nil {
		u.DisableCollision = next.DisableCollision
	}
	return u
}

// MotionState - телепортация тела: позиция и/или поворот в мировых координатах.
type MotionState struct {
	Position *mgl32.Vec3 `json:"position,omitempty"`
	Rotation *mgl32.Quat `json:"rotation,omitempty"`
}

// Merge объединяет состояния, заданные поля next побеждают.
func (s MotionState) Merge(next MotionState) MotionState {
	if next.Position != nil {
		s.Position = next.Position
	}
	if next.Rotation != nil {
		s.Rotation = next.Rotation
	}
	return s
}

// ConstraintType - вид связи между телами.
type ConstraintType string

const (
	ConstraintPointToPoint ConstraintType = "pointToPoint"
	ConstraintFixed        ConstraintType = "fixed"
	ConstraintHinge        ConstraintType = "hinge"
	ConstraintSlider       ConstraintType = "slider"
	ConstraintConeTwist    ConstraintType = "coneTwist"
	ConstraintSpring       ConstraintType = "spring"
)

// ConstraintConfig - параметры связи. Точки крепления заданы в локальных
// координатах тел. Если BodyB пуст, связь крепится к миру.
type ConstraintConfig struct {
	Type   ConstraintType `json:"type"`
	PivotA mgl32.Vec3     `json:"pivotA"`
	PivotB mgl32.Vec3     `json:"pivotB"`
	// Stiffness в диапазоне (0, 1]; ноль трактуется как жёсткая связь.
	Stiffness float32 `json:"stiffness,omitempty"`
}

// ConstraintUpdate - частичное обновление связи.
type ConstraintUpdate struct {
	Enabled   *bool       `json:"enabled,omitempty"`
	PivotA    *mgl32.Vec3 `json:"pivotA,omitempty"`
	PivotB    *mgl32.Vec3 `json:"pivotB,omitempty"`
	Stiffness *float32    `json:"stiffness,omitempty"`
}

// SoftBodyType - вид мягкого тела.
type SoftBodyType string

const (
	SoftBodyRope    SoftBodyType = "rope"
	SoftBodyTriMesh SoftBodyType = "trimesh"
)

// SoftBodyAnchor прикрепляет узел мягкого тела к твёрдому телу или к миру.
type SoftBodyAnchor struct {
	NodeIndex int `json:"nodeIndex"`
	// BodyUUID пуст для крепления к миру в текущей позиции узла.
	BodyUUID    string     `json:"bodyUuid,omitempty"`
	LocalOffset mgl32.Vec3 `json:"localOffset,omitempty"`
}

// SoftBodyConfig - параметры мягкого тела. Vertices задают начальные позиции
// узлов в мировых координатах, Indices - треугольники (для каната пусто).
type SoftBodyConfig struct {
	Type       SoftBodyType     `json:"type"`
	Vertices   []float32        `json:"vertices"`
	Indices    []uint32         `json:"indices,omitempty"`
	Mass       float32          `json:"mass,omitempty"`
	Stiffness  float32          `json:"stiffness,omitempty"`
	Iterations int              `json:"iterations,omitempty"`
	Anchors    []SoftBodyAnchor `json:"anchors,omitempty"`
}

// Validate проверяет геометрию мягкого тела.
func (c SoftBodyConfig) Validate() error {
	if len(c.Vertices) < 6 || len(c.Vertices)%3 != 0 {
		return fmt.Errorf("soft body needs at least two vertices, got %d floats: %w", len(c.Vertices), physerr.ErrInvalidShape)
	}
	nodes := len(c.Vertices) / 3
	switch c.Type {
	case SoftBodyRope:
	case SoftBodyTriMesh:
		if len(c.Indices) == 0 || len(c.Indices)%3 != 0 {
			return fmt.Errorf("trimesh soft body needs triangle indices: %w", physerr.ErrInvalidShape)
		}
		for _, idx := range c.Indices {
			if int(idx) >= nodes {
				return fmt.Errorf("trimesh index %d out of range %d: %w", idx, nodes, physerr.ErrInvalidShape)
			}
		}
	default:
		return fmt.Errorf("unknown soft body type %q: %w", c.Type, physerr.ErrInvalidShape)
	}
	for _, a := range c.Anchors {
		if a.NodeIndex < 0 || a.NodeIndex >= nodes {
			return fmt.Errorf("anchor node %d out of range %d: %w", a.NodeIndex, nodes, physerr.ErrInvalidShape)
		}
	}
	return nil
}

// RaycastHit - одно пересечение луча с телом.
type RaycastHit struct {
	UUID     string     `json:"uuid"`
	Point    mgl32.Vec3 `json:"point"`
	Normal   mgl32.Vec3 `json:"normal"`
	Fraction float32    `json:"fraction"`
}

// DebugMode - битовая маска режимов отладочной отрисовки.
type DebugMode uint32

const (
	NoDebug           DebugMode = 0
	DrawWireframe     DebugMode = 1 << 0
	DrawAabb          DebugMode = 1 << 1
	DrawFeaturesText  DebugMode = 1 << 2
	DrawContactPoints DebugMode = 1 << 3
	NoDeactivation    DebugMode = 1 << 4
	NoHelpText        DebugMode = 1 << 5
	DrawText          DebugMode = 1 << 6
	ProfileTimings    DebugMode = 1 << 7
	EnableSatCompare  DebugMode = 1 << 8
	DisableBulletLCP  DebugMode = 1 << 9
	EnableCCD         DebugMode = 1 << 10
	DrawConstraints   DebugMode = 1 << 11
	DrawConstraintLim DebugMode = 1 << 12
	FastWireframe     DebugMode = 1 << 13
	DrawNormals       DebugMode = 1 << 14
	DrawFrames        DebugMode = 1 << 15
)

// Has проверяет, что все биты flag установлены.
func (m DebugMode) Has(flag DebugMode) bool {
	return m&flag == flag
}
