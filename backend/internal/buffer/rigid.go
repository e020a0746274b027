package buffer

import (
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// Rigid - область заголовка и матриц твёрдых тел.
//
// Вся область хранится одним массивом 32-битных слов: целые поля лежат как
// есть, float32 - через math.Float32bits. Флаг состояния читается и пишется
// только атомарно, остальные поля принадлежат той стороне, которой флаг
// разрешает доступ.
type Rigid struct {
	words     []uint32
	maxBodies int
}

// NewRigid выделяет область под maxBodies слотов.
func NewRigid(maxBodies int) *Rigid {
	r := &Rigid{
		words:     make([]uint32, HeaderLength+maxBodies*BodyDataSize),
		maxBodies: maxBodies,
	}
	r.words[headerState] = uint32(Uninitialized)
	for slot := 0; slot < maxBodies; slot++ {
		r.SetMatrix(slot, mgl32.Ident4())
		r.SetCollisions(slot, nil)
	}
	return r
}

// Len - длина области в словах. Ноль означает, что область передана другой стороне.
func (r *Rigid) Len() int {
	if r == nil {
		return 0
	}
	return len(r.words)
}

// MaxBodies - ёмкость области.
func (r *Rigid) MaxBodies() int {
	return r.maxBodies
}

// State атомарно читает флаг состояния.
func (r *Rigid) State() State {
	return State(atomic.LoadUint32(&r.words[headerState]))
}

// SetState атомарно записывает флаг состояния.
func (r *Rigid) SetState(s State) {
	atomic.StoreUint32(&r.words[headerState], uint32(s))
}

// CompareAndSwapState атомарно меняет флаг, если он равен old.
func (r *Rigid) CompareAndSwapState(old, s State) bool {
	return atomic.CompareAndSwapUint32(&r.words[headerState], uint32(old), uint32(s))
}

// StepDuration - длительность последнего шага солвера в миллисекундах.
func (r *Rigid) StepDuration() float32 {
	return math.Float32frombits(r.words[headerStepDuration])
}

// SubstepCounter - накопленное число подшагов по модулю 2^31.
func (r *Rigid) SubstepCounter() int32 {
	return int32(r.words[headerSubsteps])
}

// FPS - частота шагов воркера, усреднённая по окну.
func (r *Rigid) FPS() float32 {
	return math.Float32frombits(r.words[headerFPS])
}

// WriteHeader записывает поля заголовка, кроме флага состояния.
func (r *Rigid) WriteHeader(stepDurationMs float32, substeps int32, fps float32) {
	r.words[headerStepDuration] = math.Float32bits(stepDurationMs)
	r.words[headerSubsteps] = uint32(substeps)
	r.words[headerFPS] = math.Float32bits(fps)
}

// Frame - порядковый номер опубликованного кадра, начиная с 1.
// Ноль означает, что воркер в эту область ещё не публиковал.
func (r *Rigid) Frame() uint32 {
	return r.words[headerFrame]
}

// SetFrame записывает номер кадра.
func (r *Rigid) SetFrame(n uint32) {
	r.words[headerFrame] = n
}

// FrameReached сообщает, что кадр frame не раньше кадра since.
// Номера сравниваются с учётом переполнения.
func FrameReached(frame, since uint32) bool {
	return int32(frame-since) >= 0
}

// SetFPS обновляет только поле FPS.
func (r *Rigid) SetFPS(fps float32) {
	r.words[headerFPS] = math.Float32bits(fps)
}

func (r *Rigid) base(slot int) int {
	return HeaderLength + slot*BodyDataSize
}

// Matrix декодирует мировую матрицу слота.
func (r *Rigid) Matrix(slot int) mgl32.Mat4 {
	var m mgl32.Mat4
	off := r.base(slot) + MatrixOffset
	for i := range m {
		m[i] = math.Float32frombits(r.words[off+i])
	}
	return m
}

// SetMatrix записывает мировую матрицу слота.
func (r *Rigid) SetMatrix(slot int, m mgl32.Mat4) {
	off := r.base(slot) + MatrixOffset
	for i, v := range m {
		r.words[off+i] = math.Float32bits(v)
	}
}

// Velocity возвращает модули линейной и угловой скоростей слота.
func (r *Rigid) Velocity(slot int) (linear, angular float32) {
	off := r.base(slot)
	return math.Float32frombits(r.words[off+LinearVelocityOffset]),
		math.Float32frombits(r.words[off+AngularVelocityOffset])
}

// SetVelocity записывает модули скоростей слота.
func (r *Rigid) SetVelocity(slot int, linear, angular float32) {
	off := r.base(slot)
	r.words[off+LinearVelocityOffset] = math.Float32bits(linear)
	r.words[off+AngularVelocityOffset] = math.Float32bits(angular)
}

// Collisions возвращает индексы слотов, с которыми тело в контакте.
func (r *Rigid) Collisions(slot int) []int {
	off := r.base(slot) + CollisionsOffset
	var out []int
	for i := 0; i < MaxCollisions; i++ {
		idx := int32(r.words[off+i])
		if idx < 0 {
			break
		}
		out = append(out, int(idx))
	}
	return out
}

// SetCollisions записывает список контактов; лишние отбрасываются.
func (r *Rigid) SetCollisions(slot int, slots []int) {
	off := r.base(slot) + CollisionsOffset
	for i := 0; i < MaxCollisions; i++ {
		v := int32(-1)
		if i < len(slots) {
			v = int32(slots[i])
		}
		r.words[off+i] = uint32(v)
	}
}
