package buffer

import "fmt"

// Раскладка области твёрдых тел. Все смещения в 32-битных словах.
const (
	// HeaderLength - длина заголовка: [state, lastStepDurationMs, substepCounter, fps, frame].
	HeaderLength = 5

	headerState        = 0
	headerStepDuration = 1
	headerSubsteps     = 2
	headerFPS          = 3
	headerFrame        = 4

	// MatrixOffset - мировая матрица 4x4 (column-major) в начале записи слота.
	MatrixOffset = 0
	// LinearVelocityOffset - модуль линейной скорости.
	LinearVelocityOffset = 16
	// AngularVelocityOffset - модуль угловой скорости.
	AngularVelocityOffset = 17
	// CollisionsOffset - индексы слотов тел, с которыми есть контакт (-1 = конец списка).
	CollisionsOffset = 18
	// MaxCollisions - сколько контактов помещается в запись слота.
	MaxCollisions = 8

	// BodyDataSize - размер записи одного слота.
	BodyDataSize = CollisionsOffset + MaxCollisions
)

// Значения по умолчанию.
const (
	DefaultMaxBodies           = 10000
	DefaultDebugVertexCapacity = 1000000
)

// State - флаг состояния общего буфера.
type State uint32

const (
	// Uninitialized - воркер ещё ничего не публиковал.
	Uninitialized State = iota
	// Ready - воркер записал кадр, хост ещё не прочитал.
	Ready
	// Consumed - хост прочитал кадр, воркер может писать.
	Consumed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Ready:
		return "READY"
	case Consumed:
		return "CONSUMED"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Mode - способ разделения буфера между хостом и воркером.
type Mode int

const (
	// ModeShared - обе стороны видят одну память, доступ через атомарный флаг.
	ModeShared Mode = iota
	// ModeTransfer - буфер передаётся целиком с каждым сообщением (fallback).
	ModeTransfer
)

func (m Mode) String() string {
	if m == ModeTransfer {
		return "transfer"
	}
	return "shared"
}

// Layout фиксирует ёмкость буферов на время жизни мира.
type Layout struct {
	MaxBodies           int
	DebugVertexCapacity int
}

// DefaultLayout возвращает раскладку по умолчанию.
func DefaultLayout() Layout {
	return Layout{
		MaxBodies:           DefaultMaxBodies,
		DebugVertexCapacity: DefaultDebugVertexCapacity,
	}
}

// Validate проверяет раскладку. Ёмкость не меняется после инициализации,
// поэтому ошибка здесь - ошибка конфигурации.
func (l Layout) Validate() error {
	if l.MaxBodies <= 0 {
		return fmt.Errorf("buffer layout: max bodies must be positive, got %d", l.MaxBodies)
	}
	if l.DebugVertexCapacity < 0 {
		return fmt.Errorf("buffer layout: debug capacity must not be negative, got %d", l.DebugVertexCapacity)
	}
	return nil
}

// RigidWords - полный размер области твёрдых тел в словах.
func (l Layout) RigidWords() int {
	return HeaderLength + l.MaxBodies*BodyDataSize
}
