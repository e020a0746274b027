package physerr

import "errors"

// Ошибки подсистемы синхронизации физики.
var (
	// ErrCapacityExceeded - все слоты буфера тел заняты.
	ErrCapacityExceeded = errors.New("body capacity exceeded")
	// ErrInvalidShape - некорректное описание формы коллизии.
	ErrInvalidShape = errors.New("invalid shape descriptor")
	// ErrProtocolViolation - сообщение нарушает протокол (повторный INIT, неизвестный тип).
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrSolverFault - необработанная ошибка внутри шага солвера, воркер остановлен.
	ErrSolverFault = errors.New("solver fault")
	// ErrStaleReference - обращение к уже удалённому или ещё не созданному объекту.
	ErrStaleReference = errors.New("stale reference")
	// ErrWorkerTerminated - воркер завершён, ответ на запрос не придёт.
	ErrWorkerTerminated = errors.New("worker terminated")
	// ErrUnsupported - операция не поддерживается текущим солвером или режимом.
	ErrUnsupported = errors.New("unsupported operation")
)

// Kind возвращает короткое имя категории ошибки для событий BODY_ERROR.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCapacityExceeded):
		return "CapacityExceeded"
	case errors.Is(err, ErrInvalidShape):
		return "InvalidShapeDescriptor"
	case errors.Is(err, ErrProtocolViolation):
		return "ProtocolViolation"
	case errors.Is(err, ErrSolverFault):
		return "SolverFault"
	case errors.Is(err, ErrStaleReference):
		return "StaleReference"
	case errors.Is(err, ErrWorkerTerminated):
		return "WorkerTerminated"
	case errors.Is(err, ErrUnsupported):
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// FromKind восстанавливает сигнальную ошибку по имени категории.
func FromKind(kind string) error {
	switch kind {
	case "CapacityExceeded":
		return ErrCapacityExceeded
	case "InvalidShapeDescriptor":
		return ErrInvalidShape
	case "ProtocolViolation":
		return ErrProtocolViolation
	case "SolverFault":
		return ErrSolverFault
	case "StaleReference":
		return ErrStaleReference
	case "WorkerTerminated":
		return ErrWorkerTerminated
	case "Unsupported":
		return ErrUnsupported
	default:
		return nil
	}
}
