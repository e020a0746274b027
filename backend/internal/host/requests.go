package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
)

type result struct {
	resp protocol.Response
	err  error
}

// requests - таблица ожидающих ответа запросов. Идентификаторы растут
// монотонно и не переиспользуются.
type requests struct {
	mu      sync.Mutex
	next    uint64
	waiting map[uint64]chan result
	closed  error
}

func newRequests() *requests {
	return &requests{waiting: make(map[uint64]chan result)}
}

func (r *requests) add() (uint64, <-chan result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return 0, nil, r.closed
	}
	r.next++
	ch := make(chan result, 1)
	r.waiting[r.next] = ch
	return r.next, ch, nil
}

// resolve доставляет ответ ожидающему. Ответ без ожидающего отбрасывается.
func (r *requests) resolve(resp protocol.Response) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.waiting[resp.ResponseTo()]
	if !ok {
		return false
	}
	delete(r.waiting, resp.ResponseTo())
	ch <- result{resp: resp}
	return true
}

func (r *requests) cancel(id uint64) {
	r.mu.Lock()
	delete(r.waiting, id)
	r.mu.Unlock()
}

// rejectAll отклоняет все ожидающие запросы и запрещает новые.
func (r *requests) rejectAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = err
	}
	for id, ch := range r.waiting {
		ch <- result{err: err}
		delete(r.waiting, id)
	}
}

func (r *requests) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

// remoteError - ошибка воркера из Ack. Текст передаётся как есть,
// errors.Is сопоставляет её с сигнальной ошибкой вида.
type remoteError struct {
	msg  string
	kind error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

func ackError(ack *protocol.Ack) error {
	if ack.Error == "" {
		return nil
	}
	return &remoteError{msg: ack.Error, kind: physerr.FromKind(ack.Kind)}
}

// request отправляет команду с новым RequestID и ждёт ответа.
func (h *Host) request(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	h.mu.Lock()
	err := h.writable()
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	id, ch, err := h.requests.add()
	if err != nil {
		return nil, err
	}
	cmd.SetRequest(id)
	h.metrics.SetPending(h.requests.len())
	defer func() { h.metrics.SetPending(h.requests.len()) }()

	if err := h.send(cmd); err != nil {
		h.requests.cancel(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		h.requests.cancel(id)
		return nil, ctx.Err()
	}
}

// Call отправляет команду и ждёт подтверждения воркера. Ошибка воркера
// возвращается обёрнутой в соответствующую сигнальную ошибку physerr.
func (h *Host) Call(ctx context.Context, cmd protocol.Command) error {
	resp, err := h.request(ctx, cmd)
	if err != nil {
		return err
	}
	ack, ok := resp.(*protocol.Ack)
	if !ok {
		return fmt.Errorf("unexpected response %s to %s: %w", resp.Type(), cmd.Type(), physerr.ErrProtocolViolation)
	}
	return ackError(ack)
}

// Raycast ищет пересечения луча from-to с телами мира.
func (h *Host) Raycast(ctx context.Context, from, to mgl32.Vec3, all bool) ([]protocol.RaycastHit, error) {
	resp, err := h.request(ctx, &protocol.Raycast{From: from, To: to, All: all})
	if err != nil {
		return nil, err
	}
	switch res := resp.(type) {
	case *protocol.RaycastResult:
		return res.Hits, nil
	case *protocol.Ack:
		if err := ackError(res); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("unexpected response %s to RAYCAST: %w", resp.Type(), physerr.ErrProtocolViolation)
}

// PendingRequests - число запросов, ждущих ответа.
func (h *Host) PendingRequests() int {
	return h.requests.len()
}
