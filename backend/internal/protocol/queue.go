package protocol

import "sync"

// Queue - неограниченный FIFO-почтовый ящик. Push никогда не блокирует,
// получатель узнаёт о новых сообщениях через Notify.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue создаёт пустую очередь.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push ставит сообщение в очередь. После Close возвращает false.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop забирает первое сообщение.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Drain дописывает в dst все накопленные сообщения и очищает очередь.
func (q *Queue[T]) Drain(dst []T) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	dst = append(dst, q.items...)
	clear(q.items)
	q.items = q.items[:0]
	return dst
}

// Len - число сообщений в очереди.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Notify срабатывает после Push, если получатель ещё не проснулся.
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notify
}

// Done закрывается при Close.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Close запрещает новые сообщения. Уже поставленные можно дочитать.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed сообщает, закрыта ли очередь.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Link - пара очередей между хостом и воркером.
type Link struct {
	Commands *Queue[Command]
	Events   *Queue[Event]
}

// NewLink создаёт канал связи.
func NewLink() *Link {
	return &Link{
		Commands: NewQueue[Command](),
		Events:   NewQueue[Event](),
	}
}

// Close закрывает оба направления.
func (l *Link) Close() {
	l.Commands.Close()
	l.Events.Close()
}
