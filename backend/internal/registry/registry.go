// Package registry сопоставляет стабильные идентификаторы тел индексам слотов
// в разделяемом буфере. Свободные слоты хранятся односвязным списком в
// массиве, поэтому выделение и освобождение выполняются за O(1).
package registry

import (
	"fmt"

	"x-physync/backend/internal/physerr"
)

const (
	none int32 = -1
	// inUse помечает занятый слот в массиве next.
	inUse int32 = -2
)

// Registry не потокобезопасен: им владеет ровно один менеджер мира.
type Registry struct {
	next   []int32
	head   int32
	bySlot []string
	byUUID map[string]int
}

// New создаёт реестр на capacity слотов.
func New(capacity int) *Registry {
	r := &Registry{
		next:   make([]int32, capacity),
		bySlot: make([]string, capacity),
		byUUID: make(map[string]int, capacity),
		head:   none,
	}
	for i := capacity - 1; i >= 0; i-- {
		r.next[i] = r.head
		r.head = int32(i)
	}
	return r
}

// Allocate выдаёт свободный слот для uuid.
func (r *Registry) Allocate(uuid string) (int, error) {
	if _, ok := r.byUUID[uuid]; ok {
		return 0, fmt.Errorf("registry: uuid %q already has a slot: %w", uuid, physerr.ErrProtocolViolation)
	}
	if r.head == none {
		return 0, fmt.Errorf("registry: no free slot for %q (capacity %d): %w", uuid, len(r.next), physerr.ErrCapacityExceeded)
	}
	slot := r.head
	r.head = r.next[slot]
	r.next[slot] = inUse
	r.bySlot[slot] = uuid
	r.byUUID[uuid] = int(slot)
	return int(slot), nil
}

// Release возвращает слот в список свободных. Повторное освобождение
// отклоняется и не портит список.
func (r *Registry) Release(slot int) error {
	if slot < 0 || slot >= len(r.next) {
		return fmt.Errorf("registry: slot %d out of range: %w", slot, physerr.ErrStaleReference)
	}
	if r.next[slot] != inUse {
		return fmt.Errorf("registry: slot %d is already free: %w", slot, physerr.ErrStaleReference)
	}
	delete(r.byUUID, r.bySlot[slot])
	r.bySlot[slot] = ""
	r.next[slot] = r.head
	r.head = int32(slot)
	return nil
}

// Lookup возвращает слот uuid; отсутствие - штатная ситуация.
func (r *Registry) Lookup(uuid string) (int, bool) {
	slot, ok := r.byUUID[uuid]
	return slot, ok
}

// UUID возвращает идентификатор, занимающий слот.
func (r *Registry) UUID(slot int) (string, bool) {
	if slot < 0 || slot >= len(r.next) || r.next[slot] != inUse {
		return "", false
	}
	return r.bySlot[slot], true
}

// Free освобождает слот uuid, если он есть. Повторный вызов ничего не делает.
func (r *Registry) Free(uuid string) bool {
	slot, ok := r.byUUID[uuid]
	if !ok {
		return false
	}
	return r.Release(slot) == nil
}

// Len - число занятых слотов.
func (r *Registry) Len() int {
	return len(r.byUUID)
}

// Cap - ёмкость реестра.
func (r *Registry) Cap() int {
	return len(r.next)
}
