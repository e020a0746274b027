package worker

import (
	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/solver"
)

// bodyState - жизненный цикл тела внутри воркера.
type bodyState int

const (
	statePendingCreate bodyState = iota
	stateActive
	statePendingRemove
)

func (s bodyState) String() string {
	switch s {
	case statePendingCreate:
		return "PENDING_CREATE"
	case stateActive:
		return "ACTIVE"
	case statePendingRemove:
		return "PENDING_REMOVE"
	}
	return "UNKNOWN"
}

type rigidBody struct {
	uuid   string
	slot   int
	state  bodyState
	cfg    protocol.BodyConfig
	shape  protocol.ShapeDescriptor
	handle solver.Body
	// seeded - слот нединамического тела уже заполнен солвером, дальше
	// трансформацию в слот пишет хост.
	seeded bool
}

func (b *rigidBody) kind() protocol.BodyType {
	return b.cfg.Kind()
}

type softBody struct {
	uuid   string
	cfg    protocol.SoftBodyConfig
	handle solver.SoftBody
	buf    *buffer.SoftBody
	// anchors - тела, к которым прикреплены узлы.
	anchors []string
}

type constraint struct {
	id     string
	bodyA  string
	bodyB  string
	handle solver.Constraint
}

func (c *constraint) references(uuid string) bool {
	return c.bodyA == uuid || c.bodyB == uuid
}
