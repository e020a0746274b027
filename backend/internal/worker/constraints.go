package worker

import (
	"fmt"

	"go.uber.org/zap"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/solver"
)

func (w *Worker) handleAddSoftBody(c *protocol.AddSoftBody) error {
	if _, ok := w.softBodies[c.UUID]; ok {
		return w.bodyError(c.UUID, fmt.Errorf("soft body %q already exists: %w", c.UUID, physerr.ErrProtocolViolation))
	}
	if err := c.Config.Validate(); err != nil {
		return w.bodyError(c.UUID, err)
	}

	nodes := len(c.Config.Vertices) / 3
	buf := c.Buffers
	if buf == nil {
		buf = buffer.NewSoftBody(c.UUID, nodes, c.Config.Type == protocol.SoftBodyTriMesh)
	}
	if len(buf.Vertices) < nodes*3 {
		return w.bodyError(c.UUID, fmt.Errorf("soft body buffer holds %d floats, need %d: %w",
			len(buf.Vertices), nodes*3, physerr.ErrInvalidShape))
	}
	buf.UUID = c.UUID

	var anchors []solver.Anchor
	var anchoredTo []string
	for _, a := range c.Config.Anchors {
		anchor := solver.Anchor{Node: a.NodeIndex, LocalOffset: a.LocalOffset}
		if a.BodyUUID != "" {
			b, err := w.active(a.BodyUUID)
			if err != nil {
				return w.bodyError(c.UUID, err)
			}
			anchor.Body = b.handle
			anchoredTo = append(anchoredTo, a.BodyUUID)
		}
		anchors = append(anchors, anchor)
	}

	handle, err := w.world.CreateSoftBody(c.Config, anchors)
	if err != nil {
		return w.bodyError(c.UUID, err)
	}
	w.softBodies[c.UUID] = &softBody{uuid: c.UUID, cfg: c.Config, handle: handle, buf: buf, anchors: anchoredTo}
	w.dirty = true
	w.updateBodyGauges()

	w.logger.Debug("[Worker] soft body added",
		zap.String("uuid", c.UUID), zap.Int("nodes", nodes), zap.Int("anchors", len(anchors)))
	w.emit(&protocol.BodyReady{UUID: c.UUID, Slot: -1, Frame: w.frame + 1})
	return nil
}

func (w *Worker) handleRemoveSoftBody(c *protocol.RemoveSoftBody) error {
	sb, ok := w.softBodies[c.UUID]
	if !ok {
		return nil
	}
	w.world.DestroySoftBody(sb.handle)
	delete(w.softBodies, c.UUID)
	w.dirty = true
	w.updateBodyGauges()
	return nil
}

func (w *Worker) handleAddConstraint(c *protocol.AddConstraint) error {
	if _, ok := w.constraints[c.ConstraintID]; ok {
		return w.bodyError(c.ConstraintID, fmt.Errorf("constraint %q already exists: %w", c.ConstraintID, physerr.ErrProtocolViolation))
	}
	a, err := w.active(c.BodyA)
	if err != nil {
		return w.bodyError(c.ConstraintID, err)
	}
	var hb solver.Body
	if c.BodyB != "" {
		b, err := w.active(c.BodyB)
		if err != nil {
			return w.bodyError(c.ConstraintID, err)
		}
		hb = b.handle
	}

	handle, err := w.world.CreateConstraint(a.handle, hb, c.Config)
	if err != nil {
		return w.bodyError(c.ConstraintID, err)
	}
	w.constraints[c.ConstraintID] = &constraint{id: c.ConstraintID, bodyA: c.BodyA, bodyB: c.BodyB, handle: handle}
	w.updateBodyGauges()
	return nil
}

func (w *Worker) handleUpdateConstraint(c *protocol.UpdateConstraint) error {
	con, ok := w.constraints[c.ConstraintID]
	if !ok {
		return fmt.Errorf("constraint %q: %w", c.ConstraintID, physerr.ErrStaleReference)
	}
	con.handle.Update(c.Update)
	return nil
}

func (w *Worker) handleRemoveConstraint(c *protocol.RemoveConstraint) error {
	con, ok := w.constraints[c.ConstraintID]
	if !ok {
		return nil
	}
	w.world.DestroyConstraint(con.handle)
	delete(w.constraints, c.ConstraintID)
	w.updateBodyGauges()
	return nil
}
