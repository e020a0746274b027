package worker

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/registry"
)

type handler func(cmd protocol.Command) error

func (w *Worker) dispatchTable() map[protocol.MessageType]handler {
	return map[protocol.MessageType]handler{
		protocol.TypeInit:                typed(w.handleInit),
		protocol.TypeAddRigidBody:        typed(w.handleAddRigidBody),
		protocol.TypeRemoveRigidBody:     typed(w.handleRemoveRigidBody),
		protocol.TypeBulkUpdateRigidBody: typed(w.handleBulkUpdate),
		protocol.TypeAddSoftBody:         typed(w.handleAddSoftBody),
		protocol.TypeRemoveSoftBody:      typed(w.handleRemoveSoftBody),
		protocol.TypeAddConstraint:       typed(w.handleAddConstraint),
		protocol.TypeUpdateConstraint:    typed(w.handleUpdateConstraint),
		protocol.TypeRemoveConstraint:    typed(w.handleRemoveConstraint),
		protocol.TypeSetShapesOffset:     typed(w.handleSetShapesOffset),
		protocol.TypeEnableDebug:         typed(w.handleEnableDebug),
		protocol.TypeUpdateDebugMode:     typed(w.handleUpdateDebugMode),
		protocol.TypeSetMotionState:      typed(w.handleSetMotionState),
		protocol.TypeBulkSetMotionState:  typed(w.handleBulkSetMotionState),
		protocol.TypeApplyCentralForce:   typed(w.handleApplyCentralForce),
		protocol.TypeApplyForce:          typed(w.handleApplyForce),
		protocol.TypeApplyCentralImpulse: typed(w.handleApplyCentralImpulse),
		protocol.TypeApplyImpulse:        typed(w.handleApplyImpulse),
		protocol.TypeSetLinearVelocity:   typed(w.handleSetLinearVelocity),
		protocol.TypeSetAngularVelocity:  typed(w.handleSetAngularVelocity),
		protocol.TypeSetSimulationSpeed:  typed(w.handleSetSimulationSpeed),
		protocol.TypeSetGravity:          typed(w.handleSetGravity),
		protocol.TypeTransferBuffers:     typed(w.handleTransferBuffers),
		protocol.TypeResetDynamicBody:    typed(w.handleResetDynamicBody),
		protocol.TypeActivateBody:        typed(w.handleActivateBody),
		protocol.TypeRaycast:             typed(w.handleRaycast),
	}
}

// typed приводит команду к конкретному типу обработчика.
func typed[T protocol.Command](fn func(T) error) handler {
	return func(cmd protocol.Command) error {
		c, ok := cmd.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s: %w", cmd, cmd.Type(), physerr.ErrProtocolViolation)
		}
		return fn(c)
	}
}

// processMessages обрабатывает все команды, накопленные в очереди.
func (w *Worker) processMessages() {
	for w.fault == nil {
		cmd, ok := w.link.Commands.Pop()
		if !ok {
			return
		}
		w.dispatch(cmd)
	}
}

func (w *Worker) dispatch(cmd protocol.Command) {
	log := w.logger.With(zap.String("type", string(cmd.Type())))

	var err error
	h, ok := w.handlers[cmd.Type()]
	switch {
	case !ok:
		err = fmt.Errorf("unknown command %s: %w", cmd.Type(), physerr.ErrProtocolViolation)
	case !w.initialized && cmd.Type() != protocol.TypeInit:
		err = fmt.Errorf("%s before INIT: %w", cmd.Type(), physerr.ErrProtocolViolation)
	default:
		w.metrics.Message(string(cmd.Type()))
		err = h(cmd)
	}

	switch {
	case err == nil:
	case errors.Is(err, physerr.ErrSolverFault):
		w.fail(err)
		return
	case errors.Is(err, physerr.ErrProtocolViolation):
		log.Warn("[Worker] protocol violation, message dropped", zap.Error(err))
		w.metrics.Drop("protocol_violation")
	case errors.Is(err, physerr.ErrStaleReference):
		log.Debug("[Worker] stale reference ignored", zap.Error(err))
		w.metrics.Drop("stale_reference")
	default:
		log.Warn("[Worker] command failed", zap.Error(err))
	}

	// успешный RAYCAST уже ответил RAYCAST_RESULT, ошибку получает Ack
	if id := cmd.Request(); id != 0 && (cmd.Type() != protocol.TypeRaycast || err != nil) {
		ack := &protocol.Ack{RequestID: id}
		if err != nil {
			ack.Kind = physerr.Kind(err)
			ack.Error = err.Error()
		}
		w.emit(ack)
	}
}

// bodyError сообщает хосту об ошибке одного тела; мир продолжает работу.
func (w *Worker) bodyError(uuid string, err error) error {
	kind := physerr.Kind(err)
	w.metrics.BodyError(kind)
	w.emit(&protocol.BodyError{UUID: uuid, Kind: kind, Message: err.Error()})
	return err
}

// active возвращает тело в состоянии ACTIVE или ErrStaleReference.
func (w *Worker) active(uuid string) (*rigidBody, error) {
	b, ok := w.bodies[uuid]
	if !ok || b.state != stateActive {
		return nil, fmt.Errorf("body %q: %w", uuid, physerr.ErrStaleReference)
	}
	return b, nil
}

func (w *Worker) handleInit(c *protocol.Init) error {
	if w.initialized {
		return fmt.Errorf("second INIT: %w", physerr.ErrProtocolViolation)
	}
	if !c.Buffers.Held() {
		return fmt.Errorf("INIT without buffers: %w", physerr.ErrProtocolViolation)
	}
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %w", physerr.ErrProtocolViolation, err)
	}

	w.cfg = c.Config.Resolve()
	world, err := w.factory(w.cfg)
	if err != nil {
		return fmt.Errorf("create world: %w: %w", physerr.ErrSolverFault, err)
	}
	w.world = world
	w.mode = c.Mode
	w.buffers = c.Buffers
	w.slots = registry.New(c.Buffers.Rigid.MaxBodies())
	w.debugMode = protocol.DebugMode(w.cfg.DebugDrawMode)
	w.initialized = true

	w.logger.Info("[Worker] world initialized",
		zap.Stringer("mode", w.mode),
		zap.Int("max_bodies", w.slots.Cap()),
		zap.Float64("fixed_time_step", w.cfg.FixedTimeStep),
		zap.Int("max_substeps", w.cfg.MaxSubSteps),
	)

	ready := &protocol.Ready{}
	if w.mode == buffer.ModeTransfer {
		// первым кадром владеет хост
		ready.Buffers = w.buffers.Detach()
	}
	w.emit(ready)
	return nil
}

func (w *Worker) handleAddRigidBody(c *protocol.AddRigidBody) error {
	if err := c.Shape.Validate(c.Mesh); err != nil {
		return w.bodyError(c.UUID, err)
	}
	slot, err := w.slots.Allocate(c.UUID)
	if err != nil {
		return w.bodyError(c.UUID, err)
	}

	b := &rigidBody{uuid: c.UUID, slot: slot, state: statePendingCreate, cfg: c.Options, shape: c.Shape}
	handle, err := w.world.CreateBody(c.Shape, c.Mesh, c.Options, c.Matrix)
	if err != nil {
		_ = w.slots.Release(slot)
		return w.bodyError(c.UUID, err)
	}
	handle.SetUserIndex(slot)
	b.handle = handle
	b.state = stateActive
	w.bodies[c.UUID] = b
	w.dirty = true
	w.updateBodyGauges()

	w.logger.Debug("[Worker] body added",
		zap.String("uuid", c.UUID), zap.Int("slot", slot), zap.String("kind", string(b.kind())))
	w.emit(&protocol.BodyReady{UUID: c.UUID, Slot: slot, Frame: w.frame + 1})
	return nil
}

func (w *Worker) handleRemoveRigidBody(c *protocol.RemoveRigidBody) error {
	b, ok := w.bodies[c.UUID]
	if !ok {
		// повторное удаление - не ошибка
		return nil
	}
	b.state = statePendingRemove

	for id, con := range w.constraints {
		if con.references(c.UUID) {
			delete(w.constraints, id)
		}
	}
	for _, sb := range w.softBodies {
		if i := slices.Index(sb.anchors, c.UUID); i >= 0 {
			sb.anchors = slices.Delete(sb.anchors, i, i+1)
		}
	}
	w.world.DestroyBody(b.handle)
	if err := w.slots.Release(b.slot); err != nil {
		w.logger.Warn("[Worker] slot release failed", zap.String("uuid", c.UUID), zap.Error(err))
	}
	delete(w.bodies, c.UUID)
	delete(w.collisions, b.slot)
	w.dirty = true
	w.updateBodyGauges()

	w.logger.Debug("[Worker] body removed", zap.String("uuid", c.UUID), zap.Int("slot", b.slot))
	return nil
}

func (w *Worker) handleBulkUpdate(c *protocol.BulkUpdateRigidBody) error {
	var stale error
	for _, u := range c.Updates {
		b, err := w.active(u.UUID)
		if err != nil {
			stale = err
			continue
		}
		before := b.kind()
		b.cfg = b.cfg.Apply(u.Options)
		b.handle.Update(b.cfg)
		if before != b.kind() {
			b.seeded = false
			w.dirty = true
		}
	}
	return stale
}

func (w *Worker) handleSetMotionState(c *protocol.SetMotionState) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	w.applyMotionState(b, c.State)
	return nil
}

func (w *Worker) handleBulkSetMotionState(c *protocol.BulkSetMotionState) error {
	var stale error
	for _, u := range c.Updates {
		b, err := w.active(u.UUID)
		if err != nil {
			stale = err
			continue
		}
		w.applyMotionState(b, u.State)
	}
	return stale
}

func (w *Worker) applyMotionState(b *rigidBody, s protocol.MotionState) {
	m := b.handle.Transform()
	pos := m.Col(3).Vec3()
	rot := mgl32.Mat4ToQuat(m)
	if s.Position != nil {
		pos = *s.Position
	}
	if s.Rotation != nil {
		rot = s.Rotation.Normalize()
	}
	b.handle.SetTransform(mgl32.Translate3D(pos.X(), pos.Y(), pos.Z()).Mul4(rot.Mat4()))
	b.handle.Activate()
	if b.kind() != protocol.Dynamic {
		b.seeded = false
	}
	w.dirty = true
}

func (w *Worker) handleApplyCentralForce(c *protocol.ApplyCentralForce) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Activate()
	b.handle.ApplyCentralForce(c.Force)
	return nil
}

func (w *Worker) handleApplyForce(c *protocol.ApplyForce) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Activate()
	b.handle.ApplyForce(c.Force, c.RelativeOffset)
	return nil
}

func (w *Worker) handleApplyCentralImpulse(c *protocol.ApplyCentralImpulse) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Activate()
	b.handle.ApplyCentralImpulse(c.Impulse)
	return nil
}

func (w *Worker) handleApplyImpulse(c *protocol.ApplyImpulse) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Activate()
	b.handle.ApplyImpulse(c.Impulse, c.RelativeOffset)
	return nil
}

func (w *Worker) handleSetLinearVelocity(c *protocol.SetLinearVelocity) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Activate()
	b.handle.SetLinearVelocity(c.Velocity)
	return nil
}

func (w *Worker) handleSetAngularVelocity(c *protocol.SetAngularVelocity) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Activate()
	b.handle.SetAngularVelocity(c.Velocity)
	return nil
}

func (w *Worker) handleResetDynamicBody(c *protocol.ResetDynamicBody) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Reset()
	return nil
}

func (w *Worker) handleActivateBody(c *protocol.ActivateBody) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.Activate()
	return nil
}

func (w *Worker) handleSetShapesOffset(c *protocol.SetShapesOffset) error {
	b, err := w.active(c.UUID)
	if err != nil {
		return err
	}
	b.handle.SetShapesOffset(c.Offset)
	return nil
}

func (w *Worker) handleSetSimulationSpeed(c *protocol.SetSimulationSpeed) error {
	if c.Speed < 0 || math.IsNaN(c.Speed) || math.IsInf(c.Speed, 0) {
		return fmt.Errorf("simulation speed %v: %w", c.Speed, physerr.ErrProtocolViolation)
	}
	w.speed = c.Speed
	w.logger.Info("[Worker] simulation speed changed", zap.Float64("speed", c.Speed))
	return nil
}

func (w *Worker) handleSetGravity(c *protocol.SetGravity) error {
	w.world.SetGravity(c.Gravity)
	return nil
}

func (w *Worker) handleEnableDebug(c *protocol.EnableDebug) error {
	w.debug = c.Enable
	return nil
}

func (w *Worker) handleUpdateDebugMode(c *protocol.UpdateDebugMode) error {
	w.debugMode = c.Mode
	return nil
}

func (w *Worker) handleTransferBuffers(c *protocol.TransferBuffers) error {
	if w.mode != buffer.ModeTransfer {
		return fmt.Errorf("TRANSFER_BUFFERS in %s mode: %w", w.mode, physerr.ErrProtocolViolation)
	}
	if w.buffers.Held() {
		return fmt.Errorf("TRANSFER_BUFFERS while worker holds the region: %w", physerr.ErrProtocolViolation)
	}
	if !c.Buffers.Held() {
		return fmt.Errorf("TRANSFER_BUFFERS with empty region: %w", physerr.ErrProtocolViolation)
	}
	w.buffers.Attach(c.Buffers)
	return nil
}

func (w *Worker) handleRaycast(c *protocol.Raycast) error {
	hits := w.world.Raycast(c.From, c.To, c.All)
	out := make([]protocol.RaycastHit, 0, len(hits))
	for _, h := range hits {
		uuid, ok := w.slots.UUID(h.Body.UserIndex())
		if !ok {
			continue
		}
		out = append(out, protocol.RaycastHit{UUID: uuid, Point: h.Point, Normal: h.Normal, Fraction: h.Fraction})
	}
	w.emit(&protocol.RaycastResult{RequestID: c.Request(), Hits: out})
	return nil
}
