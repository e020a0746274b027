package host

import (
	"time"

	"go.uber.org/zap"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/scene"
)

// Frame синхронизирует сцену с последним опубликованным кадром. Вызывается
// раз в кадр отрисовки, после того как трансформации сцены окончательны.
// Никогда не ждёт воркер: если кадр не готов, сцена остаётся прежней.
func (h *Host) Frame() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.drainInbox()
	if !h.ready || h.faulted {
		return
	}

	if h.readable() {
		h.consume()
	}
	h.flush()
}

// readable - кадр у хоста: флаг READY в общем режиме или непустой регион
// в режиме передачи.
func (h *Host) readable() bool {
	if h.mode == buffer.ModeTransfer {
		return h.buffers.Held()
	}
	return h.buffers.Rigid.State() == buffer.Ready
}

func (h *Host) consume() {
	rigid := h.buffers.Rigid

	counter := rigid.SubstepCounter()
	frame := rigid.Frame()
	if counter != h.lastCounter || h.fresh {
		pending := h.copyBodies(rigid, frame)
		pending = h.copySoftBodies(frame) || pending
		h.lastCounter = counter
		// тела, чей первый кадр ещё не пришёл, скопируются позже
		h.fresh = pending
	}
	h.writeHostDriven(rigid, frame)

	n := h.buffers.Debug.Drain()
	if h.opts.Debug != nil {
		h.opts.Debug.Update(h.buffers.Debug.Vertices(), h.buffers.Debug.Colors(), n)
	}

	h.perf = Performance{
		StepDurationMs: rigid.StepDuration(),
		Substeps:       counter,
		FPS:            rigid.FPS(),
	}
	h.lastTransition = time.Now()
	h.metrics.FrameConsumed()

	h.rearm()
}

// copyBodies переносит трансформации DYNAMIC тел в сцену и обновляет
// кэш скоростей и столкновений. Слоты, в которые воркер ещё не писал
// данные тела, пропускаются; результат сообщает, были ли такие.
func (h *Host) copyBodies(rigid *buffer.Rigid, frame uint32) (pending bool) {
	dirty := make(map[scene.Instanced]struct{})
	for _, b := range h.bodies {
		if b.slot < 0 {
			continue
		}
		if !buffer.FrameReached(frame, b.since) {
			pending = true
			continue
		}
		b.linear, b.angular = rigid.Velocity(b.slot)
		b.collisions = b.collisions[:0]
		for _, other := range rigid.Collisions(b.slot) {
			if uuid, ok := h.bySlot[other]; ok {
				b.collisions = append(b.collisions, uuid)
			}
		}

		if b.kind != protocol.Dynamic {
			continue
		}
		b.target.apply(rigid.Matrix(b.slot))
		if t, ok := b.target.(Batched); ok {
			dirty[t.Mesh] = struct{}{}
		}
	}
	for m := range dirty {
		m.MarkInstancesDirty()
	}
	return pending
}

// writeHostDriven пишет в слоты STATIC и KINEMATIC тел их мировые матрицы
// из сцены, воркер прочитает их при следующей публикации.
func (h *Host) writeHostDriven(rigid *buffer.Rigid, frame uint32) {
	for _, b := range h.bodies {
		if b.slot < 0 || b.kind == protocol.Dynamic || !buffer.FrameReached(frame, b.since) {
			continue
		}
		rigid.SetMatrix(b.slot, b.target.matrixWorld())
	}
}

func (h *Host) copySoftBodies(frame uint32) (pending bool) {
	for _, sb := range h.softBodies {
		if !sb.ready {
			continue
		}
		data := h.buffers.SoftBody(sb.uuid)
		if data == nil || !buffer.FrameReached(frame, sb.since) {
			pending = true
			continue
		}
		switch {
		case sb.mesh != nil:
			copy(sb.mesh.Positions(), data.Vertices)
			if data.Normals != nil {
				copy(sb.mesh.Normals(), data.Normals)
			}
			sb.mesh.MarkDirty()
		case sb.line != nil:
			sb.line.SetPositions(data.Vertices)
		}
	}
	return pending
}

// rearm отдаёт регион воркеру.
func (h *Host) rearm() {
	if h.mode == buffer.ModeTransfer {
		if err := h.send(&protocol.TransferBuffers{Buffers: h.buffers.Detach()}); err != nil {
			h.logger.Warn("[Host] buffer transfer failed", zap.Error(err))
		}
		return
	}
	h.buffers.Rigid.SetState(buffer.Consumed)
}

// flush отправляет накопленные за кадр обновления одним сообщением на вид.
func (h *Host) flush() {
	if len(h.updateOrder) > 0 {
		msg := &protocol.BulkUpdateRigidBody{Updates: make([]protocol.RigidBodyUpdate, 0, len(h.updateOrder))}
		for _, uuid := range h.updateOrder {
			msg.Updates = append(msg.Updates, protocol.RigidBodyUpdate{UUID: uuid, Options: h.updates[uuid]})
		}
		clear(h.updates)
		h.updateOrder = h.updateOrder[:0]
		h.sendLogged(msg)
	}
	if len(h.motionOrder) > 0 {
		msg := &protocol.BulkSetMotionState{Updates: make([]protocol.MotionStateUpdate, 0, len(h.motionOrder))}
		for _, uuid := range h.motionOrder {
			msg.Updates = append(msg.Updates, protocol.MotionStateUpdate{UUID: uuid, State: h.motion[uuid]})
		}
		clear(h.motion)
		h.motionOrder = h.motionOrder[:0]
		h.sendLogged(msg)
		// телепортация может прийти в кадре без подшагов
		h.fresh = true
	}
}

func (h *Host) sendLogged(cmd protocol.Command) {
	if err := h.send(cmd); err != nil {
		h.logger.Debug("[Host] command not sent", zap.String("type", string(cmd.Type())), zap.Error(err))
	}
}
