package host

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/scene"
)

// AddRigidBody создаёт тело для узла сцены и возвращает его идентификатор.
// Слот тело получит позже, с событием BODY_READY.
func (h *Host) AddRigidBody(node scene.Node, shape protocol.ShapeDescriptor, cfg protocol.BodyConfig) (string, error) {
	mesh := h.serialize(node, shape)
	if err := shape.Validate(mesh); err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writable(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := h.addBody(id, Single{Node: node}, node.MatrixWorld(), mesh, shape, cfg); err != nil {
		return "", err
	}
	return id, nil
}

// AddBatchedRigidBodies создаёт по телу на каждый инстанс пакетного меша.
// Идентификаторы инстансов имеют вид base/i.
func (h *Host) AddBatchedRigidBodies(mesh scene.Instanced, shape protocol.ShapeDescriptor, cfg protocol.BodyConfig) (string, []string, error) {
	geometry := h.serialize(mesh, shape)
	if err := shape.Validate(geometry); err != nil {
		return "", nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writable(); err != nil {
		return "", nil, err
	}

	base := uuid.NewString()
	world := mesh.MatrixWorld()
	ids := make([]string, 0, mesh.Count())
	for i := range mesh.Count() {
		id := fmt.Sprintf("%s/%d", base, i)
		target := Batched{Mesh: mesh, Index: i}
		if err := h.addBody(id, target, world.Mul4(mesh.InstanceMatrix(i)), geometry, shape, cfg); err != nil {
			return base, ids, err
		}
		ids = append(ids, id)
	}
	return base, ids, nil
}

func (h *Host) addBody(id string, target RenderTarget, matrix mgl32.Mat4, mesh *protocol.SerializedMesh,
	shape protocol.ShapeDescriptor, cfg protocol.BodyConfig) error {
	err := h.send(&protocol.AddRigidBody{
		UUID:    id,
		Matrix:  matrix,
		Mesh:    mesh,
		Shape:   shape,
		Options: cfg,
	})
	if err != nil {
		return err
	}
	h.bodies[id] = &body{uuid: id, slot: -1, kind: cfg.Kind(), target: target}
	return nil
}

// serialize извлекает геометрию узла, если размеры формы зависят от неё.
func (h *Host) serialize(node scene.Node, shape protocol.ShapeDescriptor) *protocol.SerializedMesh {
	if !needsGeometry(shape) {
		return nil
	}
	mesh := &protocol.SerializedMesh{MatrixWorld: node.MatrixWorld()}
	h.extractor.Extract(node, func(vertices []float32, local mgl32.Mat4, material int) {
		mesh.Vertices = append(mesh.Vertices, vertices)
		mesh.Matrices = append(mesh.Matrices, local)
		mesh.Indexes = append(mesh.Indexes, material)
	})
	return mesh
}

func needsGeometry(shape protocol.ShapeDescriptor) bool {
	switch shape.Type {
	case protocol.ShapeHull, protocol.ShapeMesh, protocol.ShapeHeightfield:
		return true
	case protocol.ShapeCompound:
		for _, child := range shape.Children {
			if needsGeometry(child) {
				return true
			}
		}
		return false
	default:
		return shape.Fit != protocol.FitManual
	}
}

// RemoveRigidBody удаляет тело. Повторное удаление ничего не делает.
func (h *Host) RemoveRigidBody(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bodies[id]
	if !ok {
		return nil
	}
	delete(h.bodies, id)
	if b.slot >= 0 && h.bySlot[b.slot] == id {
		delete(h.bySlot, b.slot)
	}
	h.dropQueued(id)
	return h.send(&protocol.RemoveRigidBody{UUID: id})
}

func (h *Host) dropQueued(id string) {
	if _, ok := h.updates[id]; ok {
		delete(h.updates, id)
		h.updateOrder = removeID(h.updateOrder, id)
	}
	if _, ok := h.motion[id]; ok {
		delete(h.motion, id)
		h.motionOrder = removeID(h.motionOrder, id)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// UpdateRigidBody ставит обновление параметров тела в очередь кадра.
// Несколько обновлений одного тела за кадр сливаются, поздние поля побеждают.
func (h *Host) UpdateRigidBody(id string, u protocol.BodyUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bodies[id]
	if !ok {
		h.logger.Debug("[Host] update for unknown body ignored", zap.String("uuid", id))
		return
	}
	if u.Type != nil {
		b.kind = *u.Type
	}
	prev, queued := h.updates[id]
	if !queued {
		h.updateOrder = append(h.updateOrder, id)
	}
	h.updates[id] = prev.Merge(u)
}

// SetMotionState ставит телепортацию тела в очередь кадра.
func (h *Host) SetMotionState(id string, s protocol.MotionState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.bodies[id]; !ok {
		h.logger.Debug("[Host] motion state for unknown body ignored", zap.String("uuid", id))
		return
	}
	prev, queued := h.motion[id]
	if !queued {
		h.motionOrder = append(h.motionOrder, id)
	}
	h.motion[id] = prev.Merge(s)
}

// bodyCommand отправляет команду, адресованную телу. Команды неизвестным
// телам не отправляются.
func (h *Host) bodyCommand(id string, cmd protocol.Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.writable(); err != nil {
		return err
	}
	if _, ok := h.bodies[id]; !ok {
		return nil
	}
	return h.send(cmd)
}

func (h *Host) SetLinearVelocity(id string, v mgl32.Vec3) error {
	return h.bodyCommand(id, &protocol.SetLinearVelocity{UUID: id, Velocity: v})
}

func (h *Host) SetAngularVelocity(id string, v mgl32.Vec3) error {
	return h.bodyCommand(id, &protocol.SetAngularVelocity{UUID: id, Velocity: v})
}

func (h *Host) ApplyCentralForce(id string, force mgl32.Vec3) error {
	return h.bodyCommand(id, &protocol.ApplyCentralForce{UUID: id, Force: force})
}

// ApplyForce прикладывает силу в точке offset относительно центра тела.
func (h *Host) ApplyForce(id string, force, offset mgl32.Vec3) error {
	return h.bodyCommand(id, &protocol.ApplyForce{UUID: id, Force: force, RelativeOffset: offset})
}

func (h *Host) ApplyCentralImpulse(id string, impulse mgl32.Vec3) error {
	return h.bodyCommand(id, &protocol.ApplyCentralImpulse{UUID: id, Impulse: impulse})
}

// ApplyImpulse прикладывает импульс в точке offset относительно центра тела.
func (h *Host) ApplyImpulse(id string, impulse, offset mgl32.Vec3) error {
	return h.bodyCommand(id, &protocol.ApplyImpulse{UUID: id, Impulse: impulse, RelativeOffset: offset})
}

func (h *Host) ResetDynamicBody(id string) error {
	return h.bodyCommand(id, &protocol.ResetDynamicBody{UUID: id})
}

func (h *Host) ActivateBody(id string) error {
	return h.bodyCommand(id, &protocol.ActivateBody{UUID: id})
}

func (h *Host) SetShapesOffset(id string, offset mgl32.Vec3) error {
	return h.bodyCommand(id, &protocol.SetShapesOffset{UUID: id, Offset: offset})
}

// AddSoftBody создаёт мягкое тело для геометрии: scene.MeshGeometry
// становится тканью, scene.LineGeometry - канатом. Если cfg.Vertices пуст,
// начальные позиции берутся из геометрии.
func (h *Host) AddSoftBody(geo SoftBodyGeometry, cfg protocol.SoftBodyConfig) (string, error) {
	sb := &softBody{}
	switch g := geo.(type) {
	case scene.MeshGeometry:
		sb.mesh = g
		cfg.Type = protocol.SoftBodyTriMesh
		if cfg.Indices == nil {
			cfg.Indices = g.Indices()
		}
	case scene.LineGeometry:
		sb.line = g
		cfg.Type = protocol.SoftBodyRope
	default:
		return "", fmt.Errorf("soft body geometry %T: %w", geo, physerr.ErrUnsupported)
	}
	if cfg.Vertices == nil {
		cfg.Vertices = append([]float32(nil), geo.Positions()...)
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writable(); err != nil {
		return "", err
	}

	sb.uuid = uuid.NewString()
	sb.buf = buffer.NewSoftBody(sb.uuid, len(cfg.Vertices)/3, sb.mesh != nil)
	if err := h.send(&protocol.AddSoftBody{UUID: sb.uuid, Buffers: sb.buf, Config: cfg}); err != nil {
		return "", err
	}
	h.softBodies[sb.uuid] = sb
	return sb.uuid, nil
}

// RemoveSoftBody удаляет мягкое тело. Повторное удаление ничего не делает.
func (h *Host) RemoveSoftBody(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.softBodies[id]; !ok {
		return nil
	}
	delete(h.softBodies, id)
	return h.send(&protocol.RemoveSoftBody{UUID: id})
}

// AddConstraint связывает тело a с телом b или, если b пуст, с миром.
func (h *Host) AddConstraint(a, b string, cfg protocol.ConstraintConfig) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writable(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := h.send(&protocol.AddConstraint{ConstraintID: id, BodyA: a, BodyB: b, Config: cfg}); err != nil {
		return "", err
	}
	h.constraints[id] = struct{}{}
	return id, nil
}

func (h *Host) UpdateConstraint(id string, u protocol.ConstraintUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.constraints[id]; !ok {
		return nil
	}
	return h.send(&protocol.UpdateConstraint{ConstraintID: id, Update: u})
}

// RemoveConstraint удаляет связь. Повторное удаление ничего не делает.
func (h *Host) RemoveConstraint(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.constraints[id]; !ok {
		return nil
	}
	delete(h.constraints, id)
	return h.send(&protocol.RemoveConstraint{ConstraintID: id})
}

func (h *Host) SetGravity(g mgl32.Vec3) error {
	return h.Send(&protocol.SetGravity{Gravity: g})
}

// SetSimulationSpeed задаёт множитель времени; 0 ставит мир на паузу.
func (h *Host) SetSimulationSpeed(speed float64) error {
	if speed < 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("simulation speed %v: %w", speed, physerr.ErrProtocolViolation)
	}
	return h.Send(&protocol.SetSimulationSpeed{Speed: speed})
}

func (h *Host) EnableDebug(enable bool) error {
	return h.Send(&protocol.EnableDebug{Enable: enable})
}

func (h *Host) UpdateDebugMode(mode protocol.DebugMode) error {
	return h.Send(&protocol.UpdateDebugMode{Mode: mode})
}

// Send отправляет произвольную команду без ожидания ответа. Команды,
// несущие регион, отклоняются: регионом управляет только Frame.
func (h *Host) Send(cmd protocol.Command) error {
	switch cmd.(type) {
	case *protocol.Init, *protocol.TransferBuffers:
		return fmt.Errorf("%s is managed by the host: %w", cmd.Type(), physerr.ErrProtocolViolation)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writable(); err != nil {
		return err
	}
	return h.send(cmd)
}

// writable проверяет, что мир запрошен и воркер жив. Вызывается под h.mu.
func (h *Host) writable() error {
	if h.faulted || h.terminated.Load() || h.link.Commands.Closed() {
		return physerr.ErrWorkerTerminated
	}
	if !h.initSent {
		return fmt.Errorf("world not initialized: %w", physerr.ErrProtocolViolation)
	}
	return nil
}
