// Package protocol описывает сообщения между хостом (циклом отрисовки) и
// физическим воркером. Команды идут от хоста к воркеру, события обратно.
// В каждом направлении порядок сообщений сохраняется.
package protocol

import (
	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/config"
)

// MessageType - тег сообщения.
type MessageType string

// Команды хоста.
const (
	TypeInit                MessageType = "INIT"
	TypeAddRigidBody        MessageType = "ADD_RIGIDBODY"
	TypeRemoveRigidBody     MessageType = "REMOVE_RIGIDBODY"
	TypeBulkUpdateRigidBody MessageType = "BULK_UPDATE_RIGIDBODY"
	TypeAddSoftBody         MessageType = "ADD_SOFTBODY"
	TypeRemoveSoftBody      MessageType = "REMOVE_SOFTBODY"
	TypeAddConstraint       MessageType = "ADD_CONSTRAINT"
	TypeUpdateConstraint    MessageType = "UPDATE_CONSTRAINT"
	TypeRemoveConstraint    MessageType = "REMOVE_CONSTRAINT"
	TypeSetShapesOffset     MessageType = "SET_SHAPES_OFFSET"
	TypeEnableDebug         MessageType = "ENABLE_DEBUG"
	TypeUpdateDebugMode     MessageType = "UPDATE_DEBUG_MODE"
	TypeSetMotionState      MessageType = "SET_MOTION_STATE"
	TypeBulkSetMotionState  MessageType = "BULK_SET_MOTION_STATE"
	TypeApplyCentralForce   MessageType = "APPLY_CENTRAL_FORCE"
	TypeApplyForce          MessageType = "APPLY_FORCE"
	TypeApplyCentralImpulse MessageType = "APPLY_CENTRAL_IMPULSE"
	TypeApplyImpulse        MessageType = "APPLY_IMPULSE"
	TypeSetLinearVelocity   MessageType = "SET_LINEAR_VELOCITY"
	TypeSetAngularVelocity  MessageType = "SET_ANGULAR_VELOCITY"
	TypeSetSimulationSpeed  MessageType = "SET_SIMULATION_SPEED"
	TypeSetGravity          MessageType = "SET_GRAVITY"
	TypeTransferBuffers     MessageType = "TRANSFER_BUFFERS"
	TypeResetDynamicBody    MessageType = "RESET_DYNAMIC_BODY"
	TypeActivateBody        MessageType = "ACTIVATE_BODY"
	TypeRaycast             MessageType = "RAYCAST"
)

// События воркера.
const (
	TypeReady         MessageType = "READY"
	TypeBodyReady     MessageType = "BODY_READY"
	TypeTransferData  MessageType = "TRANSFER_DATA"
	TypeRaycastResult MessageType = "RAYCAST_RESULT"
	TypeAck           MessageType = "ACK"
	TypeBodyError     MessageType = "BODY_ERROR"
	TypeWorkerFault   MessageType = "WORKER_FAULT"
)

// Message - любое сообщение протокола.
type Message interface {
	Type() MessageType
}

// Command - сообщение хоста воркеру.
type Command interface {
	Message
	Request() uint64
	SetRequest(id uint64)
}

// Event - сообщение воркера хосту.
type Event interface {
	Message
	event()
}

// Response - событие, отвечающее на конкретный запрос.
type Response interface {
	Event
	ResponseTo() uint64
}

// Meta - общие поля команд. Ненулевой RequestID означает, что хост ждёт ответ.
type Meta struct {
	RequestID uint64 `json:"requestId,omitempty"`
}

func (m *Meta) Request() uint64 { return m.RequestID }

func (m *Meta) SetRequest(id uint64) { m.RequestID = id }

// Init создаёт мир. Принимается ровно один раз.
type Init struct {
	Meta
	Config config.WorldConfig `json:"worldConfig"`
	Mode   buffer.Mode        `json:"mode"`
	// Buffers - разделяемый регион; в режиме передачи владение переходит к воркеру.
	Buffers *buffer.Buffers `json:"-"`
}

// AddRigidBody создаёт тело. Matrix - мировая трансформация в момент добавления.
type AddRigidBody struct {
	Meta
	UUID    string          `json:"uuid"`
	Matrix  mgl32.Mat4      `json:"matrix"`
	Mesh    *SerializedMesh `json:"serializedMesh,omitempty"`
	Shape   ShapeDescriptor `json:"shapeConfig"`
	Options BodyConfig      `json:"options"`
}

type RemoveRigidBody struct {
	Meta
	UUID string `json:"uuid"`
}

// RigidBodyUpdate - обновление одного тела внутри пакета.
type RigidBodyUpdate struct {
	UUID    string     `json:"uuid"`
	Options BodyUpdate `json:"options"`
}

// BulkUpdateRigidBody - накопленные за кадр обновления, по одному на тело.
type BulkUpdateRigidBody struct {
	Meta
	Updates []RigidBodyUpdate `json:"updates"`
}

// AddSoftBody создаёт мягкое тело. Buffers - буферы вершин, в которые
// воркер публикует позиции узлов.
type AddSoftBody struct {
	Meta
	UUID    string           `json:"uuid"`
	Buffers *buffer.SoftBody `json:"-"`
	Config  SoftBodyConfig   `json:"softBodyConfig"`
}

type RemoveSoftBody struct {
	Meta
	UUID string `json:"uuid"`
}

type AddConstraint struct {
	Meta
	ConstraintID string           `json:"constraintId"`
	BodyA        string           `json:"bodyAUuid"`
	BodyB        string           `json:"bodyBUuid,omitempty"`
	Config       ConstraintConfig `json:"options"`
}

type UpdateConstraint struct {
	Meta
	ConstraintID string           `json:"constraintId"`
	Update       ConstraintUpdate `json:"options"`
}

type RemoveConstraint struct {
	Meta
	ConstraintID string `json:"constraintId"`
}

// SetShapesOffset сдвигает все формы тела относительно его центра.
type SetShapesOffset struct {
	Meta
	UUID   string     `json:"bodyUuid"`
	Offset mgl32.Vec3 `json:"offset"`
}

type EnableDebug struct {
	Meta
	Enable bool `json:"enable"`
}

type UpdateDebugMode struct {
	Meta
	Mode DebugMode `json:"debugMode"`
}

type SetMotionState struct {
	Meta
	UUID  string      `json:"uuid"`
	State MotionState `json:"state"`
}

// MotionStateUpdate - телепортация одного тела внутри пакета.
type MotionStateUpdate struct {
	UUID  string      `json:"uuid"`
	State MotionState `json:"state"`
}

type BulkSetMotionState struct {
	Meta
	Updates []MotionStateUpdate `json:"updates"`
}

type ApplyCentralForce struct {
	Meta
	UUID  string     `json:"uuid"`
	Force mgl32.Vec3 `json:"force"`
}

type ApplyForce struct {
	Meta
	UUID           string     `json:"uuid"`
	Force          mgl32.Vec3 `json:"force"`
	RelativeOffset mgl32.Vec3 `json:"relativeOffset"`
}

type ApplyCentralImpulse struct {
	Meta
	UUID    string     `json:"uuid"`
	Impulse mgl32.Vec3 `json:"impulse"`
}

type ApplyImpulse struct {
	Meta
	UUID           string     `json:"uuid"`
	Impulse        mgl32.Vec3 `json:"impulse"`
	RelativeOffset mgl32.Vec3 `json:"relativeOffset"`
}

type SetLinearVelocity struct {
	Meta
	UUID     string     `json:"uuid"`
	Velocity mgl32.Vec3 `json:"velocity"`
}

type SetAngularVelocity struct {
	Meta
	UUID     string     `json:"uuid"`
	Velocity mgl32.Vec3 `json:"velocity"`
}

// SetSimulationSpeed задаёт множитель времени (1 - реальное время).
type SetSimulationSpeed struct {
	Meta
	Speed float64 `json:"simulationSpeed"`
}

type SetGravity struct {
	Meta
	Gravity mgl32.Vec3 `json:"gravity"`
}

// TransferBuffers возвращает регион воркеру в режиме передачи владения.
type TransferBuffers struct {
	Meta
	Buffers *buffer.Buffers `json:"-"`
}

// ResetDynamicBody обнуляет скорости и накопленные силы тела.
type ResetDynamicBody struct {
	Meta
	UUID string `json:"uuid"`
}

type ActivateBody struct {
	Meta
	UUID string `json:"uuid"`
}

// Raycast - запрос пересечений луча From-To. Ответ - RaycastResult.
type Raycast struct {
	Meta
	From mgl32.Vec3 `json:"from"`
	To   mgl32.Vec3 `json:"to"`
	// All - вернуть все пересечения, иначе только ближайшее.
	All bool `json:"all,omitempty"`
}

// Ready - мир создан. В режиме передачи владения несёт регион обратно хосту.
type Ready struct {
	Buffers *buffer.Buffers `json:"-"`
}

// BodyReady - тело создано и получило слот. Frame - номер первого кадра,
// в котором слот содержит данные этого тела; до него хост слот не читает.
type BodyReady struct {
	UUID  string `json:"uuid"`
	Slot  int    `json:"index"`
	Frame uint32 `json:"frame"`
}

// TransferData - опубликованный кадр в режиме передачи владения.
type TransferData struct {
	Buffers *buffer.Buffers `json:"-"`
}

type RaycastResult struct {
	RequestID uint64       `json:"requestId"`
	Hits      []RaycastHit `json:"hits"`
}

// Ack подтверждает обработку команды с RequestID. Error пуст при успехе.
type Ack struct {
	RequestID uint64 `json:"requestId"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BodyError - ошибка, относящаяся к одному телу; мир продолжает работу.
type BodyError struct {
	UUID    string `json:"uuid"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WorkerFault - воркер остановился и больше не обрабатывает сообщения.
// Если регион был у воркера, он возвращается хосту в Buffers.
type WorkerFault struct {
	Message string          `json:"message"`
	Buffers *buffer.Buffers `json:"-"`
}

func (*Init) Type() MessageType                { return TypeInit }
func (*AddRigidBody) Type() MessageType        { return TypeAddRigidBody }
func (*RemoveRigidBody) Type() MessageType     { return TypeRemoveRigidBody }
func (*BulkUpdateRigidBody) Type() MessageType { return TypeBulkUpdateRigidBody }
func (*AddSoftBody) Type() MessageType         { return TypeAddSoftBody }
func (*RemoveSoftBody) Type() MessageType      { return TypeRemoveSoftBody }
func (*AddConstraint) Type() MessageType       { return TypeAddConstraint }
func (*UpdateConstraint) Type() MessageType    { return TypeUpdateConstraint }
func (*RemoveConstraint) Type() MessageType    { return TypeRemoveConstraint }
func (*SetShapesOffset) Type() MessageType     { return TypeSetShapesOffset }
func (*EnableDebug) Type() MessageType         { return TypeEnableDebug }
func (*UpdateDebugMode) Type() MessageType     { return TypeUpdateDebugMode }
func (*SetMotionState) Type() MessageType      { return TypeSetMotionState }
func (*BulkSetMotionState) Type() MessageType  { return TypeBulkSetMotionState }
func (*ApplyCentralForce) Type() MessageType   { return TypeApplyCentralForce }
func (*ApplyForce) Type() MessageType          { return TypeApplyForce }
func (*ApplyCentralImpulse) Type() MessageType { return TypeApplyCentralImpulse }
func (*ApplyImpulse) Type() MessageType        { return TypeApplyImpulse }
func (*SetLinearVelocity) Type() MessageType   { return TypeSetLinearVelocity }
func (*SetAngularVelocity) Type() MessageType  { return TypeSetAngularVelocity }
func (*SetSimulationSpeed) Type() MessageType  { return TypeSetSimulationSpeed }
func (*SetGravity) Type() MessageType          { return TypeSetGravity }
func (*TransferBuffers) Type() MessageType     { return TypeTransferBuffers }
func (*ResetDynamicBody) Type() MessageType    { return TypeResetDynamicBody }
func (*ActivateBody) Type() MessageType        { return TypeActivateBody }
func (*Raycast) Type() MessageType             { return TypeRaycast }

func (*Ready) Type() MessageType         { return TypeReady }
func (*BodyReady) Type() MessageType     { return TypeBodyReady }
func (*TransferData) Type() MessageType  { return TypeTransferData }
func (*RaycastResult) Type() MessageType { return TypeRaycastResult }
func (*Ack) Type() MessageType           { return TypeAck }
func (*BodyError) Type() MessageType     { return TypeBodyError }
func (*WorkerFault) Type() MessageType   { return TypeWorkerFault }

func (*Ready) event()         {}
func (*BodyReady) event()     {}
func (*TransferData) event()  {}
func (*RaycastResult) event() {}
func (*Ack) event()           {}
func (*BodyError) event()     {}
func (*WorkerFault) event()   {}

func (r *RaycastResult) ResponseTo() uint64 { return r.RequestID }
func (a *Ack) ResponseTo() uint64           { return a.RequestID }
