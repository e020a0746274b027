package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"x-physync/backend/internal/physerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope - формат сообщения на проводе: {"type": "...", "data": {...}}.
type envelope struct {
	Type MessageType         `json:"type"`
	Data jsoniter.RawMessage `json:"data,omitempty"`
}

// wire - сообщения, которые можно сериализовать. Сообщения с буферами
// передают память, а не данные, и на провод не попадают.
var wire = map[MessageType]func() Message{
	TypeAddRigidBody:        func() Message { return &AddRigidBody{} },
	TypeRemoveRigidBody:     func() Message { return &RemoveRigidBody{} },
	TypeBulkUpdateRigidBody: func() Message { return &BulkUpdateRigidBody{} },
	TypeRemoveSoftBody:      func() Message { return &RemoveSoftBody{} },
	TypeAddConstraint:       func() Message { return &AddConstraint{} },
	TypeUpdateConstraint:    func() Message { return &UpdateConstraint{} },
	TypeRemoveConstraint:    func() Message { return &RemoveConstraint{} },
	TypeSetShapesOffset:     func() Message { return &SetShapesOffset{} },
	TypeEnableDebug:         func() Message { return &EnableDebug{} },
	TypeUpdateDebugMode:     func() Message { return &UpdateDebugMode{} },
	TypeSetMotionState:      func() Message { return &SetMotionState{} },
	TypeBulkSetMotionState:  func() Message { return &BulkSetMotionState{} },
	TypeApplyCentralForce:   func() Message { return &ApplyCentralForce{} },
	TypeApplyForce:          func() Message { return &ApplyForce{} },
	TypeApplyCentralImpulse: func() Message { return &ApplyCentralImpulse{} },
	TypeApplyImpulse:        func() Message { return &ApplyImpulse{} },
	TypeSetLinearVelocity:   func() Message { return &SetLinearVelocity{} },
	TypeSetAngularVelocity:  func() Message { return &SetAngularVelocity{} },
	TypeSetSimulationSpeed:  func() Message { return &SetSimulationSpeed{} },
	TypeSetGravity:          func() Message { return &SetGravity{} },
	TypeResetDynamicBody:    func() Message { return &ResetDynamicBody{} },
	TypeActivateBody:        func() Message { return &ActivateBody{} },
	TypeRaycast:             func() Message { return &Raycast{} },

	TypeReady:         func() Message { return &Ready{} },
	TypeBodyReady:     func() Message { return &BodyReady{} },
	TypeRaycastResult: func() Message { return &RaycastResult{} },
	TypeAck:           func() Message { return &Ack{} },
	TypeBodyError:     func() Message { return &BodyError{} },
	TypeWorkerFault:   func() Message { return &WorkerFault{} },
}

// remote - команды, которые разрешено присылать по сети инспектора.
// Создание и удаление тел остаётся за хостом: он владеет зеркалом сцены.
var remote = map[MessageType]bool{
	TypeApplyCentralForce:   true,
	TypeApplyForce:          true,
	TypeApplyCentralImpulse: true,
	TypeApplyImpulse:        true,
	TypeSetLinearVelocity:   true,
	TypeSetAngularVelocity:  true,
	TypeSetMotionState:      true,
	TypeSetSimulationSpeed:  true,
	TypeSetGravity:          true,
	TypeResetDynamicBody:    true,
	TypeActivateBody:        true,
	TypeUpdateDebugMode:     true,
	TypeRaycast:             true,
}

// Remote сообщает, можно ли принять команду этого типа извне.
func Remote(t MessageType) bool {
	return remote[t]
}

// WireSafe сообщает, можно ли сериализовать сообщение этого типа.
func WireSafe(t MessageType) bool {
	_, ok := wire[t]
	return ok
}

// Encode сериализует сообщение в конверт.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode: nil message: %w", physerr.ErrProtocolViolation)
	}
	if !WireSafe(msg.Type()) {
		return nil, fmt.Errorf("encode %s: message carries buffers: %w", msg.Type(), physerr.ErrUnsupported)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Data: data})
}

// Decode разбирает конверт и возвращает сообщение нужного типа.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %v: %w", err, physerr.ErrProtocolViolation)
	}
	factory, ok := wire[env.Type]
	if !ok {
		return nil, fmt.Errorf("decode: unknown message type %q: %w", env.Type, physerr.ErrProtocolViolation)
	}
	msg := factory()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, fmt.Errorf("decode %s: %v: %w", env.Type, err, physerr.ErrProtocolViolation)
		}
	}
	return msg, nil
}

// DecodeCommand разбирает команду, разрешённую для удалённого управления.
func DecodeCommand(raw []byte) (Command, error) {
	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	cmd, ok := msg.(Command)
	if !ok || !Remote(msg.Type()) {
		return nil, fmt.Errorf("decode: %s is not accepted remotely: %w", msg.Type(), physerr.ErrProtocolViolation)
	}
	return cmd, nil
}
