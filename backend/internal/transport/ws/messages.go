package ws

import (
	"time"

	"x-physync/backend/internal/host"
	"x-physync/backend/internal/protocol"
)

// Типы сообщений инспектора
const (
	MessageTypeInfo     = "info"     // Приветствие при подключении
	MessageTypeSnapshot = "snapshot" // Периодическая сводка мира
	MessageTypeAck      = "cmd_ack"  // Результат удалённой команды
	MessageTypeRaycast  = "raycast"  // Результат луча
)

// GetCurrentServerTime возвращает текущее серверное время в миллисекундах
func GetCurrentServerTime() int64 {
	return time.Now().UnixMilli()
}

type InfoMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewInfoMessage(message string) InfoMessage {
	return InfoMessage{Type: MessageTypeInfo, Message: message}
}

// SnapshotMessage - положения тел и данные последнего кадра.
type SnapshotMessage struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
	host.Snapshot
}

func NewSnapshotMessage(s host.Snapshot) SnapshotMessage {
	return SnapshotMessage{Type: MessageTypeSnapshot, ServerTime: GetCurrentServerTime(), Snapshot: s}
}

// AckMessage отвечает на команду клиента. RequestID - идентификатор,
// присланный клиентом; Kind и Error пусты при успехе.
type AckMessage struct {
	Type      string               `json:"type"`
	Command   protocol.MessageType `json:"cmd,omitempty"`
	RequestID uint64               `json:"requestId,omitempty"`
	Kind      string               `json:"kind,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type RaycastMessage struct {
	Type      string                `json:"type"`
	RequestID uint64                `json:"requestId,omitempty"`
	Hits      []protocol.RaycastHit `json:"hits"`
}
