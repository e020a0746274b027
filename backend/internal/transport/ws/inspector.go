// Package ws - инспектор физического мира по WebSocket: периодически
// рассылает сводку кадра и принимает команды удалённого управления.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"x-physync/backend/internal/host"
	"x-physync/backend/internal/logger"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
)

const (
	DefaultUpdateInterval = 100 * time.Millisecond // Интервал рассылки сводки
	DefaultCallTimeout    = 2 * time.Second        // Ожидание ответа воркера на команду
)

// Source - мир, который показывает инспектор. Реализуется *host.Host.
type Source interface {
	Snapshot() host.Snapshot
	Call(ctx context.Context, cmd protocol.Command) error
	Raycast(ctx context.Context, from, to mgl32.Vec3, all bool) ([]protocol.RaycastHit, error)
}

type Options struct {
	Logger         *zap.Logger
	UpdateInterval time.Duration
	CallTimeout    time.Duration
}

// Inspector - http.Handler WebSocket инспектора.
type Inspector struct {
	upgrader websocket.Upgrader
	source   Source
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	clientsMu sync.Mutex
	clients   map[*SafeWriter]struct{}
}

func NewInspector(source Source, opts Options) *Inspector {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Inspector{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		source:   source,
		logger:   logger.OrNop(opts.Logger),
		interval: opts.UpdateInterval,
		timeout:  opts.CallTimeout,
		clients:  make(map[*SafeWriter]struct{}),
	}
}

// ServeHTTP принимает соединение и читает команды клиента до его отключения.
func (i *Inspector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.logger.Warn("[Inspector] websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewSafeWriter(conn)
	i.clientsMu.Lock()
	i.clients[client] = struct{}{}
	i.clientsMu.Unlock()

	defer func() {
		i.clientsMu.Lock()
		delete(i.clients, client)
		i.clientsMu.Unlock()
		client.Close()
		i.logger.Info("[Inspector] client disconnected", zap.Stringer("remote", conn.RemoteAddr()))
	}()

	i.logger.Info("[Inspector] client connected", zap.Stringer("remote", conn.RemoteAddr()))
	if err := client.WriteJSON(NewInfoMessage("connected to physics inspector")); err != nil {
		return
	}
	if err := client.WriteJSON(NewSnapshotMessage(i.source.Snapshot())); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				i.logger.Warn("[Inspector] read failed", zap.Error(err))
			}
			return
		}
		if err := client.WriteJSON(i.handle(r.Context(), data)); err != nil {
			i.logger.Warn("[Inspector] reply failed", zap.Error(err))
			return
		}
	}
}

// handle выполняет команду клиента и возвращает ответ для него.
func (i *Inspector) handle(ctx context.Context, data []byte) any {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		i.logger.Debug("[Inspector] command rejected", zap.Error(err))
		return AckMessage{Type: MessageTypeAck, Kind: physerr.Kind(err), Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	clientID := cmd.Request()
	if ray, ok := cmd.(*protocol.Raycast); ok {
		hits, err := i.source.Raycast(ctx, ray.From, ray.To, ray.All)
		if err != nil {
			return ackError(cmd.Type(), clientID, err)
		}
		return RaycastMessage{Type: MessageTypeRaycast, RequestID: clientID, Hits: hits}
	}

	if err := i.source.Call(ctx, cmd); err != nil {
		return ackError(cmd.Type(), clientID, err)
	}
	return AckMessage{Type: MessageTypeAck, Command: cmd.Type(), RequestID: clientID}
}

func ackError(t protocol.MessageType, id uint64, err error) AckMessage {
	kind := physerr.Kind(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = "Timeout"
	}
	return AckMessage{Type: MessageTypeAck, Command: t, RequestID: id, Kind: kind, Error: err.Error()}
}

// Broadcast отправляет сводку всем клиентам. Клиенты, запись в которых
// не удалась, отключаются.
func (i *Inspector) Broadcast() {
	data, err := json.Marshal(NewSnapshotMessage(i.source.Snapshot()))
	if err != nil {
		i.logger.Error("[Inspector] snapshot encoding failed", zap.Error(err))
		return
	}

	i.clientsMu.Lock()
	defer i.clientsMu.Unlock()
	for client := range i.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			i.logger.Debug("[Inspector] dropping client", zap.Error(err))
			client.Close()
			delete(i.clients, client)
		}
	}
}

// Clients - число подключённых клиентов.
func (i *Inspector) Clients() int {
	i.clientsMu.Lock()
	defer i.clientsMu.Unlock()
	return len(i.clients)
}

// Run рассылает сводку каждые UpdateInterval до отмены ctx, затем
// закрывает все соединения.
func (i *Inspector) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.clientsMu.Lock()
			for client := range i.clients {
				client.Close()
			}
			i.clientsMu.Unlock()
			return nil
		case <-ticker.C:
			i.Broadcast()
		}
	}
}
