// Package host - сторона цикла отрисовки. Хост отправляет воркеру команды,
// раз в кадр копирует опубликованные трансформации в граф сцены и
// возвращает регион воркеру.
//
// Frame и методы управления телами безопасно вызывать из разных горутин,
// но рассчитаны они на один цикл отрисовки.
package host

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/config"
	"x-physync/backend/internal/logger"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/scene"
	"x-physync/backend/internal/telemetry"
)

// Options - параметры хоста.
type Options struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	// Layout - раскладка региона, по умолчанию buffer.DefaultLayout.
	Layout buffer.Layout
	// Mode - желаемый режим обмена, по умолчанию общий регион.
	Mode buffer.Mode
	// SharedMemory сообщает, доступна ли общая память. Если нет, хост
	// переходит в режим передачи владения.
	SharedMemory func() bool
	// Debug получает отладочные линии каждого прочитанного кадра.
	Debug scene.DebugGeometry
	// Extractor извлекает геометрию для форм, размеры которых вычисляются
	// по мешу. По умолчанию scene.BoxExtractor.
	Extractor scene.Extractor
	// OnBodyError вызывается из Frame для каждого BODY_ERROR.
	OnBodyError func(protocol.BodyError)
	// OnFault вызывается из Frame, когда воркер остановился.
	OnFault func(protocol.WorkerFault)
	// ManualPump отключает фоновую горутину событий; их забирает Poll.
	ManualPump bool
}

// Performance - сведения о последнем прочитанном кадре.
type Performance struct {
	StepDurationMs float32 `json:"stepDurationMs"`
	Substeps       int32   `json:"substeps"`
	FPS            float32 `json:"fps"`
}

type body struct {
	uuid   string
	slot   int
	kind   protocol.BodyType
	target RenderTarget
	// since - первый кадр, в котором слот принадлежит этому телу.
	since  uint32

	linear, angular float32
	collisions      []string
}

type softBody struct {
	uuid  string
	ready bool
	since uint32
	mesh  scene.MeshGeometry
	line  scene.LineGeometry
	buf   *buffer.SoftBody
}

// Host - синхронизация графа сцены с физическим воркером.
type Host struct {
	link      *protocol.Link
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	opts      Options
	extractor scene.Extractor

	requests   *requests
	inbox      *protocol.Queue[protocol.Event]
	events     []protocol.Event
	stop       chan struct{}
	pumpDone   chan struct{}
	closeOnce  sync.Once
	terminated atomic.Bool

	mu          sync.Mutex
	mode        buffer.Mode
	buffers     *buffer.Buffers
	initSent    bool
	ready       bool
	faulted     bool
	bodies      map[string]*body
	bySlot      map[int]string
	softBodies  map[string]*softBody
	constraints map[string]struct{}

	// Очереди обновлений, сливаемые в одно сообщение раз в кадр.
	updates     map[string]protocol.BodyUpdate
	updateOrder []string
	motion      map[string]protocol.MotionState
	motionOrder []string

	lastCounter    int32
	fresh          bool
	perf           Performance
	lastTransition time.Time
}

// New создаёт хост и запускает горутину событий воркера.
func New(link *protocol.Link, opts Options) *Host {
	if opts.Layout == (buffer.Layout{}) {
		opts.Layout = buffer.DefaultLayout()
	}
	if opts.Extractor == nil {
		opts.Extractor = scene.BoxExtractor{}
	}
	h := &Host{
		link:        link,
		logger:      logger.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		opts:        opts,
		extractor:   opts.Extractor,
		requests:    newRequests(),
		inbox:       protocol.NewQueue[protocol.Event](),
		stop:        make(chan struct{}),
		pumpDone:    make(chan struct{}),
		bodies:      make(map[string]*body),
		bySlot:      make(map[int]string),
		softBodies:  make(map[string]*softBody),
		constraints: make(map[string]struct{}),
		updates:     make(map[string]protocol.BodyUpdate),
		motion:      make(map[string]protocol.MotionState),
		lastCounter: -1,
	}
	if opts.ManualPump {
		close(h.pumpDone)
	} else {
		go h.pump()
	}
	return h
}

// Init выделяет регион и отправляет воркеру INIT. Мир готов после
// события READY, см. Ready.
func (h *Host) Init(cfg config.WorldConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initSent {
		return fmt.Errorf("host already initialized: %w", physerr.ErrProtocolViolation)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	bufs, err := buffer.New(h.opts.Layout)
	if err != nil {
		return err
	}

	h.mode = h.opts.Mode
	if h.mode == buffer.ModeShared && h.opts.SharedMemory != nil && !h.opts.SharedMemory() {
		h.logger.Warn("[Host] shared memory unavailable, falling back to buffer transfer")
		h.mode = buffer.ModeTransfer
	}
	h.buffers = bufs

	init := &protocol.Init{Config: cfg, Mode: h.mode, Buffers: bufs}
	if h.mode == buffer.ModeTransfer {
		init.Buffers = bufs.Detach()
	}
	if err := h.send(init); err != nil {
		return err
	}
	h.initSent = true

	h.logger.Info("[Host] world requested",
		zap.Stringer("mode", h.mode),
		zap.Int("max_bodies", h.opts.Layout.MaxBodies))
	return nil
}

// Mode - режим обмена, выбранный при Init.
func (h *Host) Mode() buffer.Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// Ready сообщает, что воркер создал мир.
func (h *Host) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Performance - данные заголовка последнего прочитанного кадра.
func (h *Host) Performance() Performance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perf
}

// Stalled сообщает, что кадров от воркера не было дольше threshold.
func (h *Host) Stalled(threshold time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		return false
	}
	return time.Since(h.lastTransition) > threshold
}

// Close останавливает горутину событий, закрывает канал к воркеру и
// отклоняет ожидающие запросы с physerr.ErrWorkerTerminated.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		h.terminated.Store(true)
		close(h.stop)
		<-h.pumpDone
		h.requests.rejectAll(physerr.ErrWorkerTerminated)
		h.link.Close()
		h.metrics.SetPending(0)
		h.logger.Info("[Host] closed")
	})
}

func (h *Host) send(cmd protocol.Command) error {
	if h.terminated.Load() {
		return fmt.Errorf("send %s: %w", cmd.Type(), physerr.ErrWorkerTerminated)
	}
	if !h.link.Commands.Push(cmd) {
		return fmt.Errorf("send %s: %w", cmd.Type(), physerr.ErrWorkerTerminated)
	}
	return nil
}

// pump забирает события воркера: ответы сразу отдаёт ожидающим, остальное
// складывает во inbox для следующего кадра.
func (h *Host) pump() {
	defer close(h.pumpDone)
	for {
		select {
		case <-h.stop:
			return
		case <-h.link.Events.Notify():
			h.Poll()
		case <-h.link.Events.Done():
			h.Poll()
			h.terminated.Store(true)
			h.requests.rejectAll(physerr.ErrWorkerTerminated)
			return
		}
	}
}

// Poll разбирает накопленные события воркера. Нужен только с ManualPump.
func (h *Host) Poll() {
	for {
		ev, ok := h.link.Events.Pop()
		if !ok {
			return
		}
		if resp, ok := ev.(protocol.Response); ok {
			if !h.requests.resolve(resp) {
				h.logger.Debug("[Host] unmatched response dropped",
					zap.Uint64("request_id", resp.ResponseTo()), zap.String("type", string(resp.Type())))
				h.metrics.Drop("unmatched_response")
			}
			continue
		}
		if fault, ok := ev.(*protocol.WorkerFault); ok {
			h.terminated.Store(true)
			h.requests.rejectAll(fmt.Errorf("%s: %w", fault.Message, physerr.ErrWorkerTerminated))
		}
		h.inbox.Push(ev)
	}
}

// drainInbox применяет события к зеркалу хоста. Вызывается под h.mu.
func (h *Host) drainInbox() {
	h.events = h.inbox.Drain(h.events[:0])
	defer clear(h.events)

	for _, ev := range h.events {
		switch e := ev.(type) {
		case *protocol.Ready:
			h.ready = true
			h.lastTransition = time.Now()
			if e.Buffers.Held() {
				h.buffers.Attach(e.Buffers)
			}
			h.logger.Info("[Host] world ready")

		case *protocol.BodyReady:
			h.onBodyReady(e)

		case *protocol.TransferData:
			if e.Buffers.Held() {
				h.buffers.Attach(e.Buffers)
			}

		case *protocol.BodyError:
			h.onBodyError(e)

		case *protocol.WorkerFault:
			h.faulted = true
			if e.Buffers.Held() {
				h.buffers.Attach(e.Buffers)
			}
			h.logger.Error("[Host] worker fault", zap.String("message", e.Message))
			if h.opts.OnFault != nil {
				h.opts.OnFault(*e)
			}

		default:
			h.logger.Warn("[Host] unexpected event", zap.String("type", string(ev.Type())))
		}
	}
}

func (h *Host) onBodyReady(e *protocol.BodyReady) {
	if e.Slot < 0 {
		if sb, ok := h.softBodies[e.UUID]; ok {
			sb.ready = true
			sb.since = e.Frame
			h.fresh = true
		}
		return
	}
	b, ok := h.bodies[e.UUID]
	if !ok {
		// тело удалено раньше, чем воркер его создал
		return
	}
	b.slot = e.Slot
	b.since = e.Frame
	h.bySlot[e.Slot] = e.UUID
	h.fresh = true
}

func (h *Host) onBodyError(e *protocol.BodyError) {
	h.logger.Warn("[Host] body error",
		zap.String("uuid", e.UUID), zap.String("kind", e.Kind), zap.String("message", e.Message))

	// тело, которое воркер не создал, убирается из зеркала
	if b, ok := h.bodies[e.UUID]; ok && b.slot < 0 {
		delete(h.bodies, e.UUID)
	}
	if sb, ok := h.softBodies[e.UUID]; ok && !sb.ready {
		delete(h.softBodies, e.UUID)
	}
	delete(h.constraints, e.UUID)
	if h.opts.OnBodyError != nil {
		h.opts.OnBodyError(*e)
	}
}
