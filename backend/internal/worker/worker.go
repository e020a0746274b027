// Package worker - физический воркер. Он владеет солвером, принимает команды
// хоста, шагает симуляцию по таймеру и публикует трансформации тел в
// разделяемый регион.
//
// Все методы, кроме Stats, вызываются из одной горутины: Run или тест,
// вызывающий Tick напрямую.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/config"
	"x-physync/backend/internal/logger"
	"x-physync/backend/internal/physerr"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/registry"
	"x-physync/backend/internal/solver"
	"x-physync/backend/internal/telemetry"
)

// DefaultInterval - период таймера шагов.
const DefaultInterval = time.Second / 60

// fpsWindow - окно усреднения частоты публикаций.
const fpsWindow = 500 * time.Millisecond

// Options - необязательные зависимости воркера.
type Options struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	// Interval - период шагов, по умолчанию DefaultInterval.
	Interval time.Duration
	// MonitorWindow - размер окна StepMonitor в шагах.
	MonitorWindow int
}

// Worker - менеджер физического мира.
type Worker struct {
	link     *protocol.Link
	factory  solver.Factory
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	interval time.Duration
	monitor  *StepMonitor
	handlers map[protocol.MessageType]handler

	// Состояние мира, появляется после INIT.
	initialized bool
	mode        buffer.Mode
	buffers     *buffer.Buffers
	cfg         config.Resolved
	world       solver.Solver
	slots       *registry.Registry
	bodies      map[string]*rigidBody
	softBodies  map[string]*softBody
	constraints map[string]*constraint

	speed     float64
	debug     bool
	debugMode protocol.DebugMode

	lastTick time.Time
	// dirty - структура мира изменилась, кадр нужно опубликовать даже без подшагов.
	dirty    bool
	substeps int32
	stepMs   float32
	// frame - номер последнего опубликованного кадра.
	frame    uint32

	frames      int
	fpsStart    time.Time
	fps         float32
	collisions  map[int][]int
	softScratch []*buffer.SoftBody

	fault error
}

// New создаёт воркер. Мир создаётся фабрикой при получении INIT.
func New(link *protocol.Link, factory solver.Factory, opts Options) *Worker {
	if factory == nil {
		factory = solver.ReferenceFactory
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	w := &Worker{
		link:        link,
		factory:     factory,
		logger:      logger.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		interval:    opts.Interval,
		monitor:     NewStepMonitor(opts.MonitorWindow, opts.Interval/2),
		bodies:      make(map[string]*rigidBody),
		softBodies:  make(map[string]*softBody),
		constraints: make(map[string]*constraint),
		collisions:  make(map[int][]int),
		speed:       1,
	}
	w.handlers = w.dispatchTable()
	return w
}

// Run обрабатывает команды и шагает мир, пока не отменён ctx, не закрыта
// очередь команд или не случился сбой солвера. Сбой возвращается как
// ошибка, обёрнутая в physerr.ErrSolverFault.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("[Worker] loop started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("[Worker] loop stopped", zap.Error(ctx.Err()))
			return nil

		case <-w.link.Commands.Done():
			w.processMessages()
			w.logger.Info("[Worker] command queue closed")
			return w.fault

		case <-w.link.Commands.Notify():
			w.processMessages()

		case now := <-ticker.C:
			w.Tick(now)
			w.metrics.PrintSummary(w.logger, now)
		}

		if w.fault != nil {
			return w.fault
		}
	}
}

// Tick обрабатывает накопленные команды и делает один шаг мира с меткой now.
func (w *Worker) Tick(now time.Time) {
	w.processMessages()
	if !w.initialized || w.fault != nil {
		return
	}
	w.step(now)
}

// Err возвращает сбой, остановивший воркер.
func (w *Worker) Err() error {
	return w.fault
}

// Stats - метрики шагов солвера.
func (w *Worker) Stats() StepStats {
	return w.monitor.Stats()
}

func (w *Worker) step(now time.Time) {
	var dt float64
	if !w.lastTick.IsZero() {
		dt = now.Sub(w.lastTick).Seconds() * w.speed
	}
	if dt < 0 {
		dt = 0
	}
	w.lastTick = now

	start := time.Now()
	n, err := w.safeStep(dt)
	elapsed := time.Since(start)
	if err != nil {
		w.monitor.RecordError()
		w.fail(err)
		return
	}

	switch w.monitor.Record(elapsed) {
	case LevelCritical:
		w.logger.Warn("[Worker] step exceeded critical threshold",
			zap.Duration("elapsed", elapsed), zap.Duration("interval", w.interval))
	case LevelWarning:
		w.logger.Debug("[Worker] slow step", zap.Duration("elapsed", elapsed))
	}
	w.metrics.ObserveStep(elapsed, n)

	w.substeps = (w.substeps + int32(n)) & 0x7fffffff
	w.stepMs = float32(elapsed.Seconds() * 1000)

	if n == 0 && !w.dirty {
		return
	}
	w.publish(now)
}

func (w *Worker) safeStep(dt float64) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("solver panic: %v: %w", r, physerr.ErrSolverFault)
		}
	}()
	n, err = w.world.Step(dt)
	if err != nil && !errors.Is(err, physerr.ErrSolverFault) {
		err = fmt.Errorf("%w: %w", physerr.ErrSolverFault, err)
	}
	return n, err
}

// fail останавливает воркер. Регион, если он у воркера, возвращается хосту.
func (w *Worker) fail(err error) {
	if w.fault != nil {
		return
	}
	w.fault = err
	w.logger.Error("[Worker] solver fault, stopping", zap.Error(err))

	fault := &protocol.WorkerFault{Message: err.Error()}
	if w.mode == buffer.ModeTransfer && w.buffers.Held() {
		fault.Buffers = w.buffers.Detach()
	}
	w.link.Events.Push(fault)
}

func (w *Worker) emit(ev protocol.Event) {
	if !w.link.Events.Push(ev) {
		w.metrics.Drop("events_closed")
	}
}

func (w *Worker) updateBodyGauges() {
	w.metrics.SetBodies("rigid", len(w.bodies))
	w.metrics.SetBodies("soft", len(w.softBodies))
	w.metrics.SetBodies("constraint", len(w.constraints))
}
