package worker

import (
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/protocol"
)

// debugDrawer пишет линии солвера в отладочную область региона.
type debugDrawer struct {
	d *buffer.Debug
}

func (dd debugDrawer) DrawLine(from, to, color mgl32.Vec3) {
	dd.d.AddLine(from, to, color)
}

// canPublish - регион у воркера: в общем режиме хост уже прочитал кадр,
// в режиме передачи хост вернул буферы.
func (w *Worker) canPublish() bool {
	if w.mode == buffer.ModeTransfer {
		return w.buffers.Held()
	}
	return w.buffers.Rigid.State() != buffer.Ready
}

// publish пишет кадр в регион и отдаёт его хосту.
func (w *Worker) publish(now time.Time) {
	if !w.canPublish() {
		return
	}
	rigid := w.buffers.Rigid

	w.collectCollisions()
	for _, b := range w.bodies {
		if b.state != stateActive {
			continue
		}
		if b.kind() == protocol.Dynamic {
			rigid.SetMatrix(b.slot, b.handle.Transform())
			rigid.SetVelocity(b.slot, b.handle.LinearVelocity().Len(), b.handle.AngularVelocity().Len())
		} else if !b.seeded {
			rigid.SetMatrix(b.slot, b.handle.Transform())
			rigid.SetVelocity(b.slot, 0, 0)
			b.seeded = true
		} else {
			// трансформацию статических и кинематических тел задаёт хост
			b.handle.SetTransform(rigid.Matrix(b.slot))
		}
		rigid.SetCollisions(b.slot, w.collisions[b.slot])
	}

	w.publishSoftBodies()

	if w.debug {
		w.world.DebugDraw(debugDrawer{d: w.buffers.Debug}, w.debugMode)
	}

	w.countFrame(now)
	w.frame++
	rigid.WriteHeader(w.stepMs, w.substeps, w.fps)
	rigid.SetFrame(w.frame)
	w.dirty = false

	if w.mode == buffer.ModeTransfer {
		w.emit(&protocol.TransferData{Buffers: w.buffers.Detach()})
		w.metrics.FramePublished(buffer.ModeTransfer.String())
		return
	}
	rigid.SetState(buffer.Ready)
	w.metrics.FramePublished(buffer.ModeShared.String())
}

// collectCollisions раскладывает контакты последнего шага по слотам.
func (w *Worker) collectCollisions() {
	for slot, list := range w.collisions {
		w.collisions[slot] = list[:0]
	}
	for _, c := range w.world.Contacts() {
		a, b := c.A.UserIndex(), c.B.UserIndex()
		if a < 0 || b < 0 {
			continue
		}
		w.collisions[a] = appendUnique(w.collisions[a], b)
		w.collisions[b] = appendUnique(w.collisions[b], a)
	}
}

func appendUnique(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	if len(list) >= buffer.MaxCollisions {
		return list
	}
	return append(list, v)
}

// publishSoftBodies копирует узлы мягких тел и собирает их буферы в регион.
func (w *Worker) publishSoftBodies() {
	w.softScratch = w.softScratch[:0]
	for _, sb := range w.softBodies {
		sb.handle.CopyPositions(sb.buf.Vertices)
		if sb.buf.Normals != nil {
			sb.handle.CopyNormals(sb.buf.Normals)
		}
		w.softScratch = append(w.softScratch, sb.buf)
	}
	sort.Slice(w.softScratch, func(i, j int) bool {
		return w.softScratch[i].UUID < w.softScratch[j].UUID
	})
	w.buffers.SoftBodies = append(w.buffers.SoftBodies[:0], w.softScratch...)
}

// countFrame обновляет частоту публикаций по окну fpsWindow.
func (w *Worker) countFrame(now time.Time) {
	if w.fpsStart.IsZero() {
		w.fpsStart = now
	}
	w.frames++
	if elapsed := now.Sub(w.fpsStart); elapsed >= fpsWindow {
		w.fps = float32(float64(w.frames) / elapsed.Seconds())
		w.frames = 0
		w.fpsStart = now
		w.metrics.SetFPS(float64(w.fps))
	}
}
