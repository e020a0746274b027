package host

import (
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

// BodySnapshot - положение тела в последнем прочитанном кадре.
type BodySnapshot struct {
	UUID     string     `json:"uuid"`
	Slot     int        `json:"slot"`
	Position mgl32.Vec3 `json:"position"`
	Speed    float32    `json:"speed"`
}

// Snapshot - сводка мира для инспектора.
type Snapshot struct {
	Performance Performance    `json:"performance"`
	Ready       bool           `json:"ready"`
	Faulted     bool           `json:"faulted"`
	Bodies      []BodySnapshot `json:"bodies"`
}

// Snapshot собирает положения всех тел, получивших слот.
func (h *Host) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := Snapshot{
		Performance: h.perf,
		Ready:       h.ready,
		Faulted:     h.faulted,
		Bodies:      make([]BodySnapshot, 0, len(h.bySlot)),
	}
	for _, b := range h.bodies {
		if b.slot < 0 {
			continue
		}
		out.Bodies = append(out.Bodies, BodySnapshot{
			UUID:     b.uuid,
			Slot:     b.slot,
			Position: b.target.position(),
			Speed:    b.linear,
		})
	}
	slices.SortFunc(out.Bodies, func(a, b BodySnapshot) int { return a.Slot - b.Slot })
	return out
}

// Velocity - модули линейной и угловой скорости тела из последнего кадра.
func (h *Host) Velocity(id string) (linear, angular float32, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bodies[id]
	if !ok {
		return 0, 0, false
	}
	return b.linear, b.angular, true
}

// Collisions - тела, касавшиеся id на последнем шаге.
func (h *Host) Collisions(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bodies[id]
	if !ok {
		return nil
	}
	return slices.Clone(b.collisions)
}

// Slot - слот тела; false, пока воркер не прислал BODY_READY.
func (h *Host) Slot(id string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bodies[id]
	if !ok || b.slot < 0 {
		return -1, false
	}
	return b.slot, true
}
