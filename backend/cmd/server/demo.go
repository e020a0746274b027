package main

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"x-physync/backend/internal/host"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/scene"
)

const (
	crateHalf     = 0.5
	spawnHeight   = 12
	respawnHeight = -20
)

// demoScene - пол и ящики, падающие на него по кругу.
type demoScene struct {
	floor  *scene.Object
	crates []*scene.Object
	ids    []string

	// teleported - ящики, чьё SET_MOTION_STATE уйдёт воркеру в следующем Frame.
	teleported []int
	respawning map[int]bool
}

func buildDemo(h *host.Host, count int) (*demoScene, error) {
	d := &demoScene{floor: scene.NewObject("floor"), respawning: make(map[int]bool)}

	floorShape := protocol.ShapeDescriptor{
		Type:        protocol.ShapeBox,
		Fit:         protocol.FitManual,
		HalfExtents: mgl32.Vec3{50, 0.5, 50},
	}
	d.floor.SetPosition(mgl32.Vec3{0, -0.5, 0})
	if _, err := h.AddRigidBody(d.floor, floorShape, protocol.BodyConfig{Type: protocol.Static}); err != nil {
		return nil, fmt.Errorf("add floor: %w", err)
	}

	crateShape := protocol.ShapeDescriptor{
		Type:        protocol.ShapeBox,
		Fit:         protocol.FitManual,
		HalfExtents: mgl32.Vec3{crateHalf, crateHalf, crateHalf},
	}
	for i := range count {
		crate := scene.NewObject(fmt.Sprintf("crate-%d", i))
		crate.SetPosition(spawnPoint(i))
		id, err := h.AddRigidBody(crate, crateShape, protocol.BodyConfig{Mass: 1, Friction: 0.6, Restitution: 0.2})
		if err != nil {
			return nil, fmt.Errorf("add crate %d: %w", i, err)
		}
		d.crates = append(d.crates, crate)
		d.ids = append(d.ids, id)
	}
	return d, nil
}

// spawnPoint раскладывает ящики по сетке 10x10, слоями по высоте.
func spawnPoint(i int) mgl32.Vec3 {
	x := float32(i%10) - 4.5
	z := float32((i/10)%10) - 4.5
	y := float32(spawnHeight + 2*(i/100))
	return mgl32.Vec3{x * 1.5, y, z * 1.5}
}

// respawn возвращает наверх ящики, упавшие с пола. Вызывается после
// Frame: телепортация копится до следующего кадра, а сброс скорости
// отправляется сразу после того, как Frame её отправил.
func (d *demoScene) respawn(h *host.Host) {
	for _, i := range d.teleported {
		_ = h.SetLinearVelocity(d.ids[i], mgl32.Vec3{})
		_ = h.SetAngularVelocity(d.ids[i], mgl32.Vec3{})
	}
	d.teleported = d.teleported[:0]

	for i, crate := range d.crates {
		if crate.Position().Y() > respawnHeight {
			delete(d.respawning, i)
			continue
		}
		if d.respawning[i] {
			continue
		}
		d.respawning[i] = true
		p := spawnPoint(i)
		q := mgl32.QuatIdent()
		h.SetMotionState(d.ids[i], protocol.MotionState{Position: &p, Rotation: &q})
		d.teleported = append(d.teleported, i)
	}
}
