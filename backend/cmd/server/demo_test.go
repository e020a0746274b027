package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"x-physync/backend/internal/config"
	"x-physync/backend/internal/host"
	"x-physync/backend/internal/protocol"
)

func commandTypes(cmds []protocol.Command) []protocol.MessageType {
	out := make([]protocol.MessageType, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Type())
	}
	return out
}

func TestDemo_RespawnResetsVelocityAfterTeleport(t *testing.T) {
	link := protocol.NewLink()
	h := host.New(link, host.Options{Logger: zaptest.NewLogger(t), ManualPump: true})
	defer h.Close()

	require.NoError(t, h.Init(config.WorldConfig{}))
	link.Events.Push(&protocol.Ready{})
	h.Poll()

	demo, err := buildDemo(h, 2)
	require.NoError(t, err)
	h.Frame()
	require.True(t, h.Ready())
	link.Commands.Drain(nil)

	demo.crates[1].SetPosition(mgl32.Vec3{0, -30, 0})
	demo.respawn(h)
	assert.Empty(t, link.Commands.Drain(nil), "teleport waits for the frame flush")

	h.Frame()
	demo.respawn(h)
	assert.Equal(t, []protocol.MessageType{
		protocol.TypeBulkSetMotionState,
		protocol.TypeSetLinearVelocity,
		protocol.TypeSetAngularVelocity,
	}, commandTypes(link.Commands.Drain(nil)))

	// ящик ещё не вернулся наверх: повторно не телепортируется
	h.Frame()
	demo.respawn(h)
	assert.Empty(t, link.Commands.Drain(nil))

	demo.crates[1].SetPosition(spawnPoint(1))
	demo.respawn(h)
	assert.Empty(t, demo.respawning)
}
