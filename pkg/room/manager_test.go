package room_test

import (
	"errors"
	"testing"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*room.Manager, map[string]*fakeRouter) {
	t.Helper()

	routers := make(map[string]*fakeRouter)
	manager := room.NewManager(longDelay(), codec.NewResolver(codec.DefaultCatalog(), nil),
		func(roomID string) (media.Router, error) {
			router := &fakeRouter{id: roomID}
			routers[roomID] = router
			return router, nil
		}, testLogger())

	t.Cleanup(manager.Close)
	return manager, routers
}

func TestManager_EphemeralRoomRemovedWhenEmpty(t *testing.T) {
	manager, routers := newTestManager(t)

	r, a, err := manager.Join("dm", room.KindDMVoice, "a")
	require.NoError(t, err)
	_, b, err := manager.Join("dm", room.KindDMVoice, "b")
	require.NoError(t, err)

	r.Leave(a)
	_, found := manager.Get("dm")
	assert.True(t, found)

	r.Leave(b)
	_, found = manager.Get("dm")
	assert.False(t, found)
	assert.EqualValues(t, 1, routers["dm"].closed.Load())

	// Joining again creates a fresh room.
	again, _, err := manager.Join("dm", room.KindDMVoice, "a")
	require.NoError(t, err)
	assert.NotSame(t, r, again)
}

func TestManager_GuildRoomPersists(t *testing.T) {
	manager, routers := newTestManager(t)

	r, a, err := manager.Join("guild", room.KindGuildVoice, "a")
	require.NoError(t, err)
	r.Leave(a)

	existing, found := manager.Get("guild")
	require.True(t, found)
	assert.Same(t, r, existing)
	assert.EqualValues(t, 0, routers["guild"].closed.Load())

	manager.Remove("guild")
	_, found = manager.Get("guild")
	assert.False(t, found)
	assert.EqualValues(t, 1, routers["guild"].closed.Load())
}

func TestManager_GetOrCreateKeepsKind(t *testing.T) {
	manager, _ := newTestManager(t)

	first, err := manager.GetOrCreate("r", room.KindStream)
	require.NoError(t, err)
	second, err := manager.GetOrCreate("r", room.KindGuildVoice)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, room.KindStream, second.Kind())
}

func TestManager_List(t *testing.T) {
	manager, _ := newTestManager(t)

	_, _, err := manager.Join("b", room.KindGuildVoice, "y")
	require.NoError(t, err)
	_, _, err = manager.Join("a", room.KindStream, "x")
	require.NoError(t, err)
	_, _, err = manager.Join("b", room.KindGuildVoice, "x")
	require.NoError(t, err)

	assert.Equal(t, []room.Info{
		{ID: "a", Kind: room.KindStream, Members: []string{"x"}},
		{ID: "b", Kind: room.KindGuildVoice, Members: []string{"x", "y"}},
	}, manager.List())
}

func TestManager_RouterFailure(t *testing.T) {
	routerErr := errors.New("no workers")
	manager := room.NewManager(room.DefaultConfig(), codec.NewResolver(codec.DefaultCatalog(), nil),
		func(string) (media.Router, error) { return nil, routerErr }, testLogger())

	_, _, err := manager.Join("r", room.KindGuildVoice, "a")
	assert.ErrorIs(t, err, routerErr)
	assert.Empty(t, manager.List())
}

func TestParseKind(t *testing.T) {
	kind, err := room.ParseKind("stream")
	require.NoError(t, err)
	assert.Equal(t, room.KindStream, kind)
	assert.True(t, kind.Ephemeral())

	kind, err = room.ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, room.KindGuildVoice, kind)
	assert.False(t, kind.Ephemeral())

	_, err = room.ParseKind("conference")
	assert.ErrorIs(t, err, room.ErrUnknownKind)
}
