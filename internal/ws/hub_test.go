package ws

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records every payload written to it.
type fakeConn struct {
	mu       sync.Mutex
	written  []any
	writeErr error
	closed   bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestHubRoomBroadcast(t *testing.T) {
	hub := NewHub()

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	outsiderConn := &fakeConn{}

	alice := hub.Register(1, "alice", aliceConn)
	bob := hub.Register(2, "bob", bobConn)
	hub.Register(3, "outsider", outsiderConn)

	hub.Join(alice, 10)
	hub.Join(bob, 10)

	hub.ToRoom(10, "hello")

	// Sender's own connections are included; non-members are not.
	assert.Equal(t, 1, aliceConn.count())
	assert.Equal(t, 1, bobConn.count())
	assert.Zero(t, outsiderConn.count())
}

func TestHubJoinIdempotent(t *testing.T) {
	hub := NewHub()
	c := &fakeConn{}
	alice := hub.Register(1, "alice", c)

	hub.Join(alice, 10)
	hub.Join(alice, 10)
	hub.ToRoom(10, "once")

	assert.Equal(t, 1, c.count(), "a double join must not duplicate delivery")
	assert.True(t, hub.InRoom(alice, 10))
	assert.False(t, hub.InRoom(alice, 11))
}

func TestHubToRoomExcept(t *testing.T) {
	hub := NewHub()

	aliceConn := &fakeConn{}
	aliceConn2 := &fakeConn{}
	bobConn := &fakeConn{}

	alice := hub.Register(1, "alice", aliceConn)
	alice2 := hub.Register(1, "alice", aliceConn2)
	bob := hub.Register(2, "bob", bobConn)

	hub.Join(alice, 10)
	hub.Join(alice2, 10)
	hub.Join(bob, 10)

	hub.ToRoomExcept(10, 1, "ring")

	// The exclusion is user-scoped: it covers every one of alice's
	// connections, not just one.
	assert.Zero(t, aliceConn.count())
	assert.Zero(t, aliceConn2.count())
	assert.Equal(t, 1, bobConn.count())
}

func TestHubToRoomUser(t *testing.T) {
	hub := NewHub()

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}

	alice := hub.Register(1, "alice", aliceConn)
	bob := hub.Register(2, "bob", bobConn)
	hub.Join(alice, 10)
	hub.Join(bob, 10)

	hub.ToRoomUser(10, 2, "direct")

	assert.Zero(t, aliceConn.count())
	assert.Equal(t, 1, bobConn.count())
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	alice := hub.Register(1, "alice", aliceConn)
	bob := hub.Register(2, "bob", bobConn)

	hub.Join(alice, 10)
	hub.Join(alice, 11)
	hub.Join(bob, 10)

	rooms := hub.Unregister(alice)
	assert.ElementsMatch(t, []int64{10, 11}, rooms)

	hub.ToRoom(10, "after")
	assert.Zero(t, aliceConn.count())
	assert.Equal(t, 1, bobConn.count())

	assert.True(t, hub.RoomOccupied(10))
	assert.False(t, hub.RoomOccupied(11), "bob never joined 11, so it must be gone")
}

func TestClientSendFailureClosesConn(t *testing.T) {
	c := &fakeConn{writeErr: errors.New("broken pipe")}
	hub := NewHub()
	client := hub.Register(1, "alice", c)

	err := client.Send("payload")
	require.Error(t, err)
	assert.True(t, c.closed)
}

func TestHubBroadcastAll(t *testing.T) {
	hub := NewHub()

	joinedConn := &fakeConn{}
	idleConn := &fakeConn{}
	joined := hub.Register(1, "alice", joinedConn)
	hub.Register(2, "bob", idleConn)
	hub.Join(joined, 10)

	hub.BroadcastAll("presence")

	assert.Equal(t, 1, joinedConn.count())
	assert.Equal(t, 1, idleConn.count(), "presence reaches connections with no joined rooms")
}
