package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social_backend/internal/domain"
	"social_backend/internal/protocol"
	"social_backend/internal/security"
	"social_backend/internal/service"
	"social_backend/internal/store/sqlite"
)

func (f *fakeConn) payloads() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.written...)
}

func (f *fakeConn) last() any {
	p := f.payloads()
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

// sessionEnv wires the realtime layer over a real store, with the hub itself
// serving as the relay, the single-process deployment shape.
type sessionEnv struct {
	hub   *Hub
	calls *CallRegistry
	msg   *service.MessageService
	conv  *service.ConversationService
	users domain.UserRepository
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	users := sqlite.NewUserRepo(db)
	conversations := sqlite.NewConversationRepo(db)
	messages := sqlite.NewMessageRepo(db)
	participants := sqlite.NewParticipantRepo(db)

	hub := NewHub()
	return &sessionEnv{
		hub:   hub,
		calls: NewCallRegistry(),
		msg:   service.NewMessageService(conversations, participants, messages, users, hub),
		conv:  service.NewConversationService(conversations, participants),
		users: users,
	}
}

func (e *sessionEnv) createUser(t *testing.T, username string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, HashedPassword: "x", IsActive: true}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

// connect registers a connection for the user and returns its session plus
// the fake wire it writes to.
func (e *sessionEnv) connect(u *domain.User) (*session, *fakeConn) {
	c := &fakeConn{}
	client := e.hub.Register(u.ID, u.Username, c)
	return &session{
		hub:    e.hub,
		relay:  e.hub,
		calls:  e.calls,
		msgSvc: e.msg,
		client: client,
	}, c
}

func TestSessionJoinRequiresMembership(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	mallory := env.createUser(t, "mallory")

	conv, err := env.conv.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	aliceSess, aliceConn := env.connect(alice)
	mallorySess, malloryConn := env.connect(mallory)

	aliceSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventJoinConversation,
		ConversationID: conv.ID,
	})
	assert.True(t, env.hub.InRoom(aliceSess.client, conv.ID))
	assert.Empty(t, aliceConn.payloads())

	mallorySess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventJoinConversation,
		ConversationID: conv.ID,
	})
	assert.False(t, env.hub.InRoom(mallorySess.client, conv.ID))
	errEv, ok := malloryConn.last().(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventError, errEv.Event)
}

func TestSessionMessageSend(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	conv, err := env.conv.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	aliceSess, aliceConn := env.connect(alice)
	bobSess, bobConn := env.connect(bob)
	aliceSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})
	bobSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})

	aliceSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventMessageSend,
		ConversationID: conv.ID,
		Content:        "hello",
	})

	// Both room members receive it, the sender included.
	for _, c := range []*fakeConn{aliceConn, bobConn} {
		got, ok := c.last().(*protocol.MessageReceive)
		require.True(t, ok)
		assert.Equal(t, protocol.EventMessageReceive, got.Event)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, "alice", got.SenderUsername)
		assert.NotZero(t, got.ID)
	}

	// The broadcast payload reflects a persisted row.
	msgs, err := env.msg.ListMessages(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSessionCallSignaling(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	conv, err := env.conv.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	aliceSess, aliceConn := env.connect(alice)
	bobSess, bobConn := env.connect(bob)
	aliceSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})
	bobSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})

	// Alice rings. Only bob hears it, and the relay carries the call id.
	aliceSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallRinging,
		ConversationID: conv.ID,
		IsVideo:        true,
	})
	assert.Empty(t, aliceConn.payloads())
	ringing, ok := bobConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallRinging, ringing.Event)
	assert.NotEmpty(t, ringing.CallID)
	assert.True(t, ringing.IsVideo)
	assert.Equal(t, alice.ID, ringing.FromUserID)

	// Bob accepts. Only alice hears it.
	bobSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallAccepted,
		ConversationID: conv.ID,
		CallID:         ringing.CallID,
	})
	accepted, ok := aliceConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallAccepted, accepted.Event)
	assert.Equal(t, ringing.CallID, accepted.CallID)
	assert.True(t, accepted.IsVideo)
	assert.Len(t, bobConn.payloads(), 1, "the acceptance is not echoed to the callee")

	// Alice sends the offer; it reaches bob verbatim.
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	aliceSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallInitiate,
		ConversationID: conv.ID,
		CallID:         ringing.CallID,
		Offer:          offer,
	})
	incoming, ok := bobConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallIncoming, incoming.Event)
	assert.JSONEq(t, string(offer), string(incoming.Offer))

	// Bob answers; it reaches alice verbatim.
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	bobSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallAnswer,
		ConversationID: conv.ID,
		CallID:         ringing.CallID,
		Answer:         answer,
	})
	answered, ok := aliceConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallAnswered, answered.Event)
	assert.JSONEq(t, string(answer), string(answered.Answer))

	// A candidate after accept goes to the counterpart only.
	cand := json.RawMessage(`{"candidate":"candidate:1"}`)
	aliceSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallCandidate,
		ConversationID: conv.ID,
		CallID:         ringing.CallID,
		Candidate:      cand,
	})
	relayed, ok := bobConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallCandidate, relayed.Event)
	assert.JSONEq(t, string(cand), string(relayed.Candidate))

	// Ending tells the whole room.
	bobSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallEnd,
		ConversationID: conv.ID,
		CallID:         ringing.CallID,
	})
	endAlice, ok := aliceConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallEnd, endAlice.Event)
	endBob, ok := bobConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallEnd, endBob.Event)

	_, err = env.calls.Get(ringing.CallID)
	assert.Error(t, err)
}

func TestSessionCallRejection(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	conv, err := env.conv.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	aliceSess, aliceConn := env.connect(alice)
	bobSess, bobConn := env.connect(bob)
	aliceSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})
	bobSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})

	aliceSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventCallRinging, ConversationID: conv.ID})
	ringing := bobConn.last().(protocol.CallEvent)

	bobSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallReject,
		ConversationID: conv.ID,
		CallID:         ringing.CallID,
	})
	rejected, ok := aliceConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallRejected, rejected.Event)
	assert.Equal(t, ringing.CallID, rejected.CallID)

	_, err = env.calls.Get(ringing.CallID)
	assert.Error(t, err)
}

func TestSessionSignalingRequiresJoin(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	conv, err := env.conv.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	// Alice never joins the room.
	aliceSess, aliceConn := env.connect(alice)
	aliceSess.dispatch(ctx, protocol.ClientEvent{
		Event:          protocol.EventCallRinging,
		ConversationID: conv.ID,
	})

	errEv, ok := aliceConn.last().(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventError, errEv.Event)
}

func TestSessionTeardownSynthesizesCallEnd(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	conv, err := env.conv.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	aliceSess, _ := env.connect(alice)
	bobSess, bobConn := env.connect(bob)
	aliceSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})
	bobSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventJoinConversation, ConversationID: conv.ID})

	aliceSess.dispatch(ctx, protocol.ClientEvent{Event: protocol.EventCallRinging, ConversationID: conv.ID})
	ringing := bobConn.last().(protocol.CallEvent)

	// Alice's connection drops mid-ring.
	aliceSess.teardown()

	endEv, ok := bobConn.last().(protocol.CallEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.EventCallEnd, endEv.Event)
	assert.Equal(t, ringing.CallID, endEv.CallID)
	assert.Equal(t, alice.ID, endEv.FromUserID)

	_, err = env.calls.Get(ringing.CallID)
	assert.Error(t, err)
	assert.True(t, env.hub.RoomOccupied(conv.ID), "bob is still joined")
}

func TestHandlerRefusesBadHandshakes(t *testing.T) {
	env := newSessionEnv(t)
	alice := env.createUser(t, "alice")

	tokens := security.NewTokenService("test-secret", time.Hour)
	handler := MakeHandler(env.hub, env.hub, env.calls, tokens, env.users, env.msg,
		[]string{"http://localhost:3000"})

	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Origin", "http://localhost:3000")
		return r
	}

	t.Run("DisallowedOrigin", func(t *testing.T) {
		r := newReq()
		r.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		handler(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("MissingCookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, newReq())
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("MalformedToken", func(t *testing.T) {
		r := newReq()
		r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "not-a-jwt"})
		w := httptest.NewRecorder()
		handler(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("WrongSigningKey", func(t *testing.T) {
		forged, err := security.NewTokenService("other-secret", time.Hour).CreateForUser(alice.Username)
		require.NoError(t, err)
		r := newReq()
		r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: forged})
		w := httptest.NewRecorder()
		handler(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("UnknownSubject", func(t *testing.T) {
		token, err := tokens.CreateForUser("ghost")
		require.NoError(t, err)
		r := newReq()
		r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: token})
		w := httptest.NewRecorder()
		handler(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSessionUnknownEvent(t *testing.T) {
	env := newSessionEnv(t)
	alice := env.createUser(t, "alice")
	sess, c := env.connect(alice)

	sess.dispatch(context.Background(), protocol.ClientEvent{Event: "no-such-event"})

	errEv, ok := c.last().(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "unknown event", errEv.Message)
}
