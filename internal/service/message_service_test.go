package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social_backend/internal/domain"
	"social_backend/internal/protocol"
	"social_backend/internal/service"
)

func TestSendMessage(t *testing.T) {
	repos := newTestRepos(t)
	convSvc := service.NewConversationService(repos.conversations, repos.participants)
	ctx := context.Background()

	alice := repos.createUser(t, "alice")
	bob := repos.createUser(t, "bob")
	mallory := repos.createUser(t, "mallory")

	conv, err := convSvc.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	t.Run("PersistsThenBroadcasts", func(t *testing.T) {
		bc := &recordingBroadcaster{}
		svc := service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.users, bc)

		sent, err := svc.SendMessage(ctx, alice.ID, conv.ID, "hello", domain.MessageKindText)
		require.NoError(t, err)
		assert.NotZero(t, sent.ID)
		assert.Equal(t, "alice", sent.SenderUsername)
		assert.Equal(t, domain.MessageStatusSent, sent.Status)

		require.Equal(t, 1, bc.count())
		got, ok := bc.events[0].(*protocol.MessageReceive)
		require.True(t, ok)
		assert.Equal(t, protocol.EventMessageReceive, got.Event)
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, conv.ID, bc.rooms[0])

		// The conversation pointer moved with the message.
		updated, err := repos.conversations.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.LastMessageID)
		assert.Equal(t, sent.ID, *updated.LastMessageID)
		require.NotNil(t, updated.LastMessageAt)
	})

	t.Run("PerSenderFIFO", func(t *testing.T) {
		bc := &recordingBroadcaster{}
		svc := service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.users, bc)

		var want []string
		for i := 0; i < 5; i++ {
			content := fmt.Sprintf("msg-%d", i)
			want = append(want, content)
			_, err := svc.SendMessage(ctx, alice.ID, conv.ID, content, domain.MessageKindText)
			require.NoError(t, err)
		}

		msgs, err := svc.ListMessages(ctx, conv.ID, bob.ID)
		require.NoError(t, err)

		var got []string
		for _, m := range msgs {
			if m.SenderID == alice.ID && len(m.Content) > 3 && m.Content[:4] == "msg-" {
				got = append(got, m.Content)
			}
		}
		assert.Equal(t, want, got)
	})

	t.Run("NonParticipantRejected", func(t *testing.T) {
		bc := &recordingBroadcaster{}
		svc := service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.users, bc)

		_, err := svc.SendMessage(ctx, mallory.ID, conv.ID, "let me in", domain.MessageKindText)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Zero(t, bc.count())

		var count int
		require.NoError(t, repos.db.QueryRow(
			`SELECT COUNT(*) FROM messages WHERE sender_id = ?`, mallory.ID,
		).Scan(&count))
		assert.Zero(t, count)
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		bc := &recordingBroadcaster{}
		svc := service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.users, bc)

		_, err := svc.SendMessage(ctx, alice.ID, 99999, "anyone there?", domain.MessageKindText)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Zero(t, bc.count())
	})

	t.Run("EmptyContentRejected", func(t *testing.T) {
		bc := &recordingBroadcaster{}
		svc := service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.users, bc)

		_, err := svc.SendMessage(ctx, alice.ID, conv.ID, "", domain.MessageKindText)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Zero(t, bc.count())
	})

	t.Run("UnknownKindRejected", func(t *testing.T) {
		bc := &recordingBroadcaster{}
		svc := service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.users, bc)

		_, err := svc.SendMessage(ctx, alice.ID, conv.ID, "hi", "GIF")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockMessageRepo) ListForConversation(ctx context.Context, conversationID int64) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func TestSendMessagePersistFailureAbortsBroadcast(t *testing.T) {
	repos := newTestRepos(t)
	convSvc := service.NewConversationService(repos.conversations, repos.participants)
	ctx := context.Background()

	alice := repos.createUser(t, "alice")
	bob := repos.createUser(t, "bob")
	conv, err := convSvc.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	failing := new(mockMessageRepo)
	failing.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	bc := &recordingBroadcaster{}
	svc := service.NewMessageService(repos.conversations, repos.participants, failing, repos.users, bc)

	_, err = svc.SendMessage(ctx, alice.ID, conv.ID, "hello", domain.MessageKindText)
	require.Error(t, err)
	assert.Zero(t, bc.count(), "nothing may be broadcast when persistence fails")
}

func TestListMessagesAccessControl(t *testing.T) {
	repos := newTestRepos(t)
	convSvc := service.NewConversationService(repos.conversations, repos.participants)
	ctx := context.Background()

	alice := repos.createUser(t, "alice")
	bob := repos.createUser(t, "bob")
	mallory := repos.createUser(t, "mallory")

	conv, err := convSvc.FindOrCreate(ctx, alice.ID, []int64{bob.ID})
	require.NoError(t, err)

	_, err = service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.users, &recordingBroadcaster{}).
		ListMessages(ctx, conv.ID, mallory.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
