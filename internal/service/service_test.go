package service_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"social_backend/internal/domain"
	"social_backend/internal/store/sqlite"
)

// testRepos bundles a migrated store over a throwaway database file.
type testRepos struct {
	db            *sql.DB
	users         *sqlite.UserRepo
	conversations *sqlite.ConversationRepo
	messages      *sqlite.MessageRepo
	participants  *sqlite.ParticipantRepo
}

func newTestRepos(t *testing.T) *testRepos {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	return &testRepos{
		db:            db,
		users:         sqlite.NewUserRepo(db),
		conversations: sqlite.NewConversationRepo(db),
		messages:      sqlite.NewMessageRepo(db),
		participants:  sqlite.NewParticipantRepo(db),
	}
}

func (r *testRepos) createUser(t *testing.T, username string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:       username,
		HashedPassword: "x",
		IsActive:       true,
	}
	require.NoError(t, r.users.Create(context.Background(), u))
	return u
}

// recordingBroadcaster captures room broadcasts for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	rooms  []int64
	events []any
}

func (b *recordingBroadcaster) ToRoom(roomID int64, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = append(b.rooms, roomID)
	b.events = append(b.events, payload)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
