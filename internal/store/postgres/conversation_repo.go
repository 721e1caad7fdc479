package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"social_backend/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// Create inserts a conversation and its participant rows in one transaction.
// When another writer already holds the participant_hash, the insert affects
// no rows and Create returns domain.ErrConflict; the caller re-reads by hash.
func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation, participantIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (name, is_group, participant_hash, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (participant_hash) DO NOTHING
		RETURNING id, created_at
	`, c.Name, c.IsGroup, c.ParticipantHash).Scan(&c.ID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, uid := range participantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (user_id, conversation_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING
		`, uid, c.ID); err != nil {
			return fmt.Errorf("insert participant %d: %w", uid, err)
		}
	}

	return tx.Commit()
}

func (r *ConversationRepo) scanOne(row *sql.Row) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.IsGroup,
		&c.ParticipantHash,
		&c.LastMessageID,
		&c.LastMessageAt,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, participant_hash, last_message_id, last_message_at, created_at
		FROM conversations WHERE id = $1
	`, id)
	return r.scanOne(row)
}

func (r *ConversationRepo) FindByHash(ctx context.Context, participantHash string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, participant_hash, last_message_id, last_message_at, created_at
		FROM conversations WHERE participant_hash = $1
	`, participantHash)
	return r.scanOne(row)
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.is_group, c.participant_hash, c.last_message_id, c.last_message_at, c.created_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.IsGroup,
			&c.ParticipantHash,
			&c.LastMessageID,
			&c.LastMessageAt,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
