package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"social_backend/internal/domain"
)

// ConversationService resolves participant sets to canonical conversations.
type ConversationService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
}

func NewConversationService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		participants:  participants,
	}
}

// ParticipantHash derives the canonical, order-independent key for a
// participant set: the deduplicated ids sorted ascending and joined by ":".
// Any permutation of the same set yields the same hash.
func ParticipantHash(participantIDs []int64) string {
	ids := make([]int64, 0, len(participantIDs))
	seen := make(map[int64]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ":")
}

// FindOrCreate returns the single conversation for the participant set formed
// by the requester plus the given other participants, creating it when absent.
// Concurrent calls with the same set converge on one row: the uniqueness
// constraint on the participant hash rejects the losing writer, which then
// re-reads the winner's row.
func (s *ConversationService) FindOrCreate(
	ctx context.Context,
	requesterID int64,
	otherParticipantIDs []int64,
) (*domain.Conversation, error) {
	if len(otherParticipantIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", domain.ErrInvalidInput)
	}

	all := append([]int64{requesterID}, otherParticipantIDs...)
	hash := ParticipantHash(all)

	// Re-derive the deduplicated set from the hash parts so the participant
	// rows match it exactly.
	parts := strings.Split(hash, ":")
	uniqueIDs := make([]int64, len(parts))
	for i, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse participant id: %w", err)
		}
		uniqueIDs[i] = id
	}
	if len(uniqueIDs) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs at least two distinct participants", domain.ErrInvalidInput)
	}

	if existing, err := s.conversations.FindByHash(ctx, hash); err != nil {
		return nil, fmt.Errorf("find conversation by hash: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	conv := &domain.Conversation{
		IsGroup:         len(uniqueIDs) > 2,
		ParticipantHash: hash,
	}
	err := s.conversations.Create(ctx, conv, uniqueIDs)
	if errors.Is(err, domain.ErrConflict) {
		// Lost the creation race; the winner's row is authoritative.
		existing, rerr := s.conversations.FindByHash(ctx, hash)
		if rerr != nil {
			return nil, fmt.Errorf("re-read after conflict: %w", rerr)
		}
		if existing == nil {
			return nil, domain.ErrInternal
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	return s.conversations.ListForUser(ctx, userID)
}

// GetForUser returns a conversation only if the user participates in it.
func (s *ConversationService) GetForUser(
	ctx context.Context,
	conversationID int64,
	userID int64,
) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, domain.ErrForbidden
	}
	return conv, nil
}
