package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"matrimony-chat/models"
)

// SnapshotStore keeps the last known conversation list and newest message
// page so a cold start can show stale state when the API is unreachable.
type SnapshotStore interface {
	SaveConversations(ctx context.Context, ownerID string, convs []models.Conversation) error
	LoadConversations(ctx context.Context, ownerID string) ([]models.Conversation, error)
	SaveMessages(ctx context.Context, conversationID string, msgs []models.Message) error
	LoadMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// GormStore is a SnapshotStore backed by the cache tables.
type GormStore struct {
	db *gorm.DB
}

var _ SnapshotStore = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SaveConversations replaces the owner's cached list.
func (s *GormStore) SaveConversations(ctx context.Context, ownerID string, convs []models.Conversation) error {
	rows := make([]models.CachedConversation, 0, len(convs))
	for _, c := range convs {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode conversation %s: %w", c.ID, err)
		}
		rows = append(rows, models.CachedConversation{
			OwnerID:        ownerID,
			ConversationID: c.ID,
			Payload:        string(payload),
			ActiveAt:       c.ActiveAt(),
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", ownerID).Delete(&models.CachedConversation{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func (s *GormStore) LoadConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	var rows []models.CachedConversation
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("active_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	convs := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		var c models.Conversation
		if err := json.Unmarshal([]byte(r.Payload), &c); err != nil {
			return nil, fmt.Errorf("decode cached conversation %s: %w", r.ConversationID, err)
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// SaveMessages upserts messages by id.
func (s *GormStore) SaveMessages(ctx context.Context, conversationID string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]models.CachedMessage, 0, len(msgs))
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		rows = append(rows, models.CachedMessage{
			MessageID:      m.ID,
			ConversationID: conversationID,
			Payload:        string(payload),
			CreatedAt:      m.CreatedAt,
		})
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&rows).Error
}

// LoadMessages returns up to limit newest messages, oldest first.
func (s *GormStore) LoadMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var rows []models.CachedMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, len(rows))
	for i, r := range rows {
		var m models.Message
		if err := json.Unmarshal([]byte(r.Payload), &m); err != nil {
			return nil, fmt.Errorf("decode cached message %s: %w", r.MessageID, err)
		}
		msgs[len(rows)-1-i] = m
	}
	return msgs, nil
}
