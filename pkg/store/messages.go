package store

import (
	"context"
	"log"
	"strconv"
	"time"

	"fortivus/models"
	"fortivus/pkg/session"

	"gorm.io/gorm"
)

// Messages is the durable message store for one conversation's history.
type Messages struct {
	db *gorm.DB
}

func NewMessages(db *gorm.DB) *Messages {
	return &Messages{db: db}
}

// Fetch returns the conversation's messages in creation order. Rows whose
// role tag falls outside the closed {user, assistant} set are logged and
// skipped.
func (s *Messages) Fetch(ctx context.Context, conversationID uint) ([]session.Message, error) {
	var rows []models.Message
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]session.Message, 0, len(rows))
	for _, m := range rows {
		role, ok := models.ParseRole(m.Role)
		if !ok {
			log.Printf("[store] skipping message %d with unknown role %q", m.ID, m.Role)
			continue
		}
		out = append(out, session.Message{
			LocalID:   strconv.FormatUint(uint64(m.ID), 10),
			Role:      role,
			Content:   m.Content,
			CreatedAt: m.Timestamp,
		})
	}
	return out, nil
}

// Append durably inserts one message row; it returns once the write is
// acknowledged.
func (s *Messages) Append(ctx context.Context, conversationID uint, role models.Role, content string) error {
	msg := models.Message{
		ConversationID: conversationID,
		Role:           string(role),
		Content:        content,
		Timestamp:      time.Now(),
	}
	return s.db.WithContext(ctx).Create(&msg).Error
}
