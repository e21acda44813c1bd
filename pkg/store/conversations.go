package store

import (
	"context"
	"time"

	"fortivus/models"
	"fortivus/pkg/session"

	"gorm.io/gorm"
)

// Summary is one row of a member's conversation listing.
type Summary struct {
	ID           uint      `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"messages_count"`
}

// Conversations is the durable conversation store. The remote table is the
// cross-session source of truth; any in-memory listing on top of it is a
// cache.
type Conversations struct {
	db *gorm.DB
}

func NewConversations(db *gorm.DB) *Conversations {
	return &Conversations{db: db}
}

// List returns the member's conversations, last-updated first. A non-empty q
// filters on title or message content.
func (s *Conversations) List(ctx context.Context, userID uint, q string) ([]Summary, error) {
	dbq := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if q != "" {
		like := "%" + q + "%"
		sub := s.db.Model(&models.Message{}).Select("conversation_id").Where("content LIKE ?", like)
		dbq = dbq.Where("title LIKE ? OR id IN (?)", like, sub)
	}

	var convs []models.Conversation
	if err := dbq.Preload("Messages").Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, Summary{
			ID:           c.ID,
			Title:        c.Title,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(c.Messages),
		})
	}
	return out, nil
}

// Get loads one conversation owned by userID.
func (s *Conversations) Get(ctx context.Context, userID, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Conversations) Create(ctx context.Context, userID uint, title string) (session.Conversation, error) {
	if userID == 0 {
		return session.Conversation{}, session.ErrAuthRequired
	}
	conv := models.Conversation{UserID: userID, Title: title}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return session.Conversation{}, err
	}
	return session.Conversation{ID: conv.ID, Title: conv.Title}, nil
}

func (s *Conversations) Rename(ctx context.Context, id uint, title string) error {
	return s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).
		Update("title", title).Error
}

// Touch bumps the conversation's last-updated timestamp after a completed
// exchange.
func (s *Conversations) Touch(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// Delete removes the conversation and all of its messages.
func (s *Conversations) Delete(ctx context.Context, userID, id uint) error {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&conv).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&conv).Error
	})
}

// DeleteAll removes every conversation the member owns. Returns how many
// conversations went away.
func (s *Conversations) DeleteAll(ctx context.Context, userID uint) (int64, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("user_id = ?", userID).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id IN ?", ids).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.Conversation{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
