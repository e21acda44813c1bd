package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role is the closed set of message senders. Nothing outside these two
// values is ever written; reads normalize legacy tags via ParseRole.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a stored sender tag onto the closed role set. Older rows
// may carry "bot" or "model" for the assistant side. Returns false for
// anything unrecognized so callers can log and skip the row.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, true
	case "assistant", "bot", "model":
		return RoleAssistant, true
	}
	return "", false
}

type Message struct {
	gorm.Model
	ConversationID uint      `gorm:"index;not null"`
	Role           string    `gorm:"size:20;not null"` // "user" or "assistant"
	Content        string    `gorm:"type:text;not null"`
	Timestamp      time.Time `gorm:"autoCreateTime"`
}
