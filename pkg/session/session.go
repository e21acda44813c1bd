package session

import (
	"context"
	"log"
	"strings"
	"time"

	"fortivus/models"
	"fortivus/pkg/gateway"

	"github.com/google/uuid"
)

// maxTitleRunes bounds the auto-derived conversation title.
const maxTitleRunes = 50

// Message is one entry of the session's local message list. LocalID is
// client-generated so the entry can be shown before the durable write lands;
// it is independent of the row id the store assigns.
type Message struct {
	LocalID   string      `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Conversation is the session's view of the active conversation.
type Conversation struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

type ConversationStore interface {
	Create(ctx context.Context, userID uint, title string) (Conversation, error)
	Rename(ctx context.Context, id uint, title string) error
	Touch(ctx context.Context, id uint) error
}

type MessageStore interface {
	Fetch(ctx context.Context, conversationID uint) ([]Message, error)
	Append(ctx context.Context, conversationID uint, role models.Role, content string) error
}

type Streamer interface {
	Stream(ctx context.Context, history []gateway.Message, onDelta func(string)) (string, error)
}

// Notifier delivers a dismissible user-visible message.
type Notifier func(message string)

// Session coordinates one member's coaching exchange: it ensures a
// conversation exists, keeps the optimistic local message list, drives the
// streaming reply into a single mutable placeholder, and unwinds cleanly on
// failure. A Session is confined to one request or connection; it is not
// safe for concurrent use.
type Session struct {
	userID uint
	convs  ConversationStore
	msgs   MessageStore
	coach  Streamer
	notify Notifier

	conv      *Conversation
	messages  []Message
	streaming bool

	// OnUserSaved fires once the user turn is accepted and the conversation
	// exists, before any delta arrives.
	OnUserSaved func(Conversation)
}

func New(userID uint, convs ConversationStore, msgs MessageStore, coach Streamer, notify Notifier) *Session {
	return &Session{
		userID: userID,
		convs:  convs,
		msgs:   msgs,
		coach:  coach,
		notify: notify,
	}
}

// Attach selects an existing conversation and loads its history. Ownership
// must already be checked by the caller.
func (s *Session) Attach(ctx context.Context, conv Conversation) error {
	msgs, err := s.msgs.Fetch(ctx, conv.ID)
	if err != nil {
		return &RemoteError{Op: "fetch messages", Err: err}
	}
	s.conv = &conv
	s.messages = msgs
	return nil
}

// Detach clears the active conversation if it matches id, e.g. after a
// delete elsewhere.
func (s *Session) Detach(id uint) {
	if s.conv != nil && s.conv.ID == id {
		s.conv = nil
		s.messages = nil
	}
}

func (s *Session) Conversation() *Conversation {
	if s.conv == nil {
		return nil
	}
	c := *s.conv
	return &c
}

func (s *Session) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Streaming() bool { return s.streaming }

// SendMessage runs one full exchange: persist the user turn, stream the
// coach's reply into a placeholder, persist the final reply. Empty input and
// sends during an active stream are no-ops. All failures are absorbed here:
// the session always ends up idle and resumable, with a notification for
// anything the member should know about.
func (s *Session) SendMessage(ctx context.Context, text string, onDelta func(string)) error {
	text = strings.TrimSpace(text)
	if text == "" || s.streaming {
		return nil
	}
	if s.userID == 0 {
		return ErrAuthRequired
	}

	first := len(s.messages) == 0
	if s.conv == nil {
		conv, err := s.convs.Create(ctx, s.userID, TitleFromMessage(text))
		if err != nil {
			log.Printf("[session] create conversation failed: %v", err)
			rerr := &RemoteError{Op: "create conversation", Err: err}
			s.notifyUser(userFacing(rerr))
			return rerr
		}
		s.conv = &conv
	} else if first {
		// explicitly created conversation getting its first message; the
		// title is auto-assigned at most once
		title := TitleFromMessage(text)
		if err := s.convs.Rename(ctx, s.conv.ID, title); err != nil {
			log.Printf("[session] rename conversation %d failed: %v", s.conv.ID, err)
		} else {
			s.conv.Title = title
		}
	}

	s.messages = append(s.messages, Message{
		LocalID:   uuid.NewString(),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	// durable write is best-effort relative to the optimistic list
	if err := s.msgs.Append(ctx, s.conv.ID, models.RoleUser, text); err != nil {
		log.Printf("[session] persist user message failed: %v", err)
	}
	if s.OnUserSaved != nil {
		s.OnUserSaved(*s.conv)
	}

	s.streaming = true
	defer func() { s.streaming = false }()

	history := make([]gateway.Message, 0, len(s.messages))
	for _, m := range s.messages {
		history = append(history, gateway.Message{Role: string(m.Role), Content: m.Content})
	}

	idx := len(s.messages)
	s.messages = append(s.messages, Message{
		LocalID:   uuid.NewString(),
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
	})

	full, err := s.coach.Stream(ctx, history, func(delta string) {
		s.messages[idx].Content += delta
		if onDelta != nil {
			onDelta(delta)
		}
	})
	if err != nil {
		// drop the placeholder entirely; a broken partial reply is never
		// shown as final and never persisted
		s.messages = s.messages[:idx]
		log.Printf("[session] stream failed: %v", err)
		s.notifyUser(userFacing(err))
		return err
	}

	s.messages[idx].Content = full
	s.messages[idx].CreatedAt = time.Now()

	if err := s.msgs.Append(ctx, s.conv.ID, models.RoleAssistant, full); err != nil {
		log.Printf("[session] persist coach reply failed: %v", err)
	}
	if err := s.convs.Touch(ctx, s.conv.ID); err != nil {
		log.Printf("[session] touch conversation %d failed: %v", s.conv.ID, err)
	}
	return nil
}

func (s *Session) notifyUser(msg string) {
	if s.notify != nil {
		s.notify(msg)
	}
}

// TitleFromMessage derives a conversation title: the first 50 characters of
// the message, with an ellipsis when truncated.
func TitleFromMessage(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= maxTitleRunes {
		return string(r)
	}
	return string(r[:maxTitleRunes]) + "…"
}
