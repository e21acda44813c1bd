package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"fortivus/models"
	"fortivus/pkg/gateway"
)

type appendCall struct {
	convID  uint
	role    models.Role
	content string
}

type fakeConvStore struct {
	ops       *[]string
	nextID    uint
	createErr error
	created   []string // titles
	renamed   []string
	touched   int
}

func (f *fakeConvStore) Create(ctx context.Context, userID uint, title string) (Conversation, error) {
	if f.createErr != nil {
		return Conversation{}, f.createErr
	}
	f.nextID++
	f.created = append(f.created, title)
	if f.ops != nil {
		*f.ops = append(*f.ops, "create")
	}
	return Conversation{ID: f.nextID, Title: title}, nil
}

func (f *fakeConvStore) Rename(ctx context.Context, id uint, title string) error {
	f.renamed = append(f.renamed, title)
	return nil
}

func (f *fakeConvStore) Touch(ctx context.Context, id uint) error {
	f.touched++
	return nil
}

type fakeMsgStore struct {
	ops     *[]string
	history []Message
	appends []appendCall
}

func (f *fakeMsgStore) Fetch(ctx context.Context, conversationID uint) ([]Message, error) {
	return f.history, nil
}

func (f *fakeMsgStore) Append(ctx context.Context, conversationID uint, role models.Role, content string) error {
	f.appends = append(f.appends, appendCall{convID: conversationID, role: role, content: content})
	if f.ops != nil {
		*f.ops = append(*f.ops, "append:"+string(role))
	}
	return nil
}

type fakeStreamer struct {
	deltas []string
	err    error // returned after deltas, if set
}

func (f *fakeStreamer) Stream(ctx context.Context, history []gateway.Message, onDelta func(string)) (string, error) {
	var b strings.Builder
	for _, d := range f.deltas {
		b.WriteString(d)
		if onDelta != nil {
			onDelta(d)
		}
	}
	if f.err != nil {
		return b.String(), f.err
	}
	return b.String(), nil
}

func newTestSession(convs *fakeConvStore, msgs *fakeMsgStore, coach Streamer, notes *[]string) *Session {
	notify := func(m string) {
		if notes != nil {
			*notes = append(*notes, m)
		}
	}
	return New(7, convs, msgs, coach, notify)
}

func TestSendMessageWhitespaceIsNoOp(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	s := newTestSession(convs, msgs, &fakeStreamer{deltas: []string{"x"}}, nil)

	for _, input := range []string{"", "   ", "\n\t  \n"} {
		if err := s.SendMessage(context.Background(), input, nil); err != nil {
			t.Fatalf("input %q: expected nil, got %v", input, err)
		}
	}
	if len(convs.created) != 0 || len(msgs.appends) != 0 || len(s.Messages()) != 0 {
		t.Fatalf("expected no state change, got created=%v appends=%v msgs=%d",
			convs.created, msgs.appends, len(s.Messages()))
	}
}

func TestFirstSendCreatesConversationBeforeAppend(t *testing.T) {
	var ops []string
	convs := &fakeConvStore{ops: &ops}
	msgs := &fakeMsgStore{ops: &ops}
	s := newTestSession(convs, msgs, &fakeStreamer{deltas: []string{"ok"}}, nil)

	if err := s.SendMessage(context.Background(), "How much protein do I need?", nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(convs.created) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(convs.created))
	}
	if len(ops) < 2 || ops[0] != "create" || ops[1] != "append:user" {
		t.Fatalf("expected create before user append, got %v", ops)
	}
	if convs.created[0] != "How much protein do I need?" {
		t.Fatalf("short input must be the title verbatim, got %q", convs.created[0])
	}
}

func TestTitleTruncationAtFiftyRunes(t *testing.T) {
	long := strings.Repeat("a", 54)
	if got := TitleFromMessage(long); got != strings.Repeat("a", 50)+"…" {
		t.Fatalf("unexpected truncated title %q", got)
	}
	exact := strings.Repeat("b", 50)
	if got := TitleFromMessage(exact); got != exact {
		t.Fatalf("50-rune input must not be truncated, got %q", got)
	}
	// rune-safe, not byte-safe
	wide := strings.Repeat("ä", 51)
	if got := TitleFromMessage(wide); got != strings.Repeat("ä", 50)+"…" {
		t.Fatalf("unexpected multibyte truncation %q", got)
	}
}

func TestTitleAssignedAtMostOnce(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	s := newTestSession(convs, msgs, &fakeStreamer{deltas: []string{"ok"}}, nil)

	ctx := context.Background()
	if err := s.SendMessage(ctx, "first question", nil); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := s.SendMessage(ctx, "a totally different second question", nil); err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if len(convs.created) != 1 || len(convs.renamed) != 0 {
		t.Fatalf("title must be set once: created=%v renamed=%v", convs.created, convs.renamed)
	}
	if s.Conversation().Title != "first question" {
		t.Fatalf("title changed to %q", s.Conversation().Title)
	}
}

func TestFirstMessageTitlesPreCreatedConversation(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	s := newTestSession(convs, msgs, &fakeStreamer{deltas: []string{"ok"}}, nil)

	if err := s.Attach(context.Background(), Conversation{ID: 42, Title: "New conversation"}); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := s.SendMessage(context.Background(), "deadlift form check", nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(convs.renamed) != 1 || convs.renamed[0] != "deadlift form check" {
		t.Fatalf("expected one auto-title, got %v", convs.renamed)
	}
	if len(convs.created) != 0 {
		t.Fatalf("must not create a second conversation")
	}
}

func TestStreamFailureDiscardsPlaceholder(t *testing.T) {
	var notes []string
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	coach := &fakeStreamer{
		deltas: []string{"this will ", "be thrown away"},
		err:    &gateway.StreamError{Err: errors.New("connection reset")},
	}
	s := newTestSession(convs, msgs, coach, &notes)

	err := s.SendMessage(context.Background(), "hello coach", nil)
	if err == nil {
		t.Fatal("expected stream error to propagate")
	}
	list := s.Messages()
	if len(list) != 1 || list[0].Role != models.RoleUser {
		t.Fatalf("placeholder must be fully removed, got %+v", list)
	}
	for _, a := range msgs.appends {
		if a.role == models.RoleAssistant {
			t.Fatalf("partial reply must never be persisted: %+v", a)
		}
	}
	if convs.touched != 0 {
		t.Fatal("failed exchange must not bump conversation recency")
	}
	if len(notes) != 1 {
		t.Fatalf("expected one user notification, got %v", notes)
	}
	if s.Streaming() {
		t.Fatal("streaming flag must be cleared on failure")
	}
}

// reentrantStreamer calls back into the session mid-stream, like a second
// submit arriving while a reply is still coming in.
type reentrantStreamer struct {
	s *Session
}

func (r *reentrantStreamer) Stream(ctx context.Context, history []gateway.Message, onDelta func(string)) (string, error) {
	onDelta("part one")
	if err := r.s.SendMessage(ctx, "second send during stream", nil); err != nil {
		return "", fmt.Errorf("nested send must be a no-op, got %w", err)
	}
	onDelta(" part two")
	return "part one part two", nil
}

func TestSendRejectedWhileStreaming(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	s := newTestSession(convs, msgs, nil, nil)
	s.coach = &reentrantStreamer{s: s}

	if err := s.SendMessage(context.Background(), "first", nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	list := s.Messages()
	if len(list) != 2 {
		t.Fatalf("nested send must not add messages, got %d", len(list))
	}
	if list[1].Content != "part one part two" {
		t.Fatalf("placeholder content altered by nested send: %q", list[1].Content)
	}
	if len(convs.created) != 1 {
		t.Fatalf("nested send must not create a conversation, got %d", len(convs.created))
	}
}

func TestEndToEndExchange(t *testing.T) {
	question := "What's the best workout split for building muscle after 40?"
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	coach := &fakeStreamer{deltas: []string{"Great", ",", " question"}}
	s := newTestSession(convs, msgs, coach, nil)

	var streamed []string
	if err := s.SendMessage(context.Background(), question, func(d string) {
		streamed = append(streamed, d)
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	wantTitle := TitleFromMessage(question)
	if !strings.HasSuffix(wantTitle, "…") {
		t.Fatalf("test question supposed to exceed the title limit, got %q", wantTitle)
	}
	if len(convs.created) != 1 || convs.created[0] != wantTitle {
		t.Fatalf("unexpected conversation titles %v", convs.created)
	}

	list := s.Messages()
	if len(list) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(list))
	}
	if list[1].Role != models.RoleAssistant || list[1].Content != "Great, question" {
		t.Fatalf("unexpected final reply %+v", list[1])
	}
	if strings.Join(streamed, "") != "Great, question" {
		t.Fatalf("deltas forwarded out of order: %v", streamed)
	}

	var assistantAppends []appendCall
	for _, a := range msgs.appends {
		if a.role == models.RoleAssistant {
			assistantAppends = append(assistantAppends, a)
		}
	}
	if len(assistantAppends) != 1 || assistantAppends[0].content != "Great, question" {
		t.Fatalf("final reply must be persisted exactly once, got %+v", assistantAppends)
	}
	if convs.touched != 1 {
		t.Fatalf("conversation recency must be bumped once, got %d", convs.touched)
	}
}

func TestRateLimitBeforeAnyDelta(t *testing.T) {
	var notes []string
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	coach := &fakeStreamer{err: &gateway.GatewayError{Kind: gateway.KindRateLimited, Status: 429}}
	s := newTestSession(convs, msgs, coach, &notes)

	err := s.SendMessage(context.Background(), "quick one", nil)
	var ge *gateway.GatewayError
	if !errors.As(err, &ge) || ge.Kind != gateway.KindRateLimited {
		t.Fatalf("expected rate-limit gateway error, got %v", err)
	}
	for _, m := range s.Messages() {
		if m.Role == models.RoleAssistant {
			t.Fatalf("no assistant placeholder may remain: %+v", m)
		}
	}
	if s.Streaming() {
		t.Fatal("session must return to idle")
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "try again in a moment") {
		t.Fatalf("expected rate-limit wording, got %v", notes)
	}
}

func TestCreateFailureAbortsWholeSend(t *testing.T) {
	var notes []string
	convs := &fakeConvStore{createErr: errors.New("insert failed")}
	msgs := &fakeMsgStore{}
	s := newTestSession(convs, msgs, &fakeStreamer{deltas: []string{"x"}}, &notes)

	err := s.SendMessage(context.Background(), "hello", nil)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if len(s.Messages()) != 0 || len(msgs.appends) != 0 || s.Conversation() != nil {
		t.Fatal("aborted send must leave no partial state")
	}
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %v", notes)
	}
}

func TestSendRequiresUser(t *testing.T) {
	s := New(0, &fakeConvStore{}, &fakeMsgStore{}, &fakeStreamer{}, nil)
	if err := s.SendMessage(context.Background(), "hi", nil); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestDetachClearsMatchingConversation(t *testing.T) {
	msgs := &fakeMsgStore{history: []Message{{Role: models.RoleUser, Content: "old"}}}
	s := newTestSession(&fakeConvStore{}, msgs, &fakeStreamer{}, nil)
	if err := s.Attach(context.Background(), Conversation{ID: 3, Title: "t"}); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	s.Detach(4)
	if s.Conversation() == nil {
		t.Fatal("detach of another conversation must not clear the session")
	}
	s.Detach(3)
	if s.Conversation() != nil || len(s.Messages()) != 0 {
		t.Fatal("detach must clear the active conversation and history")
	}
}
