package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fortivus/middleware"
	"fortivus/pkg/cache"
	"fortivus/pkg/config"
	"fortivus/pkg/gateway"
	"fortivus/pkg/session"
	"fortivus/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func currentUserID(c *gin.Context) uint {
	userIDStr, _ := c.Get(middleware.ContextUserIDKey)
	uidStr, _ := userIDStr.(string)
	uid, _ := strconv.Atoi(uidStr)
	return uint(uid)
}

// coachStreamer picks the real gateway when configured, otherwise the local
// fallback so the chat flow keeps working in dev and demos.
func coachStreamer() session.Streamer {
	if config.IsGatewayEnabled && config.GatewayAPIKey != "" {
		return gateway.NewClient(config.GatewayBaseURL, config.GatewayAPIKey, config.GatewayModel)
	}
	return gateway.LocalCoach{}
}

// streamCtx bounds one exchange by STREAM_TIMEOUT_SECONDS; 0 disables the
// deadline and the exchange runs until the client goes away.
func streamCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if config.StreamTimeoutSeconds <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), time.Duration(config.StreamTimeoutSeconds)*time.Second)
}

// statusFor maps a send failure to the response status. Notices carry the
// member-facing wording; the status tells the client how to retry.
func statusFor(err error) int {
	var gerr *gateway.GatewayError
	var serr *gateway.StreamError
	switch {
	case errors.Is(err, session.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.As(err, &gerr):
		switch gerr.Kind {
		case gateway.KindRateLimited:
			return http.StatusTooManyRequests
		case gateway.KindQuotaExhausted:
			return http.StatusPaymentRequired
		}
		return http.StatusBadGateway
	case errors.As(err, &serr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// SendMessage runs one coaching exchange over plain JSON: user turn in,
// complete coach reply out.
func SendMessage(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := currentUserID(c)

		var body struct {
			Message        string `json:"message"`
			ConversationID *uint  `json:"conversation_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}

		uidKey := strconv.Itoa(int(uid))
		if !middleware.DuplicateGuard(uidKey, body.Message) {
			c.JSON(http.StatusTooManyRequests, gin.H{"msg": "duplicate message, please wait a moment"})
			return
		}
		// a failed exchange must be retryable with the same text right away
		sent := false
		defer func() {
			if !sent {
				middleware.ClearDuplicate(uidKey)
			}
		}()
		release := middleware.AcquireUserSlot(uidKey)
		defer release()

		convs := store.NewConversations(db)
		msgs := store.NewMessages(db)

		var notice string
		sess := session.New(uid, convs, msgs, coachStreamer(), func(m string) { notice = m })

		ctx, cancel := streamCtx(c)
		defer cancel()

		if body.ConversationID != nil {
			conv, err := convs.Get(ctx, uid, *body.ConversationID)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
				return
			}
			if err := sess.Attach(ctx, session.Conversation{ID: conv.ID, Title: conv.Title}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to load messages"})
				return
			}
		}

		if err := sess.SendMessage(ctx, body.Message, nil); err != nil {
			if notice == "" {
				notice = "The coach could not answer. Please try again."
			}
			c.JSON(statusFor(err), gin.H{"msg": notice})
			return
		}

		sent = true
		cache.Default().InvalidateListing(uid)

		c.JSON(http.StatusCreated, gin.H{
			"conversation_id": sess.Conversation().ID,
			"title":           sess.Conversation().Title,
			"messages":        sess.Messages(),
		})
	}
}

// SendMessageStream streams the coach reply using SSE.
// Client will receive:
// - event: user_saved (once) with conversation_id
// - event: delta (multiple) with partial text chunks
// - event: error (at most once) with a member-facing message
// - event: done (once) when finished
func SendMessageStream(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := currentUserID(c)

		var body struct {
			Message        string `json:"message"`
			ConversationID *uint  `json:"conversation_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}

		uidKey := strconv.Itoa(int(uid))
		if !middleware.DuplicateGuard(uidKey, body.Message) {
			c.JSON(http.StatusTooManyRequests, gin.H{"msg": "duplicate message, please wait a moment"})
			return
		}
		// a failed exchange must be retryable with the same text right away
		sent := false
		defer func() {
			if !sent {
				middleware.ClearDuplicate(uidKey)
			}
		}()
		release := middleware.AcquireUserSlot(uidKey)
		defer release()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no") // nginx buffering off

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.String(http.StatusInternalServerError, "streaming unsupported")
			return
		}

		emit := func(event, data string) {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()
		}

		convs := store.NewConversations(db)
		msgs := store.NewMessages(db)

		sess := session.New(uid, convs, msgs, coachStreamer(), func(m string) {
			emit("error", fmt.Sprintf("{\"msg\": %q}", m))
		})
		sess.OnUserSaved = func(conv session.Conversation) {
			emit("user_saved", fmt.Sprintf("{\"conversation_id\": %d}", conv.ID))
		}

		ctx, cancel := streamCtx(c)
		defer cancel()

		if body.ConversationID != nil {
			conv, err := convs.Get(ctx, uid, *body.ConversationID)
			if err != nil {
				c.Status(http.StatusNotFound)
				return
			}
			if err := sess.Attach(ctx, session.Conversation{ID: conv.ID, Title: conv.Title}); err != nil {
				c.Status(http.StatusInternalServerError)
				return
			}
		}

		err := sess.SendMessage(ctx, body.Message, func(delta string) {
			emit("delta", strings.ReplaceAll(delta, "\n", "\\n"))
		})
		if err != nil {
			// the notifier already produced an error frame; nothing more to say
			return
		}

		sent = true
		cache.Default().InvalidateListing(uid)
		emit("done", fmt.Sprintf("{\"ok\": true, \"conversation_id\": %d}", sess.Conversation().ID))
	}
}

func ListConversations(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := currentUserID(c)
		q := strings.TrimSpace(c.Query("q"))

		key := cache.ListKey(uid, q)
		if v, ok := cache.Default().Get(key); ok {
			if list, ok := v.([]store.Summary); ok {
				c.JSON(http.StatusOK, list)
				return
			}
		}

		list, err := store.NewConversations(db).List(c.Request.Context(), uid, q)
		if err != nil {
			log.Printf("[store] list conversations for user %d failed: %v", uid, err)
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		cache.Default().Set(key, list, time.Duration(config.ListCacheTTLSeconds)*time.Second)
		c.JSON(http.StatusOK, list)
	}
}

func GetConversation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := currentUserID(c)
		cid, _ := strconv.Atoi(c.Param("conversation_id"))

		conv, err := store.NewConversations(db).Get(c.Request.Context(), uid, uint(cid))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
			return
		}
		messages, err := store.NewMessages(db).Fetch(c.Request.Context(), conv.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to load messages"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conv.ID,
			"title":           conv.Title,
			"messages":        messages,
		})
	}
}

func DeleteConversation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := currentUserID(c)
		cid, _ := strconv.Atoi(c.Param("conversation_id"))

		if err := store.NewConversations(db).Delete(c.Request.Context(), uid, uint(cid)); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to delete conversation"})
			return
		}

		cache.Default().InvalidateListing(uid)
		c.JSON(http.StatusOK, gin.H{"msg": "conversation deleted"})
	}
}

func DeleteAllConversations(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := currentUserID(c)

		count, err := store.NewConversations(db).DeleteAll(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to delete conversations"})
			return
		}

		cache.Default().InvalidateListing(uid)
		c.JSON(http.StatusOK, gin.H{"msg": "conversations deleted", "deleted": count})
	}
}
