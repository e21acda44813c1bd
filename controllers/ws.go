package controllers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fortivus/middleware"
	"fortivus/pkg/cache"
	"fortivus/pkg/session"
	"fortivus/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

type wsStartPayload struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID *uint  `json:"conversation_id"`
}

// ChatWS handles WebSocket chat streaming.
// Client protocol (JSON messages):
//
//	-> {type: "start", message: string, conversation_id?: number}
//	-> {type: "stop"} (optional, aborts the in-flight reply)
//	<- {type: "user_saved", conversation_id: number}
//	<- {type: "delta", data: string}
//	<- {type: "done", ok: true, stopped?: true}
//	<- {type: "error", error: string}
func ChatWS(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Authenticate via ?token=JWT
		tokenStr := strings.TrimSpace(c.Query("token"))
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "missing token query"})
			return
		}
		userIDStr, _, err := middleware.ValidateToken(tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
			return
		}
		uid64, _ := strconv.ParseUint(userIDStr, 10, 64)
		uid := uint(uid64)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] upgrade error: %v", err)
			return
		}
		defer conn.Close()

		conn.SetReadLimit(1 << 20) // 1MB
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		})

		// One exchange per connection keeps the protocol simple.
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[ws] read message error: %v", err)
			return
		}
		var start wsStartPayload
		if err := json.Unmarshal(msgBytes, &start); err != nil || strings.ToLower(start.Type) != "start" || strings.TrimSpace(start.Message) == "" {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "invalid start payload"})
			return
		}

		if !middleware.DuplicateGuard(userIDStr, start.Message) {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "duplicate message, please wait a moment"})
			return
		}
		// a failed exchange must be retryable with the same text right away
		sent := false
		defer func() {
			if !sent {
				middleware.ClearDuplicate(userIDStr)
			}
		}()
		release := middleware.AcquireUserSlot(userIDStr)
		defer release()

		convs := store.NewConversations(db)
		msgs := store.NewMessages(db)

		sess := session.New(uid, convs, msgs, coachStreamer(), func(m string) {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": m})
		})
		sess.OnUserSaved = func(conv session.Conversation) {
			_ = conn.WriteJSON(gin.H{"type": "user_saved", "conversation_id": conv.ID})
		}

		parentCtx, cancelTimeout := streamCtx(c)
		ctx, cancel := context.WithCancel(parentCtx)
		defer func() {
			cancel()
			cancelTimeout()
		}()

		if start.ConversationID != nil {
			conv, err := convs.Get(ctx, uid, *start.ConversationID)
			if err != nil {
				_ = conn.WriteJSON(gin.H{"type": "error", "error": "conversation not found"})
				return
			}
			if err := sess.Attach(ctx, session.Conversation{ID: conv.ID, Title: conv.Title}); err != nil {
				_ = conn.WriteJSON(gin.H{"type": "error", "error": "failed to load messages"})
				return
			}
		}

		// Reader goroutine listens for {type:"stop"} and cancels the stream.
		stopCh := make(chan struct{})
		go func() {
			for {
				if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
					return
				}
				mt, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
					continue
				}
				var obj struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(msg, &obj)
				if strings.ToLower(strings.TrimSpace(obj.Type)) == "stop" {
					select {
					case <-stopCh:
					default:
						close(stopCh)
					}
					cancel()
					return
				}
			}
		}()

		isStopped := func() bool {
			select {
			case <-stopCh:
				return true
			default:
				return false
			}
		}

		err = sess.SendMessage(ctx, start.Message, func(delta string) {
			if isStopped() {
				return
			}
			_ = conn.WriteJSON(gin.H{"type": "delta", "data": delta})
		})
		if err != nil {
			// a stop cancels the context mid-stream; that shows up here as a
			// stream failure and the partial reply has already been dropped
			if isStopped() {
				_ = conn.WriteJSON(gin.H{"type": "done", "ok": true, "stopped": true})
			}
			return
		}

		sent = true
		cache.Default().InvalidateListing(uid)
		_ = conn.WriteJSON(gin.H{"type": "done", "ok": true})
	}
}
