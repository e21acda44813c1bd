package websocket

import (
	"fortivus/controllers"
	"fortivus/middleware"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Register(r *gin.Engine, db *gorm.DB) {
	r.GET("/ws/chat", middleware.RateLimit(), controllers.ChatWS(db))
}
