package routes

import (
	"net/http"

	"fortivus/middleware"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	authRoutes "fortivus/routes/auth"
	convRoutes "fortivus/routes/conversation"
	profileRoutes "fortivus/routes/profile"
	uploadsRoutes "fortivus/routes/uploads"
	websocketRoutes "fortivus/routes/websocket"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "Fortivus coaching backend running"})
	})

	uploadsRoutes.Register(r, db)
	websocketRoutes.Register(r, db)
	authRoutes.RegisterPublic(r, db)

	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware())
	authRoutes.RegisterProtected(protected, db)
	profileRoutes.Register(protected, db)
	convRoutes.Register(protected, db)
}
