package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fortivus/middleware"
	"fortivus/models"
	"fortivus/pkg/config"
	svc "fortivus/pkg/services"
	utils "fortivus/pkg/utills"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func avatarStorage() *svc.AvatarStorage {
	return svc.NewAvatarStorage(
		"./uploads/profiles",
		"http://127.0.0.1:"+config.Port+"/uploads/profiles",
		config.JWTSecret,
	)
}

func Profile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr, _ := c.Get(middleware.ContextUserIDKey)
		uidStr, _ := userIDStr.(string)
		uid, _ := strconv.Atoi(uidStr)

		var user models.User
		if err := db.First(&user, uid).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
			return
		}

		if c.Request.Method == http.MethodGet {
			c.JSON(http.StatusOK, gin.H{
				"id":            user.ID,
				"email":         user.Email,
				"username":      user.Username,
				"birth_year":    user.BirthYear,
				"training_goal": user.TrainingGoal,
				"image_url":     user.ProfileImageURL,
			})
			return
		}

		// PUT
		var body struct {
			Email        string  `json:"email"`
			Username     string  `json:"username"`
			Password     string  `json:"password"`
			BirthYear    *int    `json:"birth_year"`
			TrainingGoal *string `json:"training_goal"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}

		newEmail := strings.TrimSpace(strings.ToLower(body.Email))
		if newEmail == "" {
			newEmail = user.Email
		}
		newUsername := strings.TrimSpace(body.Username)
		if newUsername == "" {
			newUsername = user.Username
		}
		newPassword := body.Password

		// check email uniqueness
		if newEmail != user.Email {
			var t models.User
			if err := db.Where("email = ?", newEmail).First(&t).Error; err == nil {
				c.JSON(http.StatusConflict, gin.H{"msg": "Email already exists"})
				return
			}
		}
		// check username uniqueness
		if newUsername != user.Username {
			var t models.User
			if err := db.Where("username = ?", newUsername).First(&t).Error; err == nil {
				c.JSON(http.StatusConflict, gin.H{"msg": "Username already exists"})
				return
			}
		}

		user.Email = newEmail
		user.Username = newUsername
		if body.BirthYear != nil {
			if *body.BirthYear != 0 && (*body.BirthYear < 1900 || *body.BirthYear > time.Now().Year()) {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "Birth year is out of range"})
				return
			}
			user.BirthYear = *body.BirthYear
		}
		if body.TrainingGoal != nil {
			user.TrainingGoal = strings.TrimSpace(*body.TrainingGoal)
		}
		if newPassword != "" {
			if !utils.HasLetter(newPassword) || !utils.HasNumber(newPassword) {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "New password must contain at least one letter and one number"})
				return
			}
			if err := user.SetPassword(newPassword); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to set password"})
				return
			}
		}
		if err := db.Save(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to update profile"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"msg": "Profile updated successfully"})
	}
}

// AvatarUploadToken issues the short-lived token the client attaches to the
// multipart upload.
func AvatarUploadToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr, _ := c.Get(middleware.ContextUserIDKey)
		uidStr, _ := userIDStr.(string)
		uid, _ := strconv.Atoi(uidStr)

		c.JSON(http.StatusOK, avatarStorage().IssueUploadToken(uint(uid)))
	}
}

// UploadAvatar stores the member's profile photo and records its URL.
func UploadAvatar(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr, _ := c.Get(middleware.ContextUserIDKey)
		uidStr, _ := userIDStr.(string)
		uid, _ := strconv.Atoi(uidStr)

		var user models.User
		if err := db.First(&user, uid).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "file is required"})
			return
		}
		defer file.Close()

		token := c.PostForm("upload_token")
		saved, err := avatarStorage().SaveAvatar(uint(uid), file, header, token)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}

		user.ProfileImageURL = saved.PublicURL
		if err := db.Save(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to update profile"})
			return
		}

		c.JSON(http.StatusOK, saved)
	}
}
