package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Email           string `gorm:"uniqueIndex;size:120;not null"`
	Username        string `gorm:"uniqueIndex;size:80;not null"`
	PasswordHash    string `gorm:"size:255;not null"`
	ProfileImageURL string `gorm:"size:500"`

	// Coaching profile. BirthYear feeds age-aware coaching context;
	// TrainingGoal is free text shown back in the profile.
	BirthYear    int    `gorm:"default:0"`
	TrainingGoal string `gorm:"size:200"`
}

func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}
