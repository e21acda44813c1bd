package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	uploadTokenTTL = 15 * time.Minute
	maxAvatarBytes = 5 * 1024 * 1024
)

// AvatarStorage keeps member profile photos on local disk, addressed per
// user, behind short-lived HMAC-signed upload tokens.
type AvatarStorage struct {
	basePath  string
	baseURL   string
	secretKey string
}

func NewAvatarStorage(basePath, baseURL, secretKey string) *AvatarStorage {
	os.MkdirAll(basePath, 0755)
	return &AvatarStorage{
		basePath:  basePath,
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
	}
}

type UploadToken struct {
	Token     string    `json:"upload_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SavedAvatar struct {
	Filename  string `json:"filename"`
	FilePath  string `json:"file_path"`
	PublicURL string `json:"public_url"`
	FileSize  int64  `json:"file_size"`
}

// IssueUploadToken signs a token the client presents with the multipart
// upload.
func (s *AvatarStorage) IssueUploadToken(userID uint) UploadToken {
	now := time.Now()
	return UploadToken{
		Token:     s.signToken(userID, now.Unix()),
		ExpiresAt: now.Add(uploadTokenTTL),
	}
}

// SaveAvatar validates the token and the file and writes it under the
// member's directory. Returns the public URL for the profile record.
func (s *AvatarStorage) SaveAvatar(userID uint, file multipart.File, header *multipart.FileHeader, token string) (*SavedAvatar, error) {
	if !s.validateToken(token, userID) {
		return nil, fmt.Errorf("invalid upload token")
	}
	if !isValidImageType(header.Filename) {
		return nil, fmt.Errorf("invalid file type. Only JPG, PNG, GIF, WEBP allowed")
	}
	if header.Size > maxAvatarBytes {
		return nil, fmt.Errorf("file too large. Maximum size is 5MB")
	}

	userDir := filepath.Join(s.basePath, strconv.Itoa(int(userID)))
	os.MkdirAll(userDir, 0755)

	filename := fmt.Sprintf("avatar_%d%s", time.Now().Unix(), filepath.Ext(header.Filename))
	dst, err := os.Create(filepath.Join(userDir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	relativePath := fmt.Sprintf("%d/%s", userID, filename)
	return &SavedAvatar{
		Filename:  filename,
		FilePath:  relativePath,
		PublicURL: fmt.Sprintf("%s/%s", s.baseURL, relativePath),
		FileSize:  header.Size,
	}, nil
}

// DeleteAvatar removes a previously stored photo; a missing file is not an
// error.
func (s *AvatarStorage) DeleteAvatar(imagePath string) error {
	if imagePath == "" {
		return nil
	}
	fullPath := filepath.Join(s.basePath, imagePath)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(fullPath)
}

func (s *AvatarStorage) signToken(userID uint, timestamp int64) string {
	message := fmt.Sprintf("%d:%d", userID, timestamp)
	h := hmac.New(sha256.New, []byte(s.secretKey))
	h.Write([]byte(message))
	return fmt.Sprintf("%d.%d.%s", userID, timestamp, hex.EncodeToString(h.Sum(nil)))
}

func (s *AvatarStorage) validateToken(token string, userID uint) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	tokenUserID, _ := strconv.ParseUint(parts[0], 10, 32)
	timestamp, _ := strconv.ParseInt(parts[1], 10, 64)
	if uint(tokenUserID) != userID {
		return false
	}
	if time.Since(time.Unix(timestamp, 0)) > uploadTokenTTL {
		return false
	}
	expected := strings.Split(s.signToken(userID, timestamp), ".")
	return hmac.Equal([]byte(parts[2]), []byte(expected[2]))
}

func isValidImageType(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
