package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"fortivus/pkg/config"
	tokenstore "fortivus/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserIDKey = "current_user_id"
	ContextJTIKey    = "current_jti"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing authorization header"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid authorization header"})
			return
		}

		userIDStr, jti, err := ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
			return
		}

		c.Set(ContextUserIDKey, userIDStr)
		c.Set(ContextJTIKey, jti)
		c.Next()
	}
}

// ValidateToken parses and checks one bearer token and returns the subject
// user id (as string) and the jti. Shared by the HTTP middleware and the
// WebSocket handshake, which carries the token in a query parameter.
func ValidateToken(tokenStr string) (userID string, jti string, err error) {
	token, perr := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		// only accept HMAC signing
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(config.JWTSecret), nil
	})
	if perr != nil || !token.Valid {
		return "", "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errInvalidClaims
	}

	jtiVal, _ := claims["jti"].(string)
	if tokenstore.IsRevoked(jtiVal) {
		return "", "", errRevokedToken
	}

	var userIDStr string
	if sub, ok := claims["sub"].(string); ok {
		userIDStr = sub
	} else if subf, ok := claims["sub"].(float64); ok {
		// jwt lib may parse numeric as float64
		userIDStr = strconv.Itoa(int(subf))
	}
	if userIDStr == "" {
		return "", "", errInvalidSubject
	}
	return userIDStr, jtiVal, nil
}

var (
	errInvalidToken   = tokenError("invalid token")
	errInvalidClaims  = tokenError("invalid token claims")
	errRevokedToken   = tokenError("Token has been revoked (logout)")
	errInvalidSubject = tokenError("invalid subject in token")
)

type tokenError string

func (e tokenError) Error() string { return string(e) }
