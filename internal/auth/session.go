package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/Jitishkumar/pl/internal/logger"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	// Initialized from the environment or explicitly via InitSessionKey
	// after .env loading
	sessionKey = []byte(os.Getenv("JWT_SECRET"))
	log        = logger.New("auth")
)

// InitSessionKey initializes the shared HMAC key used to verify session
// tokens issued by the backend
func InitSessionKey(key []byte) {
	sessionKey = key
}

// SessionClaims represents the claims in a backend-issued session token
type SessionClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseSession validates a session token and returns its claims. The engine
// never issues tokens; it only recovers the identity it is acting as.
func ParseSession(tokenString string) (*SessionClaims, error) {
	if len(tokenString) > 10 {
		log.Debug("Parsing session token: %s...", tokenString[:10])
	} else if tokenString == "" {
		log.Warn("Parsing empty session token")
	}

	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Error("Unexpected signing method: %v", token.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return sessionKey, nil
	})

	if err != nil {
		log.Error("Session token validation error: %v", err)
		return nil, err
	}

	if !token.Valid {
		log.Warn("Session token is invalid")
		return nil, ErrInvalidToken
	}

	log.Debug("Session token validated for user: %s", claims.Username)
	return claims, nil
}

// LocalUserID extracts the local user id from session claims
func LocalUserID(claims *SessionClaims) (uuid.UUID, error) {
	if claims == nil {
		return uuid.Nil, errors.New("claims cannot be nil")
	}
	return uuid.Parse(claims.UserID)
}
