// Package auth issues and validates session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const DefaultExpiration = 7 * 24 * time.Hour

type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

var (
	mu         sync.RWMutex
	secret     []byte
	expiration = DefaultExpiration
	now        = time.Now
)

// InitJWT sets the signing secret and token lifetime. A non-positive ttl keeps
// the default.
func InitJWT(key string, ttl time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	secret = []byte(key)
	if ttl > 0 {
		expiration = ttl
	}
}

func signingKey() ([]byte, time.Duration, error) {
	mu.RLock()
	defer mu.RUnlock()

	if len(secret) == 0 {
		return nil, 0, errors.New("jwt secret not initialized")
	}
	return secret, expiration, nil
}

// GenerateJWT issues an HS256 token bound to userID and sessionID.
func GenerateJWT(userID, sessionID string) (string, time.Time, error) {
	key, ttl, err := signingKey()
	if err != nil {
		return "", time.Time{}, err
	}

	issuedAt := now()
	expiresAt := issuedAt.Add(ttl)
	claims := Claims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateJWT parses tokenString and returns its claims. Any failure is
// reported as ErrInvalidToken.
func ValidateJWT(tokenString string) (*Claims, error) {
	key, _, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshJWT validates tokenString and issues a fresh token for the same
// session.
func RefreshJWT(tokenString string) (string, time.Time, error) {
	claims, err := ValidateJWT(tokenString)
	if err != nil {
		return "", time.Time{}, err
	}
	return GenerateJWT(claims.UserID, claims.SessionID)
}
