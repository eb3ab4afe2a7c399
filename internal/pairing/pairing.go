// Package pairing issues and validates the token a satellite presents
// when attaching to the shared broker. The controller signs a
// device-scoped HS256 JWT from the pairing secret; both halves of the
// pair hold the secret, nothing else does.
package pairing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or signed
	// with the wrong secret.
	ErrInvalidToken = errors.New("pairing: invalid token")

	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("pairing: token expired")

	// ErrWrongPair is returned when the token belongs to another pair.
	ErrWrongPair = errors.New("pairing: token for different pair")
)

// DefaultExpiry is how long an issued pairing token stays valid.
const DefaultExpiry = 30 * 24 * time.Hour

// Claims identify the paired device.
type Claims struct {
	PairID   string `json:"pair_id"`
	DeviceID string `json:"device_id"`
	Role     string `json:"role"` // "controller" or "satellite"
	jwt.RegisteredClaims
}

// Issue signs a token binding the device to the pair.
func Issue(secret []byte, pairID, deviceID, role string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	now := time.Now()
	claims := Claims{
		PairID:   pairID,
		DeviceID: deviceID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("pairing: sign token: %w", err)
	}
	return signed, nil
}

// ValidateHeader validates a token carried in an Authorization header.
// The dialing side sends "Bearer <token>"; a bare token is accepted too.
func ValidateHeader(header string, secret []byte, pairID string) (*Claims, error) {
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}
	return Validate(token, secret, pairID)
}

// Validate parses the token and checks it belongs to the expected pair.
func Validate(tokenStr string, secret []byte, pairID string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.PairID != pairID {
		return nil, ErrWrongPair
	}
	return claims, nil
}
