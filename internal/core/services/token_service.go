package services

import (
	"errors"
	"time"

	"liveroom/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// RoomTokenClaims are the transport credentials claims: which room the
// holder may join, as whom, and whether they may publish.
type RoomTokenClaims struct {
	Room       string `json:"room"`
	Name       string `json:"name"`
	CanPublish bool   `json:"can_publish"`
	jwt.RegisteredClaims
}

// TokenService mints and validates room access tokens shared with the
// media transport.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// IssueRoomToken mints a token binding identity to one room.
func (s *TokenService) IssueRoomToken(roomName string, identity domain.Identity, canPublish bool) (string, error) {
	now := time.Now()
	claims := &RoomTokenClaims{
		Room:       roomName,
		Name:       identity.Name,
		CanPublish: canPublish,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// APITokenClaims identify an API caller. Unlike room tokens these
// carry no room binding; authorization happens per operation.
type APITokenClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// IssueAPIToken mints a caller identity token for the HTTP API and the
// notification stream.
func (s *TokenService) IssueAPIToken(identity domain.Identity) (string, error) {
	now := time.Now()
	claims := &APITokenClaims{
		Name: identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateAPIToken verifies an API token and returns the caller
// identity embedded in it.
func (s *TokenService) ValidateAPIToken(tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &APITokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrExpiredToken
		}
		return domain.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*APITokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	return domain.Identity{ID: domain.UserID(claims.Subject), Name: claims.Name}, nil
}

// ValidateRoomToken parses and verifies a token.
func (s *TokenService) ValidateRoomToken(tokenString string) (*RoomTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*RoomTokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
