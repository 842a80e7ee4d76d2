// Package auth issues and verifies the HS256 access and refresh tokens that
// gate the websocket handshake and the REST surface.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatmesh/chatmesh/config"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrWrongTokenUse = errors.New("wrong token use")
)

// Principal is the authenticated identity carried through a session.
type Principal struct {
	UserID uuid.UUID
	Handle string
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

type Authenticator struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}
}

// Issue mints a fresh access/refresh pair for the principal.
func (a *Authenticator) Issue(p Principal) (*TokenPair, error) {
	access, err := a.sign(p, useAccess, a.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := a.sign(p, useRefresh, a.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(a.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess authenticates an access token and returns its principal.
func (a *Authenticator) VerifyAccess(token string) (*Principal, error) {
	return a.verify(token, useAccess)
}

// Refresh exchanges a valid refresh token for a new pair.
func (a *Authenticator) Refresh(token string) (*TokenPair, error) {
	p, err := a.verify(token, useRefresh)
	if err != nil {
		return nil, err
	}
	return a.Issue(*p)
}

func (a *Authenticator) sign(p Principal, use string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    p.UserID.String(),
		"handle": p.Handle,
		"use":    use,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) verify(tokenString, use string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if got, _ := claims["use"].(string); got != use {
		return nil, ErrWrongTokenUse
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: sub", ErrInvalidToken)
	}
	handle, _ := claims["handle"].(string)

	return &Principal{UserID: userID, Handle: handle}, nil
}

// HashPassword and CheckPassword wrap bcrypt at its default cost.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
