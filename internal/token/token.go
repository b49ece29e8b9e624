// Package token issues bearer tokens for the video platform.
//
// Tokens are HS256 JWTs signed with the API secret. User tokens carry a
// user_id claim and authenticate call participants; server tokens carry
// server=true and authenticate REST calls made by this service.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrEmptySecret = errors.New("token: empty api secret")

type userClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type serverClaims struct {
	Server bool `json:"server"`
	jwt.RegisteredClaims
}

// Issuer signs tokens with a fixed key pair.
type Issuer struct {
	apiKey string
	secret []byte
	now    func() time.Time
}

func NewIssuer(apiKey, apiSecret string) (*Issuer, error) {
	if apiSecret == "" {
		return nil, ErrEmptySecret
	}
	return &Issuer{apiKey: apiKey, secret: []byte(apiSecret), now: time.Now}, nil
}

// APIKey returns the public half of the key pair.
func (i *Issuer) APIKey() string {
	return i.apiKey
}

// UserToken returns a token for userID. A zero ttl produces a token
// without expiry.
func (i *Issuer) UserToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("token: empty user id")
	}

	now := i.now()
	claims := userClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return i.sign(claims)
}

// ServerToken returns a token for server-side API requests.
func (i *Issuer) ServerToken() (string, error) {
	return i.sign(serverClaims{Server: true})
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseUser verifies a user token and returns its user id.
func (i *Issuer) ParseUser(raw string) (string, error) {
	var claims userClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	return claims.UserID, nil
}
