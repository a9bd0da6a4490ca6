package credentials

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the backend puts in its access tokens. The user id
// travels in uid; older tokens only carry it in sub.
type Claims struct {
	UserID   int64  `json:"uid,omitempty"`
	Username string `json:"username,omitempty"`
	gojwt.RegisteredClaims
}

// ExpiredAt reports whether the token is no longer valid at now. Tokens
// without an expiry never expire.
func (c *Claims) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

// ParseUnverified reads the claims without checking the signature; the
// client has no key and only needs the user id and the expiry.
func ParseUnverified(token string) (*Claims, error) {
	parser := gojwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if err := claims.fillUserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Verify checks an HS256 signature and the expiry.
func Verify(token string, key []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(t *gojwt.Token) (any, error) {
		return key, nil
	}, gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if err := claims.fillUserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Sign issues an HS256 token for c.
func Sign(c Claims, key []byte) (string, error) {
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, c).SignedString(key)
}

// NewClaims returns claims for a token valid for ttl from now.
func NewClaims(userID int64, username string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (c *Claims) fillUserID() error {
	if c.UserID != 0 {
		return nil
	}
	if c.Subject == "" {
		return errors.New("access token names no user")
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return fmt.Errorf("access token subject %q is not a user id", c.Subject)
	}
	c.UserID = id
	return nil
}
