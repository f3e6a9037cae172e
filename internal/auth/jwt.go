package auth

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

const (
	issuer  = "tableside-kiosk"
	keyInfo = "tableside session cookie v1"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or shape checks
var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims carries a persisted session inside a signed token
type SessionClaims struct {
	TableID       int             `json:"tableId"`
	CreatedAt     time.Time       `json:"createdAt"`
	SessionExpiry *time.Time      `json:"expiresAt,omitempty"`
	MetaJSON      json.RawMessage `json:"metaJson,omitempty"`
	jwt.RegisteredClaims
}

// SessionCodec signs and verifies the session data cookie
type SessionCodec struct {
	key       []byte
	retention time.Duration
	clock     clock.Clock
}

// NewSessionCodec derives an HMAC key from secret. Tokens are valid for retention.
func NewSessionCodec(secret string, retention time.Duration, clk clock.Clock) (*SessionCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("cookie secret cannot be empty")
	}
	if clk == nil {
		clk = clock.Real()
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}

	return &SessionCodec{
		key:       key,
		retention: retention,
		clock:     clk,
	}, nil
}

// Encode returns a signed token for the session
func (c *SessionCodec) Encode(s *types.Session) (string, error) {
	if s == nil || s.ID == "" {
		return "", fmt.Errorf("session must have an id")
	}

	now := c.clock.Now()
	claims := SessionClaims{
		TableID:       s.TableID,
		CreatedAt:     s.CreatedAt,
		SessionExpiry: s.ExpiresAt,
		MetaJSON:      s.MetaJSON,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.retention)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   s.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.key)
}

// Decode verifies a token and returns the session it carries
func (c *SessionCodec) Decode(tokenString string) (*types.Session, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}

	return &types.Session{
		ID:        claims.Subject,
		TableID:   claims.TableID,
		CreatedAt: claims.CreatedAt,
		ExpiresAt: claims.SessionExpiry,
		MetaJSON:  claims.MetaJSON,
	}, nil
}
