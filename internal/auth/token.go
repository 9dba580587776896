package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"unityplan.org/internal/ids"
)

const issuer = "unityplan"

const refreshSecretBytes = 32

// Claims is the self-describing access-token payload. Subject carries the
// identity fingerprint; the remaining fields locate the tenant-local user.
type Claims struct {
	TerritoryCode string `json:"territory_code"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access tokens with a process-wide shared secret.
type Codec struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. The secret must be non-empty; rotating it
// invalidates all outstanding access tokens.
func NewCodec(secret string, accessTTL time.Duration, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("auth: access ttl must be positive")
	}
	c := &Codec{secret: []byte(secret), accessTTL: accessTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// Issue signs an access token for the given identity.
func (c *Codec) Issue(fingerprint, territoryCode, userID, username string) (string, time.Time, error) {
	now := c.now().UTC()
	exp := now.Add(c.accessTTL)
	claims := Claims{
		TerritoryCode: territoryCode,
		UserID:        userID,
		Username:      username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   fingerprint,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.NewUUID(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates an access token. Every failure mode
// collapses to ErrInvalidToken.
func (c *Codec) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.UserID == "" || claims.TerritoryCode == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken generates an opaque high-entropy refresh token. It is
// never decoded: the store addresses it by the hash of its raw value.
func NewRefreshToken() (string, error) {
	return ids.NewSecret(refreshSecretBytes)
}

// HashRefreshToken derives the storage key for a raw refresh token.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
