package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minKeyBytes = 32

var (
	// ErrSigning is returned for key misconfiguration. It should be caught at
	// construction time; hitting it at runtime is a deployment bug.
	ErrSigning = errors.New("token signing misconfigured")

	// ErrInvalidSignature is returned when a token is malformed or its
	// signature does not verify.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrExpired is returned when a structurally valid token is past its
	// expiry instant.
	ErrExpired = errors.New("token expired")
)

// Claims is the decoded fixed claim set of a Relay token.
// IssuedAt/ExpiresAt are epoch milliseconds. ID is the per-token jti.
type Claims struct {
	Subject   string
	Roles     []string
	IssuedAt  int64
	ExpiresAt int64
	ID        string
}

// wireClaims is the JWT payload shape. Expiry lives in exp_ms (epoch millis)
// rather than the registered exp claim so that sub-second lifetimes survive
// the round trip; of the embedded RegisteredClaims only jti is set, which
// library-side validation ignores.
type wireClaims struct {
	Sub   string   `json:"sub"`
	Roles []string `json:"roles,omitempty"`
	IatMS int64    `json:"iat_ms"`
	ExpMS int64    `json:"exp_ms"`
	jwt.RegisteredClaims
}

// Codec signs and verifies Relay tokens with a single symmetric key.
type Codec struct {
	key []byte
}

// NewCodec constructs a Codec. The key must be at least 32 bytes; anything
// shorter is treated as misconfiguration (ErrSigning).
func NewCodec(key []byte) (*Codec, error) {
	if len(key) < minKeyBytes {
		return nil, ErrSigning
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}, nil
}

// Sign produces a signed token over the fixed claim set. Every token carries
// a random jti, so two tokens minted for the same subject at the same instant
// are still distinct; rotation depends on that.
func (c *Codec) Sign(subject string, roles []string, issuedAt, expiresAt time.Time) (string, error) {
	if c == nil || len(c.key) < minKeyBytes {
		return "", ErrSigning
	}

	jti, err := newTokenID()
	if err != nil {
		return "", ErrSigning
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, wireClaims{
		Sub:   subject,
		Roles: roles,
		IatMS: issuedAt.UnixMilli(),
		ExpMS: expiresAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID: jti,
		},
	})

	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", ErrSigning
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw at time now.
// Any structural or signature problem maps to ErrInvalidSignature; a valid
// token past its expiry maps to ErrExpired.
func (c *Codec) Verify(raw string, now time.Time) (Claims, error) {
	claims, err := c.Decode(raw)
	if err != nil {
		return Claims{}, err
	}

	// Exclusive expiry: the token dies exactly at exp_ms.
	if now.UnixMilli() >= claims.ExpiresAt {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

// Decode checks the signature and structure of raw without the expiry check.
// Used where an expired token's subject still matters, such as classifying
// a late refresh replay against the server-side record.
func (c *Codec) Decode(raw string) (Claims, error) {
	if c == nil || raw == "" {
		return Claims{}, ErrInvalidSignature
	}

	var wc wireClaims
	_, err := jwt.ParseWithClaims(raw, &wc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}

	if wc.Sub == "" || wc.ExpMS == 0 {
		return Claims{}, ErrInvalidSignature
	}

	return Claims{
		Subject:   wc.Sub,
		Roles:     wc.Roles,
		IssuedAt:  wc.IatMS,
		ExpiresAt: wc.ExpMS,
		ID:        wc.RegisteredClaims.ID,
	}, nil
}

func newTokenID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
