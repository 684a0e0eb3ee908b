package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AttachTokenTTL is the fixed lifetime of a session attach token (spec
// §4.7): short enough that a leaked token is useless shortly after issue.
const AttachTokenTTL = 5 * time.Minute

var ErrAttachTokenSessionMismatch = errors.New("signer: attach token session mismatch")

// AttachClaims binds a signed attach token to exactly one session, the way
// the teacher's trial-activation token binds to exactly one instance host.
type AttachClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// IssueAttachToken signs a short-lived token a browser executor presents
// when opening the SSE command channel for sessionID.
func (s *Signer) IssueAttachToken(sessionID string, now time.Time) (string, error) {
	claims := AttachClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AttachTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("signer: sign attach token: %w", err)
	}
	return signed, nil
}

// VerifyAttachToken validates a token's signature, expiry, and that it was
// issued for sessionID.
func (s *Signer) VerifyAttachToken(raw, sessionID string, now time.Time) (*AttachClaims, error) {
	claims := &AttachClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("signer: unexpected signing method %v", t.Header["alg"])
		}
		return s.public, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return nil, fmt.Errorf("signer: parse attach token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("signer: attach token invalid")
	}
	if claims.SessionID != sessionID {
		return nil, ErrAttachTokenSessionMismatch
	}
	return claims, nil
}
