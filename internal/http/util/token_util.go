package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired access token")
	ErrMissingSecret = errors.New("access token secret is not configured")
)

// TokenSigner issues short-lived access tokens for password-protected links.
// A token is bound to the short code and to the link's current password
// hash, so changing the password revokes every outstanding token.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer that issues compact HMAC tokens.
func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL reports how long issued tokens stay valid.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token for code bound to binding.
func (s *TokenSigner) Issue(code, binding string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	payload := make([]byte, 12) // 4 bytes expiry + 8 random bytes
	expires := uint32(s.now().Add(s.ttl).Unix())
	binary.BigEndian.PutUint32(payload[:4], expires)
	if _, err := rand.Read(payload[4:]); err != nil {
		return "", err
	}

	payloadEnc := base64.RawURLEncoding.EncodeToString(payload)
	signature := s.sign(code, binding, payload)
	sigEnc := base64.RawURLEncoding.EncodeToString(signature[:16])
	return fmt.Sprintf("%s.%s", payloadEnc, sigEnc), nil
}

// Validate checks signature integrity and TTL of the token.
func (s *TokenSigner) Validate(code, binding, token string) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(token, ".")
	if !ok {
		return ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != 12 {
		return ErrInvalidToken
	}

	sigProvided, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(sigProvided) != 16 {
		return ErrInvalidToken
	}

	expected := s.sign(code, binding, payload)
	if !hmac.Equal(sigProvided, expected[:16]) {
		return ErrInvalidToken
	}

	expires := binary.BigEndian.Uint32(payload[:4])
	if s.now().Unix() > int64(expires) {
		return ErrInvalidToken
	}

	return nil
}

func (s *TokenSigner) sign(code, binding string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(code))
	mac.Write([]byte("|"))
	mac.Write([]byte(binding))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
