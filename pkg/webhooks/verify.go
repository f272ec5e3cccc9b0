package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"
)

const (
	// SecretHeader carries the shared secret verbatim
	SecretHeader = "X-Webhook-Secret"
	// SignatureHeader carries "sha256=" followed by the hex HMAC of the body
	SignatureHeader = "X-Webhook-Signature"

	svixSecretPrefix = "whsec_"
)

var (
	ErrMissingSignature = errors.New("webhook signature missing")
	ErrInvalidSignature = errors.New("webhook signature invalid")
)

// Verifier authenticates an inbound callback
type Verifier interface {
	Verify(body []byte, header http.Header) error
}

// NewVerifier picks Svix verification for whsec_ secrets and the shared
// secret/HMAC scheme otherwise. An empty secret is rejected.
func NewVerifier(secret string) (Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if strings.HasPrefix(secret, svixSecretPrefix) {
		return NewSvixVerifier(secret)
	}
	return SecretVerifier{secret: secret}, nil
}

// SecretVerifier accepts either the shared secret header or an HMAC-SHA256
// signature of the body
type SecretVerifier struct {
	secret string
}

func (v SecretVerifier) Verify(body []byte, header http.Header) error {
	if given := header.Get(SecretHeader); given != "" {
		if subtle.ConstantTimeCompare([]byte(given), []byte(v.secret)) == 1 {
			return nil
		}
		return ErrInvalidSignature
	}
	if sig := header.Get(SignatureHeader); sig != "" {
		if VerifySignature(body, sig, v.secret) {
			return nil
		}
		return ErrInvalidSignature
	}
	return ErrMissingSignature
}

// SvixVerifier checks svix-id/svix-timestamp/svix-signature headers
type SvixVerifier struct {
	wh *svix.Webhook
}

func NewSvixVerifier(secret string) (*SvixVerifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create svix verifier: %w", err)
	}
	return &SvixVerifier{wh: wh}, nil
}

func (v *SvixVerifier) Verify(body []byte, header http.Header) error {
	if header.Get("svix-signature") == "" && header.Get("webhook-signature") == "" {
		return ErrMissingSignature
	}
	if err := v.wh.Verify(body, header); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Sign returns the SignatureHeader value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
