// Package fingerprint derives pseudonymous caller identities for moderation dedup.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
)

const maxTokenLength = 128

// Service hashes network address + device token with a server-side secret.
type Service struct {
	secret []byte
}

// New returns a Service keyed by secret. blake2b accepts keys up to 64 bytes.
func New(secret string) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fingerprint secret required")
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Service{secret: key}, nil
}

// Derive returns a stable hex identity for the ip/token pair.
func (s *Service) Derive(ip, deviceToken string) (string, error) {
	ip = strings.TrimSpace(ip)
	deviceToken = strings.TrimSpace(deviceToken)
	if ip == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "client address unavailable")
	}
	if deviceToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "device token is required")
	}
	if len(deviceToken) > maxTokenLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("device token exceeds %d characters", maxTokenLength))
	}

	h, err := blake2b.New256(s.secret)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "init fingerprint hash")
	}
	h.Write([]byte(ip))
	h.Write([]byte{'|'})
	h.Write([]byte(deviceToken))
	return hex.EncodeToString(h.Sum(nil)), nil
}
