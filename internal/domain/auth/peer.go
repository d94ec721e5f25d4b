package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	appctx "hotelfiscal/internal/core/context"
)

// PeerUser is recorded in history for entries received from the peer instance.
const PeerUser = "peer-sync"

// ErrInvalidPeerToken is returned for a missing or wrong peer token.
var ErrInvalidPeerToken = errors.New("invalid peer token")

// PeerVerifier checks the shared token presented by the peer instance
// against a bcrypt hash.
type PeerVerifier struct {
	hash []byte
}

// NewPeerVerifier creates a verifier. An empty hash rejects every token.
func NewPeerVerifier(hash string) *PeerVerifier {
	return &PeerVerifier{hash: []byte(hash)}
}

// HashPeerToken returns the bcrypt hash to configure as PEER_TOKEN_HASH.
func HashPeerToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify returns the peer identity for a valid token.
func (v *PeerVerifier) Verify(token string) (*appctx.UserContext, error) {
	if len(v.hash) == 0 || token == "" {
		return nil, ErrInvalidPeerToken
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return nil, ErrInvalidPeerToken
	}
	return &appctx.UserContext{UserID: PeerUser, Name: PeerUser}, nil
}
