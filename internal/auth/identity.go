// Package auth adapts the external identity collaborator. The session core
// never issues or verifies tokens itself; it only needs the caller's account
// identifier per request.
package auth

import (
	"net/http"
	"strings"
	"sync"

	"pulsecast/internal/fault"
)

// AccountHeader is the header a trusted gateway sets after verifying the
// caller's token.
const AccountHeader = "X-Pulse-Account"

// Identity resolves the calling account for a request.
type Identity interface {
	Authenticate(r *http.Request) (string, error)
}

// GatewayIdentity trusts the account header injected by the edge gateway.
// When a gateway secret is configured, requests must also present it, which
// keeps direct (non-gateway) calls out.
type GatewayIdentity struct {
	secretHeader string
	secret       string
}

// NewGatewayIdentity builds a gateway-trusting identity adapter. secret may
// be empty in development setups where the service is not exposed.
func NewGatewayIdentity(secret string) *GatewayIdentity {
	return &GatewayIdentity{
		secretHeader: "X-Pulse-Gateway-Secret",
		secret:       strings.TrimSpace(secret),
	}
}

func (g *GatewayIdentity) Authenticate(r *http.Request) (string, error) {
	if g.secret != "" && r.Header.Get(g.secretHeader) != g.secret {
		return "", fault.Unauthorized("request did not arrive through the gateway")
	}
	account := strings.TrimSpace(r.Header.Get(AccountHeader))
	if account == "" {
		return "", fault.Unauthorized("caller identity is required")
	}
	return account, nil
}

// StaticTokenIdentity maps bearer tokens to accounts. It exists for tests
// and local development only.
type StaticTokenIdentity struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticTokenIdentity builds an empty token map.
func NewStaticTokenIdentity() *StaticTokenIdentity {
	return &StaticTokenIdentity{tokens: make(map[string]string)}
}

// Register associates a bearer token with an account id.
func (s *StaticTokenIdentity) Register(token, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = accountID
}

func (s *StaticTokenIdentity) Authenticate(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return "", fault.Unauthorized("bearer token is required")
	}
	s.mu.RLock()
	account, ok := s.tokens[strings.TrimSpace(token)]
	s.mu.RUnlock()
	if !ok {
		return "", fault.Unauthorized("unknown token")
	}
	return account, nil
}
