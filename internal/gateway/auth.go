package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

// Identity is the authenticated caller of a request.
type Identity struct {
	AgentID  string
	Operator bool
}

type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// TokenAuthenticator maps static bearer tokens to agent identities. The
// operator token, when set, grants access to policy publishing, trust
// mutation, and custody overrides.
type TokenAuthenticator struct {
	Agents        map[string]string // token -> agent_id
	OperatorToken string
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Identity{}, err
	}

	if a.OperatorToken != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(a.OperatorToken)) == 1 {
		return Identity{AgentID: "operator", Operator: true}, nil
	}

	if agentID, ok := a.Agents[bearer]; ok {
		return Identity{AgentID: agentID}, nil
	}

	return Identity{}, ErrInvalidToken
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
