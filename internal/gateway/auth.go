package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tasklane/tasklane/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK       bool   `json:"ok"`
	Identity string `json:"identity,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Authorize resolves a token to an identity from the configured token map.
// Every configured token is compared so the timing does not reveal which
// identity, if any, matched. If the client claims an identity, it must be
// the one the token resolves to.
func Authorize(cfg config.AuthConfig, clientAuth *ConnectAuth) AuthResult {
	if len(cfg.Tokens) == 0 {
		return AuthResult{OK: false, Reason: "no identities configured"}
	}
	if clientAuth == nil || clientAuth.Token == "" {
		return AuthResult{OK: false, Reason: "token required"}
	}

	matched := ""
	for identity, token := range cfg.Tokens {
		if safeEqual(clientAuth.Token, token) && matched == "" {
			matched = identity
		}
	}
	if matched == "" {
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}
	if clientAuth.Identity != "" && clientAuth.Identity != matched {
		return AuthResult{OK: false, Reason: "identity_mismatch"}
	}
	return AuthResult{OK: true, Identity: matched}
}

// AuthorizeRequest authenticates an HTTP request from its Authorization
// bearer token. An X-Identity header, when present, plays the same role
// as the claimed identity in the connect handshake.
func AuthorizeRequest(cfg config.AuthConfig, r *http.Request) AuthResult {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return AuthResult{OK: false, Reason: "bearer token required"}
	}
	return Authorize(cfg, &ConnectAuth{
		Token:    token,
		Identity: r.Header.Get("X-Identity"),
	})
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
