package ws

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"go.uber.org/zap"
)

// adminUserID is the administrative userId recognized in the handshake's
// auth payload, per spec §6.
const adminUserID = "server-admin"

// identity is the resolved caller of one connection attempt.
type identity struct {
	uid     string
	isAdmin bool
}

// authenticate resolves the handshake's auth payload carried as query
// parameters on the upgrade request: `userId`+`serverKey` for the
// administrative escape hatch, else `token` verified if it looks like a
// signed JWT, else treated as a raw uid (guest path), per spec §6:
// "A non-admin connection derives its uid by (a) verifying a signed token
// if the credential looks like a dotted token, (b) otherwise treating the
// credential as a raw uid (guest path)."
func (h *Hub) authenticate(r *http.Request) (identity, error) {
	q := r.URL.Query()

	if userID := q.Get("userId"); userID == adminUserID {
		if h.serverKey != "" && q.Get("serverKey") == h.serverKey {
			return identity{uid: adminUserID, isAdmin: true}, nil
		}
		logging.Warn(r.Context(), "rejected admin handshake: server key mismatch")
		return identity{}, errors.New("invalid server key")
	}

	cred := q.Get("token")
	if cred == "" {
		return identity{}, errors.New("no credential provided")
	}

	if looksLikeSignedToken(cred) {
		claims, err := h.validator.ValidateToken(cred)
		if err != nil {
			logging.Warn(r.Context(), "token validation failed", zap.Error(err))
			return identity{}, errors.New("invalid token")
		}
		return identity{uid: claims.Subject}, nil
	}

	return identity{uid: cred}, nil
}

// looksLikeSignedToken reports whether cred has the three dot-separated
// segments of a JWT; anything else is treated as a raw uid.
func looksLikeSignedToken(cred string) bool {
	return strings.Count(cred, ".") == 2
}

// validateOrigin mirrors the teacher's origin check: scheme+host must match
// one of the allowed origins, with non-browser clients (no Origin header)
// let through.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return errors.New("invalid origin URL")
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	return errors.New("origin not allowed: " + origin)
}
