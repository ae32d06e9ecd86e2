package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const adminPrefix = "/v1/admin/"

// Probes and scrapes stay open.
var openPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// AuthKeys splits callers into analysts and operators. Admin keys also
// work on analyst routes.
type AuthKeys struct {
	API   []string
	Admin []string
}

type keyring [][]byte

func newKeyring(keys ...[]string) keyring {
	var ring keyring
	for _, set := range keys {
		for _, k := range set {
			if k != "" {
				ring = append(ring, []byte(k))
			}
		}
	}
	return ring
}

// has compares against every key so timing does not reveal which one matched.
func (r keyring) has(token string) bool {
	found := 0
	for _, k := range r {
		found |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	return found == 1
}

// BearerAuthMiddleware checks Bearer tokens. With no keys configured at all,
// authentication is off. /v1/admin/ routes need an admin key; with no admin
// keys configured they are refused outright.
func BearerAuthMiddleware(keys AuthKeys) func(http.Handler) http.Handler {
	admin := newKeyring(keys.Admin)
	anyone := newKeyring(keys.API, keys.Admin)

	return func(next http.Handler) http.Handler {
		if len(anyone) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := openPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing or malformed bearer token")
				return
			}
			if !anyone.has(token) {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
				return
			}
			if strings.HasPrefix(r.URL.Path, adminPrefix) && !admin.has(token) {
				writeError(w, http.StatusForbidden, CodeForbidden, "admin key required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
