package store

import (
	"net/url"
	"strings"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
)

const unknownDomain = "unknown"

var bearerKeyHints = []string{"token", "auth", "jwt"}

// inferDomain picks the first cookie's domain, falling back to the first origin's host.
func inferDomain(state *schemas.AuthenticatedState) string {
	if len(state.Cookies) > 0 {
		if d := strings.TrimPrefix(state.Cookies[0].Domain, "."); d != "" {
			return d
		}
	}
	if len(state.Origins) > 0 {
		if u, err := url.Parse(state.Origins[0].Origin); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return unknownDomain
}

// inferAuthType classifies the state: cookies mean a form login, otherwise a token-like
// localStorage key means bearer auth.
func inferAuthType(state *schemas.AuthenticatedState) schemas.AuthType {
	if len(state.Cookies) > 0 {
		return schemas.AuthTypeForm
	}
	for _, o := range state.Origins {
		for _, e := range o.LocalStorage {
			key := strings.ToLower(e.Name)
			for _, hint := range bearerKeyHints {
				if strings.Contains(key, hint) {
					return schemas.AuthTypeBearer
				}
			}
		}
	}
	return schemas.AuthTypeNone
}
