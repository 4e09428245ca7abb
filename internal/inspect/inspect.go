// File: internal/inspect/inspect.go
package inspect

import (
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
)

// parserUnverified reads token contents without checking signatures. The stored session
// never holds the signing key, so verification is not possible here anyway.
var parserUnverified = jwt.NewParser()

// Report summarizes a decrypted session without exposing any secret values.
type Report struct {
	Cookies        int      `json:"cookies"`
	SessionCookies int      `json:"sessionCookies"`
	ExpiredCookies int      `json:"expiredCookies"`
	Domains        []string `json:"domains"`
	Origins        []string `json:"origins"`
	StorageEntries int      `json:"storageEntries"`
	// EarliestCookieExpiry is the soonest expiry among persistent cookies that are still valid.
	EarliestCookieExpiry *time.Time `json:"earliestCookieExpiry,omitempty"`
	Tokens               []Token    `json:"tokens"`
}

// Token describes a JWT found in localStorage.
type Token struct {
	Origin    string     `json:"origin"`
	Key       string     `json:"key"`
	Algorithm string     `json:"alg"`
	Subject   string     `json:"sub,omitempty"`
	Issuer    string     `json:"iss,omitempty"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
	Expired   bool       `json:"expired"`
}

// Stale reports whether anything in the session has visibly expired.
func (r *Report) Stale() bool {
	if r.ExpiredCookies > 0 {
		return true
	}
	for _, t := range r.Tokens {
		if t.Expired {
			return true
		}
	}
	return false
}

// Describe inspects a decrypted state as of now.
func Describe(state *schemas.AuthenticatedState, now time.Time) *Report {
	r := &Report{Domains: []string{}, Origins: []string{}, Tokens: []Token{}}
	if state == nil {
		return r
	}

	domains := make(map[string]bool)
	for _, c := range state.Cookies {
		r.Cookies++
		domains[strings.TrimPrefix(c.Domain, ".")] = true
		if c.IsSession() {
			r.SessionCookies++
			continue
		}
		exp := c.ExpiresAt()
		if !exp.After(now) {
			r.ExpiredCookies++
			continue
		}
		if r.EarliestCookieExpiry == nil || exp.Before(*r.EarliestCookieExpiry) {
			r.EarliestCookieExpiry = &exp
		}
	}
	for d := range domains {
		if d != "" {
			r.Domains = append(r.Domains, d)
		}
	}
	sort.Strings(r.Domains)

	for _, o := range state.Origins {
		r.Origins = append(r.Origins, o.Origin)
		for _, e := range o.LocalStorage {
			r.StorageEntries++
			for _, candidate := range tokenCandidates(e.Value) {
				if t, ok := parseToken(candidate, now); ok {
					t.Origin, t.Key = o.Origin, e.Name
					r.Tokens = append(r.Tokens, t)
				}
			}
		}
	}
	return r
}

// tokenCandidates extracts strings that might be JWTs: the raw value, a "Bearer" value,
// or string fields of a JSON object one level deep.
func tokenCandidates(value string) []string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(value), &obj); err != nil {
			return nil
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && looksLikeJWT(s) {
				out = append(out, s)
			}
		}
		return out
	}
	value = strings.Trim(value, `"`)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		value = strings.TrimSpace(value[7:])
	}
	if looksLikeJWT(value) {
		return []string{value}
	}
	return nil
}

func looksLikeJWT(s string) bool {
	return strings.HasPrefix(s, "eyJ") && strings.Count(s, ".") == 2
}

func parseToken(raw string, now time.Time) (Token, bool) {
	token, _, err := parserUnverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return Token{}, false
	}
	t := Token{}
	if alg, ok := token.Header["alg"].(string); ok {
		t.Algorithm = alg
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return t, true
	}
	t.Subject, _ = claims.GetSubject()
	t.Issuer, _ = claims.GetIssuer()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		at := exp.Time.UTC()
		t.ExpiresAt = &at
		t.Expired = !at.After(now)
	}
	return t, true
}
