// File: api/schemas/session.go
package schemas

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Cookie is a single browser cookie as captured from an authenticated browsing context.
// Expires is expressed in seconds since the UNIX epoch; -1 marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// IsSession reports whether the cookie lives only for the browser session.
func (c Cookie) IsSession() bool {
	return c.Expires <= 0
}

// ExpiresAt returns the cookie expiry as a time, or the zero time for session cookies.
func (c Cookie) ExpiresAt() time.Time {
	if c.IsSession() {
		return time.Time{}
	}
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// StorageEntry is one localStorage key/value pair.
type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginStorage holds the localStorage contents for a single origin (scheme://host[:port]).
type OriginStorage struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

// AuthenticatedState is the browser state that represents "being logged in":
// the cookie set and the per-origin localStorage contents.
type AuthenticatedState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// IsEmpty reports whether the state carries neither cookies nor storage entries.
func (s *AuthenticatedState) IsEmpty() bool {
	if s == nil {
		return true
	}
	if len(s.Cookies) > 0 {
		return false
	}
	for _, o := range s.Origins {
		if len(o.LocalStorage) > 0 {
			return false
		}
	}
	return true
}

// CookieJar builds a public-suffix aware cookie jar seeded with the captured cookies,
// so that plain HTTP clients can replay the authenticated session.
func (s *AuthenticatedState) CookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if s == nil {
		return jar, nil
	}

	byHost := make(map[string][]*http.Cookie)
	schemes := make(map[string]string)
	for _, c := range s.Cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
			SameSite: sameSiteMode(c.SameSite),
		}
		// Host-only cookies must not carry a Domain attribute or the jar widens their scope.
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host
		}
		if !c.IsSession() {
			hc.Expires = c.ExpiresAt()
		}
		byHost[host] = append(byHost[host], hc)
		if c.Secure {
			schemes[host] = "https"
		} else if _, ok := schemes[host]; !ok {
			schemes[host] = "http"
		}
	}

	for host, cookies := range byHost {
		jar.SetCookies(&url.URL{Scheme: schemes[host], Host: host, Path: "/"}, cookies)
	}
	return jar, nil
}

func sameSiteMode(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

// AuthType classifies how a stored session authenticates.
type AuthType string

const (
	// AuthTypeForm marks cookie-based sessions, typically produced by a login form.
	AuthTypeForm AuthType = "form"
	// AuthTypeBearer marks sessions that carry a token in localStorage but no cookies.
	AuthTypeBearer AuthType = "bearer"
	AuthTypeNone   AuthType = "none"
)

// CurrentSchemaVersion is the version tag written with every new session record and payload.
const CurrentSchemaVersion = 1

// SessionRecord is the metadata describing one encrypted session on disk.
type SessionRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Domain        string     `json:"domain"`
	AuthType      AuthType   `json:"authType"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	AutoDestroy   bool       `json:"autoDestroy,omitempty"`
	SchemaVersion int        `json:"schemaVersion"`
}

// Expired reports whether the record carries an expiry that lies before now.
// Enforcement belongs to whoever consumes the record.
func (r SessionRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// CaptureStatus is the lifecycle state of a manual login capture.
type CaptureStatus string

const (
	CaptureWaitingForLogin CaptureStatus = "waiting_for_login"
	CaptureCaptured        CaptureStatus = "captured"
	CaptureCancelled       CaptureStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s CaptureStatus) IsTerminal() bool {
	return s == CaptureCaptured || s == CaptureCancelled
}

// CaptureSession is the transient state of one in-progress manual login.
type CaptureSession struct {
	ID        string        `json:"id"`
	LoginURL  string        `json:"loginUrl"`
	StartedAt time.Time     `json:"startedAt"`
	Status    CaptureStatus `json:"status"`
}
