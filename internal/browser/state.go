// File: internal/browser/state.go
package browser

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/domstorage"
	"github.com/chromedp/cdproto/network"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
)

// jsLocalStorage reads the current document's origin and localStorage in one round trip.
const jsLocalStorage = `(function() {
	const result = { origin: window.location.origin, entries: [] };
	try {
		const s = window.localStorage;
		for (let i = 0; s && i < s.length; i++) {
			const k = s.key(i);
			if (k !== null) { result.entries.push({ name: k, value: s.getItem(k) || "" }); }
		}
	} catch (e) { /* SecurityError or storage disabled */ }
	return result;
})()`

type jsStorageResult struct {
	Origin  string                 `json:"origin"`
	Entries []schemas.StorageEntry `json:"entries"`
}

// toCookies converts CDP cookies into the persisted shape.
func toCookies(in []*network.Cookie) []schemas.Cookie {
	out := make([]schemas.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		out = append(out, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return out
}

func toEntries(items []domstorage.Item) []schemas.StorageEntry {
	out := make([]schemas.StorageEntry, 0, len(items))
	for _, item := range items {
		if len(item) != 2 {
			continue
		}
		out = append(out, schemas.StorageEntry{Name: item[0], Value: item[1]})
	}
	return out
}

// defaultPorts are omitted from serialized origins, matching Chrome's security origin.
var defaultPorts = map[string]string{"http": "80", "https": "443"}

// originOf returns scheme://host[:port] for http and https URLs.
func originOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	defaultPort, ok := defaultPorts[scheme]
	if !ok {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPort {
		return scheme + "://" + net.JoinHostPort(host, port), true
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, true
}

// originSet records the origins a window has visited, in first-seen order.
type originSet struct {
	mu   sync.Mutex
	seen map[string]bool
	list []string
}

func newOriginSet() *originSet {
	return &originSet{seen: make(map[string]bool)}
}

func (s *originSet) add(rawURL string) {
	origin, ok := originOf(rawURL)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[origin] {
		return
	}
	s.seen[origin] = true
	s.list = append(s.list, origin)
}

func (s *originSet) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.list...)
}
