package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ParseSessionID returns the canonical form of a session id.
func ParseSessionID(id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil || len(id) != 36 {
		return "", false
	}
	return parsed.String(), true
}

// OriginPolicy is the allow-list applied to browser Origin headers. An
// empty list or a "*" entry allows every origin. Requests without an Origin
// header are not browser cross-origin requests and are always allowed.
type OriginPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			p.any = true
		}
		if o != "" {
			p.allowed[o] = struct{}{}
		}
	}
	if len(p.allowed) == 0 {
		p.any = true
	}
	return p
}

func (p *OriginPolicy) Allows(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.any {
		return true
	}
	_, ok := p.allowed[strings.ToLower(origin)]
	return ok
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// BearerMatches compares the request's bearer token with want in constant time.
func BearerMatches(r *http.Request, want string) bool {
	got := BearerToken(r)
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// SanitizeField drops control characters and invalid UTF-8 from a
// client-supplied field and truncates it to limit bytes on a rune boundary.
func SanitizeField(s string, limit int) string {
	var b strings.Builder
	for _, r := range s {
		if r == utf8.RuneError || r < 0x20 || r == 0x7f {
			continue
		}
		if b.Len()+utf8.RuneLen(r) > limit {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
