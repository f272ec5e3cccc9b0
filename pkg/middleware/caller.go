package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"

	"github.com/platinummonkey/opsdesk/pkg/auth"
)

// Callers identifies the caller behind a request. A credential only counts
// once the session resolver has accepted it; every other request is
// identified by its client address. Forwarding headers are honoured only when
// the direct peer is a trusted proxy.
//
// A nil *Callers identifies every caller by peer address and treats every
// credential as unverified.
type Callers struct {
	resolver auth.SessionResolver
	cookie   string
	trusted  []netip.Prefix
}

// NewCallers builds a caller identifier. trustedProxies holds addresses or
// CIDR prefixes of the reverse proxies in front of the service.
func NewCallers(resolver auth.SessionResolver, cookieName string, trustedProxies []string) (*Callers, error) {
	prefixes, err := parseTrustedProxies(trustedProxies)
	if err != nil {
		return nil, err
	}
	return &Callers{resolver: resolver, cookie: cookieName, trusted: prefixes}, nil
}

func parseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// identity is the outcome of resolving a request's credential
type identity struct {
	user *auth.User
	// presented is true when the request carried any credential
	presented bool
}

// verified reports whether the request carried a credential the resolver accepted
func (id identity) verified() bool {
	return id.user != nil
}

func (c *Callers) identify(r *http.Request) identity {
	cookie := auth.DefaultCookieName
	if c != nil && c.cookie != "" {
		cookie = c.cookie
	}
	if _, ok := auth.Credential(r, cookie); !ok {
		return identity{}
	}
	if c == nil || c.resolver == nil {
		return identity{presented: true}
	}
	user, err := c.resolver.Resolve(r.Context(), r)
	if err != nil || user == nil || user.ID == "" {
		return identity{presented: true}
	}
	return identity{user: user, presented: true}
}

// Key identifies the caller for rate limiting: "user:<id>" for a verified
// session, else "ip:<client address>". Unverified credentials share the
// address bucket, so rotating bogus tokens gains nothing.
func (c *Callers) Key(r *http.Request) string {
	if id := c.identify(r); id.verified() {
		return "user:" + id.user.ID
	}
	return "ip:" + c.ClientIP(r)
}

// owner scopes cached responses. ok is false when the request presented a
// credential that did not verify; such requests must bypass the cache.
func (c *Callers) owner(r *http.Request) (owner string, ok bool) {
	id := c.identify(r)
	switch {
	case id.verified():
		return userDigest(id.user), true
	case id.presented:
		return "", false
	default:
		return "anonymous", true
	}
}

// userDigest covers everything that shapes a response for the user: identity,
// role and effective permissions
func userDigest(u *auth.User) string {
	perms := make([]string, 0, len(u.Permissions))
	for _, p := range u.Permissions {
		perms = append(perms, string(p))
	}
	slices.Sort(perms)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", u.ID, u.Role, strings.Join(perms, ","))
	return "user:" + hex.EncodeToString(h.Sum(nil)[:16])
}

// ClientIP returns the address of the client. X-Forwarded-For is walked from
// the right, skipping trusted proxies, and X-Real-IP is used only when the
// direct peer is itself trusted.
func (c *Callers) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !c.trustedAddr(addr) {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// anything left of a garbled hop is client supplied
				break
			}
			if !c.trustedAddr(hop) {
				return hop.Unmap().String()
			}
		}
	}

	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return peer
}

func (c *Callers) trustedAddr(addr netip.Addr) bool {
	if c == nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
