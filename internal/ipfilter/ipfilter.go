// Package ipfilter restricts the admission API to known caller
// networks. A survey is typically wired to a handful of panel vendors,
// so deployments front the API with an allowlist of their redirect and
// webhook sources.
package ipfilter

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

// Filter is a prefix allowlist over client addresses. A Filter built
// from an empty list admits every caller.
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New parses a list of addresses and CIDR prefixes. Entries that do
// not parse are logged and skipped so one typo cannot lock the whole
// API down at startup.
func New(allowed []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			f.prefixes = append(f.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("skipping unparseable allowed_ips entry", "entry", entry, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return f
}

// Enabled reports whether any prefixes are configured.
func (f *Filter) Enabled() bool { return len(f.prefixes) > 0 }

// Count returns the number of configured prefixes.
func (f *Filter) Count() int { return len(f.prefixes) }

// Allows reports whether addr may reach the API. IPv4-mapped IPv6
// addresses, as produced by dual-stack listeners, are unmapped before
// matching.
func (f *Filter) Allows(addr netip.Addr) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsString parses s and reports whether the address may reach the
// API. Unparseable input is denied.
func (f *Filter) AllowsString(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return f.Allows(addr)
}

// ClientAddr extracts the caller address from a request, honoring the
// X-Forwarded-For and X-Real-IP headers set by a fronting proxy.
func ClientAddr(r *http.Request) (netip.Addr, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr, true
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr, true
		}
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr(), true
	}
	addr, err := netip.ParseAddr(r.RemoteAddr)
	return addr, err == nil
}

// HTTPMiddleware rejects requests from outside the allowlist with 403
// before they reach routing.
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := ClientAddr(r)
		if !ok {
			f.logger.Warn("could not determine client address", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !f.Allows(addr) {
			f.logger.Warn("request blocked by allowlist", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
