package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"munportal/internal/logging"
)

type ipAllow struct {
	logger  logging.Logger
	nets    []*net.IPNet
	trusted []*net.IPNet
}

// IPAllow constructs a middleware that rejects requests from client IPs
// outside every given CIDR range. No ranges allow everyone.
//
// The client IP is the connection's peer address. Forwarding headers are
// only read when that peer lies in trustedProxies.
func IPAllow(logger logging.Logger, cidrs, trustedProxies []string) (Middleware, error) {
	if len(cidrs) == 0 {
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	}

	nets, err := parseCIDRs(cidrs)
	if err != nil {
		return nil, err
	}
	trusted, err := parseCIDRs(trustedProxies)
	if err != nil {
		return nil, err
	}

	f := &ipAllow{
		logger:  logger,
		nets:    nets,
		trusted: trusted,
	}

	return f.middleware, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("parse cidr %q: %w", c, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

func contains(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (f *ipAllow) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := f.extractClientIP(r)
		if clientIP != nil && contains(f.nets, clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		if f.logger != nil {
			f.logger.Info("ip rejected",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
		}
		// Not found rather than forbidden keeps the login path unlisted.
		http.NotFound(w, r)
	})
}

func (f *ipAllow) extractClientIP(r *http.Request) net.IP {
	peer := peerIP(r.RemoteAddr)
	if peer == nil || !contains(f.trusted, peer) {
		return peer
	}

	// The rightmost X-Forwarded-For hop not added by a trusted proxy is
	// the first one the client could not forge.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			if !contains(f.trusted, ip) {
				return ip
			}
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip
	}
	return peer
}

func peerIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return net.ParseIP(remoteAddr)
	}
	return net.ParseIP(host)
}
