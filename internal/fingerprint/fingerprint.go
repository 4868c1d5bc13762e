// Package fingerprint derives the weak identity signals (client IP, device
// hash, country) used to spot one person claiming a referral bonus twice.
package fingerprint

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is what settlement sees of the signup client.
// Nil fields mean the signal could not be determined.
type Fingerprint struct {
	IPAddress *string
	DeviceID  *string
	Country   string
}

// DeviceSignals are reported by the signup page. None of them is trusted;
// together they are stable per browser configuration and trivially spoofed.
type DeviceSignals struct {
	UserAgent           string `json:"user_agent,omitempty"`
	ScreenWidth         int    `json:"screen_width,omitempty"`
	ScreenHeight        int    `json:"screen_height,omitempty"`
	ColorDepth          int    `json:"color_depth,omitempty"`
	HardwareConcurrency int    `json:"hardware_concurrency,omitempty"`
	Language            string `json:"language,omitempty"`
	GPURenderer         string `json:"gpu_renderer,omitempty"`
}

func (d DeviceSignals) empty() bool {
	return d == DeviceSignals{}
}

// DeviceID hashes the signals with xxhash64. Same signals, same id.
// Returns nil when no signal was reported.
func (d DeviceSignals) DeviceID() *string {
	if d.empty() {
		return nil
	}
	parts := []string{
		strings.TrimSpace(d.UserAgent),
		strconv.Itoa(d.ScreenWidth),
		strconv.Itoa(d.ScreenHeight),
		strconv.Itoa(d.ColorDepth),
		strconv.Itoa(d.HardwareConcurrency),
		strings.ToLower(strings.TrimSpace(d.Language)),
		strings.TrimSpace(d.GPURenderer),
	}
	id := strconv.FormatUint(xxhash.Sum64String(strings.Join(parts, "|")), 16)
	return &id
}

// ClientIP returns the caller's IP in canonical form, or nil if it cannot be
// parsed. trustedHops is the number of reverse proxies in front of the
// service. Each proxy appends the peer it saw to X-Forwarded-For, so the
// client is the entry trustedHops positions from the right; anything further
// left was supplied by the client and is ignored. With zero hops the headers
// are not read at all.
func ClientIP(r *http.Request, trustedHops int) *string {
	if trustedHops > 0 {
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			return forwardedFor(strings.Join(xff, ","), trustedHops)
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return parseIP(host)
}

// forwardedFor picks the hop added by the outermost trusted proxy. A chain
// shorter than trustedHops was written entirely by our proxies, so its
// leftmost entry is the client.
func forwardedFor(header string, trustedHops int) *string {
	hops := strings.Split(header, ",")
	i := len(hops) - trustedHops
	if i < 0 {
		i = 0
	}
	return parseIP(hops[i])
}

func parseIP(s string) *string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil
	}
	out := ip.String()
	return &out
}

// Collector builds a Fingerprint for a signup request.
type Collector interface {
	Collect(ctx context.Context, r *http.Request, device DeviceSignals) Fingerprint
}

// RequestCollector reads the IP from the request and hashes client-reported
// device signals. Locator is optional.
type RequestCollector struct {
	ProxyHops int
	Locator   Locator
	Logger    *slog.Logger
}

func NewRequestCollector(proxyHops int, locator Locator, logger *slog.Logger) *RequestCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestCollector{ProxyHops: proxyHops, Locator: locator, Logger: logger}
}

var _ Collector = (*RequestCollector)(nil)

func (c *RequestCollector) Collect(ctx context.Context, r *http.Request, device DeviceSignals) Fingerprint {
	fp := Fingerprint{
		IPAddress: ClientIP(r, c.ProxyHops),
		DeviceID:  device.DeviceID(),
	}
	if fp.IPAddress == nil {
		c.Logger.WarnContext(ctx, "client ip unavailable", "remote_addr", r.RemoteAddr)
		return fp
	}
	if c.Locator != nil {
		country, err := c.Locator.Country(net.ParseIP(*fp.IPAddress))
		if err != nil {
			c.Logger.WarnContext(ctx, "geoip lookup failed", "error", err)
		} else {
			fp.Country = country
		}
	}
	return fp
}
