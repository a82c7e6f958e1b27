// Package notify holds the outbound notification collaborators.  Delivery
// itself is external; the process ships a sender that writes structured
// logs, which is what development and test deployments use.
package notify

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"
)

// EmailSender delivers one message and reports whether it was accepted.
// Callers log a false result and carry on.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html, text string) bool
}

// LogSender "delivers" by logging the envelope.  Bodies are not logged.
type LogSender struct {
	log *zap.SugaredLogger
}

func NewLogSender(log *zap.SugaredLogger) *LogSender {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, to, subject, html, text string) bool {
	to = strings.TrimSpace(to)
	if to == "" {
		s.log.Warnw("email dropped: no recipient", "subject", subject)
		return false
	}
	s.log.Infow("email sent", "to", to, "subject", subject, "html_bytes", len(html), "text_bytes", len(text))
	return true
}

// GeoLocator resolves an IP address to an ISO country code.  ok is false
// when the address cannot be placed.
type GeoLocator interface {
	Country(ctx context.Context, ip string) (country string, ok bool)
}

// StaticGeo places addresses by a fixed table of prefixes.  The most
// specific matching prefix wins.
type StaticGeo struct {
	entries []geoEntry
}

type geoEntry struct {
	prefix  netip.Prefix
	country string
}

// ParseStaticGeo reads a table of the form "10.0.0.0/8=LK,2001:db8::/32=DE".
// Bare addresses are treated as single-host prefixes.
func ParseStaticGeo(table string) (*StaticGeo, error) {
	g := &StaticGeo{}
	for _, item := range strings.Split(table, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		cidr, country, ok := strings.Cut(item, "=")
		country = strings.ToUpper(strings.TrimSpace(country))
		if !ok || len(country) != 2 {
			return nil, fmt.Errorf("geo entry %q: want prefix=CC", item)
		}
		cidr = strings.TrimSpace(cidr)
		var p netip.Prefix
		var err error
		if strings.Contains(cidr, "/") {
			p, err = netip.ParsePrefix(cidr)
		} else {
			var a netip.Addr
			a, err = netip.ParseAddr(cidr)
			if err == nil {
				p = netip.PrefixFrom(a, a.BitLen())
			}
		}
		if err != nil {
			return nil, fmt.Errorf("geo entry %q: %w", item, err)
		}
		g.entries = append(g.entries, geoEntry{prefix: p.Masked(), country: country})
	}
	return g, nil
}

func (g *StaticGeo) Country(_ context.Context, ip string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	best, bits := "", -1
	for _, e := range g.entries {
		if e.prefix.Contains(addr) && e.prefix.Bits() > bits {
			best, bits = e.country, e.prefix.Bits()
		}
	}
	return best, bits >= 0
}
