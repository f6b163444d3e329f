// Package geoip provides source-IP enrichment for output records.
// The actual database lookup is a capability interface; the package
// owns address normalization, private/loopback sentinels and the
// per-process cache.
package geoip

import (
	"net"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Location is the enrichment result for one address.
type Location struct {
	ASN     string
	City    string
	Country string
}

// Resolver looks up a public IP address. Implementations typically
// wrap a MaxMind-style database set.
type Resolver interface {
	Lookup(ip net.IP) (Location, error)
}

const (
	// sentinelLocal marks loopback addresses.
	sentinelLocal = "Local"
	// sentinelPrivate marks RFC 1918 and equivalent ranges.
	sentinelPrivate = "Private"
	// sentinelUnknown fills columns with no answer.
	sentinelUnknown = "-"
)

// cacheSize bounds the per-process lookup cache. Audit logs repeat a
// small set of source addresses heavily.
const cacheSize = 65536

// Enricher resolves source-IP strings to locations with caching and
// sentinel handling.
type Enricher struct {
	resolver Resolver
	cache    *lru.Cache[string, Location]
}

// NewEnricher wraps a resolver with the per-process cache.
func NewEnricher(resolver Resolver) (*Enricher, error) {
	cache, err := lru.New[string, Location](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Enricher{resolver: resolver, cache: cache}, nil
}

// Enrich resolves one source-IP string as it appears in an event.
// Unparseable values echo back as every column so malformed records
// stay visible; loopback and private addresses short-circuit to
// sentinels without touching the resolver.
func (e *Enricher) Enrich(raw string) Location {
	ip := normalize(raw)
	if ip == nil {
		return Location{ASN: raw, City: raw, Country: raw}
	}

	key := ip.String()
	if loc, ok := e.cache.Get(key); ok {
		return loc
	}

	var loc Location
	switch {
	case ip.IsLoopback():
		loc = Location{ASN: sentinelLocal, City: sentinelUnknown, Country: sentinelUnknown}
	case isPrivate(ip):
		loc = Location{ASN: sentinelPrivate, City: sentinelUnknown, Country: sentinelUnknown}
	default:
		resolved, err := e.resolver.Lookup(ip)
		if err != nil {
			resolved = Location{ASN: sentinelUnknown, City: sentinelUnknown, Country: sentinelUnknown}
		}
		loc = fillUnknown(resolved)
	}
	e.cache.Add(key, loc)
	return loc
}

// normalize parses an event's source-IP string, stripping the
// IPv4-mapped IPv6 prefix some providers emit.
func normalize(raw string) net.IP {
	return net.ParseIP(strings.TrimPrefix(raw, "::ffff:"))
}

func isPrivate(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

func fillUnknown(loc Location) Location {
	if loc.ASN == "" {
		loc.ASN = sentinelUnknown
	}
	if loc.City == "" {
		loc.City = sentinelUnknown
	}
	if loc.Country == "" {
		loc.Country = sentinelUnknown
	}
	return loc
}
