package geoip

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingResolver records how many lookups reached the database.
type countingResolver struct {
	loc   Location
	err   error
	calls int
}

func (r *countingResolver) Lookup(net.IP) (Location, error) {
	r.calls++
	return r.loc, r.err
}

func TestEnrichPublicAddress(t *testing.T) {
	resolver := &countingResolver{loc: Location{ASN: "AS64500 Example Net", City: "Tokyo", Country: "Japan"}}
	e, err := NewEnricher(resolver)
	require.NoError(t, err)

	loc := e.Enrich("198.51.100.7")
	assert.Equal(t, "AS64500 Example Net", loc.ASN)
	assert.Equal(t, "Tokyo", loc.City)
	assert.Equal(t, "Japan", loc.Country)
}

func TestEnrichSentinels(t *testing.T) {
	resolver := &countingResolver{}
	e, err := NewEnricher(resolver)
	require.NoError(t, err)

	tests := []struct {
		ip   string
		want Location
	}{
		{"127.0.0.1", Location{ASN: "Local", City: "-", Country: "-"}},
		{"::1", Location{ASN: "Local", City: "-", Country: "-"}},
		{"10.1.2.3", Location{ASN: "Private", City: "-", Country: "-"}},
		{"192.168.0.50", Location{ASN: "Private", City: "-", Country: "-"}},
		{"169.254.1.1", Location{ASN: "Private", City: "-", Country: "-"}},
		{"0.0.0.0", Location{ASN: "Private", City: "-", Country: "-"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Enrich(tt.ip), tt.ip)
	}
	assert.Zero(t, resolver.calls, "sentinel addresses never reach the resolver")
}

func TestEnrichUnparseable(t *testing.T) {
	e, err := NewEnricher(&countingResolver{})
	require.NoError(t, err)

	// Malformed values echo back so the record stays visible.
	loc := e.Enrich("not-an-ip")
	assert.Equal(t, Location{ASN: "not-an-ip", City: "not-an-ip", Country: "not-an-ip"}, loc)
}

func TestEnrichMappedIPv6Prefix(t *testing.T) {
	resolver := &countingResolver{loc: Location{ASN: "AS64500", City: "Tokyo", Country: "Japan"}}
	e, err := NewEnricher(resolver)
	require.NoError(t, err)

	loc := e.Enrich("::ffff:198.51.100.7")
	assert.Equal(t, "Japan", loc.Country)
}

func TestEnrichCaches(t *testing.T) {
	resolver := &countingResolver{loc: Location{ASN: "AS64500", City: "Tokyo", Country: "Japan"}}
	e, err := NewEnricher(resolver)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		e.Enrich("198.51.100.7")
	}
	assert.Equal(t, 1, resolver.calls)
}

func TestEnrichResolverFailure(t *testing.T) {
	e, err := NewEnricher(&countingResolver{err: fmt.Errorf("db closed")})
	require.NoError(t, err)

	loc := e.Enrich("198.51.100.7")
	assert.Equal(t, Location{ASN: "-", City: "-", Country: "-"}, loc)
}

func TestEnrichFillsPartialLookups(t *testing.T) {
	e, err := NewEnricher(&countingResolver{loc: Location{Country: "Japan"}})
	require.NoError(t, err)

	loc := e.Enrich("198.51.100.7")
	assert.Equal(t, Location{ASN: "-", City: "-", Country: "Japan"}, loc)
}
