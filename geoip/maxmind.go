package geoip

import (
	"fmt"
	"net"
	"path/filepath"

	"github.com/oschwald/geoip2-golang"
)

// GeoLite2 database file names expected inside the configured
// directory, matching the MaxMind download layout.
const (
	asnDatabase     = "GeoLite2-ASN.mmdb"
	cityDatabase    = "GeoLite2-City.mmdb"
	countryDatabase = "GeoLite2-Country.mmdb"
)

// MaxMindResolver resolves public addresses against the GeoLite2
// ASN, City and Country databases.
type MaxMindResolver struct {
	asn     *geoip2.Reader
	city    *geoip2.Reader
	country *geoip2.Reader
}

// OpenMaxMind opens the three GeoLite2 databases under dir. All three
// must be present.
func OpenMaxMind(dir string) (*MaxMindResolver, error) {
	r := &MaxMindResolver{}
	var err error
	if r.asn, err = geoip2.Open(filepath.Join(dir, asnDatabase)); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", asnDatabase, err)
	}
	if r.city, err = geoip2.Open(filepath.Join(dir, cityDatabase)); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open %s: %w", cityDatabase, err)
	}
	if r.country, err = geoip2.Open(filepath.Join(dir, countryDatabase)); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open %s: %w", countryDatabase, err)
	}
	return r, nil
}

// Close releases the database handles.
func (r *MaxMindResolver) Close() error {
	var firstErr error
	for _, reader := range []*geoip2.Reader{r.asn, r.city, r.country} {
		if reader == nil {
			continue
		}
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.asn, r.city, r.country = nil, nil, nil
	return firstErr
}

// Lookup implements Resolver. A miss in one database leaves that
// column empty rather than failing the whole lookup.
func (r *MaxMindResolver) Lookup(ip net.IP) (Location, error) {
	var loc Location
	if asn, err := r.asn.ASN(ip); err == nil {
		loc.ASN = asn.AutonomousSystemOrganization
	}
	if city, err := r.city.City(ip); err == nil {
		loc.City = city.City.Names["en"]
	}
	if country, err := r.country.Country(ip); err == nil {
		loc.Country = country.Country.Names["en"]
	}
	return loc, nil
}
