package fingerprint

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Locator resolves an IP to an ISO country code.
type Locator interface {
	Country(ip net.IP) (string, error)
}

// GeoIPLocator reads a MaxMind GeoLite2/GeoIP2 Country or City database.
type GeoIPLocator struct {
	db *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db %q: %w", path, err)
	}
	return &GeoIPLocator{db: db}, nil
}

func (g *GeoIPLocator) Country(ip net.IP) (string, error) {
	if ip == nil {
		return "", fmt.Errorf("nil ip")
	}
	record, err := g.db.Country(ip)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

func (g *GeoIPLocator) Close() error {
	return g.db.Close()
}
