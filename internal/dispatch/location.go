package dispatch

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/sirupsen/logrus"
)

// LocationTimeout bounds the best-effort location fetch. Location never
// blocks a dispatch longer than this and never fails it.
const LocationTimeout = 5 * time.Second

// Fix is one position estimate.
type Fix struct {
	Latitude  float64
	Longitude float64
}

// LocationProvider yields a best-effort current position.
type LocationProvider interface {
	Current(ctx context.Context) (Fix, error)
}

// LocationFunc adapts a function to LocationProvider.
type LocationFunc func(ctx context.Context) (Fix, error)

func (f LocationFunc) Current(ctx context.Context) (Fix, error) { return f(ctx) }

// bestEffortFix resolves a position within LocationTimeout, falling back to
// the (0,0) sentinel on any provider error or timeout. Location failures
// are absorbed here and never surface to the user.
func bestEffortFix(ctx context.Context, p LocationProvider, logger *logrus.Logger) Fix {
	if p == nil {
		return Fix{}
	}

	locCtx, cancel := context.WithTimeout(ctx, LocationTimeout)
	defer cancel()

	type result struct {
		fix Fix
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fix, err := p.Current(locCtx)
		ch <- result{fix, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			logger.WithField("error", res.err).Debug("Location provider failed, using sentinel")
			return Fix{}
		}
		return res.fix
	case <-locCtx.Done():
		logger.Debug("Location fetch timed out, using sentinel")
		return Fix{}
	}
}

// GeoIPProvider approximates a position from the host's IP using a local
// MaxMind database. It is the low-accuracy default when no primary location
// source is configured.
type GeoIPProvider struct {
	db *maxminddb.Reader
	ip func() (net.IP, error)
}

// NewGeoIPProvider opens the MaxMind database at path.
func NewGeoIPProvider(path string) (*GeoIPProvider, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: %w", err)
	}
	return &GeoIPProvider{db: db, ip: outboundIP}, nil
}

// Close releases the database handle.
func (p *GeoIPProvider) Close() error { return p.db.Close() }

// Current implements LocationProvider.
func (p *GeoIPProvider) Current(ctx context.Context) (Fix, error) {
	_ = ctx
	ip, err := p.ip()
	if err != nil {
		return Fix{}, fmt.Errorf("geoip: %w", err)
	}

	var record struct {
		Location struct {
			Latitude  float64 `maxminddb:"latitude"`
			Longitude float64 `maxminddb:"longitude"`
		} `maxminddb:"location"`
	}
	if err := p.db.Lookup(ip, &record); err != nil {
		return Fix{}, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return Fix{}, fmt.Errorf("geoip: no location for %s", ip)
	}
	return Fix{Latitude: record.Location.Latitude, Longitude: record.Location.Longitude}, nil
}

// outboundIP returns the host's preferred outbound address. The dial never
// sends a packet.
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// originatingIP is the best-effort IP recorded on incidents; "" on failure.
func originatingIP() string {
	ip, err := outboundIP()
	if err != nil {
		return ""
	}
	return ip.String()
}
