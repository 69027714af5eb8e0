package netinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SelfInfo is the public address and location of this machine as seen
// by the geo service.
type SelfInfo struct {
	IP      string
	Country string
	City    string
}

// GeoResolver answers country lookups against an ipapi-compatible
// endpoint, caching per host so profile lists don't hammer the service.
type GeoResolver struct {
	endpoint string
	client   *http.Client

	mu    sync.Mutex
	cache map[string]string // host → country name
}

// NewGeoResolver creates a resolver against the given base endpoint,
// e.g. "https://ipapi.co".
func NewGeoResolver(endpoint string) *GeoResolver {
	return &GeoResolver{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    make(map[string]string),
	}
}

// Country resolves the country name for a server host. The host may be
// a hostname or an IP literal.
func (g *GeoResolver) Country(ctx context.Context, host string) (string, error) {
	g.mu.Lock()
	if country, ok := g.cache[host]; ok {
		g.mu.Unlock()
		return country, nil
	}
	g.mu.Unlock()

	ip := host
	if net.ParseIP(host) == nil {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			return "", fmt.Errorf("resolve %s: %w", host, err)
		}
		ip = addrs[0]
	}

	var payload struct {
		CountryName string `json:"country_name"`
	}
	if err := g.getJSON(ctx, fmt.Sprintf("%s/%s/json/", g.endpoint, ip), &payload); err != nil {
		return "", err
	}
	if payload.CountryName == "" {
		return "", fmt.Errorf("geo lookup for %s: empty country", host)
	}

	g.mu.Lock()
	g.cache[host] = payload.CountryName
	g.mu.Unlock()
	return payload.CountryName, nil
}

// Self looks up this machine's public IP and location as the geo
// service sees it, which reflects the tunnel exit while connected.
func (g *GeoResolver) Self(ctx context.Context) (SelfInfo, error) {
	var payload struct {
		IP          string `json:"ip"`
		CountryName string `json:"country_name"`
		City        string `json:"city"`
	}
	if err := g.getJSON(ctx, g.endpoint+"/json/", &payload); err != nil {
		return SelfInfo{}, err
	}
	if payload.IP == "" {
		return SelfInfo{}, fmt.Errorf("geo self lookup: empty response")
	}
	return SelfInfo{IP: payload.IP, Country: payload.CountryName, City: payload.City}, nil
}

func (g *GeoResolver) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("geo lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geo lookup: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("geo lookup: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("geo lookup: %w", err)
	}
	return nil
}
