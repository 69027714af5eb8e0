package vless

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"veilbox/internal/core"
)

// Config holds VLESS-specific connection parameters.
type Config struct {
	// Address is the VLESS server hostname or IP.
	Address string
	// Port is the VLESS server port.
	Port int
	// UUID is the VLESS user UUID.
	UUID string
	// Flow is the XTLS flow type (e.g. "xtls-rprx-vision"). Optional.
	Flow string
	// Encryption is always "none" for VLESS.
	Encryption string
	// Network is the transport protocol: "tcp", "ws", "grpc", "h2".
	// Share links that omit it mean grpc.
	Network string
	// Security is the TLS layer: "reality", "tls", "none".
	Security string

	// Reality holds Reality-specific settings.
	Reality RealityConfig

	// TLS holds TLS-specific settings (when Security == "tls").
	TLS TLSConfig

	// WebSocket holds WS-specific settings (when Network == "ws").
	WebSocket WSConfig

	// GRPC holds gRPC-specific settings (when Network == "grpc").
	GRPC GRPCConfig
}

// RealityConfig holds REALITY TLS settings.
type RealityConfig struct {
	// PublicKey is the x25519 public key.
	PublicKey string
	// ShortID is the hex short ID (0-8 chars).
	ShortID string
	// ServerName is the SNI to impersonate.
	ServerName string
	// Fingerprint is the uTLS fingerprint: "chrome", "firefox", "safari", "random".
	Fingerprint string
	// SpiderX is the path prefix for web crawling (optional).
	SpiderX string
}

// TLSConfig holds standard TLS settings.
type TLSConfig struct {
	// ServerName overrides the SNI.
	ServerName string
	// Fingerprint is the uTLS fingerprint.
	Fingerprint string
	// AllowInsecure disables TLS verification.
	AllowInsecure bool
}

// WSConfig holds WebSocket transport settings.
type WSConfig struct {
	// Path is the WebSocket path.
	Path string
	// Headers are custom HTTP headers.
	Headers map[string]string
}

// GRPCConfig holds gRPC transport settings.
type GRPCConfig struct {
	// ServiceName is the gRPC service name.
	ServiceName string
}

// ParseError reports why a share link could not be parsed.
type ParseError struct {
	URI    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse vless URI: %s", e.Reason)
}

// ParseURI parses a vless:// share link into a Config and a display name.
// Format: vless://UUID@host:port?params#name
// Standard query params:
//
//	type      → network (tcp, ws, grpc, h2)
//	encryption→ encryption (none)
//	security  → security (reality, tls, none)
//	flow      → flow (xtls-rprx-vision)
//	pbk       → reality.public_key
//	fp        → fingerprint (reality or tls)
//	sni       → server_name (reality or tls)
//	sid       → reality.short_id
//	spx       → reality.spider_x
//	path      → ws.path
//	host      → ws host header
//	serviceName → grpc.service_name
//	allowInsecure → tls.allow_insecure
func ParseURI(uri string) (Config, string, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "vless://") {
		return Config{}, "", &ParseError{URI: uri, Reason: "not a vless:// URI"}
	}

	// Parse as URL. Replace "vless" scheme with "https" for standard parsing.
	u, err := url.Parse("https" + uri[5:])
	if err != nil {
		return Config{}, "", &ParseError{URI: uri, Reason: err.Error()}
	}

	uuid := u.User.Username()
	if uuid == "" {
		return Config{}, "", &ParseError{URI: uri, Reason: "missing UUID"}
	}

	host := u.Hostname()
	if host == "" {
		return Config{}, "", &ParseError{URI: uri, Reason: "missing host"}
	}

	port := 443
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	q := u.Query()

	cfg := Config{
		Address:    host,
		Port:       port,
		UUID:       uuid,
		Flow:       q.Get("flow"),
		Encryption: q.Get("encryption"),
		Network:    q.Get("type"),
		Security:   q.Get("security"),
	}

	if cfg.Encryption == "" {
		cfg.Encryption = "none"
	}
	if cfg.Network == "" {
		cfg.Network = "grpc"
	}
	if cfg.Security == "" {
		cfg.Security = "reality"
	}

	fp := q.Get("fp")
	sni := q.Get("sni")

	switch cfg.Security {
	case "reality":
		cfg.Reality = RealityConfig{
			PublicKey:   q.Get("pbk"),
			ShortID:     q.Get("sid"),
			ServerName:  sni,
			Fingerprint: fp,
			SpiderX:     q.Get("spx"),
		}
	case "tls":
		cfg.TLS = TLSConfig{
			ServerName:    sni,
			Fingerprint:   fp,
			AllowInsecure: q.Get("allowInsecure") == "1" || q.Get("allowInsecure") == "true",
		}
	}

	switch cfg.Network {
	case "ws":
		cfg.WebSocket = WSConfig{
			Path: q.Get("path"),
		}
		if h := q.Get("host"); h != "" {
			cfg.WebSocket.Headers = map[string]string{"Host": h}
		}
	case "grpc":
		cfg.GRPC = GRPCConfig{
			ServiceName: q.Get("serviceName"),
		}
	}

	// Fragment is the display name.
	name := u.Fragment

	return cfg, name, nil
}

// Describe parses a share link into the display descriptor the UI shows.
// Display fields use uppercase conventional spellings with sensible
// fallbacks so every card renders fully even for sparse links.
func Describe(uri string) (core.Descriptor, error) {
	cfg, name, err := ParseURI(uri)
	if err != nil {
		return core.Descriptor{}, err
	}

	if name == "" {
		name = cfg.Address
	}
	if name == "" {
		name = "Unnamed"
	}

	transport := cfg.Network
	if transport == "" {
		transport = "grpc"
	}
	security := cfg.Security
	fingerprint := cfg.Reality.Fingerprint
	sni := cfg.Reality.ServerName
	shortID := cfg.Reality.ShortID
	if security == "tls" {
		fingerprint = cfg.TLS.Fingerprint
		sni = cfg.TLS.ServerName
	}
	if fingerprint == "" {
		fingerprint = "chrome"
	}
	if sni == "" {
		sni = cfg.Address
	}
	if shortID == "" {
		shortID = "-"
	}

	return core.Descriptor{
		NodeName:    name,
		Host:        cfg.Address,
		Port:        strconv.Itoa(cfg.Port),
		Transport:   strings.ToUpper(transport),
		Flow:        cfg.Flow,
		Security:    strings.ToUpper(security),
		Fingerprint: strings.ToUpper(fingerprint),
		SNI:         sni,
		ShortID:     shortID,
		Country:     GuessCountry(name, cfg.Address),
	}, nil
}

// countryToken matches a two-letter code delimited by start, end, dash or
// underscore inside a node name, e.g. "de-frankfurt-01" or "node_NL".
var countryToken = regexp.MustCompile(`(?i)(?:^|[-_\s])([a-z]{2})(?:[-_\s]|$)`)

// GuessCountry extracts a country name from the first candidate that
// embeds a recognizable two-letter code, typically the node name with
// the host as fallback. Returns core.CountryUnknown when none match; a
// later geo lookup may refine it.
func GuessCountry(candidates ...string) string {
	for _, value := range candidates {
		m := countryToken.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		code := strings.ToUpper(m[1])
		if name, ok := countryName(code); ok {
			return name
		}
	}
	return core.CountryUnknown
}
