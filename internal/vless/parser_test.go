package vless

import (
	"strings"
	"testing"

	"veilbox/internal/core"
)

const sampleURI = "vless://2ec94f9c-7b1c-4622-a93f-3a3e4b1c8a77@198.51.100.7:443?type=grpc&security=reality&pbk=pubkey123&fp=chrome&sni=cdn.example.com&sid=6ba85179&flow=xtls-rprx-vision&serviceName=fastgrpc#de-frankfurt-01"

func TestParseURI(t *testing.T) {
	cfg, name, err := ParseURI(sampleURI)
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if name != "de-frankfurt-01" {
		t.Errorf("name = %q, want de-frankfurt-01", name)
	}
	if cfg.Address != "198.51.100.7" || cfg.Port != 443 {
		t.Errorf("address = %s:%d", cfg.Address, cfg.Port)
	}
	if cfg.UUID != "2ec94f9c-7b1c-4622-a93f-3a3e4b1c8a77" {
		t.Errorf("uuid = %q", cfg.UUID)
	}
	if cfg.Network != "grpc" || cfg.Security != "reality" {
		t.Errorf("network/security = %s/%s", cfg.Network, cfg.Security)
	}
	if cfg.Reality.PublicKey != "pubkey123" || cfg.Reality.ShortID != "6ba85179" {
		t.Errorf("reality = %+v", cfg.Reality)
	}
	if cfg.GRPC.ServiceName != "fastgrpc" {
		t.Errorf("grpc service = %q", cfg.GRPC.ServiceName)
	}
	if cfg.Flow != "xtls-rprx-vision" {
		t.Errorf("flow = %q", cfg.Flow)
	}
}

func TestParseURIDefaults(t *testing.T) {
	cfg, _, err := ParseURI("vless://uuid-1@example.com")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if cfg.Port != 443 {
		t.Errorf("port = %d, want 443", cfg.Port)
	}
	if cfg.Network != "grpc" {
		t.Errorf("network = %q, want grpc", cfg.Network)
	}
	if cfg.Encryption != "none" {
		t.Errorf("encryption = %q, want none", cfg.Encryption)
	}
	if cfg.Security != "reality" {
		t.Errorf("security = %q, want reality", cfg.Security)
	}
}

func TestParseURIErrors(t *testing.T) {
	cases := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", "trojan://uuid@host:443"},
		{"missing uuid", "vless://@host:443"},
		{"missing host", "vless://uuid@:443"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseURI(tc.uri); err == nil {
				t.Fatalf("ParseURI(%q): expected error", tc.uri)
			}
		})
	}
}

func TestParseURIErrorType(t *testing.T) {
	_, _, err := ParseURI("nonsense")
	var perr *ParseError
	if !asParseError(err, &perr) {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestDescribe(t *testing.T) {
	desc, err := Describe(sampleURI)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.NodeName != "de-frankfurt-01" {
		t.Errorf("node name = %q", desc.NodeName)
	}
	if desc.Transport != "GRPC" {
		t.Errorf("transport = %q, want GRPC", desc.Transport)
	}
	if desc.Security != "REALITY" {
		t.Errorf("security = %q, want REALITY", desc.Security)
	}
	if desc.Fingerprint != "CHROME" {
		t.Errorf("fingerprint = %q, want CHROME", desc.Fingerprint)
	}
	if desc.SNI != "cdn.example.com" {
		t.Errorf("sni = %q", desc.SNI)
	}
	if desc.Port != "443" {
		t.Errorf("port = %q", desc.Port)
	}
	if desc.Country != "Germany" {
		t.Errorf("country = %q, want Germany", desc.Country)
	}
}

func TestDescribeFallbacks(t *testing.T) {
	desc, err := Describe("vless://uuid-1@203.0.113.9:8443")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	// No fragment: the host stands in for the node name.
	if desc.NodeName != "203.0.113.9" {
		t.Errorf("node name = %q, want host fallback", desc.NodeName)
	}
	if desc.SNI != "203.0.113.9" {
		t.Errorf("sni = %q, want host fallback", desc.SNI)
	}
	if desc.ShortID != "-" {
		t.Errorf("short id = %q, want -", desc.ShortID)
	}
	if desc.Country != core.CountryUnknown {
		t.Errorf("country = %q, want unknown", desc.Country)
	}
}

func TestGuessCountry(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"de-frankfurt-01", "Germany"},
		{"node_NL", "Netherlands"},
		{"US East 1", "United States"},
		{"fastest-server", core.CountryUnknown},
		{"", core.CountryUnknown},
		{"zz-nowhere", core.CountryUnknown},
	}
	for _, tc := range cases {
		if got := GuessCountry(tc.name); got != tc.want {
			t.Errorf("GuessCountry(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDescribeSparseLink(t *testing.T) {
	desc, err := Describe("vless://uuid-1@de-fra.example.com:443#MyServer01")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	// No type param means grpc.
	if desc.Transport != "GRPC" {
		t.Errorf("transport = %q, want GRPC", desc.Transport)
	}
	// The name carries no code, so the host supplies the country.
	if desc.Country != "Germany" {
		t.Errorf("country = %q, want Germany", desc.Country)
	}
}

func TestGuessCountryHostFallback(t *testing.T) {
	if got := GuessCountry("fastest-server", "nl-ams.example.com"); got != "Netherlands" {
		t.Errorf("got %q, want Netherlands", got)
	}
	// A code in the name wins over the host.
	if got := GuessCountry("de-frankfurt", "nl-ams.example.com"); got != "Germany" {
		t.Errorf("got %q, want Germany", got)
	}
	if got := GuessCountry("fastest-server", "plain.example.com"); got != core.CountryUnknown {
		t.Errorf("got %q, want unknown", got)
	}
}

func TestDescribeTLS(t *testing.T) {
	uri := "vless://uuid-1@host.example:443?security=tls&sni=tls.example&fp=firefox"
	desc, err := Describe(uri)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.Security != "TLS" || desc.SNI != "tls.example" || !strings.EqualFold(desc.Fingerprint, "firefox") {
		t.Errorf("desc = %+v", desc)
	}
}
