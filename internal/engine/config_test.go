package engine

import (
	"encoding/json"
	"testing"

	"veilbox/internal/core"
)

const testURI = "vless://uuid-1@198.51.100.7:443?type=grpc&security=reality&pbk=pk&sid=sid&sni=cdn.example.com&serviceName=svc"

func buildAndDecode(t *testing.T, req core.ConnectRequest) map[string]any {
	t.Helper()
	data, err := BuildConfig(req, "127.0.0.1", 10809)
	if err != nil {
		t.Fatalf("BuildConfig: %v", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config is not valid JSON: %v", err)
	}
	return cfg
}

func TestBuildConfigBasics(t *testing.T) {
	cfg := buildAndDecode(t, core.ConnectRequest{URI: testURI})

	inbounds := cfg["inbounds"].([]any)
	if len(inbounds) != 2 {
		t.Fatalf("inbounds = %d, want 2 in proxy mode", len(inbounds))
	}
	http := inbounds[1].(map[string]any)
	if http["tag"] != "http-in" || http["listen_port"] != float64(10809) {
		t.Errorf("http inbound = %v", http)
	}
	socks := inbounds[0].(map[string]any)
	if socks["listen_port"] != float64(10808) {
		t.Errorf("socks port = %v, want 10808", socks["listen_port"])
	}

	outbounds := cfg["outbounds"].([]any)
	proxy := outbounds[0].(map[string]any)
	if proxy["type"] != "vless" || proxy["server"] != "198.51.100.7" {
		t.Errorf("proxy outbound = %v", proxy)
	}
	tls := proxy["tls"].(map[string]any)
	reality := tls["reality"].(map[string]any)
	if reality["public_key"] != "pk" || reality["short_id"] != "sid" {
		t.Errorf("reality = %v", reality)
	}
	transport := proxy["transport"].(map[string]any)
	if transport["type"] != "grpc" || transport["service_name"] != "svc" {
		t.Errorf("transport = %v", transport)
	}
}

func TestBuildConfigTunMode(t *testing.T) {
	cfg := buildAndDecode(t, core.ConnectRequest{URI: testURI, Mode: "tun"})
	inbounds := cfg["inbounds"].([]any)
	if len(inbounds) != 3 {
		t.Fatalf("inbounds = %d, want 3 in tun mode", len(inbounds))
	}
	tun := inbounds[2].(map[string]any)
	if tun["tag"] != "tun-in" || tun["type"] != "tun" {
		t.Errorf("tun inbound = %v", tun)
	}

	// The catch-all rule must include the tun inbound.
	route := cfg["route"].(map[string]any)
	rules := route["rules"].([]any)
	last := rules[len(rules)-1].(map[string]any)
	tags := last["inbound"].([]any)
	if len(tags) != 3 {
		t.Errorf("catch-all inbounds = %v", tags)
	}
}

func TestBuildConfigUnsupportedMode(t *testing.T) {
	if _, err := BuildConfig(core.ConnectRequest{URI: testURI, Mode: "warp"}, "127.0.0.1", 10809); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestBuildConfigRuleOrder(t *testing.T) {
	req := core.ConnectRequest{
		URI: testURI,
		SplitTunnel: &core.SplitTunnelSettings{
			BlockDomains:  []string{"ads.example"},
			BypassDomains: []string{"bank.example"},
			ProxyDomains:  []string{"stream.example"},
		},
		RegionRouting: &core.RegionRoutingSettings{
			DirectCountries: []string{"ru"},
		},
	}
	cfg := buildAndDecode(t, req)
	route := cfg["route"].(map[string]any)
	rules := route["rules"].([]any)

	var order []string
	for _, r := range rules {
		rule := r.(map[string]any)
		switch {
		case rule["rule_set"] == "geosite-category-ads-all":
			order = append(order, "adblock")
		case rule["ip_is_private"] == true:
			order = append(order, "private")
		case rule["inbound"] != nil:
			order = append(order, "catchall")
		case rule["geoip"] != nil:
			order = append(order, "geo:"+rule["outbound"].(string))
		default:
			order = append(order, rule["outbound"].(string))
		}
	}
	want := []string{"block", "adblock", "direct", "geo:direct", "private", "proxy", "catchall"}
	if len(order) != len(want) {
		t.Fatalf("rule order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("rule order = %v, want %v", order, want)
		}
	}

	// Country codes are uppercased.
	for _, r := range rules {
		rule := r.(map[string]any)
		if geo, ok := rule["geoip"].([]any); ok {
			if geo[0] != "RU" {
				t.Errorf("geoip = %v, want [RU]", geo)
			}
		}
	}
}

func TestBuildConfigObservatory(t *testing.T) {
	cfg := buildAndDecode(t, core.ConnectRequest{
		URI: testURI,
		Metrics: &core.MetricsSettings{
			EnableObservatory: true,
			ObservatoryToken:  "secret",
		},
	})
	exp := cfg["experimental"].(map[string]any)
	obs := exp["observatory"].(map[string]any)
	if obs["listen"] != "127.0.0.1:9090" {
		t.Errorf("observatory listen = %v, want default", obs["listen"])
	}
	clash := exp["clash_api"].(map[string]any)
	if clash["external_controller"] != "127.0.0.1:9090" || clash["secret"] != "secret" {
		t.Errorf("clash api = %v", clash)
	}
}

func TestBuildConfigNoObservatoryByDefault(t *testing.T) {
	cfg := buildAndDecode(t, core.ConnectRequest{URI: testURI})
	exp := cfg["experimental"].(map[string]any)
	if _, ok := exp["observatory"]; ok {
		t.Error("observatory enabled without being requested")
	}
	cache := exp["cache_file"].(map[string]any)
	if cache["enabled"] != true {
		t.Error("cache file should always be enabled")
	}
}

func TestLogRing(t *testing.T) {
	ring := NewLogRing(3)
	for _, line := range []string{"a", "b", "c", "d"} {
		ring.Append(line)
	}
	got := ring.LastN(0)
	if len(got) != 3 || got[0] != "b" || got[2] != "d" {
		t.Errorf("LastN(0) = %v", got)
	}
	if got := ring.LastN(2); len(got) != 2 || got[0] != "c" {
		t.Errorf("LastN(2) = %v", got)
	}
}
