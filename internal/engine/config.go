package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"veilbox/internal/core"
	"veilbox/internal/vless"
)

// adsRuleSetURL is the remote rule set blocking ad domains.
const adsRuleSetURL = "https://raw.githubusercontent.com/SagerNet/sing-geosite/rule-set/geosite-category-ads-all.srs"

// BuildConfig renders the sing-box JSON config for a connect request.
// The proxy host/port pair is where the local HTTP inbound listens; the
// SOCKS inbound sits one port below it.
func BuildConfig(req core.ConnectRequest, proxyHost string, proxyPort int) ([]byte, error) {
	mode := strings.ToLower(req.Mode)
	if mode == "" {
		mode = "proxy"
	}
	if mode != "proxy" && mode != "tun" {
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}

	outbound, err := buildProxyOutbound(req.URI)
	if err != nil {
		return nil, err
	}

	inbounds := []map[string]any{
		{
			"tag":         "socks-in",
			"type":        "socks",
			"listen":      proxyHost,
			"listen_port": proxyPort - 1,
		},
		{
			"tag":         "http-in",
			"type":        "http",
			"listen":      proxyHost,
			"listen_port": proxyPort,
		},
	}
	inboundTags := []string{"socks-in", "http-in"}
	if mode == "tun" {
		inbounds = append(inbounds, map[string]any{
			"tag":          "tun-in",
			"type":         "tun",
			"address":      []string{"172.19.0.1/30"},
			"auto_route":   true,
			"strict_route": true,
			"stack":        "system",
		})
		inboundTags = append(inboundTags, "tun-in")
	}

	rules, ruleSets := buildRouteSections(req.SplitTunnel, req.RegionRouting, inboundTags)

	config := map[string]any{
		"log": map[string]any{
			"level": "warn",
		},
		"dns": buildDNSBlock(req.DNS),
		"inbounds": inbounds,
		"outbounds": []map[string]any{
			outbound,
			{"tag": "direct", "type": "direct"},
			{"tag": "block", "type": "block"},
		},
		"route": map[string]any{
			"rules":                 rules,
			"rule_set":              ruleSets,
			"auto_detect_interface": true,
		},
		"experimental": buildExperimentalBlock(req.Metrics),
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal engine config: %w", err)
	}
	return data, nil
}

// buildProxyOutbound parses the share link and renders the vless outbound.
func buildProxyOutbound(uri string) (map[string]any, error) {
	cfg, _, err := vless.ParseURI(uri)
	if err != nil {
		return nil, err
	}

	outbound := map[string]any{
		"tag":         "proxy",
		"type":        "vless",
		"server":      cfg.Address,
		"server_port": cfg.Port,
		"uuid":        cfg.UUID,
	}
	if cfg.Flow != "" {
		outbound["flow"] = cfg.Flow
	}

	switch cfg.Security {
	case "reality":
		fp := cfg.Reality.Fingerprint
		if fp == "" {
			fp = "chrome"
		}
		outbound["tls"] = map[string]any{
			"enabled":     true,
			"server_name": cfg.Reality.ServerName,
			"utls": map[string]any{
				"enabled":     true,
				"fingerprint": fp,
			},
			"reality": map[string]any{
				"enabled":    true,
				"public_key": cfg.Reality.PublicKey,
				"short_id":   cfg.Reality.ShortID,
			},
		}
	case "tls":
		tls := map[string]any{
			"enabled":  true,
			"insecure": cfg.TLS.AllowInsecure,
		}
		if cfg.TLS.ServerName != "" {
			tls["server_name"] = cfg.TLS.ServerName
		}
		if cfg.TLS.Fingerprint != "" {
			tls["utls"] = map[string]any{
				"enabled":     true,
				"fingerprint": cfg.TLS.Fingerprint,
			}
		}
		outbound["tls"] = tls
	}

	switch cfg.Network {
	case "grpc":
		outbound["transport"] = map[string]any{
			"type":                  "grpc",
			"service_name":          cfg.GRPC.ServiceName,
			"idle_timeout":          "15s",
			"permit_without_stream": true,
		}
		outbound["multiplex"] = map[string]any{
			"enabled":         true,
			"max_connections": 8,
			"min_streams":     4,
			"max_streams":     32,
		}
	case "ws":
		ws := map[string]any{
			"type": "ws",
			"path": cfg.WebSocket.Path,
		}
		if len(cfg.WebSocket.Headers) > 0 {
			ws["headers"] = cfg.WebSocket.Headers
		}
		outbound["transport"] = ws
	case "tcp":
		outbound["multiplex"] = map[string]any{"enabled": false}
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Network)
	}

	return outbound, nil
}

func buildDNSBlock(settings *core.DNSSettings) map[string]any {
	defaultServers := []map[string]any{
		{
			"tag":             "secure",
			"type":            "https",
			"server":          "dns.google",
			"domain_resolver": "local",
		},
		{
			"tag":  "local",
			"type": "local",
		},
	}
	dns := map[string]any{
		"servers":  defaultServers,
		"strategy": "prefer_ipv4",
	}
	if settings == nil {
		return dns
	}
	if len(settings.Servers) > 0 {
		var servers []map[string]any
		for _, srv := range settings.Servers {
			address := strings.TrimSpace(srv.Address)
			if address == "" {
				continue
			}
			serverType := srv.Type
			if serverType == "" {
				serverType = inferDNSType(address)
			}
			entry := map[string]any{
				"tag":  firstNonEmpty(srv.Tag, addressTag(address)),
				"type": serverType,
			}
			if serverType != "local" {
				entry["server"] = address
			}
			if srv.Detour != "" {
				entry["detour"] = srv.Detour
			}
			if srv.Strategy != "" {
				entry["strategy"] = srv.Strategy
			}
			servers = append(servers, entry)
		}
		if len(servers) > 0 {
			dns["servers"] = servers
		}
	}
	if settings.Strategy != "" {
		dns["strategy"] = settings.Strategy
	}
	return dns
}

func inferDNSType(address string) string {
	switch {
	case strings.HasPrefix(address, "https://"):
		return "https"
	case strings.HasPrefix(address, "tls://"):
		return "tls"
	case address == "local":
		return "local"
	default:
		return "udp"
	}
}

// buildRouteSections produces the route rules in evaluation order:
// block rules first, then direct, private addresses, proxy overrides,
// and finally the inbound catch-all sending everything else to the proxy.
func buildRouteSections(split *core.SplitTunnelSettings, region *core.RegionRoutingSettings, inboundTags []string) ([]map[string]any, []map[string]any) {
	var blockRules, directRules, proxyRules []map[string]any

	if split != nil {
		blockRules = appendListRules(blockRules, "block", split.BlockDomains, split.BlockIPs, split.BlockProcesses)
		directRules = appendListRules(directRules, "direct", split.BypassDomains, split.BypassIPs, split.BypassProcesses)
		proxyRules = appendListRules(proxyRules, "proxy", split.ProxyDomains, split.ProxyIPs, split.ProxyProcesses)
	}
	if region != nil {
		if countries := uppercaseCodes(region.BlockCountries); len(countries) > 0 {
			blockRules = append(blockRules, map[string]any{"geoip": countries, "outbound": "block"})
		}
		if countries := uppercaseCodes(region.DirectCountries); len(countries) > 0 {
			directRules = append(directRules, map[string]any{"geoip": countries, "outbound": "direct"})
		}
		if countries := uppercaseCodes(region.ProxyCountries); len(countries) > 0 {
			proxyRules = append(proxyRules, map[string]any{"geoip": countries, "outbound": "proxy"})
		}
	}

	// Ad domains are always blocked.
	blockRules = append(blockRules, map[string]any{
		"rule_set": "geosite-category-ads-all",
		"outbound": "block",
	})

	rules := make([]map[string]any, 0, len(blockRules)+len(directRules)+len(proxyRules)+2)
	rules = append(rules, blockRules...)
	rules = append(rules, directRules...)
	rules = append(rules, map[string]any{"ip_is_private": true, "outbound": "direct"})
	rules = append(rules, proxyRules...)
	rules = append(rules, map[string]any{"inbound": inboundTags, "outbound": "proxy"})

	ruleSets := []map[string]any{{
		"tag":             "geosite-category-ads-all",
		"type":            "remote",
		"format":          "binary",
		"url":             adsRuleSetURL,
		"download_detour": "direct",
	}}

	return rules, ruleSets
}

// appendListRules adds one rule per non-empty list: domains, CIDRs, then
// process names, all pointing at the same outbound.
func appendListRules(rules []map[string]any, outbound string, domains, ips, processes []string) []map[string]any {
	if v := cleanStringList(domains); len(v) > 0 {
		rules = append(rules, map[string]any{"domain": v, "outbound": outbound})
	}
	if v := cleanStringList(ips); len(v) > 0 {
		rules = append(rules, map[string]any{"ip_cidr": v, "outbound": outbound})
	}
	if v := cleanStringList(processes); len(v) > 0 {
		rules = append(rules, map[string]any{"process_name": v, "outbound": outbound})
	}
	return rules
}

func buildExperimentalBlock(settings *core.MetricsSettings) map[string]any {
	experimental := map[string]any{
		"cache_file": map[string]any{"enabled": true},
	}
	if settings == nil || !settings.EnableObservatory {
		return experimental
	}
	listen := strings.TrimSpace(settings.ObservatoryListen)
	if listen == "" {
		listen = "127.0.0.1:9090"
	}
	token := strings.TrimSpace(settings.ObservatoryToken)

	observatory := map[string]any{
		"enabled": true,
		"listen":  listen,
	}
	clash := map[string]any{
		"external_controller":         listen,
		"access_control_allow_origin": []string{"*"},
	}
	if token != "" {
		observatory["token"] = token
		clash["secret"] = token
	}
	experimental["observatory"] = observatory
	experimental["clash_api"] = clash
	return experimental
}

func cleanStringList(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func uppercaseCodes(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func addressTag(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "dns"
	}
	for _, prefix := range []string{"https://", "tls://", "udp://", "tcp://"} {
		addr = strings.TrimPrefix(addr, prefix)
	}
	if idx := strings.Index(addr, "/"); idx > 0 {
		addr = addr[:idx]
	}
	return addr
}
