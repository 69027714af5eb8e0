package core

// ConnectRequest bundles everything the tunnel engine needs to open a
// connection: the canonical profile URI plus optional overlay settings.
type ConnectRequest struct {
	URI           string                 `json:"uri"`
	Mode          string                 `json:"mode"`
	SplitTunnel   *SplitTunnelSettings   `json:"splitTunnel,omitempty"`
	DNS           *DNSSettings           `json:"dns,omitempty"`
	RegionRouting *RegionRoutingSettings `json:"regionRouting,omitempty"`
	Metrics       *MetricsSettings       `json:"metrics,omitempty"`
}

// SplitTunnelSettings carries per-category allow/deny lists for domains,
// IP CIDRs and process names.
type SplitTunnelSettings struct {
	BypassDomains   []string `json:"bypassDomains,omitempty"`
	BypassIPs       []string `json:"bypassIPs,omitempty"`
	BypassProcesses []string `json:"bypassProcesses,omitempty"`
	ProxyDomains    []string `json:"proxyDomains,omitempty"`
	ProxyIPs        []string `json:"proxyIPs,omitempty"`
	ProxyProcesses  []string `json:"proxyProcesses,omitempty"`
	BlockDomains    []string `json:"blockDomains,omitempty"`
	BlockIPs        []string `json:"blockIPs,omitempty"`
	BlockProcesses  []string `json:"blockProcesses,omitempty"`
}

// Empty reports whether no rule list has any entries.
func (s *SplitTunnelSettings) Empty() bool {
	if s == nil {
		return true
	}
	lists := [][]string{
		s.BypassDomains, s.BypassIPs, s.BypassProcesses,
		s.ProxyDomains, s.ProxyIPs, s.ProxyProcesses,
		s.BlockDomains, s.BlockIPs, s.BlockProcesses,
	}
	for _, l := range lists {
		if len(l) > 0 {
			return false
		}
	}
	return true
}

// DNSUpstream describes one upstream DNS server.
type DNSUpstream struct {
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Address  string `json:"address"`
	Detour   string `json:"detour,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// DNSSettings selects a resolution strategy and optional upstream servers.
// Strategy is one of prefer_ipv4, prefer_ipv6, ipv4_only, ipv6_only.
type DNSSettings struct {
	Strategy string        `json:"strategy"`
	Servers  []DNSUpstream `json:"servers,omitempty"`
}

// RegionRoutingSettings routes traffic by destination country code.
type RegionRoutingSettings struct {
	ProxyCountries  []string `json:"proxyCountries,omitempty"`
	DirectCountries []string `json:"directCountries,omitempty"`
	BlockCountries  []string `json:"blockCountries,omitempty"`
}

// MetricsSettings controls the engine's observatory/metrics endpoint.
type MetricsSettings struct {
	EnableObservatory bool   `json:"enableObservatory"`
	ObservatoryListen string `json:"observatoryListen,omitempty"`
	ObservatoryToken  string `json:"observatoryToken,omitempty"`
}

// Clone returns a deep copy of the request so a stored "last request"
// cannot alias caller-owned slices.
func (r ConnectRequest) Clone() ConnectRequest {
	out := r
	if r.SplitTunnel != nil {
		st := *r.SplitTunnel
		st.BypassDomains = append([]string(nil), r.SplitTunnel.BypassDomains...)
		st.BypassIPs = append([]string(nil), r.SplitTunnel.BypassIPs...)
		st.BypassProcesses = append([]string(nil), r.SplitTunnel.BypassProcesses...)
		st.ProxyDomains = append([]string(nil), r.SplitTunnel.ProxyDomains...)
		st.ProxyIPs = append([]string(nil), r.SplitTunnel.ProxyIPs...)
		st.ProxyProcesses = append([]string(nil), r.SplitTunnel.ProxyProcesses...)
		st.BlockDomains = append([]string(nil), r.SplitTunnel.BlockDomains...)
		st.BlockIPs = append([]string(nil), r.SplitTunnel.BlockIPs...)
		st.BlockProcesses = append([]string(nil), r.SplitTunnel.BlockProcesses...)
		out.SplitTunnel = &st
	}
	if r.DNS != nil {
		dns := *r.DNS
		dns.Servers = append([]DNSUpstream(nil), r.DNS.Servers...)
		out.DNS = &dns
	}
	if r.RegionRouting != nil {
		rr := *r.RegionRouting
		rr.ProxyCountries = append([]string(nil), r.RegionRouting.ProxyCountries...)
		rr.DirectCountries = append([]string(nil), r.RegionRouting.DirectCountries...)
		rr.BlockCountries = append([]string(nil), r.RegionRouting.BlockCountries...)
		out.RegionRouting = &rr
	}
	if r.Metrics != nil {
		m := *r.Metrics
		out.Metrics = &m
	}
	return out
}
