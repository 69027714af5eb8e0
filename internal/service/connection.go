package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"veilbox/internal/core"
	"veilbox/internal/engine"
)

// ConnectOptions are the per-connect knobs the UI passes alongside the
// selected profile. Zero values mean "proxy mode, defaults everywhere".
type ConnectOptions struct {
	Mode          string                      `json:"mode"`
	DNS           *core.DNSSettings           `json:"dns,omitempty"`
	RegionRouting *core.RegionRoutingSettings `json:"regionRouting,omitempty"`
	Metrics       *core.MetricsSettings       `json:"metrics,omitempty"`
}

// Connect opens the tunnel for the currently selected profile, folding
// in the persisted split-tunnel form when the toggle is on.
func (s *Service) Connect(opts ConnectOptions) error {
	s.mu.Lock()
	profile, ok := core.FindProfile(s.profiles, s.selectedID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no profile selected")
	}
	req := core.ConnectRequest{
		URI:           profile.URI,
		Mode:          opts.Mode,
		DNS:           normalizeDNS(opts.DNS),
		RegionRouting: normalizeRegionRouting(opts.RegionRouting),
		Metrics:       opts.Metrics,
	}
	if s.splitEnabled {
		if st := parseSplitForm(s.splitForm); !st.Empty() {
			req.SplitTunnel = st
		}
	}
	stored := req.Clone()
	s.lastRequest = &stored
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.session.Connect(ctx, profile.ID, req, s.cfg.Engine.ProxyHost, s.cfg.Engine.ProxyPort); err != nil {
		return err
	}

	s.startTrafficPoller(req.Metrics)
	go s.afterConnect(profile.ID, probeHost(profile))
	return nil
}

// probeHost picks the latency probe target: the profile's SNI when set,
// otherwise its server host.
func probeHost(p core.Profile) string {
	if p.Info.SNI != "" {
		return p.Info.SNI
	}
	return p.Info.Host
}

// startTrafficPoller streams throughput from the engine's metrics
// endpoint into the session while one is configured.
func (s *Service) startTrafficPoller(metrics *core.MetricsSettings) {
	if metrics == nil || !metrics.EnableObservatory {
		return
	}
	listen := strings.TrimSpace(metrics.ObservatoryListen)
	if listen == "" {
		listen = "127.0.0.1:9090"
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if s.trafficCancel != nil {
		s.trafficCancel()
	}
	s.trafficCancel = cancel
	s.mu.Unlock()

	poller := engine.NewTrafficPoller(listen, metrics.ObservatoryToken, s.session.IngestThroughput)
	go poller.Run(ctx)
}

func (s *Service) stopTrafficPoller() {
	s.mu.Lock()
	if s.trafficCancel != nil {
		s.trafficCancel()
		s.trafficCancel = nil
	}
	s.mu.Unlock()
}

// Reconnect repeats the last successful connect request, used by the
// tray's quick reconnect.
func (s *Service) Reconnect() error {
	s.mu.Lock()
	last := s.lastRequest
	profileID := s.selectedID
	host := ""
	if p, ok := core.FindProfile(s.profiles, profileID); ok {
		host = probeHost(p)
	}
	s.mu.Unlock()
	if last == nil {
		return fmt.Errorf("nothing to reconnect to")
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.session.Connect(ctx, profileID, last.Clone(), s.cfg.Engine.ProxyHost, s.cfg.Engine.ProxyPort); err != nil {
		return err
	}
	s.startTrafficPoller(last.Metrics)
	go s.afterConnect(profileID, host)
	return nil
}

// afterConnect runs the post-connect probes: latency against the
// profile's endpoint and the refreshed public address.
func (s *Service) afterConnect(profileID, host string) {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()
	ms := s.prober.Latency(ctx, host)
	s.session.SetLatency(profileID, ms)
	s.RefreshPublicAddress()
}

// Disconnect closes the tunnel and returns to idle.
func (s *Service) Disconnect() error {
	s.stopTrafficPoller()
	err := s.session.Disconnect()
	go s.RefreshPublicAddress()
	return err
}

// Session returns the current session snapshot.
func (s *Service) Session() core.SessionSnapshot {
	return s.session.Snapshot()
}

// SyncSessionState reconciles the session with a state observed outside
// the normal connect and disconnect paths. Stops the traffic poller when
// the sync says the tunnel is down.
func (s *Service) SyncSessionState(connected bool) {
	if !connected {
		s.stopTrafficPoller()
	}
	s.session.HandleStateSync(connected)
}

// TailLogs returns the last n engine log lines.
func (s *Service) TailLogs(n int) []string {
	if s.engine == nil {
		return nil
	}
	return s.engine.TailLogs(n)
}

// ThroughputWindow returns the retained throughput samples.
func (s *Service) ThroughputWindow() []core.TelemetrySample {
	return s.ring.Samples()
}

// RefreshPublicAddress looks up the machine's public IP and location
// and broadcasts the result. STUN answers first; the geo service fills
// in the location and wins on disagreement since it sees the HTTP path
// the way websites do.
func (s *Service) RefreshPublicAddress() {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()

	addr, err := s.prober.PublicIP(ctx)
	if err != nil {
		core.Log.Debugf("Net", "STUN probe: %v", err)
	}
	location := ""
	if self, err := s.prober.Self(ctx); err == nil {
		if self.IP != "" {
			addr = self.IP
		}
		location = self.Country
		if self.City != "" && self.Country != "" {
			location = self.City + ", " + self.Country
		}
	} else {
		core.Log.Debugf("Net", "Geo self lookup: %v", err)
	}
	if addr == "" {
		return
	}
	s.bus.Publish(core.Event{Type: core.EventPublicAddressChanged, Payload: core.PublicAddressPayload{
		Address:  addr,
		Location: location,
	}})
}

// SplitEnabled reports the split-tunnel toggle.
func (s *Service) SplitEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.splitEnabled
}

// SetSplitEnabled flips the split-tunnel toggle. Takes effect on the
// next connect.
func (s *Service) SetSplitEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splitEnabled = enabled
	s.store.SaveSplitEnabled(enabled)
}

// SplitForm returns the raw split-tunnel editor contents.
func (s *Service) SplitForm() core.SplitTunnelForm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.splitForm
}

// SaveSplitForm persists the raw split-tunnel editor contents verbatim.
func (s *Service) SaveSplitForm(form core.SplitTunnelForm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splitForm = form
	s.store.SaveSplitForm(form)
}

// parseSplitForm turns the raw editor text into rule lists: one entry
// per line or comma, trimmed, empties dropped.
func parseSplitForm(form core.SplitTunnelForm) *core.SplitTunnelSettings {
	return &core.SplitTunnelSettings{
		BypassDomains:   splitEntries(form.BypassDomains),
		BypassIPs:       splitEntries(form.BypassIPs),
		BypassProcesses: splitEntries(form.BypassProcesses),
		ProxyDomains:    splitEntries(form.ProxyDomains),
		ProxyIPs:        splitEntries(form.ProxyIPs),
		ProxyProcesses:  splitEntries(form.ProxyProcesses),
		BlockDomains:    splitEntries(form.BlockDomains),
		BlockIPs:        splitEntries(form.BlockIPs),
		BlockProcesses:  splitEntries(form.BlockProcesses),
	}
}

func splitEntries(raw string) []string {
	var out []string
	for _, chunk := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	}) {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// normalizeDNS drops empty upstream entries and returns nil when the
// settings carry nothing, so defaults apply.
func normalizeDNS(in *core.DNSSettings) *core.DNSSettings {
	if in == nil {
		return nil
	}
	out := core.DNSSettings{Strategy: strings.TrimSpace(in.Strategy)}
	for _, srv := range in.Servers {
		if strings.TrimSpace(srv.Address) == "" {
			continue
		}
		out.Servers = append(out.Servers, srv)
	}
	if out.Strategy == "" && len(out.Servers) == 0 {
		return nil
	}
	return &out
}

// normalizeRegionRouting trims country code lists and returns nil when
// every list is empty.
func normalizeRegionRouting(in *core.RegionRoutingSettings) *core.RegionRoutingSettings {
	if in == nil {
		return nil
	}
	out := core.RegionRoutingSettings{
		ProxyCountries:  trimList(in.ProxyCountries),
		DirectCountries: trimList(in.DirectCountries),
		BlockCountries:  trimList(in.BlockCountries),
	}
	if len(out.ProxyCountries) == 0 && len(out.DirectCountries) == 0 && len(out.BlockCountries) == 0 {
		return nil
	}
	return &out
}

func trimList(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
