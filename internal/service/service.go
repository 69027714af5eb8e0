// Package service is the orchestration layer of the application. It
// wraps the core components (state store, subscription manager, session
// machine) behind one Service that the UI bindings call into, and it
// owns the mutable profile/subscription collections.
package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"veilbox/internal/core"
	"veilbox/internal/netinfo"
)

// NetProber abstracts the public address and latency lookups so tests
// can stub the network away.
type NetProber interface {
	PublicIP(ctx context.Context) (string, error)
	Self(ctx context.Context) (netinfo.SelfInfo, error)
	Country(ctx context.Context, host string) (string, error)
	Latency(ctx context.Context, host string) int
}

// Service is the central orchestrator bridging the UI with the core
// components. All mutations of the profile and subscription collections
// happen under s.mu.
type Service struct {
	cfg     core.AppConfig
	store   *core.StateStore
	subs    *core.SubscriptionManager
	session *core.Session
	engine  core.Engine
	bus     *core.EventBus
	ring    *core.TelemetryRing
	prober  NetProber
	parse   core.ParseFunc

	mu            sync.Mutex
	profiles      []core.Profile
	subscriptions []core.Subscription
	selectedID    string
	splitEnabled  bool
	splitForm     core.SplitTunnelForm
	lastRequest   *core.ConnectRequest
	trafficCancel context.CancelFunc

	enrich *enrichmentPool

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds parameters for creating a new Service.
type Config struct {
	AppConfig           core.AppConfig
	StateStore          *core.StateStore
	SubscriptionManager *core.SubscriptionManager
	Session             *core.Session
	Engine              core.Engine
	EventBus            *core.EventBus
	TelemetryRing       *core.TelemetryRing
	NetProber           NetProber // optional: defaults to real network lookups
	Parse               core.ParseFunc
}

// New creates a new Service and loads persisted state.
func New(c Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:     c.AppConfig,
		store:   c.StateStore,
		subs:    c.SubscriptionManager,
		session: c.Session,
		engine:  c.Engine,
		bus:     c.EventBus,
		ring:    c.TelemetryRing,
		prober:  c.NetProber,
		parse:   c.Parse,
		ctx:     ctx,
		cancel:  cancel,
	}
	if s.prober == nil {
		s.prober = &networkProber{
			cfg:  c.AppConfig,
			geo:  netinfo.NewGeoResolver(c.AppConfig.Net.GeoEndpoint),
			ping: &http.Client{Timeout: 10 * time.Second},
		}
	}
	s.enrich = newEnrichmentPool(ctx)

	st := c.StateStore.Load()
	s.profiles = st.Profiles
	s.subscriptions = st.Subscriptions
	s.selectedID = st.SelectedProfileID
	s.splitEnabled = st.SplitEnabled
	s.splitForm = st.SplitForm
	core.Log.Infof("UI", "Loaded %d profiles, %d subscriptions", len(s.profiles), len(s.subscriptions))
	return s
}

// Start launches background enrichment for profiles still missing a
// country and the initial public address lookup.
func (s *Service) Start() {
	s.mu.Lock()
	pending := make([]core.Profile, 0)
	for _, p := range s.profiles {
		if p.Info.Country == core.CountryUnknown {
			pending = append(pending, p)
		}
	}
	s.mu.Unlock()
	for _, p := range pending {
		s.enrichProfileCountry(p.ID, p.Info.Host)
	}
	go s.RefreshPublicAddress()
}

// Stop cancels background work.
func (s *Service) Stop() {
	s.cancel()
}

// networkProber is the production NetProber backed by STUN and the geo
// service.
type networkProber struct {
	cfg  core.AppConfig
	geo  *netinfo.GeoResolver
	ping *http.Client
}

func (n *networkProber) PublicIP(ctx context.Context) (string, error) {
	return netinfo.ProbePublicIP(ctx, n.cfg.Net.STUNServers, 5*time.Second)
}

func (n *networkProber) Self(ctx context.Context) (netinfo.SelfInfo, error) {
	return n.geo.Self(ctx)
}

func (n *networkProber) Country(ctx context.Context, host string) (string, error) {
	return n.geo.Country(ctx, host)
}

func (n *networkProber) Latency(ctx context.Context, host string) int {
	return netinfo.MeasureLatency(ctx, n.ping, "https://"+host+"/")
}
