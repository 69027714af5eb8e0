package main

import (
	"veilbox/internal/core"
	"veilbox/internal/service"
)

// ─── Connection ─────────────────────────────────────────────────────

func (b *BindingService) Connect(opts service.ConnectOptions) error {
	return b.svc.Connect(opts)
}

func (b *BindingService) Disconnect() error {
	return b.svc.Disconnect()
}

func (b *BindingService) GetSession() core.SessionSnapshot {
	return b.svc.Session()
}

// TailLogs returns the last n engine log lines for the logs panel.
func (b *BindingService) TailLogs(n int) []string {
	return b.svc.TailLogs(n)
}

// GetThroughputWindow returns the retained throughput samples so the
// chart can backfill after a page reload.
func (b *BindingService) GetThroughputWindow() []core.TelemetrySample {
	return b.svc.ThroughputWindow()
}

// RefreshPublicAddress re-runs the public IP and location lookup.
func (b *BindingService) RefreshPublicAddress() {
	go b.svc.RefreshPublicAddress()
}

// SyncSessionState lets the frontend push a tunnel state it observed
// out-of-band, e.g. after waking from sleep.
func (b *BindingService) SyncSessionState(connected bool) {
	b.svc.SyncSessionState(connected)
}
