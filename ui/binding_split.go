package main

import "veilbox/internal/core"

// ─── Split tunnel ───────────────────────────────────────────────────

type SplitTunnelState struct {
	Enabled bool                 `json:"enabled"`
	Form    core.SplitTunnelForm `json:"form"`
}

func (b *BindingService) GetSplitTunnel() SplitTunnelState {
	return SplitTunnelState{
		Enabled: b.svc.SplitEnabled(),
		Form:    b.svc.SplitForm(),
	}
}

func (b *BindingService) SetSplitEnabled(enabled bool) {
	b.svc.SetSplitEnabled(enabled)
}

func (b *BindingService) SaveSplitForm(form core.SplitTunnelForm) {
	b.svc.SaveSplitForm(form)
}
