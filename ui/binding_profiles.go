package main

import "veilbox/internal/core"

// ─── Profiles ───────────────────────────────────────────────────────

type ProfileListResult struct {
	Profiles   []core.Profile `json:"profiles"`
	SelectedID string         `json:"selectedId"`
}

func (b *BindingService) ListProfiles() ProfileListResult {
	return ProfileListResult{
		Profiles:   b.svc.Profiles(),
		SelectedID: b.svc.SelectedProfileID(),
	}
}

type SaveProfileParams struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	URI   string `json:"uri"`
}

func (b *BindingService) SaveProfile(params SaveProfileParams) (core.Profile, error) {
	return b.svc.SaveProfile(params.ID, params.Label, params.URI)
}

// PreviewURI parses a share link for the add-profile form without
// persisting anything.
func (b *BindingService) PreviewURI(uri string) (core.Descriptor, error) {
	return b.svc.PreviewURI(uri)
}

func (b *BindingService) DeleteProfile(id string) error {
	return b.svc.DeleteProfile(id)
}

func (b *BindingService) SelectProfile(id string) error {
	return b.svc.SelectProfile(id)
}
