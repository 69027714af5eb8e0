package service

import (
	"fmt"
	"strings"

	"veilbox/internal/core"
)

// Profiles returns a copy of the profile collection.
func (s *Service) Profiles() []core.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

// SelectedProfileID returns the current selection, empty when none.
func (s *Service) SelectedProfileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// SaveProfile creates or updates a manual profile from a share link.
// The URI must parse; editing a subscription-owned profile is rejected.
func (s *Service) SaveProfile(id, label, uri string) (core.Profile, error) {
	uri = strings.TrimSpace(uri)
	desc, err := s.parse(uri)
	if err != nil {
		return core.Profile{}, err
	}
	if label = strings.TrimSpace(label); label == "" {
		label = desc.NodeName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		for i, p := range s.profiles {
			if p.ID != id {
				continue
			}
			if p.Origin.Kind == core.OriginSubscription {
				return core.Profile{}, fmt.Errorf("profile %q belongs to a subscription and cannot be edited", p.Label)
			}
			// Keep enrichment when the URI didn't change.
			if p.URI == uri && p.Info.Country != core.CountryUnknown {
				desc.Country = p.Info.Country
			}
			p.Label = label
			p.URI = uri
			p.Info = desc
			s.profiles[i] = p
			s.selectLocked(p.ID)
			s.persistProfilesLocked()
			s.maybeEnrichLocked(p)
			return p, nil
		}
		return core.Profile{}, fmt.Errorf("profile %s not found", id)
	}

	p := core.Profile{
		ID:     core.NewID(),
		Label:  label,
		URI:    uri,
		Info:   desc,
		Origin: core.ManualOrigin(),
	}
	s.profiles = append(s.profiles, p)
	// The profile just saved becomes the selection.
	s.selectLocked(p.ID)
	s.persistProfilesLocked()
	s.maybeEnrichLocked(p)
	return p, nil
}

// selectLocked updates and persists the selection. Caller holds s.mu.
func (s *Service) selectLocked(id string) {
	if s.selectedID == id {
		return
	}
	s.selectedID = id
	s.store.SaveSelectedProfile(id)
}

// PreviewURI parses a share link without persisting anything, for the
// add-profile form. Country enrichment for the preview is fired
// asynchronously under a fixed key so rapid typing cancels prior lookups.
func (s *Service) PreviewURI(uri string) (core.Descriptor, error) {
	desc, err := s.parse(strings.TrimSpace(uri))
	if err != nil {
		return core.Descriptor{}, err
	}
	if desc.Country == core.CountryUnknown {
		s.enrichPreviewCountry(desc.Host)
	}
	return desc, nil
}

// DeleteProfile removes a manual profile. Subscription-owned profiles
// can only disappear through their subscription. Deleting the connected
// profile forces a disconnect first.
func (s *Service) DeleteProfile(id string) error {
	s.mu.Lock()
	idx := -1
	for i, p := range s.profiles {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("profile %s not found", id)
	}
	if s.profiles[idx].Origin.Kind == core.OriginSubscription {
		label := s.profiles[idx].Label
		s.mu.Unlock()
		return fmt.Errorf("profile %q belongs to a subscription; delete the subscription instead", label)
	}
	s.mu.Unlock()

	if s.session.ProfileID() == id {
		if err := s.Disconnect(); err != nil {
			core.Log.Warnf("Session", "Disconnect before profile delete: %v", err)
		}
	}
	s.enrich.cancel(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.profiles {
		if p.ID == id {
			s.profiles = append(s.profiles[:i], s.profiles[i+1:]...)
			break
		}
	}
	if s.selectedID == id {
		s.selectedID = core.ResolveSelection(s.profiles, "", false, nil)
		s.store.SaveSelectedProfile(s.selectedID)
	}
	s.persistProfilesLocked()
	return nil
}

// SelectProfile changes the current selection.
func (s *Service) SelectProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := core.FindProfile(s.profiles, id); !ok {
			return fmt.Errorf("profile %s not found", id)
		}
	}
	s.selectedID = id
	s.store.SaveSelectedProfile(id)
	return nil
}

// persistProfilesLocked saves the collection and notifies the UI.
// Caller holds s.mu.
func (s *Service) persistProfilesLocked() {
	s.store.SaveProfiles(s.profiles)
	s.bus.PublishAsync(core.Event{Type: core.EventProfilesChanged})
}

// maybeEnrichLocked fires country enrichment for a profile that still
// lacks one. Caller holds s.mu.
func (s *Service) maybeEnrichLocked(p core.Profile) {
	if p.Info.Country == core.CountryUnknown {
		s.enrichProfileCountry(p.ID, p.Info.Host)
	}
}
