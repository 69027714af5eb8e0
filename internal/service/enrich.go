package service

import (
	"context"
	"sync"

	"veilbox/internal/core"
)

// previewKey is the enrichment slot shared by all preview lookups, so a
// new preview cancels the previous one.
const previewKey = "preview"

// enrichmentPool tracks one cancellable lookup per entity id.
type enrichmentPool struct {
	parent context.Context

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

func newEnrichmentPool(parent context.Context) *enrichmentPool {
	return &enrichmentPool{
		parent: parent,
		tasks:  make(map[string]context.CancelFunc),
	}
}

// begin cancels any lookup already running under key and returns a
// fresh context for the replacement.
func (p *enrichmentPool) begin(key string) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.tasks[key]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(p.parent)
	p.tasks[key] = cancel
	return ctx
}

// cancel stops the lookup running under key, if any.
func (p *enrichmentPool) cancel(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.tasks[key]; ok {
		cancel()
		delete(p.tasks, key)
	}
}

// enrichProfileCountry resolves a profile's server country in the
// background and stores the result, unless the profile vanished or its
// host changed while the lookup ran.
func (s *Service) enrichProfileCountry(profileID, host string) {
	ctx := s.enrich.begin(profileID)
	go func() {
		country, err := s.prober.Country(ctx, host)
		if err != nil {
			core.Log.Debugf("Net", "Country lookup for %s: %v", host, err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, p := range s.profiles {
			if p.ID != profileID {
				continue
			}
			if p.Info.Host != host {
				return
			}
			s.profiles[i].Info.Country = country
			s.persistProfilesLocked()
			return
		}
	}()
}

// enrichPreviewCountry resolves a country for the add-profile preview
// card. Results go out as an event; nothing is persisted.
func (s *Service) enrichPreviewCountry(host string) {
	ctx := s.enrich.begin(previewKey)
	go func() {
		country, err := s.prober.Country(ctx, host)
		if err != nil {
			return
		}
		s.bus.Publish(core.Event{Type: core.EventProfilesChanged, Payload: core.Descriptor{
			Host:    host,
			Country: country,
		}})
	}()
}
