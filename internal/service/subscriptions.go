package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"veilbox/internal/core"
)

// Subscriptions returns a copy of the subscription collection.
func (s *Service) Subscriptions() []core.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Subscription, len(s.subscriptions))
	copy(out, s.subscriptions)
	return out
}

// AddSubscription registers a feed and performs its first refresh
// synchronously. When that first fetch yields nothing usable the
// subscription is still kept, with the error recorded on it.
func (s *Service) AddSubscription(label, feedURL string) (core.Subscription, error) {
	feedURL = strings.TrimSpace(feedURL)
	u, err := url.Parse(feedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return core.Subscription{}, fmt.Errorf("subscription URL must be http(s)")
	}
	if label = strings.TrimSpace(label); label == "" {
		label = u.Hostname()
	}

	s.mu.Lock()
	for _, existing := range s.subscriptions {
		if existing.URL == feedURL {
			s.mu.Unlock()
			return core.Subscription{}, fmt.Errorf("subscription with this URL already exists")
		}
	}
	sub := core.Subscription{
		ID:        core.NewID(),
		Label:     label,
		URL:       feedURL,
		CreatedAt: time.Now(),
	}
	s.subscriptions = append(s.subscriptions, sub)
	s.store.SaveSubscriptions(s.subscriptions)
	s.mu.Unlock()

	if err := s.RefreshSubscription(sub.ID); err != nil {
		core.Log.Warnf("Sub", "Initial refresh of %s: %v", label, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.subscriptions {
		if cur.ID == sub.ID {
			return cur, nil
		}
	}
	return sub, nil
}

// RefreshSubscription re-fetches a feed and reconciles its profiles.
// Only one refresh per subscription runs at a time; a second request
// while one is in flight returns core.ErrRefreshInFlight. The fetch and
// decode happen outside the service lock; the reconcile is recomputed
// against the then-current collection under the lock so concurrent
// refreshes of different subscriptions cannot lose each other's writes.
func (s *Service) RefreshSubscription(subID string) error {
	s.mu.Lock()
	sub, ok := s.findSubscriptionLocked(subID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription %s not found", subID)
	}

	if err := s.subs.Begin(subID); err != nil {
		return err
	}
	defer s.subs.End(subID)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout())
	defer cancel()

	fetched, err := s.subs.Fetch(ctx, sub.URL)
	if err != nil {
		s.recordRefreshError(subID, err)
		return err
	}
	lines := core.DecodeSubscriptionBody(fetched.Body)

	activeGone, err := s.commitRefresh(subID, lines, fetched.Usage)
	if err != nil {
		return err
	}
	if activeGone {
		core.Log.Infof("Session", "Connected profile removed by refresh of %s, disconnecting", subID)
		if derr := s.Disconnect(); derr != nil {
			core.Log.Warnf("Session", "Disconnect after refresh dropped active profile: %v", derr)
		}
	}
	return nil
}

// commitRefresh applies a fetched feed under the lock. It reports
// whether the refresh removed the profile the session is connected
// with, so the caller can disconnect outside the lock.
func (s *Service) commitRefresh(subID string, lines []string, usage *core.Usage) (activeGone bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The subscription may have been deleted while the fetch ran.
	cur, ok := s.findSubscriptionLocked(subID)
	if !ok {
		core.Log.Infof("Sub", "Subscription %s removed during refresh, discarding result", subID)
		return false, nil
	}

	result, err := core.Reconcile(*cur, lines, s.profiles, s.parse)
	if err != nil {
		now := time.Now()
		cur.LastUpdatedAt = &now
		cur.LastError = err.Error()
		if usage != nil {
			cur.Usage = usage
		}
		s.store.SaveSubscriptions(s.subscriptions)
		s.publishSubscriptionUpdateLocked(subID, 0, err)
		return false, err
	}

	prevSelected := s.selectedID
	prevOwned := false
	if p, ok := core.FindProfile(s.profiles, prevSelected); ok {
		prevOwned = p.Origin.OwnedBy(subID)
	}

	s.profiles = result.NextProfiles

	ownedIDs := make([]string, 0, len(result.NextProfiles))
	for _, p := range s.profiles {
		if p.Origin.OwnedBy(subID) {
			ownedIDs = append(ownedIDs, p.ID)
		}
	}
	now := time.Now()
	cur.ProfileIDs = ownedIDs
	cur.LastUpdatedAt = &now
	cur.LastError = ""
	if usage != nil {
		cur.Usage = usage
	}

	s.selectedID = core.ResolveSelection(s.profiles, prevSelected, prevOwned, result.NewProfileIDs)
	s.store.SaveSelectedProfile(s.selectedID)
	s.store.SaveSubscriptions(s.subscriptions)
	s.persistProfilesLocked()

	for _, p := range s.profiles {
		if p.Origin.OwnedBy(subID) {
			s.maybeEnrichLocked(p)
		}
	}
	s.publishSubscriptionUpdateLocked(subID, len(ownedIDs), nil)
	core.Log.Infof("Sub", "Refreshed %s: %d profiles (%d new)", cur.Label, len(ownedIDs), len(result.NewProfileIDs))

	if active := s.session.ProfileID(); active != "" {
		if _, ok := core.FindProfile(s.profiles, active); !ok {
			activeGone = true
		}
	}
	return activeGone, nil
}

// DeleteSubscription removes a feed and every profile it owns. If the
// connected profile belongs to it, the session is disconnected first.
func (s *Service) DeleteSubscription(subID string) error {
	s.mu.Lock()
	if _, ok := s.findSubscriptionLocked(subID); !ok {
		s.mu.Unlock()
		return fmt.Errorf("subscription %s not found", subID)
	}
	activeOwned := false
	if p, ok := core.FindProfile(s.profiles, s.session.ProfileID()); ok {
		activeOwned = p.Origin.OwnedBy(subID)
	}
	s.mu.Unlock()

	if activeOwned {
		if err := s.Disconnect(); err != nil {
			core.Log.Warnf("Session", "Disconnect before subscription delete: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.profiles[:0]
	for _, p := range s.profiles {
		if p.Origin.OwnedBy(subID) {
			s.enrich.cancel(p.ID)
			continue
		}
		kept = append(kept, p)
	}
	s.profiles = kept

	for i, sub := range s.subscriptions {
		if sub.ID == subID {
			s.subscriptions = append(s.subscriptions[:i], s.subscriptions[i+1:]...)
			break
		}
	}

	if _, ok := core.FindProfile(s.profiles, s.selectedID); !ok {
		s.selectedID = core.ResolveSelection(s.profiles, "", false, nil)
		s.store.SaveSelectedProfile(s.selectedID)
	}

	s.store.SaveSubscriptions(s.subscriptions)
	s.persistProfilesLocked()
	return nil
}

// recordRefreshError stores a fetch failure on the subscription without
// touching its profiles. The attempt timestamp is stamped either way so
// the UI shows when the feed was last tried.
func (s *Service) recordRefreshError(subID string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.findSubscriptionLocked(subID)
	if !ok {
		return
	}
	now := time.Now()
	cur.LastUpdatedAt = &now
	cur.LastError = cause.Error()
	s.store.SaveSubscriptions(s.subscriptions)
	s.publishSubscriptionUpdateLocked(subID, len(cur.ProfileIDs), cause)
}

// findSubscriptionLocked returns a pointer into the collection. Caller
// holds s.mu.
func (s *Service) findSubscriptionLocked(subID string) (*core.Subscription, bool) {
	for i := range s.subscriptions {
		if s.subscriptions[i].ID == subID {
			return &s.subscriptions[i], true
		}
	}
	return nil, false
}

func (s *Service) publishSubscriptionUpdateLocked(subID string, count int, err error) {
	s.bus.PublishAsync(core.Event{Type: core.EventSubscriptionUpdated, Payload: core.SubscriptionUpdatePayload{
		SubscriptionID: subID,
		ProfileCount:   count,
		Err:            err,
	}})
}
