package core

import (
	"errors"
	"fmt"
)

// ErrNoUsableEntries is returned when a subscription feed decodes but
// contains no parseable connection URIs.
var ErrNoUsableEntries = errors.New("subscription contains no usable entries")

// ParseFunc turns a connection URI into a display descriptor. Injected so
// this package stays independent of any particular protocol parser.
type ParseFunc func(uri string) (Descriptor, error)

// ReconcileResult is the outcome of reconciling one subscription's
// fetched entries against the current profile collection.
type ReconcileResult struct {
	// NextProfiles is the full replacement profile collection: every
	// profile not owned by the subscription, in its existing order,
	// followed by the subscription's profiles in fetched order.
	NextProfiles []Profile
	// NewProfileIDs are ids of profiles that did not exist before this
	// reconcile, in fetched order.
	NewProfileIDs []string
}

// Reconcile computes the replacement profile collection for a
// subscription refresh. It is pure: no clock, no io, no randomness
// beyond fresh ids. Profiles whose URI already exists under this
// subscription keep their id and any enriched country; everything else
// owned by the subscription is dropped.
func Reconcile(sub Subscription, fetched []string, current []Profile, parse ParseFunc) (ReconcileResult, error) {
	// Index the subscription's existing profiles by URI for reuse.
	existing := make(map[string]Profile)
	for _, p := range current {
		if p.Origin.OwnedBy(sub.ID) {
			if _, dup := existing[p.URI]; !dup {
				existing[p.URI] = p
			}
		}
	}

	seen := make(map[string]bool)
	var (
		owned  []Profile
		newIDs []string
	)
	for _, uri := range fetched {
		if seen[uri] {
			continue
		}
		seen[uri] = true
		desc, err := parse(uri)
		if err != nil {
			Log.Debugf("Sub", "Skipping unparseable entry: %v", err)
			continue
		}

		if prev, ok := existing[uri]; ok {
			// Keep identity and any country enrichment already done.
			if prev.Info.Country != CountryUnknown && prev.Info.Country != "" {
				desc.Country = prev.Info.Country
			}
			prev.Info = desc
			prev.Label = profileLabel(desc, sub.Label, len(owned)+1)
			owned = append(owned, prev)
			continue
		}
		id := NewID()
		owned = append(owned, Profile{
			ID:     id,
			Label:  profileLabel(desc, sub.Label, len(owned)+1),
			URI:    uri,
			Info:   desc,
			Origin: SubscriptionOrigin(sub.ID),
		})
		newIDs = append(newIDs, id)
	}

	if len(owned) == 0 {
		return ReconcileResult{}, ErrNoUsableEntries
	}

	next := make([]Profile, 0, len(current)+len(owned))
	for _, p := range current {
		if !p.Origin.OwnedBy(sub.ID) {
			next = append(next, p)
		}
	}
	next = append(next, owned...)

	return ReconcileResult{NextProfiles: next, NewProfileIDs: newIDs}, nil
}

// profileLabel names a subscription profile after its node name, falling
// back to a positional label when the feed gave none.
func profileLabel(desc Descriptor, subLabel string, pos int) string {
	if desc.NodeName != "" && desc.NodeName != "Unnamed" {
		return desc.NodeName
	}
	if subLabel == "" {
		subLabel = "Subscription"
	}
	return fmt.Sprintf("%s #%d", subLabel, pos)
}
