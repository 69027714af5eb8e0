package core

// ResolveSelection decides which profile should be selected after the
// collection changed. Rules, in order:
//
//  1. A still-existing selection is kept.
//  2. When the vanished selection was owned by the refreshed
//     subscription, or nothing was selected, the first newly added
//     profile takes over.
//  3. Otherwise fall back to the first profile, or empty when none.
//
// prevOwned reports whether the previous selection belonged to the
// subscription whose refresh produced newIDs.
func ResolveSelection(profiles []Profile, prevSelected string, prevOwned bool, newIDs []string) string {
	if prevSelected != "" {
		if _, ok := FindProfile(profiles, prevSelected); ok {
			return prevSelected
		}
	}
	if len(newIDs) > 0 && (prevOwned || prevSelected == "") {
		return newIDs[0]
	}
	if len(profiles) > 0 {
		return profiles[0].ID
	}
	return ""
}
