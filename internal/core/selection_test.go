package core

import "testing"

func TestResolveSelection(t *testing.T) {
	profiles := []Profile{
		{ID: "a", Origin: ManualOrigin()},
		{ID: "b", Origin: SubscriptionOrigin("s1")},
	}

	cases := []struct {
		name         string
		profiles     []Profile
		prevSelected string
		prevOwned    bool
		newIDs       []string
		want         string
	}{
		{"keeps existing selection", profiles, "b", false, []string{"x"}, "b"},
		{"vanished owned selection moves to first new", profiles, "gone", true, []string{"b"}, "b"},
		{"no prior selection takes first new", profiles, "", false, []string{"b"}, "b"},
		{"vanished unowned selection falls back to first", profiles, "gone", false, []string{"b"}, "a"},
		{"no new ids falls back to first", profiles, "gone", true, nil, "a"},
		{"empty collection clears", nil, "gone", false, nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveSelection(tc.profiles, tc.prevSelected, tc.prevOwned, tc.newIDs)
			if got != tc.want {
				t.Errorf("ResolveSelection = %q, want %q", got, tc.want)
			}
		})
	}
}
