package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CountryUnknown is the sentinel for a country that has not been resolved yet.
const CountryUnknown = "-"

// Descriptor is the parsed, display-oriented view of a connection URI.
// Produced only by the URI parser; the only field mutated afterwards is
// Country, which asynchronous enrichment may refine.
type Descriptor struct {
	NodeName    string `json:"nodeName"`
	Host        string `json:"host"`
	Port        string `json:"port"`
	Transport   string `json:"transport"`
	Flow        string `json:"flow"`
	Security    string `json:"security"`
	Fingerprint string `json:"fingerprint"`
	SNI         string `json:"sni"`
	ShortID     string `json:"shortId"`
	Country     string `json:"country"`
}

// OriginKind distinguishes manually entered profiles from subscription-owned
// ones. It is a closed set: consumers switch on it exhaustively.
type OriginKind string

const (
	OriginManual       OriginKind = "manual"
	OriginSubscription OriginKind = "subscription"
)

// Origin tags where a profile came from. For OriginSubscription,
// SubscriptionID references the owning subscription.
type Origin struct {
	Kind           OriginKind `json:"kind"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
}

// ManualOrigin returns the origin tag for a hand-entered profile.
func ManualOrigin() Origin {
	return Origin{Kind: OriginManual}
}

// SubscriptionOrigin returns the origin tag for a subscription-owned profile.
func SubscriptionOrigin(subID string) Origin {
	return Origin{Kind: OriginSubscription, SubscriptionID: subID}
}

// OwnedBy reports whether the origin references the given subscription.
func (o Origin) OwnedBy(subID string) bool {
	return o.Kind == OriginSubscription && o.SubscriptionID == subID
}

// Profile is a persisted, user-selectable connection target.
type Profile struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	URI    string     `json:"uri"`
	Info   Descriptor `json:"info"`
	Origin Origin     `json:"origin"`
}

// Usage holds subscription quota metadata reported by the feed.
type Usage struct {
	Upload   int64      `json:"upload"`
	Download int64      `json:"download"`
	Total    *int64     `json:"total,omitempty"`
	Expire   *time.Time `json:"expire,omitempty"`
}

// Subscription is a remote feed of connection URIs owning a dynamic
// set of profiles. ProfileIDs is the authoritative membership set: it
// always equals the ids of profiles whose origin references this
// subscription.
type Subscription struct {
	ID            string     `json:"id"`
	Label         string     `json:"label"`
	URL           string     `json:"url"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	ProfileIDs    []string   `json:"profileIds"`
	Usage         *Usage     `json:"usage,omitempty"`
}

// SessionState is the lifecycle state of the connection session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string form for the frontend.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// NewID mints an opaque stable identifier for profiles and subscriptions.
func NewID() string {
	return uuid.NewString()
}

// FindProfile returns the profile with the given id, if present.
func FindProfile(profiles []Profile, id string) (Profile, bool) {
	for _, p := range profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// FormatDuration renders a connection duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "00:00:00"
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
