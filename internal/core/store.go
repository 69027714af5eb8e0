package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage keys. The values under them are JSON-encoded.
const (
	keyProfiles        = "veilbox.profiles"
	keySubscriptions   = "veilbox.subscriptions"
	keySelectedProfile = "veilbox.selectedProfile"
	keySplitEnabled    = "veilbox.splitEnabled"
	keySplitForm       = "veilbox.splitForm"
)

// KV is a minimal string key-value store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// FileKV persists the key-value map as a single JSON file. Writes go
// through a temp file rename so a crash cannot leave a torn file.
type FileKV struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileKV loads (or initializes) a file-backed store at path.
func NewFileKV(path string) (*FileKV, error) {
	kv := &FileKV{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kv, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &kv.data); err != nil {
		// Corrupt state file: start fresh rather than refuse to boot.
		Log.Warnf("Store", "State file %s is corrupt, starting empty: %v", path, err)
		kv.data = make(map[string]string)
	}
	return kv, nil
}

func (kv *FileKV) Get(key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	return v, ok, nil
}

func (kv *FileKV) Set(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	return kv.flushLocked()
}

func (kv *FileKV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return kv.flushLocked()
}

func (kv *FileKV) flushLocked() error {
	raw, err := json.MarshalIndent(kv.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(kv.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := kv.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, kv.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// SplitTunnelForm holds the raw textarea contents of the split-tunnel
// editor. Persisted verbatim; parsing into rule lists happens at connect
// time so user edits survive restarts untouched.
type SplitTunnelForm struct {
	BypassDomains   string `json:"bypassDomains"`
	BypassIPs       string `json:"bypassIPs"`
	BypassProcesses string `json:"bypassProcesses"`
	ProxyDomains    string `json:"proxyDomains"`
	ProxyIPs        string `json:"proxyIPs"`
	ProxyProcesses  string `json:"proxyProcesses"`
	BlockDomains    string `json:"blockDomains"`
	BlockIPs        string `json:"blockIPs"`
	BlockProcesses  string `json:"blockProcesses"`
}

// State is the persisted application state loaded at startup.
type State struct {
	Profiles          []Profile
	Subscriptions     []Subscription
	SelectedProfileID string
	SplitEnabled      bool
	SplitForm         SplitTunnelForm
}

// StateStore loads and saves application state through a KV backend.
// Load errors fall back to defaults; save errors are logged and
// swallowed so a failing disk never breaks an in-memory operation.
type StateStore struct {
	kv KV
}

// NewStateStore wraps a KV backend.
func NewStateStore(kv KV) *StateStore {
	return &StateStore{kv: kv}
}

// Load reads the full persisted state, sanitizing records. A malformed
// value under any key yields that key's default rather than an error.
func (s *StateStore) Load() State {
	st := State{SplitEnabled: true}

	if raw, ok := s.get(keyProfiles); ok {
		var profiles []Profile
		if err := json.Unmarshal([]byte(raw), &profiles); err != nil {
			Log.Warnf("Store", "Discarding malformed profiles: %v", err)
		} else {
			st.Profiles = sanitizeProfiles(profiles)
		}
	}
	if raw, ok := s.get(keySubscriptions); ok {
		var subs []Subscription
		if err := json.Unmarshal([]byte(raw), &subs); err != nil {
			Log.Warnf("Store", "Discarding malformed subscriptions: %v", err)
		} else {
			st.Subscriptions = sanitizeSubscriptions(subs, st.Profiles)
		}
	}
	if raw, ok := s.get(keySelectedProfile); ok {
		if _, found := FindProfile(st.Profiles, raw); found {
			st.SelectedProfileID = raw
		}
	}
	if raw, ok := s.get(keySplitEnabled); ok {
		st.SplitEnabled = raw != "false"
	}
	if raw, ok := s.get(keySplitForm); ok {
		var form SplitTunnelForm
		if err := json.Unmarshal([]byte(raw), &form); err != nil {
			Log.Warnf("Store", "Discarding malformed split form: %v", err)
		} else {
			st.SplitForm = form
		}
	}
	return st
}

func (s *StateStore) get(key string) (string, bool) {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		Log.Warnf("Store", "Read %s: %v", key, err)
		return "", false
	}
	return v, ok
}

// sanitizeProfiles drops records missing required fields and normalizes
// unknown origin kinds to manual.
func sanitizeProfiles(in []Profile) []Profile {
	out := make([]Profile, 0, len(in))
	for _, p := range in {
		if p.ID == "" || p.URI == "" {
			Log.Warnf("Store", "Dropping profile record without id or uri")
			continue
		}
		switch p.Origin.Kind {
		case OriginManual, OriginSubscription:
		default:
			p.Origin = ManualOrigin()
		}
		if p.Info.Country == "" {
			p.Info.Country = CountryUnknown
		}
		out = append(out, p)
	}
	return out
}

// sanitizeSubscriptions drops records missing required fields and
// rebuilds each membership list from the profiles that actually
// reference the subscription.
func sanitizeSubscriptions(in []Subscription, profiles []Profile) []Subscription {
	out := make([]Subscription, 0, len(in))
	for _, sub := range in {
		if sub.ID == "" || sub.URL == "" {
			Log.Warnf("Store", "Dropping subscription record without id or url")
			continue
		}
		var ids []string
		for _, p := range profiles {
			if p.Origin.OwnedBy(sub.ID) {
				ids = append(ids, p.ID)
			}
		}
		sub.ProfileIDs = ids
		out = append(out, sub)
	}
	return out
}

// SaveProfiles persists the profile collection.
func (s *StateStore) SaveProfiles(profiles []Profile) {
	s.setJSON(keyProfiles, profiles)
}

// SaveSubscriptions persists the subscription collection.
func (s *StateStore) SaveSubscriptions(subs []Subscription) {
	s.setJSON(keySubscriptions, subs)
}

// SaveSelectedProfile persists the selected profile id, removing the key
// when nothing is selected.
func (s *StateStore) SaveSelectedProfile(id string) {
	if id == "" {
		if err := s.kv.Delete(keySelectedProfile); err != nil {
			Log.Warnf("Store", "Delete %s: %v", keySelectedProfile, err)
		}
		return
	}
	if err := s.kv.Set(keySelectedProfile, id); err != nil {
		Log.Warnf("Store", "Write %s: %v", keySelectedProfile, err)
	}
}

// SaveSplitEnabled persists the split-tunnel toggle.
func (s *StateStore) SaveSplitEnabled(enabled bool) {
	v := "true"
	if !enabled {
		v = "false"
	}
	if err := s.kv.Set(keySplitEnabled, v); err != nil {
		Log.Warnf("Store", "Write %s: %v", keySplitEnabled, err)
	}
}

// SaveSplitForm persists the raw split-tunnel editor contents.
func (s *StateStore) SaveSplitForm(form SplitTunnelForm) {
	s.setJSON(keySplitForm, form)
}

func (s *StateStore) setJSON(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		Log.Warnf("Store", "Marshal %s: %v", key, err)
		return
	}
	if err := s.kv.Set(key, string(raw)); err != nil {
		Log.Warnf("Store", "Write %s: %v", key, err)
	}
}
