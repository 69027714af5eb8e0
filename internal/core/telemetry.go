package core

import (
	"encoding/json"
	"sync"
	"time"
)

// TelemetrySample is one throughput reading in bytes per second.
type TelemetrySample struct {
	TS   time.Time `json:"ts"`
	Down float64   `json:"down"`
	Up   float64   `json:"up"`
}

// telemetryWindow is how many samples the ring retains. At one sample
// per second this covers three minutes of history.
const telemetryWindow = 180

// TelemetryRing keeps a fixed-size window of recent throughput samples.
type TelemetryRing struct {
	mu      sync.Mutex
	samples []TelemetrySample
}

// NewTelemetryRing creates an empty ring.
func NewTelemetryRing() *TelemetryRing {
	return &TelemetryRing{}
}

// Append adds a sample, evicting the oldest once the window is full.
func (r *TelemetryRing) Append(s TelemetrySample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	if len(r.samples) > telemetryWindow {
		r.samples = r.samples[len(r.samples)-telemetryWindow:]
	}
}

// Samples returns a copy of the retained window, oldest first.
func (r *TelemetryRing) Samples() []TelemetrySample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TelemetrySample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Latest returns the most recent sample, if any.
func (r *TelemetryRing) Latest() (TelemetrySample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return TelemetrySample{}, false
	}
	return r.samples[len(r.samples)-1], true
}

// Clear drops all retained samples.
func (r *TelemetryRing) Clear() {
	r.mu.Lock()
	r.samples = nil
	r.mu.Unlock()
}

// Alias spellings used by different engine builds for the same counters.
// First present key wins.
var (
	downAliases = []string{"down", "downstream", "downBytesPerSec", "down_bytes", "down_bps", "downrate"}
	upAliases   = []string{"up", "upstream", "upBytesPerSec", "up_bytes", "up_bps", "uprate"}
)

// CoalesceThroughput extracts down/up byte rates from a loosely typed
// telemetry payload, tolerating the alias spellings engines emit.
// Missing or non-numeric values coalesce to zero; negatives clamp to zero.
func CoalesceThroughput(payload map[string]any) (down, up float64) {
	return pickRate(payload, downAliases), pickRate(payload, upAliases)
}

func pickRate(payload map[string]any, aliases []string) float64 {
	for _, key := range aliases {
		v, ok := payload[key]
		if !ok {
			continue
		}
		if n, ok := toFloat(v); ok {
			if n < 0 {
				return 0
			}
			return n
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
