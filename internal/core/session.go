package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Engine drives the external tunnel process.
type Engine interface {
	Connect(ctx context.Context, req ConnectRequest) error
	Disconnect() error
	TailLogs(n int) []string
}

// SystemProxy toggles the OS-level proxy configuration.
type SystemProxy interface {
	Enable(host string, port int) error
	Disable() error
}

// Session is the connection state machine. All transitions happen under
// one mutex; events are published after the lock is released so
// subscribers can call back into the session.
type Session struct {
	engine Engine
	proxy  SystemProxy
	bus    *EventBus
	ring   *TelemetryRing

	mu          sync.Mutex
	state       SessionState
	profileID   string
	connectedAt time.Time
	lastError   string
	latencyMS   int
	tickerStop  chan struct{}
}

// SessionSnapshot is a point-in-time view of the session for the UI.
type SessionSnapshot struct {
	State       SessionState `json:"state"`
	ProfileID   string       `json:"profileId"`
	ConnectedAt *time.Time   `json:"connectedAt,omitempty"`
	Elapsed     string       `json:"elapsed"`
	LastError   string       `json:"lastError,omitempty"`
	LatencyMS   int          `json:"latencyMs"`
}

// NewSession wires a session to its engine, system proxy and event bus.
func NewSession(engine Engine, proxy SystemProxy, bus *EventBus, ring *TelemetryRing) *Session {
	return &Session{
		engine: engine,
		proxy:  proxy,
		bus:    bus,
		ring:   ring,
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProfileID returns the profile the session is connecting to or
// connected with, empty when idle.
func (s *Session) ProfileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileID
}

// Snapshot returns the full session view.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		State:     s.state,
		ProfileID: s.profileID,
		LastError: s.lastError,
		LatencyMS: s.latencyMS,
		Elapsed:   "00:00:00",
	}
	if s.state == StateConnected {
		t := s.connectedAt
		snap.ConnectedAt = &t
		snap.Elapsed = FormatDuration(time.Since(s.connectedAt))
	}
	return snap
}

// Connect runs the connect sequence for a profile: engine up, then
// system proxy on. A proxy failure tears the engine back down so the
// machine never ends up half connected.
func (s *Session) Connect(ctx context.Context, profileID string, req ConnectRequest, proxyHost string, proxyPort int) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot connect while %s", cur)
	}
	prev := s.state
	s.state = StateConnecting
	s.profileID = profileID
	s.lastError = ""
	s.latencyMS = 0
	s.mu.Unlock()
	s.publishState(prev, StateConnecting, profileID, "")

	if err := s.engine.Connect(ctx, req); err != nil {
		s.fail(profileID, fmt.Errorf("start engine: %w", err))
		return fmt.Errorf("start engine: %w", err)
	}

	if err := s.proxy.Enable(proxyHost, proxyPort); err != nil {
		// Engine is up but the proxy is not; undo the engine start.
		if derr := s.engine.Disconnect(); derr != nil {
			Log.Errorf("Session", "Engine teardown after proxy failure: %v", derr)
		}
		s.fail(profileID, fmt.Errorf("enable system proxy: %w", err))
		return fmt.Errorf("enable system proxy: %w", err)
	}

	s.mu.Lock()
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.ring.Clear()
	s.startTickerLocked()
	s.mu.Unlock()
	s.publishState(StateConnecting, StateConnected, profileID, "")
	return nil
}

// Disconnect tears down the tunnel. The system proxy is disabled
// unconditionally, even if the engine stop fails, and the session always
// lands in idle; any errors are joined and returned for reporting.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	profileID := s.profileID
	s.stopTickerLocked()
	s.mu.Unlock()

	var errs []error
	if err := s.engine.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	if err := s.proxy.Disable(); err != nil {
		errs = append(errs, fmt.Errorf("disable system proxy: %w", err))
	}

	s.mu.Lock()
	s.state = StateIdle
	s.profileID = ""
	s.connectedAt = time.Time{}
	s.latencyMS = 0
	s.ring.Clear()
	s.mu.Unlock()
	s.publishState(prev, StateIdle, profileID, "")
	return errors.Join(errs...)
}

// fail moves the session to the error state and disables the system
// proxy as a safety measure.
func (s *Session) fail(profileID string, cause error) {
	if err := s.proxy.Disable(); err != nil {
		Log.Warnf("Session", "Disable proxy after failure: %v", err)
	}
	s.mu.Lock()
	prev := s.state
	s.state = StateError
	s.lastError = cause.Error()
	s.stopTickerLocked()
	s.mu.Unlock()
	s.publishState(prev, StateError, profileID, cause.Error())
	s.bus.Publish(Event{Type: EventErrorNotice, Payload: NoticePayload{Message: cause.Error()}})
}

// HandleEngineDown is called when the engine process exits on its own.
// If the session believed it was connected this is an unexpected drop.
func (s *Session) HandleEngineDown(cause error) {
	s.mu.Lock()
	if s.state != StateConnected && s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	prev := s.state
	profileID := s.profileID
	msg := "tunnel engine exited"
	if cause != nil {
		msg = fmt.Sprintf("tunnel engine exited: %v", cause)
	}
	s.state = StateError
	s.lastError = msg
	s.stopTickerLocked()
	s.mu.Unlock()

	if err := s.proxy.Disable(); err != nil {
		Log.Warnf("Session", "Disable proxy after engine exit: %v", err)
	}
	s.publishState(prev, StateError, profileID, msg)
	s.bus.Publish(Event{Type: EventErrorNotice, Payload: NoticePayload{Message: msg}})
}

// HandleStateSync applies an externally observed state change (pushed
// by the engine out-of-band, e.g. from a tray action) without invoking
// connect or disconnect. A sync matching the current state is ignored
// so no duplicate notification goes out.
func (s *Session) HandleStateSync(connected bool) {
	s.mu.Lock()
	if connected == (s.state == StateConnected) {
		s.mu.Unlock()
		return
	}
	prev := s.state
	profileID := s.profileID
	var msg string
	if connected {
		s.state = StateConnected
		s.connectedAt = time.Now()
		s.ring.Clear()
		s.startTickerLocked()
		msg = "Connected"
	} else {
		s.state = StateIdle
		s.profileID = ""
		s.connectedAt = time.Time{}
		s.latencyMS = 0
		s.ring.Clear()
		s.stopTickerLocked()
		msg = "Disconnected"
	}
	next := s.state
	s.mu.Unlock()
	s.publishState(prev, next, profileID, "")
	s.bus.Publish(Event{Type: EventNotification, Payload: NoticePayload{Message: msg}})
}

// IngestThroughput records a throughput payload. Samples arriving
// outside the connected state are dropped.
func (s *Session) IngestThroughput(payload map[string]any) {
	s.mu.Lock()
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected {
		return
	}
	down, up := CoalesceThroughput(payload)
	sample := TelemetrySample{TS: time.Now(), Down: down, Up: up}
	s.ring.Append(sample)
	s.bus.Publish(Event{Type: EventThroughput, Payload: sample})
}

// SetLatency records a latency probe result, discarded when the probed
// profile is no longer the active one.
func (s *Session) SetLatency(profileID string, ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.profileID != profileID {
		return
	}
	s.latencyMS = ms
}

func (s *Session) publishState(from, to SessionState, profileID, message string) {
	s.bus.Publish(Event{Type: EventSessionStateChanged, Payload: SessionStatePayload{
		OldState:  from,
		NewState:  to,
		ProfileID: profileID,
		Message:   message,
	}})
}

// startTickerLocked begins the once-a-second elapsed time broadcast.
// Caller holds s.mu.
func (s *Session) startTickerLocked() {
	stop := make(chan struct{})
	s.tickerStop = stop
	started := s.connectedAt
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.bus.Publish(Event{Type: EventSessionTick, Payload: TickPayload{
					Elapsed: FormatDuration(time.Since(started)),
				}})
			}
		}
	}()
}

// stopTickerLocked halts the elapsed broadcast. Caller holds s.mu.
func (s *Session) stopTickerLocked() {
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
}
