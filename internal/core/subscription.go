package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrRefreshInFlight is returned when a refresh is requested for a
// subscription that is already being refreshed.
var ErrRefreshInFlight = errors.New("subscription refresh already in progress")

// SubscriptionManager downloads subscription feeds and serializes
// refreshes per subscription.
type SubscriptionManager struct {
	client    *http.Client
	userAgent string
	maxBody   int64

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewSubscriptionManager creates a manager with the app's fetch settings.
func NewSubscriptionManager(cfg AppConfig) *SubscriptionManager {
	return &SubscriptionManager{
		client:    &http.Client{Timeout: cfg.FetchTimeout()},
		userAgent: cfg.Subscription.UserAgent,
		maxBody:   cfg.Subscription.MaxBodyBytes,
		inFlight:  make(map[string]bool),
	}
}

// Begin marks a subscription refresh as in flight. Returns
// ErrRefreshInFlight if one is already running for the same id.
func (sm *SubscriptionManager) Begin(subID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.inFlight[subID] {
		return ErrRefreshInFlight
	}
	sm.inFlight[subID] = true
	return nil
}

// End clears the in-flight mark for a subscription.
func (sm *SubscriptionManager) End(subID string) {
	sm.mu.Lock()
	delete(sm.inFlight, subID)
	sm.mu.Unlock()
}

// FetchResult is a downloaded subscription feed.
type FetchResult struct {
	Body string
	// Usage is quota metadata from the subscription-userinfo header,
	// nil when the server sent none.
	Usage *Usage
}

// Fetch downloads a subscription feed body.
func (sm *SubscriptionManager) Fetch(ctx context.Context, url string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("User-Agent", sm.userAgent)

	resp, err := sm.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("fetch subscription: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, sm.maxBody))
	if err != nil {
		return FetchResult{}, fmt.Errorf("read subscription body: %w", err)
	}

	res := FetchResult{Body: string(body)}
	if header := resp.Header.Get("Subscription-Userinfo"); header != "" {
		res.Usage = ParseUsageHeader(header)
	}
	return res, nil
}
