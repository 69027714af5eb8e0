package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"veilbox/internal/core"
)

const (
	trafficRetryMin = time.Second
	trafficRetryMax = 30 * time.Second
)

// TrafficPoller streams throughput readings from the engine's clash API
// and forwards them to a sink. The /traffic endpoint emits one JSON
// object per line while the connection stays open.
type TrafficPoller struct {
	listen string
	token  string
	sink   func(map[string]any)
	client *http.Client
}

// NewTrafficPoller creates a poller against the given clash API listen
// address. sink receives each decoded reading.
func NewTrafficPoller(listen, token string, sink func(map[string]any)) *TrafficPoller {
	return &TrafficPoller{
		listen: listen,
		token:  token,
		sink:   sink,
		client: &http.Client{},
	}
}

// Run streams readings until ctx is cancelled, reconnecting with
// exponential backoff when the engine endpoint drops.
func (p *TrafficPoller) Run(ctx context.Context) {
	retry := trafficRetryMin
	for {
		err := p.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			core.Log.Debugf("Engine", "Traffic stream dropped: %v (retry in %s)", err, retry)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
		retry *= 2
		if retry > trafficRetryMax {
			retry = trafficRetryMax
		}
	}
}

func (p *TrafficPoller) stream(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/traffic", p.listen)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("traffic endpoint: unexpected status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		p.sink(payload)
	}
	return sc.Err()
}
