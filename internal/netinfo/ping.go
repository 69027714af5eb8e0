package netinfo

import (
	"context"
	"io"
	"net/http"
	"time"
)

// MeasureLatency times one HTTPS request through whatever route is
// currently active and reports the elapsed milliseconds. A failed
// request still reports the time spent, since the UI treats the number
// as "how long did the network take to answer".
func MeasureLatency(ctx context.Context, client *http.Client, url string) int {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return int(time.Since(start).Milliseconds())
	}
	resp, err := client.Do(req)
	if err == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
	}
	return int(time.Since(start).Milliseconds())
}
