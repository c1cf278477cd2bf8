package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openfroyo/provisioner/pkg/engine"
)

// WaitUp polls a server until it responds. Connection errors keep it polling
// until Timeout has elapsed; any response other than GoodStatus fails at once.
type WaitUp struct {
	URL        string
	GoodStatus int
	Interval   time.Duration
	Timeout    time.Duration

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ engine.Task[time.Duration] = (*WaitUp)(nil)

func (w *WaitUp) FirstStatus() (string, string) {
	return w.URL, "checking if server is online..."
}

func (w *WaitUp) Run(ctx context.Context, status *engine.Channel) (engine.Outcome, time.Duration) {
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	good := w.GoodStatus
	if good == 0 {
		good = http.StatusOK
	}

	start := time.Now()
	for {
		code, err := w.poll(ctx, client)
		elapsed := time.Since(start)
		if err == nil {
			if code == good {
				status.Replace(fmt.Sprintf("server is ready after %.1fs", elapsed.Seconds()))
				return engine.NoChange, elapsed
			}
			status.Replace(fmt.Sprintf("bad status=%d (expected %d)", code, good))
			return engine.Failed, elapsed
		}
		if elapsed > w.Timeout {
			status.Replace(fmt.Sprintf("timed out after %.1fs: %v", elapsed.Seconds(), err))
			return engine.Failed, elapsed
		}

		status.Replace(fmt.Sprintf("waiting until server is online... (%.1fs)", elapsed.Seconds()))
		select {
		case <-time.After(w.Interval):
		case <-ctx.Done():
			status.Replace("cancelled")
			return engine.Failed, time.Since(start)
		}
	}
}

func (w *WaitUp) poll(ctx context.Context, client *http.Client) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
