package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/provisioner/pkg/engine"
)

func serveStatus(t *testing.T, code int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func runWaitUp(ctx context.Context, w *WaitUp) (engine.Outcome, *engine.Channel) {
	status := engine.NewChannel(w.FirstStatus())
	outcome, _ := w.Run(ctx, status)
	return outcome, status
}

func TestWaitUpReady(t *testing.T) {
	w := &WaitUp{URL: serveStatus(t, http.StatusOK), Interval: time.Millisecond, Timeout: time.Second}
	outcome, status := runWaitUp(context.Background(), w)
	assert.Equal(t, engine.NoChange, outcome)
	assert.Contains(t, status.Last(), "server is ready")
}

func TestWaitUpBadStatus(t *testing.T) {
	w := &WaitUp{URL: serveStatus(t, http.StatusBadGateway), Interval: time.Millisecond, Timeout: time.Second}
	outcome, status := runWaitUp(context.Background(), w)
	assert.Equal(t, engine.Failed, outcome)
	assert.Equal(t, "bad status=502 (expected 200)", status.Last())
}

func TestWaitUpTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := &WaitUp{URL: url, Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}
	outcome, status := runWaitUp(context.Background(), w)
	assert.Equal(t, engine.Failed, outcome)
	assert.Contains(t, status.Last(), "timed out after")
}

func TestWaitUpCancelled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &WaitUp{URL: url, Interval: time.Hour, Timeout: time.Hour}
	outcome, _ := runWaitUp(ctx, w)
	assert.Equal(t, engine.Failed, outcome)
}
