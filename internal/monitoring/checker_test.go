package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/taxbill-cli/internal/config"
	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

func TestCheckerCheckSendsAlerts(t *testing.T) {
	var mu sync.Mutex
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		mu.Lock()
		received = append(received, alert)
		mu.Unlock()
	}))
	defer srv.Close()

	st := &monStore{dlq: make([]resilience.DLQEntry, 60)}
	cfg := config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		DLQDepthThreshold:    50,
		WebhookURL:           srv.URL,
	}
	c := NewChecker(NewCollector(st, time.Hour), NewAlerter(cfg), cfg)

	c.check(context.Background(), zap.NewNop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, AlertDLQDepth, received[0].Type)
}

func TestCheckerCheckQuietWhenHealthy(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	defer srv.Close()

	st := &monStore{runs: []model.Run{
		{ID: "r1", Status: model.RunStatusComplete, CreatedAt: time.Now(), Report: reportWith(50, 1, 0)},
	}}
	cfg := config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		DLQDepthThreshold:    50,
		WebhookURL:           srv.URL,
	}
	c := NewChecker(NewCollector(st, time.Hour), NewAlerter(cfg), cfg)

	c.check(context.Background(), zap.NewNop())
	assert.Zero(t, calls)
}

func TestCheckerRunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 3600}
	c := NewChecker(NewCollector(&monStore{}, time.Hour), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop after cancellation")
	}
}
