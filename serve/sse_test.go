package serve

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEStream(t *testing.T) {
	s, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Publish until the subscription is live and the event arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.broker.Publish(BrokerEvent{Type: "run.started", RunID: "sse1", Timestamp: time.Now()})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var sawPreamble, sawEvent, sawData bool
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ": connected"):
			sawPreamble = true
		case line == "event: run.started":
			sawEvent = true
		case strings.HasPrefix(line, "data: ") && strings.Contains(line, `"sse1"`):
			sawData = true
		}
		if sawEvent && sawData {
			break
		}
	}

	assert.True(t, sawPreamble, "initial SSE comment missing")
	assert.True(t, sawEvent, "event line missing")
	assert.True(t, sawData, "data line missing")
}

func TestSSERunFilter(t *testing.T) {
	s, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?run=wanted", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.broker.Publish(BrokerEvent{Type: "stage.started", RunID: "other", Timestamp: time.Now()})
				s.broker.Publish(BrokerEvent{Type: "stage.started", RunID: "wanted", Timestamp: time.Now()})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			assert.NotContains(t, line, `"other"`, "filtered run leaked through")
			if strings.Contains(line, `"wanted"`) {
				return
			}
		}
	}
	t.Fatal("never saw the wanted run's event")
}
