package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do_LimitsConcurrency(t *testing.T) {
	var inFlight, maxInFlight int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			peak := atomic.LoadInt32(&maxInFlight)
			if current <= peak || atomic.CompareAndSwapInt32(&maxInFlight, peak, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(Limits{MaxConcurrentRequests: 2}, log.NewLogger())
	defer client.CloseIdleConnections()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			if !assert.NoError(t, err) {
				return
			}
			resp, err := client.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			assert.NoError(t, resp.Body.Close())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

func TestClient_Do_DoesNotRetry(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("temporary error"))
	}))
	defer server.Close()

	client := NewClient(DefaultLimits(), log.NewLogger())

	req, err := http.NewRequest(http.MethodPatch, server.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "temporary error", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
}

func TestClient_Do_CancelledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Limits{MaxConcurrentRequests: 1}, log.NewLogger())

	// occupy the only slot
	go func() {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		if resp, err := client.Do(req); err == nil {
			_ = resp.Body.Close()
		}
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Do_TransportError(t *testing.T) {
	client := NewClient(Limits{MaxConcurrentRequests: 1}, log.NewLogger())

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
		require.NoError(t, err)
		_, err = client.Do(req)
		// a failed request must give its slot back
		require.Error(t, err)
	}
}

func TestClient_Do_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(Limits{MaxConcurrentRequests: 4, RequestsPerSecond: 20, Burst: 1}, log.NewLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
