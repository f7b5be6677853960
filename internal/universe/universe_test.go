package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/domain"
	"breakout/internal/util"
)

func TestNormalize(t *testing.T) {
	got := Normalize([]string{" aapl", "MSFT", "aapl ", "", "brk.b", "MSFT"})
	assert.Equal(t, []domain.Symbol{"AAPL", "MSFT", "BRK.B"}, got)
}

func TestStatic(t *testing.T) {
	got, err := Static{"tsla", "TSLA", "nvda"}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{"TSLA", "NVDA"}, got)
}

func testConfig(url string) ScreenerConfig {
	return ScreenerConfig{
		URL:          url,
		Retries:      2,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	}
}

func TestNasdaqScreenerFetch(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query = map[string]string{
			"limit":          q.Get("limit"),
			"marketcap":      q.Get("marketcap"),
			"recommendation": q.Get("recommendation"),
		}
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"table":{"rows":[
			{"symbol":"aapl"},{"symbol":"MSFT "},{"symbol":"AAPL"},{"symbol":""}]}}}`))
	}))
	defer srv.Close()

	n := NewNasdaqScreener(testConfig(srv.URL), util.Discard())
	got, err := n.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{"AAPL", "MSFT"}, got)
	assert.Equal(t, "3000", query["limit"])
	assert.Equal(t, "mega|large|mid|small", query["marketcap"])
	assert.Equal(t, "strong_buy|buy", query["recommendation"])
}

func TestNasdaqScreenerEmptyTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"table":{"rows":null}}}`))
	}))
	defer srv.Close()

	got, err := NewNasdaqScreener(testConfig(srv.URL), util.Discard()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNasdaqScreenerRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"table":{"rows":[{"symbol":"NVDA"}]}}}`))
	}))
	defer srv.Close()

	got, err := NewNasdaqScreener(testConfig(srv.URL), util.Discard()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{"NVDA"}, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNasdaqScreenerGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewNasdaqScreener(testConfig(srv.URL), util.Discard()).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "one call plus two retries")
}
