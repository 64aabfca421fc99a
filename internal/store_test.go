package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebogh/ringview/ring"
)

func TestNewStoreRejectsTinyWindow(t *testing.T) {
	for _, window := range []int{0, 1} {
		_, err := NewStore(window, "http://localhost/metrics")
		assert.ErrorIs(t, err, ring.ErrInvalidCapacity, "window %d", window)
	}
}

func TestSampleKeepsOnlyTheWindow(t *testing.T) {
	var scrapes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "# TYPE requests_total counter\nrequests_total %d\n", scrapes.Add(1))
	}))
	defer srv.Close()

	s, err := NewStore(3, srv.URL)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		fetched, err := s.Sample()
		require.NoError(t, err)
		require.True(t, fetched)
	}
	assert.Equal(t, 3, s.Window())

	dump, err := s.Dump("requests_total")
	require.NoError(t, err)
	require.Len(t, dump, 1)

	series := dump[0]
	require.Len(t, series, 3, "older scrapes must have been evicted")

	// Youngest first; scrapes 1 and 2 fell out of the window.
	assert.Equal(t, ObservationCounter, series[0].Kind)
	assert.Equal(t, []float64{5, 4, 3}, []float64{series[0].Value, series[1].Value, series[2].Value})
}

func TestDumpFiltersAndSortsNaturally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "# TYPE shard_load gauge\n")
		fmt.Fprint(w, "shard_load{shard=\"10\"} 2\n")
		fmt.Fprint(w, "shard_load{shard=\"2\"} 1\n")
		fmt.Fprint(w, "# TYPE uptime_seconds gauge\n")
		fmt.Fprint(w, "uptime_seconds 7\n")
	}))
	defer srv.Close()

	s, err := NewStore(2, srv.URL)
	require.NoError(t, err)
	_, err = s.Sample()
	require.NoError(t, err)

	dump, err := s.Dump("shard")
	require.NoError(t, err)
	require.Len(t, dump, 2)

	// Natural order: shard "2" before shard "10".
	assert.Equal(t, `shard_load {shard="2"}`, dump[0][0].Name)
	assert.Equal(t, `shard_load {shard="10"}`, dump[1][0].Name)

	all, err := s.Dump("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSampleFlattensHistograms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "# TYPE latency_seconds histogram\n")
		fmt.Fprint(w, "latency_seconds_bucket{le=\"0.1\"} 3\n")
		fmt.Fprint(w, "latency_seconds_bucket{le=\"+Inf\"} 4\n")
		fmt.Fprint(w, "latency_seconds_sum 0.8\n")
		fmt.Fprint(w, "latency_seconds_count 4\n")
	}))
	defer srv.Close()

	s, err := NewStore(2, srv.URL)
	require.NoError(t, err)
	_, err = s.Sample()
	require.NoError(t, err)

	dump, err := s.Dump("latency")
	require.NoError(t, err)

	byName := map[string]Observation{}
	for _, series := range dump {
		byName[series[0].Name] = series[0]
	}

	require.Contains(t, byName, "latency_seconds_sum")
	assert.Equal(t, 0.8, byName["latency_seconds_sum"].Value)
	require.Contains(t, byName, "latency_seconds_count")
	assert.Equal(t, float64(4), byName["latency_seconds_count"].Value)
	require.Contains(t, byName, "latency_seconds_avg")
	assert.InDelta(t, 0.2, byName["latency_seconds_avg"].Value, 1e-9)
	require.Contains(t, byName, `latency_seconds_bucket {le="0.1"}`)
	assert.Equal(t, ObservationHistogramBucket, byName[`latency_seconds_bucket {le="0.1"}`].Kind)
}

func TestSampleBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewStore(2, srv.URL)
	require.NoError(t, err)

	fetched, err := s.Sample()
	assert.False(t, fetched)
	assert.ErrorContains(t, err, "unexpected status")
	assert.Equal(t, 0, s.Window())
}

func TestSampleParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "metric_without_a_value\n")
	}))
	defer srv.Close()

	s, err := NewStore(2, srv.URL)
	require.NoError(t, err)

	fetched, err := s.Sample()
	assert.False(t, fetched)
	assert.ErrorContains(t, err, "parse response")
}

func TestDumpWithoutSamples(t *testing.T) {
	s, err := NewStore(2, "http://localhost/metrics")
	require.NoError(t, err)

	_, err = s.Dump("")
	assert.ErrorContains(t, err, "no snapshots")
}

func TestSeriesStopsAtMetricBirth(t *testing.T) {
	var scrapes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := scrapes.Add(1)
		fmt.Fprint(w, "# TYPE old_metric gauge\nold_metric 1\n")
		if n > 1 {
			// Appears only from the second scrape on.
			fmt.Fprintf(w, "# TYPE new_metric gauge\nnew_metric %d\n", n)
		}
	}))
	defer srv.Close()

	s, err := NewStore(4, srv.URL)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.Sample()
		require.NoError(t, err)
	}

	dump, err := s.Dump("new_metric")
	require.NoError(t, err)
	require.Len(t, dump, 1)
	assert.Len(t, dump[0], 2, "series must stop where the metric did not exist yet")
	assert.Equal(t, float64(3), dump[0][0].Value)
}
