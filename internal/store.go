package internal

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maruel/natural"
	prom "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/sebogh/ringview/ring"
)

const (
	ObservationCounter ObservationKind = iota
	ObservationCounterRate
	ObservationGauge
	ObservationHistogramBucket
	ObservationHistogramSum
	ObservationHistogramCount
	ObservationHistogramAvg
	ObservationSummarySum
	ObservationSummaryCount
)

var promFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

// Snapshot is everything observed in a single scrape of the endpoint, keyed
// by flattened metric name.
type Snapshot map[string]Observation

// Store holds a sliding window of snapshots: the last few scrapes of a
// Prometheus metrics endpoint, oldest evicted first.
type Store struct {
	endpoint string
	window   *ring.Buffer[Snapshot]
	mux      sync.RWMutex
}

// Observation represents a single observation (e.g. the value of a given
// metric at a given time).
type Observation struct {

	// Name is the name of the metric.
	Name string

	// Kind is the type of observation (e.g. counter, gauge, etc.).
	Kind ObservationKind

	// Time is the time of the observation (when the observation was fetched).
	Time time.Time

	// Value is the value of the observation.
	Value float64
}

// ObservationKind represents the type of observation (e.g. counter, gauge, etc.).
type ObservationKind int

// NewStore returns a new Store keeping the last `window` scrapes of the
// endpoint. Windows smaller than 2 are rejected (there would be nothing to
// compare against).
func NewStore(window int, endpoint string) (*Store, error) {
	buf, err := ring.New[Snapshot](window)
	if err != nil {
		return nil, fmt.Errorf("observation window: %w", err)
	}
	return &Store{
		endpoint: endpoint,
		window:   buf,
	}, nil
}

// NewObservation creates a new Observation.
func NewObservation(name string, kind ObservationKind, ts time.Time, value float64) Observation {
	return Observation{
		Name:  name,
		Kind:  kind,
		Time:  ts,
		Value: value,
	}
}

// Sample fetches a snapshot from the endpoint and appends it to the window.
// Sample returns:
//   - true and nil, if a new snapshot was fetched and added to the window,
//   - false and nil, if nothing was fetched (because of a concurrent
//     Sample-call), and
//   - false and an error, if something went wrong while fetching.
func (s *Store) Sample() (bool, error) {
	if !s.mux.TryLock() {
		return false, nil
	}
	defer s.mux.Unlock()

	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", string(promFormat))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	snap, err := newSnapshot(resp.Body)
	if err != nil {
		return false, fmt.Errorf("parse response: %w", err)
	}
	s.window.Append(snap)
	return true, nil
}

// Window returns the number of snapshots currently held.
func (s *Store) Window() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.window.Len()
}

// Dump returns a sorted list of the different metrics and their observations
// over the window, each series youngest first. If a non-empty filter is
// given, only the metrics matching the filter are returned.
func (s *Store) Dump(f string) ([][]Observation, error) {
	s.mux.RLock()
	snaps := s.window.Values()
	s.mux.RUnlock()

	if len(snaps) == 0 {
		return nil, fmt.Errorf("no snapshots")
	}

	names := filterAndSort(snaps[len(snaps)-1], f)
	var dump [][]Observation
	for _, name := range names {
		series := seriesFor(snaps, name)
		if len(series) == 0 {
			continue
		}
		dump = append(dump, series)
	}
	return dump, nil
}

// filterAndSort returns a filtered and sorted list of metric names from the
// given snapshot.
func filterAndSort(snap Snapshot, f string) []string {
	names := make([]string, 0, len(snap))
	for k := range snap {
		if f == "" || strings.Contains(strings.ToLower(k), strings.ToLower(f)) {
			names = append(names, k)
		}
	}
	sort.Sort(natural.StringSlice(names))
	return names
}

// seriesFor returns the series of observations for a given metric-name over
// the window, youngest first. seriesFor returns an empty slice if the latest
// snapshot has no observation for the name. If an older snapshot misses the
// name, the series stops there (the metric did not exist yet).
func seriesFor(snaps []Snapshot, name string) []Observation {
	series := make([]Observation, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		o, ok := snaps[i][name]
		if !ok {
			return series
		}
		series = append(series, o)
	}
	return series
}

// newSnapshot parses the response returned from a Prometheus metrics endpoint
// and flattens it into a Snapshot.
func newSnapshot(in io.Reader) (Snapshot, error) {
	ts := time.Now()
	dec := expfmt.NewDecoder(in, promFormat)
	var mfs []*prom.MetricFamily

	for {
		mf := &prom.MetricFamily{}
		if err := dec.Decode(mf); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		mfs = append(mfs, mf)
	}
	return flatten(mfs, ts), nil
}

// flatten takes Prometheus metric families and flattens them into a Snapshot.
func flatten(mfs []*prom.MetricFamily, ts time.Time) Snapshot {
	snap := make(Snapshot, len(mfs))

	for _, mf := range mfs {
		mfName := mf.GetName()

		for _, m := range mf.GetMetric() {
			mLabels := m.GetLabel()
			mType := mf.GetType()
			switch mType {

			case prom.MetricType_HISTOGRAM, prom.MetricType_GAUGE_HISTOGRAM:
				for _, b := range m.GetHistogram().GetBucket() {
					roundedUpperBound := math.Round(b.GetUpperBound()*100) / 100
					roundedUpperBoundStr := strconv.FormatFloat(roundedUpperBound, 'f', -1, 64)
					bLabels := append(mLabels, &prom.LabelPair{
						Name:  proto.String("le"),
						Value: proto.String(roundedUpperBoundStr),
					})
					name := flatName(mfName+"_bucket", bLabels)
					value := b.GetCumulativeCountFloat()
					if value <= 0 {
						value = float64(b.GetCumulativeCount())
					}
					snap[name] = NewObservation(name, ObservationHistogramBucket, ts, value)
				}

				name := flatName(mfName+"_sum", mLabels)
				sampleSum := m.GetHistogram().GetSampleSum()
				snap[name] = NewObservation(name, ObservationHistogramSum, ts, sampleSum)

				name = flatName(mfName+"_count", mLabels)
				sampleCount := m.GetHistogram().GetSampleCountFloat()
				if sampleCount <= 0 {
					sampleCount = float64(m.GetHistogram().GetSampleCount())
				}
				snap[name] = NewObservation(name, ObservationHistogramCount, ts, sampleCount)

				if sampleCount > 0 {
					avg := sampleSum / sampleCount
					name = flatName(mfName+"_avg", mLabels)
					snap[name] = NewObservation(name, ObservationHistogramAvg, ts, avg)
				}

			case prom.MetricType_COUNTER:
				name := flatName(mfName, mLabels)
				snap[name] = NewObservation(name, ObservationCounter, ts, m.GetCounter().GetValue())

			case prom.MetricType_GAUGE:
				name := flatName(mfName, mLabels)
				snap[name] = NewObservation(name, ObservationGauge, ts, m.GetGauge().GetValue())

			case prom.MetricType_SUMMARY:
				name := flatName(mfName+"_sum", mLabels)
				snap[name] = NewObservation(name, ObservationSummarySum, ts, m.GetSummary().GetSampleSum())

				name = flatName(mfName+"_count", mLabels)
				snap[name] = NewObservation(name, ObservationSummaryCount, ts, float64(m.GetSummary().GetSampleCount()))
			}
		}
	}
	return snap
}

// flatName creates a flat Name for the Observation and its labels.
func flatName(name string, labels []*prom.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	labelParts := make([]string, 0, len(labels))
	for _, label := range labels {
		labelParts = append(labelParts, fmt.Sprintf("%s=%q", label.GetName(), label.GetValue()))
	}
	return name + " {" + strings.Join(labelParts, ", ") + "}"
}
