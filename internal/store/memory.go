// Package store holds normalized measurement history in memory.
package store

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/airfuse/airfuse/internal/measurement"
)

var (
	// ErrNoData is returned when no measurements exist for a query.
	ErrNoData = errors.New("no measurements for query")
)

// seriesKey identifies one stored series.
type seriesKey struct {
	pollutant measurement.Pollutant
	source    measurement.Source
}

// MemoryStore is a concurrency-safe in-memory measurement store with
// retention limits. Ground measurements index by their point location;
// satellite measurements are kept in a flat list per (pollutant,
// source) and filtered by cell coverage at read time.
type MemoryStore struct {
	mu sync.RWMutex

	// data holds all measurements per (pollutant, source), sorted on
	// insert by timestamp.
	data map[seriesKey][]measurement.Measurement

	maxPerSeries int
	maxAge       time.Duration
}

// NewMemoryStore creates a MemoryStore. maxPerSeries <= 0 means
// unlimited; maxAge <= 0 disables age-based eviction.
func NewMemoryStore(maxPerSeries int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:         make(map[seriesKey][]measurement.Measurement),
		maxPerSeries: maxPerSeries,
		maxAge:       maxAge,
	}
}

// Add inserts measurements and enforces retention.
func (s *MemoryStore) Add(ms ...measurement.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[seriesKey]struct{})
	for _, m := range ms {
		key := seriesKey{pollutant: m.Pollutant, source: m.Source}
		s.data[key] = append(s.data[key], m)
		touched[key] = struct{}{}
	}

	for key := range touched {
		series := s.data[key]
		sort.SliceStable(series, func(a, b int) bool {
			return series[a].Timestamp.Before(series[b].Timestamp)
		})

		if s.maxAge > 0 && len(series) > 0 {
			cutoff := series[len(series)-1].Timestamp.Add(-s.maxAge)
			i := 0
			for ; i < len(series); i++ {
				if !series[i].Timestamp.Before(cutoff) {
					break
				}
			}
			series = series[i:]
		}

		if s.maxPerSeries > 0 && len(series) > s.maxPerSeries {
			series = series[len(series)-s.maxPerSeries:]
		}

		s.data[key] = series
	}
}

// Series returns the measurements of one source covering loc within
// [from, to], as a deduplicated TimeSeries.
func (s *MemoryStore) Series(
	loc measurement.Location,
	pollutant measurement.Pollutant,
	source measurement.Source,
	from, to time.Time,
	maxDistance float64,
) measurement.TimeSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []measurement.Measurement
	for _, m := range s.data[seriesKey{pollutant: pollutant, source: source}] {
		if m.Timestamp.Before(from) || m.Timestamp.After(to) {
			continue
		}
		if source == measurement.SourceSatellite {
			if !m.Cell.Contains(loc) {
				continue
			}
		} else if HaversineMeters(loc, m.Location) > maxDistance {
			continue
		}
		matched = append(matched, m)
	}

	return measurement.NewTimeSeries(pollutant, source, matched)
}

// Count returns the total number of stored measurements.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, series := range s.data {
		n += len(series)
	}
	return n
}

// HaversineMeters returns the great-circle distance between two points
// in meters.
func HaversineMeters(a, b measurement.Location) float64 {
	const earthRadius = 6371000 // meters

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadius * c
}
