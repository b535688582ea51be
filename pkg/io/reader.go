// Package io provides input and output of observation series and their
// anomaly reports.
package io

import (
	"slices"
	"time"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
)

// Reader is the interface for reading a series from various sources.
type Reader interface {
	// Read returns the complete series in time order.
	Read() ([]ensemble.Observation, error)

	// Close releases resources.
	Close() error
}

// Bucketize counts timestamps per fixed-width time bucket. Buckets run from
// the earliest to the latest timestamp, empty buckets included, and each
// observation carries its bucket start as Unix seconds.
func Bucketize(timestamps []time.Time, width time.Duration) []ensemble.Observation {
	if len(timestamps) == 0 || width <= 0 {
		return nil
	}

	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	slices.SortFunc(sorted, time.Time.Compare)

	first := sorted[0].Truncate(width)
	last := sorted[len(sorted)-1].Truncate(width)
	n := int(last.Sub(first)/width) + 1

	series := make([]ensemble.Observation, n)
	for i := range series {
		series[i] = ensemble.NewObservation(0, first.Add(time.Duration(i)*width).Unix())
	}

	for _, ts := range sorted {
		series[int(ts.Truncate(width).Sub(first)/width)].Count++
	}

	return series
}
