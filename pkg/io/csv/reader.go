// Package csv reads observation series from CSV files with one
// observation per row: a count column and an optional time bucket column.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
)

// Reader reads a series from a CSV source.
type Reader struct {
	closer        io.Closer
	reader        *csv.Reader
	hasHeader     bool
	headers       []string
	countColumn   int
	bucketColumn  int
	skipMalformed bool
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithColumns selects the count column and the time bucket column.
// A negative bucket column means rows carry no time bucket.
func WithColumns(count, bucket int) Option {
	return func(r *Reader) {
		r.countColumn = count
		r.bucketColumn = bucket
	}
}

// WithSkipMalformed drops rows that fail to parse instead of failing.
func WithSkipMalformed(skip bool) Option {
	return func(r *Reader) {
		r.skipMalformed = skip
	}
}

// NewReader opens filename as a CSV series.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := newReader(file, file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewFromReader reads a CSV series from src.
func NewFromReader(src io.Reader, opts ...Option) (*Reader, error) {
	return newReader(src, nil, opts...)
}

func newReader(src io.Reader, closer io.Closer, opts ...Option) (*Reader, error) {
	r := &Reader{
		closer:       closer,
		reader:       csv.NewReader(src),
		hasHeader:    true,
		countColumn:  0,
		bucketColumn: 1,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.countColumn < 0 {
		return nil, fmt.Errorf("count column must be non-negative, got %d", r.countColumn)
	}

	r.reader.FieldsPerRecord = -1
	r.reader.TrimLeadingSpace = true

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		r.headers = headers
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns every row as an observation, in file order.
func (r *Reader) Read() ([]ensemble.Observation, error) {
	var series []ensemble.Observation

	for {
		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		obs, err := r.parseRow(record)
		if err != nil {
			if r.skipMalformed {
				continue
			}
			line, _ := r.reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		series = append(series, obs)
	}

	return series, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// parseRow converts one record to an observation.
func (r *Reader) parseRow(record []string) (ensemble.Observation, error) {
	if r.countColumn >= len(record) {
		return ensemble.Observation{}, errors.New("missing count column")
	}

	count, err := strconv.Atoi(strings.TrimSpace(record[r.countColumn]))
	if err != nil {
		return ensemble.Observation{}, fmt.Errorf("count: %w", err)
	}
	if count < 0 {
		return ensemble.Observation{}, fmt.Errorf("count must be non-negative, got %d", count)
	}

	if r.bucketColumn < 0 || r.bucketColumn >= len(record) || strings.TrimSpace(record[r.bucketColumn]) == "" {
		return ensemble.Observation{Count: count}, nil
	}

	bucket, err := strconv.ParseInt(strings.TrimSpace(record[r.bucketColumn]), 10, 64)
	if err != nil {
		return ensemble.Observation{}, fmt.Errorf("time bucket: %w", err)
	}

	return ensemble.NewObservation(count, bucket), nil
}
