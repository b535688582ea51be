package csv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		opts        []Option
		wantCounts  []int
		wantBuckets []int64 // -1 for none
		wantErr     bool
	}{
		{
			name:        "header with buckets",
			input:       "count,time_bucket\n3,60\n4,120\n",
			wantCounts:  []int{3, 4},
			wantBuckets: []int64{60, 120},
		},
		{
			name:        "counts only without header",
			input:       "5\n6\n7\n",
			opts:        []Option{WithHeader(false)},
			wantCounts:  []int{5, 6, 7},
			wantBuckets: []int64{-1, -1, -1},
		},
		{
			name:        "blank bucket",
			input:       "count,time_bucket\n3,\n4, 120\n",
			wantCounts:  []int{3, 4},
			wantBuckets: []int64{-1, 120},
		},
		{
			name:        "custom columns",
			input:       "bucket,host,count\n60,a,9\n120,a,11\n",
			opts:        []Option{WithColumns(2, 0)},
			wantCounts:  []int{9, 11},
			wantBuckets: []int64{60, 120},
		},
		{
			name:    "malformed row fails",
			input:   "count\n3\nlots\n",
			wantErr: true,
		},
		{
			name:    "negative count fails",
			input:   "count\n-3\n",
			wantErr: true,
		},
		{
			name:        "malformed rows skipped",
			input:       "count\n3\nlots\n-1\n8\n",
			opts:        []Option{WithSkipMalformed(true)},
			wantCounts:  []int{3, 8},
			wantBuckets: []int64{-1, -1},
		},
		{
			name:       "empty input",
			input:      "",
			wantCounts: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFromReader(strings.NewReader(tt.input), tt.opts...)
			require.NoError(t, err)
			defer r.Close()

			series, err := r.Read()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, series, len(tt.wantCounts))

			for i, o := range series {
				assert.Equal(t, tt.wantCounts[i], o.Count)
				if tt.wantBuckets[i] < 0 {
					assert.Nil(t, o.TimeBucket)
					continue
				}
				require.NotNil(t, o.TimeBucket)
				assert.Equal(t, tt.wantBuckets[i], *o.TimeBucket)
			}
		})
	}
}

func TestMalformedRowReportsLine(t *testing.T) {
	r, err := NewFromReader(strings.NewReader("count\n1\n2\nx\n"))
	require.NoError(t, err)

	_, err = r.Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 4")
}

func TestNewReaderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.csv")
	require.NoError(t, os.WriteFile(path, []byte("count,time_bucket\n1,0\n2,60\n"), 0o600))

	r, err := NewReader(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"count", "time_bucket"}, r.Headers())
	series, err := r.Read()
	require.NoError(t, err)
	assert.Len(t, series, 2)
	assert.NoError(t, r.Close())
}

func TestNewReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestNegativeCountColumn(t *testing.T) {
	_, err := NewFromReader(strings.NewReader("1\n"), WithColumns(-1, -1))
	assert.Error(t, err)
}
