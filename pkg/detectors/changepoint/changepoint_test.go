package changepoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/volumeguard/pkg/detectors"
)

func rampThenFlat() []float64 {
	counts := make([]float64, 0, 60)
	for i := 1; i <= 30; i++ {
		counts = append(counts, float64(i))
	}
	for i := 0; i < 30; i++ {
		counts = append(counts, 200)
	}
	return counts
}

func step(low, high float64, n int) []float64 {
	counts := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		counts = append(counts, low)
	}
	for i := 0; i < n; i++ {
		counts = append(counts, high)
	}
	return counts
}

func TestDetectRampThenFlat(t *testing.T) {
	counts := rampThenFlat()

	got, err := New().Detect(counts, nil, detectors.Options{})
	require.NoError(t, err)
	require.Len(t, got, len(counts))

	first, ok := got[0].(Verdict)
	require.True(t, ok)

	bkps := first.ChangePoints
	require.NotEmpty(t, bkps)
	assert.Equal(t, len(counts), bkps[len(bkps)-1], "terminal boundary")
	assert.Contains(t, bkps, 30)
	assert.Equal(t, DefaultPenalty, first.Penalty)

	for i, v := range got {
		cv := v.(Verdict)
		assert.Equal(t, bkps, cv.ChangePoints, "index %d", i)
		assert.Equal(t, i == 30, cv.IsAnomalous, "index %d", i)
	}
	assert.Equal(t, 1.0, got[30].Score())
	assert.Equal(t, 0.0, got[29].Score())
}

func TestDetectPenalty(t *testing.T) {
	tests := []struct {
		name    string
		penalty float64
		want    []int
	}{
		{name: "low penalty splits the step", penalty: 1, want: []int{10, 20}},
		{name: "high penalty keeps one segment", penalty: 100, want: []int{20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New().Breakpoints(step(0, 100, 10), tt.penalty)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectDegenerate(t *testing.T) {
	t.Run("constant series", func(t *testing.T) {
		got, err := New().Detect([]float64{5, 5, 5, 5, 5, 5, 5}, nil, detectors.Options{})
		require.NoError(t, err)
		for _, v := range got {
			cv := v.(Verdict)
			assert.False(t, cv.IsAnomalous)
			assert.Empty(t, cv.ChangePoints)
		}
	})

	t.Run("single observation", func(t *testing.T) {
		_, err := New().Detect([]float64{5}, nil, detectors.Options{})
		assert.ErrorIs(t, err, detectors.ErrInsufficientData)
	})

	t.Run("two observations", func(t *testing.T) {
		got, err := New().Detect([]float64{1, 9}, nil, detectors.Options{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []int{2}, got[0].(Verdict).ChangePoints)
		assert.False(t, got[0].Anomalous())
		assert.False(t, got[1].Anomalous())
	})
}

func TestDetectRejectsNegativePenalty(t *testing.T) {
	_, err := New().Detect([]float64{1, 2, 3}, detectors.Params{ParamPenalty: -1}, detectors.Options{})
	assert.ErrorIs(t, err, detectors.ErrInvalidParams)
}

func TestDetectIgnoresExcludeLast(t *testing.T) {
	counts := rampThenFlat()
	d := New()

	plain, err := d.Detect(counts, nil, detectors.Options{})
	require.NoError(t, err)
	excl, err := d.Detect(counts, nil, detectors.Options{ExcludeLast: true})
	require.NoError(t, err)

	assert.Equal(t, plain, excl)
}

func TestOptions(t *testing.T) {
	d := New(WithMinSize(0), WithJump(1))
	assert.Equal(t, 1, d.minSize)
	assert.Equal(t, 1, d.jump)

	// a finer grid can place the breakpoint off the default step of 5
	counts := step(0, 100, 7)
	assert.Equal(t, []int{7, 14}, d.Breakpoints(counts, 1))
}

func TestSegmentCost(t *testing.T) {
	cost := newRBFCost([]float64{3, 3, 3})
	// every off-diagonal kernel value is exp(-0.01) after clipping
	assert.InDelta(t, 3-(3+6*0.990049833749168)/3, cost.segment(0, 3), 1e-9)
	assert.InDelta(t, 0.0, cost.segment(1, 2), 1e-12)
}

func BenchmarkBreakpoints(b *testing.B) {
	counts := make([]float64, 500)
	for i := range counts {
		counts[i] = float64(i % 23)
		if i > 250 {
			counts[i] += 40
		}
	}
	d := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Breakpoints(counts, DefaultPenalty)
	}
}
