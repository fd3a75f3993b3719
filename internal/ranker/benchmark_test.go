package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeBenchmark(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		ok     bool
		median float64
		p25    float64
		p75    float64
	}{
		{name: "four samples", prices: []float64{400, 100, 300, 200}, ok: true, median: 300, p25: 200, p75: 400},
		{name: "single sample", prices: []float64{1500}, ok: true, median: 1500, p25: 1500, p75: 1500},
		{name: "five samples", prices: []float64{5, 1, 4, 2, 3}, ok: true, median: 3, p25: 2, p75: 4},
		{name: "zeros ignored", prices: []float64{0, 0, 800}, ok: true, median: 800, p25: 800, p75: 800},
		{name: "no samples", prices: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := ComputeBenchmark("web", tt.prices)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, "web", b.Category)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.median, b.Median)
			assert.Equal(t, tt.p25, b.P25)
			assert.Equal(t, tt.p75, b.P75)
		})
	}
}

func TestComputeBenchmark_DoesNotReorderInput(t *testing.T) {
	prices := []float64{3, 1, 2}
	ComputeBenchmark("x", prices)
	assert.Equal(t, []float64{3, 1, 2}, prices)
}

func TestSeenSet(t *testing.T) {
	s := NewSeenSet("b", "a")

	assert.True(t, s.Contains("a"))
	assert.False(t, s.Mark("a"))
	assert.True(t, s.Mark("c"))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a", "b", "c"}, s.IDs())
}
