package overlay

import (
	"math"
	"testing"
)

func TestNewSpectrumAnalyzerComputesBandEdgesInRange(t *testing.T) {
	a := NewSpectrumAnalyzer(512, 16000)
	if a.bandEdges[0] < 0 {
		t.Fatalf("first band edge negative: %d", a.bandEdges[0])
	}
	if a.bandEdges[Bands] > 512/2 {
		t.Fatalf("last band edge %d exceeds nyquist bin count", a.bandEdges[Bands])
	}
	for i := 1; i <= Bands; i++ {
		if a.bandEdges[i] < a.bandEdges[i-1] {
			t.Fatalf("band edges not monotonic at %d: %d < %d", i, a.bandEdges[i], a.bandEdges[i-1])
		}
	}
}

func TestAnalyzeSilenceProducesZeroBands(t *testing.T) {
	a := NewSpectrumAnalyzer(512, 16000)
	silence := make([]float32, 512)
	out := a.Analyze(silence)
	for b, v := range out {
		if v != 0 {
			t.Fatalf("band %d: expected 0 for silence, got %v", b, v)
		}
	}
}

func TestAnalyzeToneProducesNormalizedBandsWithMaxOne(t *testing.T) {
	a := NewSpectrumAnalyzer(512, 16000)
	samples := make([]float32, 512)
	freq := 1000.0
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / 16000))
	}
	var out [Bands]float32
	for i := 0; i < 5; i++ {
		out = a.Analyze(samples)
	}
	var max float32
	for _, v := range out {
		if v > max {
			max = v
		}
		if v < 0 {
			t.Fatalf("band magnitude negative: %v", v)
		}
	}
	if max > 1.0001 {
		t.Fatalf("expected normalized bands <= 1, got max %v", max)
	}
	if max < 0.5 {
		t.Fatalf("expected a dominant band near 1 after settling, got max %v", max)
	}
}

func TestAnalyzeShorterWindowIsZeroPadded(t *testing.T) {
	a := NewSpectrumAnalyzer(512, 16000)
	short := make([]float32, 128)
	for i := range short {
		short[i] = 0.5
	}
	out := a.Analyze(short)
	for _, v := range out {
		if math.IsNaN(float64(v)) {
			t.Fatalf("got NaN band magnitude for zero-padded input")
		}
	}
}
