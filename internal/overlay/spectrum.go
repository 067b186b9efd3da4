// Package overlay implements the design's C11 overlay renderer: a
// Wayland layer-shell surface that consumes C10's two broadcast sockets
// and renders a spectrum, preview text, and a processing spinner
// (spec.md §4.11).
//
// The FFT stage is grounded on gonum.org/v1/gonum/dsp/fourier, the
// retrieval pack's numerical-computation library, repurposed here from
// general-purpose signal analysis to the overlay's 8-band spectrum view.
package overlay

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// Bands is the fixed number of spectrum bars (spec.md: "8-band FFT").
	Bands = 8
	// MinBandHz and MaxBandHz bound the logarithmically spaced bands
	// (spec.md: "100 Hz - 7 kHz").
	MinBandHz = 100.0
	MaxBandHz = 7000.0
	// DefaultSmoothing is the temporal smoothing weight given to the
	// previous frame's band magnitudes (spec.md: "60% previous + 40% new").
	DefaultSmoothing = 0.6
)

// SpectrumAnalyzer computes smoothed, normalized band magnitudes from
// windows of mono PCM samples.
type SpectrumAnalyzer struct {
	fft        *fourier.FFT
	window     []float64
	hann       []float64
	bandEdges  [Bands + 1]int // bin index boundaries per band, computed once for sampleRate/windowSize
	smoothing  float64
	prevBands  [Bands]float64
	sampleRate float64
}

// NewSpectrumAnalyzer returns an analyzer for windows of windowSize
// samples (must be a power of two per spec.md) at sampleRate Hz.
func NewSpectrumAnalyzer(windowSize int, sampleRate float64) *SpectrumAnalyzer {
	a := &SpectrumAnalyzer{
		fft:        fourier.NewFFT(windowSize),
		window:     make([]float64, windowSize),
		hann:       hannWindow(windowSize),
		smoothing:  DefaultSmoothing,
		sampleRate: sampleRate,
	}
	a.computeBandEdges(windowSize)
	return a
}

// hannWindow returns a Hanning window of length n (spec.md: "power-of-two
// window, Hanning").
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// computeBandEdges assigns each of the Bands logarithmically spaced bands
// a [start,end) range of FFT bin indices.
func (a *SpectrumAnalyzer) computeBandEdges(windowSize int) {
	nyquist := a.sampleRate / 2
	logMin := math.Log10(MinBandHz)
	logMax := math.Log10(math.Min(MaxBandHz, nyquist))
	for i := 0; i <= Bands; i++ {
		frac := float64(i) / float64(Bands)
		hz := math.Pow(10, logMin+frac*(logMax-logMin))
		bin := int(hz / nyquist * float64(windowSize/2))
		if bin > windowSize/2 {
			bin = windowSize / 2
		}
		a.bandEdges[i] = bin
	}
}

// Analyze computes this tick's smoothed, normalized band magnitudes from
// samples (which must have the analyzer's configured window length;
// shorter windows are zero-padded).
func (a *SpectrumAnalyzer) Analyze(samples []float32) [Bands]float32 {
	n := len(a.window)
	for i := 0; i < n; i++ {
		var s float64
		if i < len(samples) {
			s = float64(samples[i])
		}
		a.window[i] = s * a.hann[i]
	}

	coeffs := a.fft.Coefficients(nil, a.window)

	var raw [Bands]float64
	var maxMag float64
	for b := 0; b < Bands; b++ {
		start, end := a.bandEdges[b], a.bandEdges[b+1]
		if end <= start {
			end = start + 1
		}
		var sum float64
		count := 0
		for bin := start; bin < end && bin < len(coeffs); bin++ {
			sum += cmplxAbs(coeffs[bin])
			count++
		}
		if count > 0 {
			raw[b] = sum / float64(count)
		}
		if raw[b] > maxMag {
			maxMag = raw[b]
		}
	}

	var out [Bands]float32
	for b := 0; b < Bands; b++ {
		norm := 0.0
		if maxMag > 0 {
			norm = raw[b] / maxMag
		}
		smoothed := a.smoothing*a.prevBands[b] + (1-a.smoothing)*norm
		a.prevBands[b] = smoothed
		out[b] = float32(smoothed)
	}
	return out
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
