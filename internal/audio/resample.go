package audio

// Resampler performs streaming linear resampling from an arbitrary source
// rate/channel count down to mono at PipelineRate. It is stateful across
// calls so a source stream can be fed in arbitrarily sized chunks.
//
// Adapted from the teacher's single fixed-rate (48 kHz mono) capture path
// (client/audio.go) into a general source-rate converter, since spec.md
// §4.2 requires resampling whenever the device's native rate differs from
// the pipeline rate.
type Resampler struct {
	srcRate  int
	channels int
	// frac is the fractional source-sample position of the next output
	// sample, carried across Feed calls so chunk boundaries don't introduce
	// clicks or skipped samples.
	frac float64
	// tail holds the last input sample (post mixdown) from the previous
	// Feed call, needed to interpolate across the chunk boundary.
	tail     float32
	hasTail  bool
	outAccum []float32
}

// NewResampler returns a Resampler converting from srcRate Hz, channels
// channels down to mono PipelineRate.
func NewResampler(srcRate, channels int) *Resampler {
	if srcRate <= 0 {
		srcRate = PipelineRate
	}
	if channels <= 0 {
		channels = 1
	}
	return &Resampler{srcRate: srcRate, channels: channels}
}

// mixdown averages the interleaved channels of source frame frameIdx into
// mono.
func (r *Resampler) mixdown(src []float32, frameIdx int) float32 {
	base := frameIdx * r.channels
	if r.channels == 1 {
		return src[base]
	}
	var sum float32
	for c := 0; c < r.channels; c++ {
		sum += src[base+c]
	}
	return sum / float32(r.channels)
}

// Feed converts an interleaved chunk of srcRate/channels samples into mono
// PipelineRate samples, appending them to the Resampler's internal output
// buffer and returning it. The returned slice is reused across calls — copy
// it before the next Feed call if you need to retain it.
func (r *Resampler) Feed(src []float32) []float32 {
	r.outAccum = r.outAccum[:0]
	frames := len(src) / r.channels
	if frames == 0 {
		return r.outAccum
	}

	if r.srcRate == PipelineRate {
		for i := 0; i < frames; i++ {
			r.outAccum = append(r.outAccum, r.mixdown(src, i))
		}
		return r.outAccum
	}

	ratio := float64(r.srcRate) / float64(PipelineRate)

	get := func(idx int) float32 {
		if idx < 0 {
			if r.hasTail {
				return r.tail
			}
			return r.mixdown(src, 0)
		}
		if idx >= frames {
			return r.mixdown(src, frames-1)
		}
		return r.mixdown(src, idx)
	}

	pos := r.frac
	for pos < float64(frames) {
		i0 := int(pos)
		t := pos - float64(i0)
		s0 := get(i0 - 1) // position is offset by one sample: index -1 is the previous chunk's tail
		s1 := get(i0)
		r.outAccum = append(r.outAccum, s0+float32(t)*(s1-s0))
		pos += ratio
	}
	r.frac = pos - float64(frames)

	if frames > 0 {
		r.tail = r.mixdown(src, frames-1)
		r.hasTail = true
	}

	return r.outAccum
}
