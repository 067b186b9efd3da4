// Package audio implements the daemon's audio capture path (design C2):
// opening the configured input device at its native rate, resampling and
// mixing down to the fixed pipeline rate, and publishing fixed-size frames.
package audio

const (
	// PipelineRate is the mono PCM sample rate every downstream component
	// (VAD, recognizers, overlay spectrum) assumes. Capture is responsible
	// for getting audio to this rate regardless of the device's native rate.
	PipelineRate = 16000

	// FrameSamples is the fixed frame size at PipelineRate (~32 ms).
	// Downstream components may assume every Frame has exactly this many
	// samples.
	FrameSamples = 512
)

// Frame is a fixed-count block of mono PCM samples at PipelineRate.
// Immutable once handed to the ring buffer.
type Frame struct {
	// Samples holds exactly FrameSamples values in [-1.0, 1.0].
	Samples [FrameSamples]float32
	// Seq is a monotonically increasing sequence number assigned by Capture,
	// used by the VAD pre-roll window to identify frame boundaries.
	Seq uint64
}
