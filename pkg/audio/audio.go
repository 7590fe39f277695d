// Package audio provides the PCM frame type and format utilities shared by
// the telephony adapters, the audio bridge, and the speech providers.
//
// Frames are the atomic unit of audio transport: telephony adapters emit them,
// the bridge buffers and gates them through voice-activity detection, and the
// STT provider consumes whole utterances assembled from them. The pipeline
// format is 16 kHz mono little-endian int16 PCM; adapters whose provider uses
// a different rate must convert on ingress with a [FormatConverter].
package audio

import "time"

// PipelineRate is the sample rate every pipeline stage operates at.
const PipelineRate = 16000

// Frame is a single chunk of PCM audio, typically 10–30 ms.
type Frame struct {
	// PCM is little-endian int16 sample data.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono (the pipeline format), 2 for interleaved stereo.
	Channels int

	// Seq is the adapter-assigned sequence number. Frames must never be
	// reordered between the adapter and the bridge.
	Seq uint64

	// Timestamp is the capture time relative to call start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return len(f.PCM) / 2
	}
	return len(f.PCM) / 2 / f.Channels
}

// Duration returns the play time of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
