package live

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// AudioFrame is a fixed-length sequence of normalized float samples in
// [-1.0, 1.0], channel-interleaved, at a declared sample rate.
type AudioFrame struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// EncodedAudioChunk is PCM bytes in the 16-bit little-endian wire format,
// tagged with a MIME-style content type.
type EncodedAudioChunk struct {
	Data       []byte
	MIMEType   string
	SampleRate int
	Channels   int
}

// PCMMIMEType returns the content tag for raw PCM at the given rate,
// e.g. "audio/pcm;rate=16000".
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodePCM16 converts a frame to 16-bit signed little-endian PCM.
// Each sample maps to round(s*32767) clamped to the int16 range, so the
// conversion is pure and total: out-of-range samples saturate rather than
// wrap.
func EncodePCM16(frame AudioFrame) EncodedAudioChunk {
	data := make([]byte, len(frame.Samples)*2)
	for i, s := range frame.Samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
	}
	return EncodedAudioChunk{
		Data:       data,
		MIMEType:   PCMMIMEType(frame.SampleRate),
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
	}
}

// DecodePCM16 converts 16-bit signed little-endian PCM bytes back to a
// frame. It is the inverse of EncodePCM16 at reduced precision: each sample
// is reproduced within 1/32768. A byte length that is not a multiple of
// channels*2 fails with a malformed-audio error.
func DecodePCM16(data []byte, sampleRate, channels int) (AudioFrame, error) {
	if channels <= 0 {
		return AudioFrame{}, NewMalformedAudioError(fmt.Sprintf("invalid channel count %d", channels))
	}
	if len(data)%(channels*2) != 0 {
		return AudioFrame{}, NewMalformedAudioError(
			fmt.Sprintf("payload length %d is not a multiple of %d", len(data), channels*2))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		// Divide by the encode scale so decode inverts encode within
		// half a quantization step; -32768 clamps to full scale.
		v := float64(s) / 32767.0
		if v < -1 {
			v = -1
		}
		samples[i] = float32(v)
	}
	return AudioFrame{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// RMSEnergy computes the root-mean-square energy of a frame's samples.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PeakAmplitude returns the maximum absolute amplitude of a frame's samples.
func PeakAmplitude(samples []float32) float64 {
	var maxAbs float64
	for _, s := range samples {
		abs := math.Abs(float64(s))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs
}
