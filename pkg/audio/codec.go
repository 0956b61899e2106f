// Package audio owns the session's sound path: codec utilities for the
// transport encoding, the microphone capture pipeline with its
// half-duplex gate, and the gapless playback scheduler.
package audio

import (
	"encoding/base64"
	"math"
	"time"

	"github.com/lmonteiro/james/pkg/core"
)

// Fixed session rates. Capture runs at 16 kHz mono; the model replies
// with 24 kHz mono PCM.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	FrameSamples       = 4096
)

// EncodePCM16 converts float samples in [-1, 1] to little-endian 16-bit
// PCM. Values outside the range are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767.0)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM back to float samples.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float32(s) / 32768.0
	}
	return out
}

// EncodeFrame packs raw float samples into the transport encoding:
// 16-bit PCM in standard base64.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, core.NewDecodeError("malformed base64 audio payload", err)
	}
	return pcm, nil
}

// Segment is one decoded inbound audio delivery, ready for scheduling.
type Segment struct {
	PCM        []byte // 16-bit little-endian mono
	SampleRate int
	Duration   time.Duration
}

// DecodeSegment converts raw inbound PCM into a mono Segment at the
// given sample rate. Interleaved multi-channel input is mixed down to
// mono. Fails with a decode error on byte counts that do not align to
// whole frames.
func DecodeSegment(pcm []byte, sampleRate, channels int) (Segment, error) {
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	frameBytes := 2 * channels
	if len(pcm) == 0 || len(pcm)%frameBytes != 0 {
		return Segment{}, core.NewDecodeError("audio payload does not align to sample frames", nil)
	}

	mono := pcm
	if channels > 1 {
		frames := len(pcm) / frameBytes
		mono = make([]byte, frames*2)
		for f := 0; f < frames; f++ {
			sum := 0
			for c := 0; c < channels; c++ {
				off := f*frameBytes + c*2
				sum += int(int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8))
			}
			avg := int16(sum / channels)
			mono[f*2] = byte(avg)
			mono[f*2+1] = byte(avg >> 8)
		}
	}

	samples := len(mono) / 2
	dur := time.Duration(math.Round(float64(samples) / float64(sampleRate) * float64(time.Second)))
	return Segment{PCM: mono, SampleRate: sampleRate, Duration: dur}, nil
}
