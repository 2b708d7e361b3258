// Package audio measures and converts participant audio captured as Opus.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	SampleRate = 48000
	Channels   = 2
	// FrameSamples is the interleaved sample count of a 20ms frame.
	FrameSamples = SampleRate * 20 * Channels / 1000
)

var ErrDecoderUnavailable = errors.New("opus decoder unavailable in this build")

// Decoder turns the Opus packets of one stream into interleaved 16-bit PCM.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
}

type DecoderFactory func() (Decoder, error)

// Level is the RMS level of a PCM frame on a 0-100 scale, where 100 is a
// full-scale signal.
func Level(pcm []int16) int {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(pcm)))
	level := int(math.Round(rms * 100))
	return min(max(level, 0), 100)
}

// LINEAR16 encodes PCM samples as little-endian bytes.
func LINEAR16(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePackets decodes a sequence of packets from one stream with a fresh
// decoder and returns the concatenated PCM.
func DecodePackets(newDecoder DecoderFactory, packets [][]byte) ([]int16, error) {
	dec, err := newDecoder()
	if err != nil {
		return nil, err
	}
	pcm := make([]int16, 0, len(packets)*FrameSamples)
	for i, p := range packets {
		if len(p) == 0 {
			continue
		}
		frame, err := dec.Decode(p)
		if err != nil {
			return nil, fmt.Errorf("decode packet %d: %w", i, err)
		}
		pcm = append(pcm, frame...)
	}
	return pcm, nil
}

// MeterPacket decodes a single packet and returns its level.
func MeterPacket(newDecoder DecoderFactory, packet []byte) (int, error) {
	pcm, err := DecodePackets(newDecoder, [][]byte{packet})
	if err != nil {
		return 0, err
	}
	return Level(pcm), nil
}
