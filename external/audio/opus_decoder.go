//go:build opus

package audio

import (
	"fmt"

	"github.com/foxseedlab/sanctuary/internal/audio"
	"github.com/hraban/opus"
)

type OpusDecoder struct {
	dec *opus.Decoder
	buf []int16
}

func NewOpusDecoder() (audio.Decoder, error) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, buf: make([]int16, audio.FrameSamples*6)}, nil
}

// Decode returns a copy of the decoded frame; the internal buffer is reused.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return nil, err
	}
	total := min(n*audio.Channels, len(d.buf))
	frame := make([]int16, total)
	copy(frame, d.buf[:total])
	return frame, nil
}
