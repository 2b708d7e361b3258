//go:build !opus

package audio

import "github.com/foxseedlab/sanctuary/internal/audio"

func NewOpusDecoder() (audio.Decoder, error) {
	return nil, audio.ErrDecoderUnavailable
}
