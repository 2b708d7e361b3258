package httpserver

import (
	"github.com/foxseedlab/sanctuary/internal/audio"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/safety"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		return NewServer(
			do.MustInvoke[*session.Manager](i),
			do.MustInvoke[*safety.Pipeline](i),
			do.MustInvoke[*fanout.Hub](i),
			do.MustInvoke[audio.DecoderFactory](i),
		), nil
	})
}
