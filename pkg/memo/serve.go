package memo

import (
	"context"

	"github.com/open-xiv/memo-uploader/pkg/memo/internal/server"
	"github.com/rotisserie/eris"
)

// serverBackend adapts the engine to the routes, which cannot import this package.
type serverBackend struct {
	*Engine
}

func (b serverBackend) Status() any {
	return b.Engine.Status()
}

// Serve runs the HTTP surface on the configured address until ctx is done.
func (e *Engine) Serve(ctx context.Context) error {
	s, err := server.New(server.Options{
		Address: e.options.HTTPAddress,
		Backend: serverBackend{e},
		Logger:  e.tel.GetLogger("server"),
	})
	if err != nil {
		return eris.Wrap(err, "failed to create server")
	}
	return s.Serve(ctx)
}
