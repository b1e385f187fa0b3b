// Package fetch resolves the duty configuration for a zone.
//
// A Fetcher answers (nil, nil) for a zone that has no configuration. That is a normal outcome
// meaning the zone is not tracked. Errors are reserved for failures to find out.
package fetch

import (
	"context"

	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/api"
	"github.com/rotisserie/eris"
)

type Fetcher interface {
	Fetch(ctx context.Context, zoneID uint32) (*duty.Config, error)
}

type FetcherFunc func(ctx context.Context, zoneID uint32) (*duty.Config, error)

func (f FetcherFunc) Fetch(ctx context.Context, zoneID uint32) (*duty.Config, error) {
	return f(ctx, zoneID)
}

// Untracked is a Fetcher that knows no zones.
var Untracked Fetcher = FetcherFunc(func(context.Context, uint32) (*duty.Config, error) {
	return nil, nil //nolint:nilnil // untracked zone
})

// Source serves raw duty documents. A zone it has no document for is reported with an error
// wrapping api.ErrNotFound.
type Source interface {
	FetchDutyConfig(ctx context.Context, zoneID uint32) ([]byte, error)
}

// API fetches documents from the remote service.
type API struct {
	src Source
}

func NewAPI(src Source) *API {
	return &API{src: src}
}

func (a *API) Fetch(ctx context.Context, zoneID uint32) (*duty.Config, error) {
	body, err := a.src.FetchDutyConfig(ctx, zoneID)
	if err != nil {
		if eris.Is(err, api.ErrNotFound) {
			return nil, nil //nolint:nilnil // untracked zone
		}
		return nil, eris.Wrapf(err, "failed to fetch duty config for zone %d", zoneID)
	}
	return decode(body, zoneID)
}

// Chain asks each fetcher in turn and returns the first document found. A failing fetcher does not
// stop the chain; its error is reported only when no later fetcher finds a document.
type Chain []Fetcher

func (c Chain) Fetch(ctx context.Context, zoneID uint32) (*duty.Config, error) {
	var firstErr error
	for _, f := range c {
		cfg, err := f.Fetch(ctx, zoneID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	return nil, firstErr
}

// decode parses a document, filling in the zone id when the document leaves it out.
func decode(data []byte, zoneID uint32) (*duty.Config, error) {
	cfg, err := duty.Decode(data)
	if err != nil {
		return nil, eris.Wrapf(err, "zone %d", zoneID)
	}
	if cfg.ZoneID == 0 {
		cfg.ZoneID = zoneID
	}
	return cfg, nil
}
