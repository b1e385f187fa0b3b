package fetch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/rotisserie/eris"
)

// Dir reads <dir>/<zoneID>.json. A missing file means the zone is untracked.
type Dir string

func (d Dir) Fetch(_ context.Context, zoneID uint32) (*duty.Config, error) {
	path := filepath.Join(string(d), strconv.FormatUint(uint64(zoneID), 10)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil //nolint:nilnil // untracked zone
		}
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}
	return decode(data, zoneID)
}
