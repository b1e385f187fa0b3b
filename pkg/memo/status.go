package memo

import (
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/fight"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/history"
)

type (
	FightStatus  = fight.Status
	Checkpoint   = fight.Checkpoint
	HistoryEntry = history.Entry
)

// Status is a point-in-time view of the engine for display. The consumer publishes a fresh one
// after every event; readers never touch the live state machine.
type Status struct {
	Stage            string       `json:"stage"`
	ZoneID           uint32       `json:"zone_id"`
	Tracked          bool         `json:"tracked"`
	Fight            *FightStatus `json:"fight,omitempty"`
	Queued           int          `json:"queued"`
	Processed        uint64       `json:"processed"`
	Records          uint64       `json:"records"`
	UploadsSucceeded uint64       `json:"uploads_succeeded"`
	UploadsFailed    uint64       `json:"uploads_failed"`
}

// publishStatus must be called from the consumer goroutine, or before Run.
func (e *Engine) publishStatus() {
	s := &Status{ZoneID: e.zoneID}
	if e.fight != nil {
		fs := e.fight.Status()
		s.Tracked = true
		s.Fight = &fs
	}
	e.status.Store(s)
}

// Status returns the latest published status with live counters.
func (e *Engine) Status() Status {
	s := *e.status.Load()
	s.Stage = string(e.stage.Current())
	s.Queued = e.queue.Len()
	s.Processed = e.processed.Load()
	s.Records = e.records.Load()
	s.UploadsSucceeded = e.uploadsSucceeded.Load()
	s.UploadsFailed = e.uploadsFailed.Load()
	return s
}

func (e *Engine) Stage() string {
	return string(e.stage.Current())
}

// History returns up to limit of the most recent non-tick events, oldest first. A non-positive
// limit returns everything retained.
func (e *Engine) History(limit int) []HistoryEntry {
	return e.history.Snapshot(limit)
}
