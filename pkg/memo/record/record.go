// Package record defines the fight record uploaded once per finished attempt.
package record

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

type Player struct {
	Name       string `json:"name"`
	Server     string `json:"server"`
	JobID      uint32 `json:"job_id"`
	Level      uint32 `json:"level"`
	DeathCount uint32 `json:"death_count"`
}

type Progress struct {
	Phase    uint32  `json:"phase"`
	Subphase uint32  `json:"subphase"`
	EnemyID  uint32  `json:"enemy_id"`
	EnemyHP  float64 `json:"enemy_hp"`
}

// FightRecord is the immutable snapshot of one attempt. Duration is in nanoseconds on the wire.
type FightRecord struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	ZoneID    uint32        `json:"zone_id"`
	Players   []Player      `json:"players"`
	Clear     bool          `json:"clear"`
	Progress  Progress      `json:"progress"`
}

func (r *FightRecord) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal fight record")
	}
	return data, nil
}

func Unmarshal(data []byte) (FightRecord, error) {
	var r FightRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return FightRecord{}, eris.Wrap(err, "failed to unmarshal fight record")
	}
	return r, nil
}
