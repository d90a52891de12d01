package coordinator

import (
	"fmt"
	"time"

	"github.com/LJTian/MarketPulse/internal/processor"
)

// State 采集状态：PENDING → COLLECTING → FINALIZED，失败时进入 FAILED，不可回退
type State string

const (
	StatePending    State = "PENDING"
	StateCollecting State = "COLLECTING"
	StateFinalized  State = "FINALIZED"
	StateFailed     State = "FAILED"
)

// CollectionRun 一次采集的结果。采集期间只追加，FINALIZED 之后只读
type CollectionRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	State      State

	ArtifactPath string
	Uploaded     bool
	Summary      Summary
	Err          error

	records []processor.Record
}

func newRun(id string, startedAt time.Time) *CollectionRun {
	return &CollectionRun{
		ID:        id,
		StartedAt: startedAt.UTC().Truncate(time.Second),
		State:     StatePending,
		Summary:   newSummary(),
	}
}

// Records 返回记录副本，调用方修改不影响本次采集
func (r *CollectionRun) Records() []processor.Record {
	out := make([]processor.Record, len(r.records))
	copy(out, r.records)
	return out
}

func (r *CollectionRun) transition(to State) error {
	switch {
	case r.State == StatePending && to == StateCollecting,
		r.State == StateCollecting && (to == StateFinalized || to == StateFailed),
		r.State == StatePending && to == StateFailed:
		r.State = to
		return nil
	}
	return fmt.Errorf("collection run %s: invalid transition %s -> %s", r.ID, r.State, to)
}

func (r *CollectionRun) append(records []processor.Record) error {
	if r.State != StateCollecting {
		return fmt.Errorf("collection run %s: append in state %s", r.ID, r.State)
	}
	r.records = append(r.records, records...)
	return nil
}
