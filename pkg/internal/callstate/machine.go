// Package callstate holds the pure transition logic of a call session's
// lifecycle. It never touches storage and never fires side effects; callers
// apply the returned record and decide what to do with the change.
package callstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

type Status string

const (
	StatusRinging  = Status("ringing")
	StatusAccepted = Status("accepted")
	StatusRejected = Status("rejected")
	StatusEnded    = Status("ended")
	StatusMissed   = Status("missed")
)

var ErrInvalidTransition = errors.New("invalid call state transition")

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusAccepted, StatusRejected, StatusEnded, StatusMissed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusEnded, StatusMissed:
		return true
	}
	return false
}

// Record is the slice of a call session the state machine cares about.
type Record struct {
	Status    Status
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Transition applies a status change at the given instant, stamping
// started_at / ended_at as the lifecycle requires. Applying missed to an
// already missed record is a no-op; every other transition out of a terminal
// state is rejected.
func Transition(rec Record, to Status, at time.Time) (Record, error) {
	if !to.Valid() {
		return rec, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if rec.Status == StatusMissed && to == StatusMissed {
		return rec, nil
	}
	if rec.Status.Terminal() {
		return rec, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, rec.Status)
	}

	switch {
	case rec.Status == StatusRinging && to == StatusAccepted:
		rec.Status = to
		rec.StartedAt = lo.ToPtr(at)
	case rec.Status == StatusRinging && to == StatusMissed:
		rec.Status = to
		rec.EndedAt = lo.ToPtr(at)
	case to == StatusRejected && (rec.Status == StatusRinging || rec.Status == StatusAccepted):
		rec.Status = to
		rec.EndedAt = lo.ToPtr(at)
	case rec.Status == StatusAccepted && to == StatusEnded:
		rec.Status = to
		rec.EndedAt = lo.ToPtr(at)
	default:
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}

	return rec, nil
}

// Duration reports how long the call was connected, clamped to zero for
// records that never reached accepted or carry skewed timestamps.
func Duration(rec Record) time.Duration {
	if rec.StartedAt == nil || rec.EndedAt == nil {
		return 0
	}
	if d := rec.EndedAt.Sub(*rec.StartedAt); d > 0 {
		return d
	}
	return 0
}
