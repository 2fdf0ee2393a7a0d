package callstate

import (
	"errors"
	"testing"
	"time"
)

func TestAcceptThenEnd(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	rec := Record{Status: StatusRinging}

	rec, err := Transition(rec, StatusAccepted, base)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if rec.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", rec.Status)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(base) {
		t.Fatalf("started_at not stamped on accept")
	}

	rec, err = Transition(rec, StatusEnded, base.Add(42*time.Second))
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if rec.Status != StatusEnded {
		t.Fatalf("status = %s, want ended", rec.Status)
	}
	if d := Duration(rec); d != 42*time.Second {
		t.Fatalf("duration = %v, want 42s", d)
	}
}

func TestRejectFromRinging(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	rec := Record{Status: StatusRinging}

	rec, err := Transition(rec, StatusRejected, base)
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rec.Status != StatusRejected || !rec.Status.Terminal() {
		t.Fatalf("rejected should be terminal, got %s", rec.Status)
	}
	if rec.StartedAt != nil {
		t.Fatalf("rejected call should never carry started_at")
	}
}

func TestRejectFromAccepted(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	rec := Record{Status: StatusRinging}

	rec, _ = Transition(rec, StatusAccepted, base)
	rec, err := Transition(rec, StatusRejected, base.Add(time.Second))
	if err != nil {
		t.Fatalf("reject from accepted failed: %v", err)
	}
	if rec.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", rec.Status)
	}
}

func TestMissedFromRinging(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	rec := Record{Status: StatusRinging}

	rec, err := Transition(rec, StatusMissed, base)
	if err != nil {
		t.Fatalf("missed failed: %v", err)
	}
	if rec.Status != StatusMissed {
		t.Fatalf("status = %s, want missed", rec.Status)
	}
	if rec.StartedAt != nil {
		t.Fatalf("missed call should never carry started_at")
	}
}

func TestMissedIsIdempotent(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	rec := Record{Status: StatusRinging}

	rec, _ = Transition(rec, StatusMissed, base)
	endedAt := rec.EndedAt

	rec, err := Transition(rec, StatusMissed, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("second missed application should be a no-op, got %v", err)
	}
	if rec.EndedAt != endedAt {
		t.Fatalf("idempotent missed must not restamp ended_at")
	}
}

func TestNoTransitionOutOfTerminalStates(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	for _, terminal := range []Status{StatusRejected, StatusEnded, StatusMissed} {
		for _, next := range []Status{StatusRinging, StatusAccepted, StatusRejected, StatusEnded} {
			if terminal == next {
				continue
			}
			rec := Record{Status: terminal}
			if _, err := Transition(rec, next, base); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s should be rejected, got %v", terminal, next, err)
			}
		}
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	rec := Record{Status: StatusRinging}
	if _, err := Transition(rec, Status("answering"), time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unknown status should be rejected, got %v", err)
	}
}

func TestDurationClamping(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	earlier := base.Add(-time.Minute)

	rec := Record{Status: StatusEnded, StartedAt: &base, EndedAt: &earlier}
	if d := Duration(rec); d != 0 {
		t.Fatalf("skewed timestamps should clamp to zero, got %v", d)
	}

	if d := Duration(Record{Status: StatusMissed}); d != 0 {
		t.Fatalf("record without timestamps should report zero, got %v", d)
	}
}
