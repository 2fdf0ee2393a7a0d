package services

import (
	"strings"
	"testing"

	"github.com/resonance-im/resonance/pkg/internal/callstate"
	"github.com/resonance-im/resonance/pkg/internal/models"
)

func TestNewCallRejectsSecondOngoing(t *testing.T) {
	openTestDatabase(t)
	channel, member := seedChannelWithMember(t)
	seedCall(t, channel, member, callstate.StatusRinging)

	_, err := NewCall(channel, member, models.CallTypeVoice)
	if err == nil {
		t.Fatalf("a second live session in one channel must be rejected")
	}
	// The conflict message is reserved for an actual live session; any
	// infrastructure failure surfaces with its own cause attached.
	if !strings.Contains(err.Error(), "ongoing call") {
		t.Fatalf("conflict reported as %q, want the ongoing-call clash", err)
	}
}

func TestAcceptCallStampsStartAndTranscribes(t *testing.T) {
	openTestDatabase(t)
	channel, member := seedChannelWithMember(t)
	call := seedCall(t, channel, member, callstate.StatusRinging)

	accepted, err := AcceptCall(call)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if accepted.Status != callstate.StatusAccepted {
		t.Fatalf("status = %s, want accepted", accepted.Status)
	}
	if accepted.StartedAt == nil {
		t.Fatalf("started_at not stamped on accept")
	}
	if got := countCallEvents(t, call.ID, models.EventCallAccepted); got != 1 {
		t.Fatalf("accepted transcript rows = %d, want 1", got)
	}

	if _, err := AcceptCall(accepted); err == nil {
		t.Fatalf("accepting an already accepted call must fail")
	}
	if got := countCallEvents(t, call.ID, models.EventCallAccepted); got != 1 {
		t.Fatalf("failed re-accept must not append: rows = %d", got)
	}
}
