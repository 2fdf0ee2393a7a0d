package mediaclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/resonance-im/resonance/pkg/internal/models"
	"github.com/resonance-im/resonance/pkg/internal/token"
)

type fakeLocalTrack struct {
	kind    TrackKind
	enabled bool
	closed  bool
}

func (f *fakeLocalTrack) Kind() TrackKind    { return f.kind }
func (f *fakeLocalTrack) Enabled() bool      { return f.enabled }
func (f *fakeLocalTrack) SetEnabled(on bool) { f.enabled = on }
func (f *fakeLocalTrack) Close() error {
	f.closed = true
	return nil
}

type fakeRemoteTrack struct {
	kind        TrackKind
	participant string
}

func (f *fakeRemoteTrack) Kind() TrackKind       { return f.kind }
func (f *fakeRemoteTrack) ParticipantID() string { return f.participant }

// fakeRelay records every lifecycle call and fails publish attempts
// according to a script.
type fakeRelay struct {
	mu sync.Mutex

	events RelayEvents
	state  ConnectionState

	joins      int
	leaves     int
	publishes  int
	subscribes []string
	tracks     []*fakeLocalTrack

	publishErrs []error
}

func (f *fakeRelay) Bind(events RelayEvents) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

func (f *fakeRelay) Join(_ context.Context, _ token.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	f.state = ConnectionConnected
	return nil
}

func (f *fakeRelay) CreateLocalTrack(kind TrackKind) (LocalTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	track := &fakeLocalTrack{kind: kind, enabled: true}
	f.tracks = append(f.tracks, track)
	return track, nil
}

func (f *fakeRelay) Publish(_ context.Context, _ []LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes++
	if len(f.publishErrs) > 0 {
		err := f.publishErrs[0]
		f.publishErrs = f.publishErrs[1:]
		return err
	}
	return nil
}

func (f *fakeRelay) Subscribe(_ context.Context, participantID string, kind TrackKind) (RemoteTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, participantID+"/"+string(kind))
	return &fakeRemoteTrack{kind: kind, participant: participantID}, nil
}

func (f *fakeRelay) Leave(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	f.state = ConnectionDisconnected
	return nil
}

func (f *fakeRelay) State() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// fakeCreds hands out credentials, failing the first failures calls with err.
type fakeCreds struct {
	mu       sync.Mutex
	fetches  int
	failures int
	err      error
}

func (f *fakeCreds) FetchCredential(_ context.Context, channel string, _ token.Role) (token.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failures > 0 {
		f.failures--
		return token.Credential{}, f.err
	}
	return token.Credential{
		Token:     fmt.Sprintf("007fake-%s-%d", channel, f.fetches),
		Channel:   channel,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func newTestOrchestrator(callType models.CallType, relay *fakeRelay, creds *fakeCreds) *Orchestrator {
	o := New("s1", "call-s1", callType, relay, creds, zerolog.Nop())
	o.sleep = func(time.Duration) {}
	return o
}

func TestJoinChannelHappyPath(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if !o.Joined() {
		t.Fatalf("orchestrator should report joined")
	}
	if relay.joins != 1 || relay.publishes != 1 || creds.fetches != 1 {
		t.Fatalf("joins/publishes/fetches = %d/%d/%d, want 1/1/1",
			relay.joins, relay.publishes, creds.fetches)
	}
	if len(relay.tracks) != 1 || relay.tracks[0].kind != TrackKindAudio {
		t.Fatalf("voice call should publish exactly one audio track, got %d", len(relay.tracks))
	}
}

func TestJoinChannelVideoPublishesBothTracks(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVideo, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if len(relay.tracks) != 2 {
		t.Fatalf("video call should create audio and video tracks, got %d", len(relay.tracks))
	}
	kinds := map[TrackKind]bool{}
	for _, track := range relay.tracks {
		kinds[track.kind] = true
	}
	if !kinds[TrackKindAudio] || !kinds[TrackKindVideo] {
		t.Fatalf("missing track kinds: %v", kinds)
	}
}

func TestJoinChannelRestartsAfterPublishConflict(t *testing.T) {
	relay := &fakeRelay{publishErrs: []error{ErrPublishRejected}}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join should recover from one publish conflict: %v", err)
	}
	if !o.Joined() {
		t.Fatalf("orchestrator should report joined after the restart")
	}
	if relay.joins != 2 || creds.fetches != 2 {
		t.Fatalf("restart should rerun the full sequence: joins=%d fetches=%d, want 2/2", relay.joins, creds.fetches)
	}
	if relay.publishes != 2 {
		t.Fatalf("publishes = %d, want 2", relay.publishes)
	}
}

func TestJoinChannelPublishRestartBudget(t *testing.T) {
	relay := &fakeRelay{publishErrs: []error{ErrPublishRejected, ErrPublishRejected, ErrPublishRejected}}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	err := o.JoinChannel(context.Background())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted after the restart budget, got %v", err)
	}
	if o.Joined() {
		t.Fatalf("orchestrator must not report joined after exhaustion")
	}
	if relay.joins != 3 {
		t.Fatalf("joins = %d, want 3 (initial attempt plus two restarts)", relay.joins)
	}
}

func TestJoinChannelNonConflictErrorDoesNotRestart(t *testing.T) {
	relay := &fakeRelay{publishErrs: []error{errors.New("transport torn down")}}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	err := o.JoinChannel(context.Background())
	if err == nil || errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("a non-conflict publish failure should surface directly, got %v", err)
	}
	if relay.joins != 1 {
		t.Fatalf("joins = %d, want 1 (no restart)", relay.joins)
	}
}

func TestJoinChannelIsIdempotentWhileJoined(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("repeated join should be a silent no-op, got %v", err)
	}
	if relay.joins != 1 || creds.fetches != 1 {
		t.Fatalf("repeated join must not rerun the sequence: joins=%d fetches=%d", relay.joins, creds.fetches)
	}
}

func TestCredentialFetchRetriesTransientFailures(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{failures: 2, err: errors.New("bad gateway")}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	var slept []time.Duration
	o.sleep = func(d time.Duration) { slept = append(slept, d) }

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join should survive two transient credential failures: %v", err)
	}
	if creds.fetches != 3 {
		t.Fatalf("fetches = %d, want 3", creds.fetches)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("backoff = %v, want [1s 2s]", slept)
	}
}

func TestCredentialFetchExhaustsBudget(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{failures: 10, err: errors.New("bad gateway")}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	err := o.JoinChannel(context.Background())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if creds.fetches != 3 {
		t.Fatalf("fetches = %d, want exactly 3 attempts", creds.fetches)
	}
	if relay.joins != 0 {
		t.Fatalf("join must not be attempted without a credential")
	}
}

func TestMissingIdentityIsFatal(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{failures: 1, err: ErrNotSignedIn}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	err := o.JoinChannel(context.Background())
	if !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn to surface, got %v", err)
	}
	if creds.fetches != 1 {
		t.Fatalf("a missing identity must not be retried, fetches = %d", creds.fetches)
	}
}

func TestLeaveChannelWithoutJoin(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	if err := o.LeaveChannel(context.Background()); err != nil {
		t.Fatalf("leave before join should be a no-op, got %v", err)
	}
	if relay.leaves != 0 {
		t.Fatalf("no relay leave expected while disconnected, got %d", relay.leaves)
	}

	// The instance stays usable for a later join.
	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join after early leave failed: %v", err)
	}
}

func TestLeaveChannelTearsDownTracks(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVideo, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := o.LeaveChannel(context.Background()); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	if relay.leaves != 1 {
		t.Fatalf("leaves = %d, want 1", relay.leaves)
	}
	for _, track := range relay.tracks {
		if !track.closed {
			t.Fatalf("local %s track not closed on leave", track.kind)
		}
	}
	if o.Joined() {
		t.Fatalf("orchestrator should not report joined after leave")
	}
}

func TestCloseRejectsFurtherJoins(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	o.Close(context.Background())
	if err := o.JoinChannel(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed after Close, got %v", err)
	}
	if relay.joins != 0 {
		t.Fatalf("closed instance must not touch the relay")
	}
}

func TestRemoteTrackLifecycle(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVideo, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	relay.events.OnTrackPublished("peer-1", TrackKindAudio)
	relay.events.OnTrackPublished("peer-1", TrackKindVideo)
	relay.events.OnTrackPublished("peer-1", TrackKindVideo) // duplicate announce

	remotes := o.Remotes()
	if len(remotes) != 1 {
		t.Fatalf("remotes = %d, want 1", len(remotes))
	}
	if !remotes[0].HasAudio || !remotes[0].HasVideo {
		t.Fatalf("peer-1 should carry audio and video: %+v", remotes[0])
	}

	relay.events.OnTrackUnpublished("peer-1", TrackKindVideo)
	remotes = o.Remotes()
	if len(remotes) != 1 || remotes[0].HasVideo {
		t.Fatalf("video should be gone while audio remains: %+v", remotes)
	}

	relay.events.OnTrackUnpublished("peer-1", TrackKindAudio)
	if len(o.Remotes()) != 0 {
		t.Fatalf("participant without tracks should be dropped")
	}
}

func TestParticipantLeftDropsRemote(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	relay.events.OnTrackPublished("peer-1", TrackKindAudio)
	relay.events.OnParticipantLeft("peer-1")

	if len(o.Remotes()) != 0 {
		t.Fatalf("departed participant should be dropped")
	}
}

func TestSetAudioEnabledTogglesLocalTrack(t *testing.T) {
	relay := &fakeRelay{}
	creds := &fakeCreds{}
	o := newTestOrchestrator(models.CallTypeVoice, relay, creds)

	if err := o.JoinChannel(context.Background()); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	o.SetAudioEnabled(false)
	if relay.tracks[0].enabled {
		t.Fatalf("audio track should be disabled")
	}
	o.SetAudioEnabled(true)
	if !relay.tracks[0].enabled {
		t.Fatalf("audio track should be re-enabled")
	}
}
