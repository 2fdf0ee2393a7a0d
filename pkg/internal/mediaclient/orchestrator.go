// Package mediaclient owns the per-session client lifecycle against the media
// relay: credential exchange, join, publish, subscribe and teardown. One
// Orchestrator instance serves exactly one call session and is discarded
// afterwards; reusing an instance across sessions would leak subscriptions
// and stale listeners.
package mediaclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/resonance-im/resonance/pkg/internal/models"
	"github.com/resonance-im/resonance/pkg/internal/token"
)

const (
	credentialAttempts = 3
	publishRestarts    = 2

	settleDelay = 200 * time.Millisecond
	restartWait = time.Second
)

// RemoteParticipant is the visible state of another call participant, keyed
// by the relay-assigned identifier.
type RemoteParticipant struct {
	ID       string
	HasAudio bool
	HasVideo bool
}

type Orchestrator struct {
	sessionID string
	channel   string
	callType  models.CallType

	relay Relay
	creds CredentialSource
	log   zerolog.Logger

	// sleep is swapped out in tests so backoff does not stall them.
	sleep func(time.Duration)

	mu      sync.Mutex
	joining bool
	joined  bool
	closed  bool

	localAudio LocalTrack
	localVideo LocalTrack
	remotes    map[string]*RemoteParticipant
}

// New creates a fresh client instance for one call session. The channel is
// the session's stable relay channel name.
func New(sessionID, channel string, callType models.CallType, relay Relay, creds CredentialSource, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		sessionID: sessionID,
		channel:   channel,
		callType:  callType,
		relay:     relay,
		creds:     creds,
		log:       log.With().Str("session", sessionID).Logger(),
		sleep:     time.Sleep,
		remotes:   make(map[string]*RemoteParticipant),
	}
}

// JoinChannel runs the full admission sequence: defensive teardown of a stale
// connection, event registration, credential fetch with bounded backoff,
// relay join, local track creation and publish. A publish rejected for
// connection-state reasons restarts the whole sequence up to its budget.
func (o *Orchestrator) JoinChannel(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClientClosed
	}
	if o.joining || o.joined {
		o.mu.Unlock()
		return nil
	}
	o.joining = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.joining = false
		o.mu.Unlock()
	}()

	var lastErr error
	for attempt := 0; attempt <= publishRestarts; attempt++ {
		if attempt > 0 {
			o.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("Restarting relay join sequence...")
			o.sleep(restartWait)
		}

		err := o.joinOnce(ctx)
		if err == nil {
			o.mu.Lock()
			o.joined = true
			o.mu.Unlock()
			return nil
		}
		if !errors.Is(err, ErrPublishRejected) {
			o.teardown(ctx)
			return err
		}

		lastErr = err
		o.teardown(ctx)
	}

	return fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
}

func (o *Orchestrator) joinOnce(ctx context.Context) error {
	// A connection left over from an abandoned attempt must settle before
	// a new join, otherwise the relay sees two sessions for one identity.
	if o.relay.State() != ConnectionDisconnected {
		o.teardown(ctx)
		o.sleep(settleDelay)
	}

	o.relay.Bind(RelayEvents{
		OnTrackPublished:   o.handleTrackPublished,
		OnTrackUnpublished: o.handleTrackUnpublished,
		OnParticipantLeft:  o.handleParticipantLeft,
		OnStateChanged:     o.handleStateChanged,
		OnTokenWillExpire: func() {
			o.log.Warn().Msg("Relay credential expires soon; no renewal flow is implemented.")
		},
	})

	cred, err := o.fetchCredential(ctx)
	if err != nil {
		return err
	}
	if err := o.checkAlive(); err != nil {
		return err
	}

	if err := o.relay.Join(ctx, cred); err != nil {
		return fmt.Errorf("failed to join relay channel: %w", err)
	}
	if err := o.checkAlive(); err != nil {
		return err
	}

	audio, err := o.relay.CreateLocalTrack(TrackKindAudio)
	if err != nil {
		return fmt.Errorf("failed to create local audio track: %w", err)
	}
	tracks := []LocalTrack{audio}

	var video LocalTrack
	if o.callType == models.CallTypeVideo {
		if video, err = o.relay.CreateLocalTrack(TrackKindVideo); err != nil {
			audio.Close()
			return fmt.Errorf("failed to create local video track: %w", err)
		}
		tracks = append(tracks, video)
	}

	o.mu.Lock()
	o.localAudio, o.localVideo = audio, video
	o.mu.Unlock()

	if err := o.relay.Publish(ctx, tracks); err != nil {
		return err
	}
	return o.checkAlive()
}

// fetchCredential retries transient transport failures with a 1s/2s/3s
// backoff. A missing identity is fatal and surfaces immediately.
func (o *Orchestrator) fetchCredential(ctx context.Context) (token.Credential, error) {
	var lastErr error
	for attempt := 1; attempt <= credentialAttempts; attempt++ {
		cred, err := o.creds.FetchCredential(ctx, o.channel, token.RolePublisher)
		if err == nil {
			return cred, nil
		}
		if errors.Is(err, ErrNotSignedIn) {
			return token.Credential{}, err
		}

		lastErr = err
		o.log.Warn().Err(err).Int("attempt", attempt).Msg("Credential fetch failed, retrying...")
		if attempt < credentialAttempts {
			o.sleep(time.Duration(attempt) * time.Second)
		}
	}
	return token.Credential{}, fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
}

// LeaveChannel tears the client down. It is idempotent and safe to call even
// if JoinChannel never completed.
func (o *Orchestrator) LeaveChannel(ctx context.Context) error {
	o.teardown(ctx)
	return nil
}

// Close marks the instance dead so in-flight join responses are discarded,
// then tears down. The instance cannot be reused afterwards.
func (o *Orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.teardown(ctx)
}

func (o *Orchestrator) teardown(ctx context.Context) {
	o.mu.Lock()
	audio, video := o.localAudio, o.localVideo
	o.localAudio, o.localVideo = nil, nil
	o.joined = false
	o.remotes = make(map[string]*RemoteParticipant)
	o.mu.Unlock()

	if audio != nil {
		_ = audio.Close()
	}
	if video != nil {
		_ = video.Close()
	}
	if o.relay.State() != ConnectionDisconnected {
		if err := o.relay.Leave(ctx); err != nil {
			o.log.Warn().Err(err).Msg("Failed to leave relay channel cleanly.")
		}
	}
	o.relay.Bind(RelayEvents{})
}

func (o *Orchestrator) checkAlive() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClientClosed
	}
	return nil
}

// Joined reports whether the admission sequence completed.
func (o *Orchestrator) Joined() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.joined
}

// SetAudioEnabled flips the local microphone without any relay round trip
// beyond the track's own enablement.
func (o *Orchestrator) SetAudioEnabled(on bool) {
	o.mu.Lock()
	track := o.localAudio
	o.mu.Unlock()
	if track != nil {
		track.SetEnabled(on)
	}
}

// SetVideoEnabled flips the local camera; a no-op on voice calls.
func (o *Orchestrator) SetVideoEnabled(on bool) {
	o.mu.Lock()
	track := o.localVideo
	o.mu.Unlock()
	if track != nil {
		track.SetEnabled(on)
	}
}

// Remotes lists the visible remote participants in a stable order.
func (o *Orchestrator) Remotes() []RemoteParticipant {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]RemoteParticipant, 0, len(o.remotes))
	for _, p := range o.remotes {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// handleTrackPublished subscribes to the announced media and merges the
// participant only when it introduces a materially new track, so duplicate
// publish events cause no state churn.
func (o *Orchestrator) handleTrackPublished(participantID string, kind TrackKind) {
	if o.checkAlive() != nil {
		return
	}

	if _, err := o.relay.Subscribe(context.Background(), participantID, kind); err != nil {
		o.log.Warn().Err(err).Str("participant", participantID).Msg("Failed to subscribe to remote track.")
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.remotes[participantID]
	if !ok {
		p = &RemoteParticipant{ID: participantID}
		o.remotes[participantID] = p
	}
	switch kind {
	case TrackKindAudio:
		p.HasAudio = true
	case TrackKindVideo:
		p.HasVideo = true
	}
}

func (o *Orchestrator) handleTrackUnpublished(participantID string, kind TrackKind) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.remotes[participantID]
	if !ok {
		return
	}
	switch kind {
	case TrackKindAudio:
		p.HasAudio = false
	case TrackKindVideo:
		p.HasVideo = false
	}
	if !p.HasAudio && !p.HasVideo {
		delete(o.remotes, participantID)
	}
}

func (o *Orchestrator) handleParticipantLeft(participantID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.remotes, participantID)
}

func (o *Orchestrator) handleStateChanged(state ConnectionState) {
	o.log.Debug().Int("state", int(state)).Msg("Relay connection state changed.")
}
