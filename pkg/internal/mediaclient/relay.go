package mediaclient

import (
	"context"
	"errors"

	"github.com/resonance-im/resonance/pkg/internal/token"
)

type TrackKind string

const (
	TrackKindAudio = TrackKind("audio")
	TrackKindVideo = TrackKind("video")
)

type ConnectionState int

const (
	ConnectionDisconnected = ConnectionState(iota)
	ConnectionConnecting
	ConnectionConnected
)

var (
	// ErrNotSignedIn marks a missing caller identity; never retried.
	ErrNotSignedIn = errors.New("a signed-in identity is required to join a call")
	// ErrPublishRejected marks the relay refusing a publish because the
	// connection is not in a publishable state; the join sequence restarts.
	ErrPublishRejected = errors.New("publish rejected in current connection state")
	// ErrRetryExhausted surfaces once every retry budget is spent.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrClientClosed is returned when an operation resumes after the
	// owning client instance was torn down.
	ErrClientClosed = errors.New("media client instance is closed")
)

// LocalTrack is a captured local media source published into the relay.
type LocalTrack interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(on bool)
	Close() error
}

// RemoteTrack is a subscribed remote media source.
type RemoteTrack interface {
	Kind() TrackKind
	ParticipantID() string
}

// RelayEvents carries the callbacks a relay implementation fires. All
// handlers must be registered before join so no early event is dropped.
type RelayEvents struct {
	OnTrackPublished   func(participantID string, kind TrackKind)
	OnTrackUnpublished func(participantID string, kind TrackKind)
	OnParticipantLeft  func(participantID string)
	OnStateChanged     func(state ConnectionState)
	// OnTokenWillExpire fires shortly before the admission credential
	// lapses. There is no renewal flow yet, so the orchestrator only logs
	// it; long calls may lose publish rights at the credential's expiry.
	OnTokenWillExpire func()
}

// Relay is the control boundary with the media transport service. The
// transport internals (codecs, congestion control) live entirely behind it.
type Relay interface {
	// Bind registers event handlers. Must be called before Join.
	Bind(events RelayEvents)
	Join(ctx context.Context, cred token.Credential) error
	CreateLocalTrack(kind TrackKind) (LocalTrack, error)
	Publish(ctx context.Context, tracks []LocalTrack) error
	Subscribe(ctx context.Context, participantID string, kind TrackKind) (RemoteTrack, error)
	Leave(ctx context.Context) error
	State() ConnectionState
}

// CredentialSource fetches an admission credential over the participant's
// authenticated channel. The subject uid is derived server side.
type CredentialSource interface {
	FetchCredential(ctx context.Context, channel string, role token.Role) (token.Credential, error)
}
