package mediaclient

import (
	"context"
	"fmt"
	"sync"

	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"

	"github.com/resonance-im/resonance/pkg/internal/token"
)

// LiveKitRelay adapts a LiveKit room connection to the Relay boundary. The
// admission token from the credential is passed through as-is; the relay
// gateway in front of the SFU validates its signature and expiry.
type LiveKitRelay struct {
	endpoint string

	mu     sync.Mutex
	room   *lksdk.Room
	events RelayEvents
	state  ConnectionState
}

func NewLiveKitRelay(endpoint string) *LiveKitRelay {
	return &LiveKitRelay{endpoint: endpoint}
}

func (l *LiveKitRelay) Bind(events RelayEvents) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
}

func (l *LiveKitRelay) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *LiveKitRelay) setState(state ConnectionState) {
	l.mu.Lock()
	events := l.events
	l.state = state
	l.mu.Unlock()
	if events.OnStateChanged != nil {
		events.OnStateChanged(state)
	}
}

func (l *LiveKitRelay) Join(_ context.Context, cred token.Credential) error {
	l.setState(ConnectionConnecting)

	callback := &lksdk.RoomCallback{
		OnDisconnected: func() {
			l.setState(ConnectionDisconnected)
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			l.mu.Lock()
			events := l.events
			l.mu.Unlock()
			if events.OnParticipantLeft != nil {
				events.OnParticipantLeft(rp.Identity())
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				l.mu.Lock()
				events := l.events
				l.mu.Unlock()
				if events.OnTrackPublished != nil {
					events.OnTrackPublished(rp.Identity(), trackKindOf(pub.Kind()))
				}
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				l.mu.Lock()
				events := l.events
				l.mu.Unlock()
				if events.OnTrackUnpublished != nil {
					events.OnTrackUnpublished(rp.Identity(), trackKindOf(pub.Kind()))
				}
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(
		"wss://"+l.endpoint,
		cred.Token,
		callback,
		lksdk.WithAutoSubscribe(false),
	)
	if err != nil {
		l.setState(ConnectionDisconnected)
		return err
	}

	l.mu.Lock()
	l.room = room
	l.mu.Unlock()
	l.setState(ConnectionConnected)
	return nil
}

func (l *LiveKitRelay) CreateLocalTrack(kind TrackKind) (LocalTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == TrackKindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	sample, err := lksdk.NewLocalSampleTrack(capability)
	if err != nil {
		return nil, err
	}
	return &livekitLocalTrack{kind: kind, sample: sample, enabled: true}, nil
}

func (l *LiveKitRelay) Publish(_ context.Context, tracks []LocalTrack) error {
	l.mu.Lock()
	room := l.room
	l.mu.Unlock()
	if room == nil || l.State() != ConnectionConnected {
		return ErrPublishRejected
	}

	for _, track := range tracks {
		lt, ok := track.(*livekitLocalTrack)
		if !ok {
			return fmt.Errorf("foreign local track implementation %T", track)
		}
		pub, err := room.LocalParticipant.PublishTrack(lt.sample, &lksdk.TrackPublicationOptions{
			Name: string(lt.kind),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPublishRejected, err)
		}
		lt.pub = pub
	}
	return nil
}

func (l *LiveKitRelay) Subscribe(_ context.Context, participantID string, kind TrackKind) (RemoteTrack, error) {
	l.mu.Lock()
	room := l.room
	l.mu.Unlock()
	if room == nil {
		return nil, fmt.Errorf("not connected to a relay channel")
	}

	for _, rp := range room.GetParticipants() {
		if rp.Identity() != participantID {
			continue
		}
		for _, pub := range rp.Tracks() {
			remote, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok || trackKindOf(remote.Kind()) != kind {
				continue
			}
			if err := remote.SetSubscribed(true); err != nil {
				return nil, err
			}
			return livekitRemoteTrack{kind: kind, participant: participantID}, nil
		}
	}
	return nil, fmt.Errorf("no %s track announced by %s", kind, participantID)
}

func (l *LiveKitRelay) Leave(_ context.Context) error {
	l.mu.Lock()
	room := l.room
	l.room = nil
	l.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
	l.setState(ConnectionDisconnected)
	return nil
}

func trackKindOf(kind lksdk.TrackKind) TrackKind {
	if kind == lksdk.TrackKindVideo {
		return TrackKindVideo
	}
	return TrackKindAudio
}

type livekitLocalTrack struct {
	kind    TrackKind
	sample  *lksdk.LocalSampleTrack
	pub     *lksdk.LocalTrackPublication
	enabled bool
}

func (t *livekitLocalTrack) Kind() TrackKind { return t.kind }

func (t *livekitLocalTrack) Enabled() bool { return t.enabled }

func (t *livekitLocalTrack) SetEnabled(on bool) {
	t.enabled = on
	if t.pub != nil {
		t.pub.SetMuted(!on)
	}
}

func (t *livekitLocalTrack) Close() error {
	if t.pub != nil {
		t.pub.SetMuted(true)
	}
	return nil
}

type livekitRemoteTrack struct {
	kind        TrackKind
	participant string
}

func (t livekitRemoteTrack) Kind() TrackKind       { return t.kind }
func (t livekitRemoteTrack) ParticipantID() string { return t.participant }
