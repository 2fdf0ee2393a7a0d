// Package reconciler detects call-session state changes without a dedicated
// push channel. Each participant's client runs one reconciler that polls the
// session store on a fixed interval, diffs the observed status against a
// local last-observed map and fires the matching side effect exactly once per
// (session, status) pair. The session source and effect sink are interfaces,
// so the same loop works over HTTP polling today and a push feed later.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/resonance-im/resonance/pkg/internal/callstate"
)

const DefaultInterval = 2 * time.Second

// Session is the client-side view of a call session record.
type Session struct {
	ID             string
	ConversationID string
	CallerID       string
	CallType       string
	ChannelName    string
	Status         callstate.Status
	CreatedAt      time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
}

func (s Session) stateRecord() callstate.Record {
	return callstate.Record{Status: s.Status, StartedAt: s.StartedAt, EndedAt: s.EndedAt}
}

// SessionSource is the read boundary against the shared session store. Reads
// must reflect the latest committed write within one polling interval; no
// stronger guarantee is assumed.
type SessionSource interface {
	Session(ctx context.Context, id string) (Session, error)
	// RecentSessions lists recent call sessions across the participant's
	// conversations, newest first.
	RecentSessions(ctx context.Context) ([]Session, error)
}

// Effects receives the one-time side effects of observed transitions.
// Implementations update UI state, play ringtones, write transcript entries.
type Effects interface {
	OnIncoming(s Session)
	OnAccepted(s Session)
	OnRejected(s Session)
	OnEnded(s Session, duration time.Duration)
	OnMissed(s Session)
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// WithConversation scopes incoming-call discovery to a single conversation.
func WithConversation(conversationID string) Option {
	return func(r *Reconciler) { r.conversation = conversationID }
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

type Reconciler struct {
	source  SessionSource
	effects Effects

	selfID       string
	conversation string
	interval     time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	active   string
	observed map[string]callstate.Status
	applied  map[string]struct{}

	tickMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(source SessionSource, effects Effects, selfID string, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:   source,
		effects:  effects,
		selfID:   selfID,
		interval: DefaultInterval,
		log:      zerolog.Nop(),
		observed: make(map[string]callstate.Status),
		applied:  make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Track points the reconciler at the participant's own active session.
func (r *Reconciler) Track(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = sessionID
}

// Untrack returns the reconciler to incoming-call discovery mode.
func (r *Reconciler) Untrack() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = ""
}

// Run polls until Stop is called or the context is cancelled. It never
// returns an error: poll failures are swallowed and retried next tick.
func (r *Reconciler) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Stop halts the loop and waits for the in-flight tick to drain, so no side
// effect fires after it returns.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Poll runs a single reconciliation tick. Overlapping invocations are
// serialized: a tick that finds another one in flight returns immediately.
func (r *Reconciler) Poll(ctx context.Context) {
	if !r.tickMu.TryLock() {
		return
	}
	defer r.tickMu.Unlock()

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active != "" {
		r.pollActive(ctx, active)
	} else {
		r.pollDiscovery(ctx)
	}
}

func (r *Reconciler) pollActive(ctx context.Context, id string) {
	session, err := r.source.Session(ctx, id)
	if err != nil {
		r.log.Debug().Err(err).Str("session", id).Msg("Call session poll failed, will retry...")
		return
	}

	r.mu.Lock()
	last, seen := r.observed[id]
	r.mu.Unlock()

	if seen && last == session.Status {
		return
	}

	r.fireTransition(session)

	r.mu.Lock()
	r.observed[id] = session.Status
	r.mu.Unlock()
}

func (r *Reconciler) pollDiscovery(ctx context.Context) {
	sessions, err := r.source.RecentSessions(ctx)
	if err != nil {
		r.log.Debug().Err(err).Msg("Recent call discovery poll failed, will retry...")
		return
	}

	for _, session := range sessions {
		if session.Status != callstate.StatusRinging {
			continue
		}
		if session.CallerID == r.selfID {
			continue
		}
		if r.conversation != "" && session.ConversationID != r.conversation {
			continue
		}
		if !r.markApplied(session.ID, "incoming") {
			continue
		}
		r.effects.OnIncoming(session)
		return
	}
}

// fireTransition dispatches the side effect for a freshly observed status.
// The applied set is the last line of defense: even if the loop restarts and
// loses its observed map, a (session, status) effect never fires twice.
func (r *Reconciler) fireTransition(session Session) {
	if !r.markApplied(session.ID, string(session.Status)) {
		return
	}

	switch session.Status {
	case callstate.StatusAccepted:
		r.effects.OnAccepted(session)
	case callstate.StatusRejected:
		r.effects.OnRejected(session)
	case callstate.StatusEnded:
		r.effects.OnEnded(session, callstate.Duration(session.stateRecord()))
	case callstate.StatusMissed:
		r.effects.OnMissed(session)
	}
}

func (r *Reconciler) markApplied(sessionID, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dedup := sessionID + "/" + key
	if _, ok := r.applied[dedup]; ok {
		return false
	}
	r.applied[dedup] = struct{}{}
	return true
}
