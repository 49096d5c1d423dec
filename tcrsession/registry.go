package tcrsession

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/peterbourgon/tcr"
)

// ErrSessionActive is returned by Registry.Start when the target already has
// a live session.
var ErrSessionActive = errors.New("session already active")

// ErrNoSession is returned by Registry.Stop when the target has no session,
// which includes a second stop for the same target.
var ErrNoSession = errors.New("no such session")

// Registry tracks at most one live session per target. The sessions
// themselves are indifferent to naming; the registry is the bookkeeping
// layer that process management code builds on.
type Registry struct {
	mtx      sync.Mutex
	sessions map[tcr.Target]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[tcr.Target]*Session{},
	}
}

// Start starts a session for cfg.Target and registers it. If the target
// already has a live session, Start returns ErrSessionActive. An entry whose
// session has already terminated itself doesn't count as live and is
// replaced.
func (r *Registry) Start(ctx context.Context, cfg Config) (*Session, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if s, ok := r.sessions[cfg.Target]; ok {
		select {
		case <-s.Done():
			delete(r.sessions, cfg.Target)
		default:
			return nil, ErrSessionActive
		}
	}

	s, err := Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.sessions[cfg.Target] = s

	return s, nil
}

// Stop removes the target's session from the registry and stops it,
// returning the snapshot. If the target has no session, because none was
// started or because a previous Stop already removed it, Stop returns
// ErrNoSession.
func (r *Registry) Stop(ctx context.Context, target tcr.Target) (tcr.Snapshot, error) {
	r.mtx.Lock()
	s, ok := r.sessions[target]
	if ok {
		delete(r.sessions, target)
	}
	r.mtx.Unlock()

	if !ok {
		return nil, ErrNoSession
	}

	return s.Stop(ctx)
}

// Get returns the session registered for the target, if any. The session may
// have terminated itself; check Done.
func (r *Registry) Get(target tcr.Target) (*Session, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	s, ok := r.sessions[target]
	return s, ok
}

// Targets returns the targets with registered sessions, sorted.
func (r *Registry) Targets() []tcr.Target {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	targets := make([]tcr.Target, 0, len(r.sessions))
	for t := range r.sessions {
		targets = append(targets, t)
	}

	sort.Slice(targets, func(i, j int) bool {
		return targets[i] < targets[j]
	})

	return targets
}
