package collab

import (
	"collab-docs/core"
	"context"
	"fmt"
	"sync"
	"time"
)

type sentEvent struct {
	Event   string
	Payload any
}

// fakePeer records everything sent to it.
type fakePeer struct {
	id      string
	mu      sync.Mutex
	events  []sentEvent
	sendErr error
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.events = append(p.events, sentEvent{Event: event, Payload: payload})
	return nil
}

func (p *fakePeer) Events() []sentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sentEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *fakePeer) EventsNamed(name string) []sentEvent {
	var out []sentEvent
	for _, ev := range p.Events() {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

// fakeOracle answers from a fixed table keyed by "documentID/userID".
type fakeOracle struct {
	mu    sync.Mutex
	perms map[string]core.Permission
	docs  map[string]bool
	err   error
	calls int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		perms: make(map[string]core.Permission),
		docs:  make(map[string]bool),
	}
}

func (o *fakeOracle) grant(documentID, userID string, p core.Permission) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.docs[documentID] = true
	o.perms[documentID+"/"+userID] = p
}

func (o *fakeOracle) Check(ctx context.Context, documentID, userID string) (core.Permission, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return core.PermissionNone, o.err
	}
	if !o.docs[documentID] {
		return core.PermissionNone, fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
	}
	return o.perms[documentID+"/"+userID], nil
}

// fakeStore keeps content in memory and can be told to fail or stall.
type fakeStore struct {
	mu         sync.Mutex
	content    map[string]string
	fetchErr   error
	replaceErr error
	delay      time.Duration
	replaces   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{content: make(map[string]string)}
}

func (s *fakeStore) FetchContent(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return "", s.fetchErr
	}
	c, ok := s.content[id]
	if !ok {
		return "", fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) ReplaceContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	if _, ok := s.content[id]; !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	s.content[id] = content
	s.replaces = append(s.replaces, content)
	return nil
}

func (s *fakeStore) get(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content[id]
}

type testEnv struct {
	registry *Registry
	oracle   *fakeOracle
	store    *fakeStore
	engine   *Engine
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		registry: NewRegistry(),
		oracle:   newFakeOracle(),
		store:    newFakeStore(),
	}
	env.engine = NewEngine(env.registry, env.oracle, env.store, opts)
	return env
}

func (env *testEnv) client(connID, userID string) (*Client, *fakePeer) {
	peer := newFakePeer(connID)
	return NewClient(peer, userID), peer
}
