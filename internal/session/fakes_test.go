package session_test

import (
	"context"
	"sync"
	"time"

	"browsergrid/internal/eventbus"
	"browsergrid/internal/launcher"
	"browsergrid/internal/session"
	"browsergrid/internal/token"
)

// memRepo is an in-memory Repository with the same conditional-update
// semantics as the Postgres implementation.
type memRepo struct {
	mu   sync.Mutex
	recs map[string]*session.Record
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[string]*session.Record)}
}

func cloneRecord(rec *session.Record) *session.Record {
	cp := *rec
	if rec.TerminatedAt != nil {
		t := *rec.TerminatedAt
		cp.TerminatedAt = &t
	}
	return &cp
}

func (r *memRepo) Create(ctx context.Context, rec *session.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = cloneRecord(rec)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *memRepo) GetByContainer(ctx context.Context, containerID string) (*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recs {
		if rec.ContainerID == containerID {
			return cloneRecord(rec), nil
		}
	}
	return nil, session.ErrNotFound
}

func (r *memRepo) ListByProject(ctx context.Context, projectID string) ([]*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Record
	for _, rec := range r.recs {
		if rec.ProjectID == projectID {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (r *memRepo) ListByStatus(ctx context.Context, statuses []session.Status) ([]*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Record
	for _, rec := range r.recs {
		for _, s := range statuses {
			if rec.Status == s {
				out = append(out, cloneRecord(rec))
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) ListTerminalUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Record
	for _, rec := range r.recs {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (r *memRepo) Transition(ctx context.Context, id string, from []session.Status, to session.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return session.ErrNotFound
	}
	for _, s := range from {
		if rec.Status == s {
			rec.Status = to
			rec.UpdatedAt = time.Now()
			return nil
		}
	}
	return session.ErrStaleTransition
}

func (r *memRepo) SetAccessToken(ctx context.Context, id, tok string) error {
	return r.set(id, func(rec *session.Record) { rec.AccessToken = tok })
}

func (r *memRepo) SetContainer(ctx context.Context, id, containerID string) error {
	return r.set(id, func(rec *session.Record) { rec.ContainerID = containerID })
}

func (r *memRepo) SetAddress(ctx context.Context, id, address string) error {
	return r.set(id, func(rec *session.Record) { rec.Address = address })
}

func (r *memRepo) SetTerminated(ctx context.Context, id string, at time.Time) error {
	return r.set(id, func(rec *session.Record) { rec.TerminatedAt = &at })
}

func (r *memRepo) IncrementRetry(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return 0, session.ErrNotFound
	}
	rec.RetryCount++
	rec.UpdatedAt = time.Now()
	return rec.RetryCount, nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[id]; !ok {
		return session.ErrNotFound
	}
	delete(r.recs, id)
	return nil
}

func (r *memRepo) set(id string, fn func(*session.Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return session.ErrNotFound
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
	return nil
}

// memBus is an in-process event bus that also records everything
// published, so tests can assert on the event stream.
type memBus struct {
	mu           sync.Mutex
	subs         map[string][]chan eventbus.Event
	published    []eventbus.Event
	subscribeErr error
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string][]chan eventbus.Event)}
}

func (b *memBus) Publish(ctx context.Context, sessionID string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
	for _, ch := range b.subs[sessionID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, sessionID string) (<-chan eventbus.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	ch := make(chan eventbus.Event, 16)
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	return ch, nil
}

func (b *memBus) eventsOfType(t eventbus.EventType) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []eventbus.Event
	for _, ev := range b.published {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// memLauncher simulates the container scheduler. With no address
// configured it reports ErrAddressNotAssigned forever.
type memLauncher struct {
	mu        sync.Mutex
	launchErr error
	addr      string
	addrErr   error
	launches  []string
	teardowns []string
}

func (l *memLauncher) Launch(ctx context.Context, spec launcher.LaunchSpec) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return "", l.launchErr
	}
	handle := "ctr-" + spec.SessionID
	l.launches = append(l.launches, handle)
	return handle, nil
}

func (l *memLauncher) GetNetworkAddress(ctx context.Context, handle string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addrErr != nil {
		return "", l.addrErr
	}
	if l.addr == "" {
		return "", launcher.ErrAddressNotAssigned
	}
	return l.addr, nil
}

func (l *memLauncher) Teardown(ctx context.Context, handle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teardowns = append(l.teardowns, handle)
}

func (l *memLauncher) teardownCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.teardowns)
}

func (l *memLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

type memIssuer struct {
	issueErr error
}

func (i *memIssuer) Issue(sessionID, projectID string, ttl time.Duration) (string, error) {
	if i.issueErr != nil {
		return "", i.issueErr
	}
	return "tok-" + sessionID, nil
}

func (i *memIssuer) Verify(tokenString string) (*token.Claims, error) {
	return nil, token.ErrInvalidToken
}

type enqueued struct {
	sessionID         string
	continuationToken string
	delay             time.Duration
}

type memQueue struct {
	mu         sync.Mutex
	enqueues   []enqueued
	enqueueErr error
}

func (q *memQueue) EnqueueProvision(ctx context.Context, sessionID, continuationToken string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueues = append(q.enqueues, enqueued{sessionID, continuationToken, delay})
	return nil
}

func (q *memQueue) all() []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueued(nil), q.enqueues...)
}

type memCallbacks struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemCallbacks() *memCallbacks {
	return &memCallbacks{tokens: make(map[string]string)}
}

func (c *memCallbacks) Put(ctx context.Context, containerID, tok string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[containerID] = tok
	return nil
}

func (c *memCallbacks) Consume(ctx context.Context, containerID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[containerID]
	if !ok {
		return "", session.ErrNotFound
	}
	delete(c.tokens, containerID)
	return tok, nil
}
