package syncchan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/park285/cheese-arena/internal/session"
)

// MemoryChannel is the in-process Channel. Subscribers get the newest
// snapshot; intermediate versions may be coalesced when a listener is slow.
type MemoryChannel struct {
	mu     sync.Mutex
	docs   map[string]session.Document
	subs   map[string]map[int]*mailbox
	nextID int
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		docs: make(map[string]session.Document),
		subs: make(map[string]map[int]*mailbox),
	}
}

func (m *MemoryChannel) Create(ctx context.Context, s *session.Session) (*session.Session, error) {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return nil, session.ErrInvalidArgs
	}
	created := s.Clone()
	created.Version = 1
	doc, err := session.Encode(created)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[created.ID]; ok {
		return nil, fmt.Errorf("%w: session %s exists", session.ErrConflict, created.ID)
	}
	m.docs[created.ID] = doc
	m.publishLocked(created)
	return created.Clone(), nil
}

func (m *MemoryChannel) Read(ctx context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	doc := m.docs[strings.TrimSpace(id)]
	m.mu.Unlock()
	return session.Decode(doc)
}

func (m *MemoryChannel) Update(ctx context.Context, id string, diff session.Diff, pre Precondition) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[id]
	cur, err := session.Decode(doc)
	if err != nil {
		return nil, err
	}
	if cur.Version != pre.Version {
		return nil, fmt.Errorf("%w: have v%d, write based on v%d", session.ErrConflict, cur.Version, pre.Version)
	}
	next, err := diff.Validate(cur)
	if err != nil {
		return nil, err
	}
	if diff.Empty() {
		return cur, nil
	}
	next.Version = cur.Version + 1
	updated := diff.Apply(doc)
	updated[session.FieldVersion] = strconv.FormatInt(next.Version, 10)
	m.docs[id] = updated
	m.publishLocked(next)
	return next.Clone(), nil
}

func (m *MemoryChannel) Subscribe(ctx context.Context, id string, fn Listener) (func(), error) {
	if fn == nil {
		return nil, session.ErrInvalidArgs
	}
	id = strings.TrimSpace(id)
	m.mu.Lock()
	cur, err := session.Decode(m.docs[id])
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	box := newMailbox(cur.Version)
	m.nextID++
	key := m.nextID
	if m.subs[id] == nil {
		m.subs[id] = make(map[int]*mailbox)
	}
	m.subs[id][key] = box
	m.mu.Unlock()

	fn(cur)
	go box.run(ctx, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[id], key)
			if len(m.subs[id]) == 0 {
				delete(m.subs, id)
			}
			m.mu.Unlock()
			box.close()
		})
	}, nil
}

// publishLocked must run with m.mu held so mailboxes see versions in order.
func (m *MemoryChannel) publishLocked(s *session.Session) {
	for _, box := range m.subs[s.ID] {
		box.put(s.Clone())
	}
}

// mailbox holds the newest undelivered snapshot for one subscriber.
type mailbox struct {
	mu      sync.Mutex
	pending *session.Session
	last    int64
	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newMailbox(last int64) *mailbox {
	return &mailbox{
		last:   last,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (b *mailbox) put(s *session.Session) {
	b.mu.Lock()
	if b.pending == nil || s.Version > b.pending.Version {
		b.pending = s
	}
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *mailbox) run(ctx context.Context, fn Listener) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-b.notify:
			b.mu.Lock()
			s := b.pending
			b.pending = nil
			b.mu.Unlock()
			if s == nil || s.Version <= b.last {
				continue
			}
			b.last = s.Version
			fn(s)
		}
	}
}

func (b *mailbox) close() {
	close(b.stop)
	<-b.done
}
