package conversation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trichat/internal/llm"
)

var (
	ErrEmptyID = errors.New("conversation id is empty")
	// ErrReset is returned to a dispatch whose conversation was reset while it
	// held the dispatch lock. Its turns are discarded.
	ErrReset = errors.New("conversation was reset during dispatch")
)

// Settings controls how a conversation's replies are chosen and shown.
type Settings struct {
	ShowAllModels bool   `json:"show_all_models"`
	PrimaryModel  string `json:"primary_model"`
}

// Patch is a partial Settings update; nil fields keep their current value.
type Patch struct {
	ShowAllModels *bool   `json:"show_all_models,omitempty"`
	PrimaryModel  *string `json:"primary_model,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{ShowAllModels: true, PrimaryModel: llm.ProviderChatGPT}
}

// Apply overlays the fields present in p onto s.
func (p Patch) Apply(s Settings) Settings {
	if p.ShowAllModels != nil {
		s.ShowAllModels = *p.ShowAllModels
	}
	if p.PrimaryModel != nil {
		s.PrimaryModel = *p.PrimaryModel
	}
	return s
}

// Snapshot is a copy of a conversation's state at one point in time.
type Snapshot struct {
	ID         string        `json:"id"`
	History    []llm.Message `json:"history"`
	Settings   Settings      `json:"settings"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive time.Time     `json:"last_active"`
}

type entry struct {
	history    []llm.Message
	settings   Settings
	createdAt  time.Time
	lastActive time.Time

	// turn serializes dispatches for this conversation.
	turn sync.Mutex
	// inflight counts holders and waiters of turn; such entries are never evicted.
	inflight int
	// held is set while a dispatch holds turn.
	held bool
	// deleted hides an entry that was reset while dispatches still reference
	// its lock. It is removed once inflight drops to zero.
	deleted bool
	// stale marks the current holder's turns as predating a reset.
	stale bool
}

// Store keeps conversations in memory. Conversations are independent of each
// other; within one conversation, dispatches are serialized with Acquire.
type Store struct {
	mu    sync.Mutex
	convs map[string]*entry

	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type Option func(*Store)

// WithTTL evicts conversations idle for longer than ttl on each Evict call.
func WithTTL(ttl time.Duration) Option { return func(s *Store) { s.ttl = ttl } }

// WithMaxConversations bounds the number of live conversations; creating one
// beyond the bound evicts the least recently active idle conversation.
func WithMaxConversations(n int) Option { return func(s *Store) { s.maxSize = n } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func NewStore(opts ...Option) *Store {
	s := &Store{convs: make(map[string]*entry), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewID allocates a fresh conversation id.
func NewID() string {
	return uuid.NewString()
}

// GetOrCreate returns the conversation, creating it with default settings
// when absent.
func (s *Store) GetOrCreate(id string) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getOrCreateLocked(id)
	return snapshotOf(id, e), nil
}

// Snapshot returns the conversation without creating it.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.convs[id]
	if !ok || e.deleted {
		return Snapshot{}, false
	}
	return snapshotOf(id, e), true
}

// AppendTurns appends all turns atomically, creating the conversation if
// needed. It returns ErrReset, appending nothing, when the conversation was
// reset after the current dispatch lock holder acquired it.
func (s *Store) AppendTurns(id string, turns ...llm.Message) error {
	if id == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.convs[id]; ok && e.stale {
		return ErrReset
	}
	e := s.getOrCreateLocked(id)
	e.history = append(e.history, turns...)
	e.lastActive = s.now()
	return nil
}

// History returns a copy of the conversation's turns.
func (s *Store) History(id string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.convs[id]
	if !ok || e.deleted {
		return nil
	}
	return copyHistory(e.history)
}

// Settings returns the conversation's settings, or the defaults when the
// conversation does not exist.
func (s *Store) Settings(id string) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.convs[id]; ok && !e.deleted {
		return e.settings
	}
	return DefaultSettings()
}

// MergeSettings overlays p onto the conversation's settings and returns the
// result.
func (s *Store) MergeSettings(id string, p Patch) (Settings, error) {
	if id == "" {
		return Settings{}, ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getOrCreateLocked(id)
	e.settings = p.Apply(e.settings)
	e.lastActive = s.now()
	return e.settings, nil
}

// Acquire blocks until the caller holds the conversation's dispatch lock and
// returns the function releasing it. The conversation is created if needed
// and is not evicted while held.
func (s *Store) Acquire(id string) (release func(), err error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.Lock()
	e := s.getOrCreateLocked(id)
	e.inflight++
	s.mu.Unlock()

	e.turn.Lock()
	s.mu.Lock()
	e.held, e.stale = true, false
	if e.deleted {
		s.reviveLocked(e)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			e.held, e.stale = false, false
			e.inflight--
			if e.inflight == 0 && e.deleted && s.convs[id] == e {
				delete(s.convs, id)
			}
			s.mu.Unlock()
			e.turn.Unlock()
		})
	}, nil
}

// Delete drops the conversation. It reports whether it existed.
//
// A conversation with dispatches holding or waiting on its lock keeps the
// lock so later dispatches stay serialized behind them; its state is cleared
// and the holder's pending turns are discarded.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.convs[id]
	if !ok || e.deleted {
		return false
	}
	if e.inflight == 0 {
		delete(s.convs, id)
		return true
	}
	e.deleted = true
	e.stale = e.held
	e.history = nil
	e.settings = DefaultSettings()
	return true
}

// Evict removes conversations idle for longer than the TTL and returns how
// many were removed. Without a TTL it does nothing.
func (s *Store) Evict() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, e := range s.convs {
		if e.inflight == 0 && e.lastActive.Before(cutoff) {
			delete(s.convs, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.convs {
		if !e.deleted {
			n++
		}
	}
	return n
}

// IDs lists conversation ids, most recently active first.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.convs))
	for id, e := range s.convs {
		if !e.deleted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.convs[ids[i]].lastActive.After(s.convs[ids[j]].lastActive)
	})
	return ids
}

func (s *Store) getOrCreateLocked(id string) *entry {
	if e, ok := s.convs[id]; ok {
		if e.deleted {
			s.reviveLocked(e)
		}
		return e
	}
	if s.maxSize > 0 && len(s.convs) >= s.maxSize {
		s.evictOldestLocked()
	}
	now := s.now()
	e := &entry{settings: DefaultSettings(), createdAt: now, lastActive: now}
	s.convs[id] = e
	return e
}

func (s *Store) reviveLocked(e *entry) {
	now := s.now()
	e.deleted = false
	e.history = nil
	e.settings = DefaultSettings()
	e.createdAt, e.lastActive = now, now
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest *entry
	for id, e := range s.convs {
		if e.inflight > 0 {
			continue
		}
		if oldest == nil || e.lastActive.Before(oldest.lastActive) {
			oldestID, oldest = id, e
		}
	}
	if oldest != nil {
		delete(s.convs, oldestID)
	}
}

func snapshotOf(id string, e *entry) Snapshot {
	return Snapshot{
		ID:         id,
		History:    copyHistory(e.history),
		Settings:   e.settings,
		CreatedAt:  e.createdAt,
		LastActive: e.lastActive,
	}
}

func copyHistory(in []llm.Message) []llm.Message {
	out := make([]llm.Message, len(in))
	copy(out, in)
	return out
}
