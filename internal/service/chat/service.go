package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-chat/backend/internal/memory"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInProgress  = errors.New("a reply is still being generated for this session")
)

// SummarizeFunc folds conversation lines into a running summary using the
// credential and model of the session that owns the memory.
type SummarizeFunc func(ctx context.Context, settings chat.Settings, previous string, lines []chat.Message) (string, error)

// Service encapsulates conversation state management.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	store     Store
	summarize SummarizeFunc
	models    []string

	// idleTTL evicts live entries nobody touched for that long; the store
	// still holds their record.
	idleTTL    time.Duration
	touchEvery time.Duration

	hooksMu sync.RWMutex
	forget  []func(sessionID string)
}

const (
	defaultIdleTTL    = 30 * time.Minute
	defaultTouchEvery = time.Minute
)

// Option customizes a Service.
type Option func(*Service)

// WithStore sets the persistence backend. The default keeps records in process.
func WithStore(store Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSummarizer sets the function summary memories fold with.
func WithSummarizer(fn SummarizeFunc) Option {
	return func(s *Service) {
		s.summarize = fn
	}
}

// WithIdleTTL sets how long an unused session stays in process memory.
// A non-positive value keeps sessions until they are deleted.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.idleTTL = ttl
	}
}

// WithTouchInterval sets how often a read served from process memory extends
// the stored record's expiry.
func WithTouchInterval(every time.Duration) Option {
	return func(s *Service) {
		s.touchEvery = every
	}
}

// WithModels restricts the accepted model identifiers.
func WithModels(models []string) Option {
	return func(s *Service) {
		s.models = append([]string(nil), models...)
	}
}

// NewService bootstraps the chat service.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions:   make(map[string]*entry),
		store:      NewMemoryStore(0),
		idleTTL:    defaultIdleTTL,
		touchEvery: defaultTouchEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnForget registers fn to run whenever a session leaves process memory,
// either deleted or evicted as idle.
func (s *Service) OnForget(fn func(sessionID string)) {
	s.hooksMu.Lock()
	s.forget = append(s.forget, fn)
	s.hooksMu.Unlock()
}

func (s *Service) notifyForget(sessionID string) {
	s.hooksMu.RLock()
	hooks := s.forget
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
}

// Close releases the persistence backend.
func (s *Service) Close() error {
	return s.store.Close()
}

// entry is the live state of one session.
type entry struct {
	mu      sync.RWMutex
	session chat.Session
	mem     memory.Memory

	// turn admits one outstanding model request per session.
	turn sync.Mutex

	lastUsed    atomic.Int64
	lastTouched atomic.Int64
}

func newEntry(session chat.Session) *entry {
	e := &entry{session: session}
	now := time.Now().UnixNano()
	e.lastUsed.Store(now)
	e.lastTouched.Store(now)
	return e
}

func (e *entry) snapshot() (chat.Session, memory.Memory) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session, e.mem
}

func (e *entry) settings() chat.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Settings
}

func (e *entry) record() Record {
	session, mem := e.snapshot()
	session.Settings.APIKey = ""
	return Record{Session: session, Memory: mem.State()}
}

func (s *Service) summarizerFor(e *entry) memory.Summarizer {
	if s.summarize == nil {
		return nil
	}
	return memory.SummarizerFunc(func(ctx context.Context, previous string, lines []chat.Message) (string, error) {
		return s.summarize(ctx, e.settings(), previous, lines)
	})
}

// CreateSession provisions an anonymous session with validated settings.
func (s *Service) CreateSession(ctx context.Context, settings chat.Settings) (chat.Session, error) {
	settings.Memory = settings.Memory.Normalize()
	if err := settings.Validate(s.models); err != nil {
		return chat.Session{}, err
	}

	now := time.Now().UTC()
	e := newEntry(chat.Session{
		ID:        uuid.NewString(),
		Settings:  settings,
		MemoryKey: settings.Memory.Key(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	e.mem = memory.New(settings.Memory, s.summarizerFor(e))

	s.mu.Lock()
	s.sessions[e.session.ID] = e
	s.mu.Unlock()

	s.persist(ctx, e)
	log.Printf("[chat] session created id=%s memory=%s", e.session.ID, e.session.MemoryKey)
	return e.session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	e, err := s.lookup(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	session, _ := e.snapshot()
	return session, nil
}

// LoadTranscript returns every stored message of the session in order.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	e, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	_, mem := e.snapshot()
	return mem.Snapshot(), nil
}

// UpdateSettings applies patch and re-selects the memory. The returned flag
// reports whether the memory configuration changed and history was dropped.
func (s *Service) UpdateSettings(ctx context.Context, sessionID string, patch chat.SettingsPatch) (chat.Session, bool, error) {
	e, err := s.lookup(ctx, sessionID)
	if err != nil {
		return chat.Session{}, false, err
	}

	e.mu.Lock()
	next, err := patch.Apply(e.session.Settings)
	if err == nil {
		err = next.Validate(s.models)
	}
	if err != nil {
		e.mu.Unlock()
		return chat.Session{}, false, err
	}

	previousKey := e.session.MemoryKey
	e.mem = memory.Select(e.mem, next.Memory, s.summarizerFor(e))
	e.session.Settings = next
	e.session.MemoryKey = e.mem.Key()
	e.session.UpdatedAt = time.Now().UTC()
	session := e.session
	e.mu.Unlock()

	reset := previousKey != session.MemoryKey
	if reset {
		log.Printf("[chat] memory reset id=%s from=%s to=%s", sessionID, previousKey, session.MemoryKey)
	}
	s.persist(ctx, e)
	return session, reset, nil
}

// Clear drops the conversation but keeps the session and its settings.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	e, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.mem.Clear()
	e.session.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	s.persist(ctx, e)
	return nil
}

// DeleteSession forgets the session entirely.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.lookup(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.notifyForget(sessionID)
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

// EvictIdle drops sessions unused since before now minus the idle TTL from
// process memory. Sessions with a turn in flight stay. It returns the number
// of evicted sessions.
func (s *Service) EvictIdle(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idleTTL).UnixNano()

	var evicted []string
	s.mu.Lock()
	for id, e := range s.sessions {
		if e.lastUsed.Load() > cutoff {
			continue
		}
		if !e.turn.TryLock() {
			continue
		}
		delete(s.sessions, id)
		e.turn.Unlock()
		evicted = append(evicted, id)
	}
	s.mu.Unlock()

	if p, ok := s.store.(interface{ purgeExpired(time.Time) }); ok {
		p.purgeExpired(now)
	}
	for _, id := range evicted {
		s.notifyForget(id)
	}
	if len(evicted) > 0 {
		log.Printf("[chat] evicted %d idle sessions", len(evicted))
	}
	return len(evicted)
}

// RunJanitor calls EvictIdle every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.EvictIdle(now)
		}
	}
}

// Turn holds a session's turn slot until Release is called.
type Turn struct {
	svc *Service
	e   *entry
	mem memory.Memory
	gen uint64

	Session chat.Session
}

// BeginTurn claims the session's turn slot. A second concurrent caller gets
// ErrTurnInProgress instead of waiting.
func (s *Service) BeginTurn(ctx context.Context, sessionID string) (*Turn, error) {
	e, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !e.turn.TryLock() {
		return nil, ErrTurnInProgress
	}

	session, mem := e.snapshot()
	return &Turn{svc: s, e: e, mem: mem, gen: mem.Generation(), Session: session}, nil
}

// Context returns the memory context the model should see for this turn.
func (t *Turn) Context(ctx context.Context) ([]chat.Message, error) {
	return t.mem.Context(ctx)
}

// Commit stores the exchange atomically and persists the session. If the
// memory was replaced or cleared while the turn ran, the exchange belongs to
// history the user already discarded and is dropped.
func (t *Turn) Commit(ctx context.Context, user, assistant chat.Message) error {
	if !t.current() {
		log.Printf("[chat] memory replaced during turn, exchange dropped id=%s", t.Session.ID)
		return nil
	}

	err := t.mem.AppendAt(ctx, t.gen, user, assistant)
	if errors.Is(err, memory.ErrCleared) {
		log.Printf("[chat] memory cleared during turn, exchange dropped id=%s", t.Session.ID)
		return nil
	}
	if err != nil {
		return err
	}

	t.e.mu.Lock()
	current := t.e.mem == t.mem
	if current {
		t.e.session.UpdatedAt = time.Now().UTC()
	}
	t.e.mu.Unlock()

	if !current {
		log.Printf("[chat] memory replaced during turn, exchange dropped id=%s", t.Session.ID)
		return nil
	}
	t.svc.persist(ctx, t.e)
	return nil
}

func (t *Turn) current() bool {
	t.e.mu.RLock()
	defer t.e.mu.RUnlock()
	return t.e.mem == t.mem
}

// Release frees the turn slot.
func (t *Turn) Release() {
	t.e.turn.Unlock()
}

// lookup finds a live session, restoring it from the store on a miss.
func (s *Service) lookup(ctx context.Context, sessionID string) (*entry, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		s.touch(ctx, e, sessionID)
		return e, nil
	}

	record, err := s.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session record: %w", err)
	}

	restored := newEntry(record.Session)
	restored.mem = memory.Restore(record.Memory, s.summarizerFor(restored))
	restored.session.MemoryKey = restored.mem.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}
	s.sessions[sessionID] = restored
	log.Printf("[chat] session restored id=%s messages=%d", sessionID, len(record.Memory.Messages))
	return restored, nil
}

// touch marks e as used and, at most every touchEvery, extends the stored
// record's expiry so sessions served from memory do not expire in the store.
func (s *Service) touch(ctx context.Context, e *entry, sessionID string) {
	now := time.Now().UnixNano()
	e.lastUsed.Store(now)

	last := e.lastTouched.Load()
	if now-last < int64(s.touchEvery) || !e.lastTouched.CompareAndSwap(last, now) {
		return
	}
	err := s.store.Touch(context.WithoutCancel(ctx), sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		// The record expired while the session stayed live.
		s.persist(ctx, e)
	case err != nil:
		log.Printf("[chat] refresh ttl for session=%s: %v", sessionID, err)
	}
}

// persist writes the session record. Failures are logged and never fail the
// caller's operation.
func (s *Service) persist(ctx context.Context, e *entry) {
	record := e.record()
	if err := s.store.Save(context.WithoutCancel(ctx), record); err != nil {
		log.Printf("[chat] persist session=%s: %v", record.Session.ID, err)
	}
}
