package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/util"
	"github.com/giantswarm/oidc-provider/storage"
)

const (
	// DefaultSweepInterval is how often expired codes and sessions are removed
	DefaultSweepInterval = 5 * time.Minute

	// codeLogLength is the number of characters of a code that may be logged
	codeLogLength = 8

	storageType = "memory"
)

// Store is an in-memory CodeStore and SessionStore.
type Store struct {
	mu       sync.Mutex
	codes    map[string]*storage.AuthorizationCode
	sessions map[string]*storage.Session

	now func() time.Time

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// read by metric callbacks without taking mu
	codesCount    atomic.Int64
	sessionsCount atomic.Int64

	sweepInterval time.Duration
	stopCleanup   chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
}

var (
	_ storage.CodeStore    = (*Store)(nil)
	_ storage.SessionStore = (*Store)(nil)
)

// New creates a store that sweeps every DefaultSweepInterval
func New() *Store {
	return NewWithInterval(DefaultSweepInterval)
}

// NewWithInterval creates a store with a custom sweep interval.
// Non-positive intervals fall back to DefaultSweepInterval.
func NewWithInterval(sweepInterval time.Duration) *Store {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	s := &Store{
		codes:         make(map[string]*storage.AuthorizationCode),
		sessions:      make(map[string]*storage.Session),
		now:           time.Now,
		sweepInterval: sweepInterval,
		stopCleanup:   make(chan struct{}),
		logger:        slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source used for expiry checks
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation enables spans, operation metrics and size gauges
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.codesCount.Load() },
		func() int64 { return s.sessionsCount.Load() },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop ends the background sweep. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// CodeCount returns the number of stored authorization codes, including
// expired ones not yet swept
func (s *Store) CodeCount() int {
	return int(s.codesCount.Load())
}

// SessionCount returns the number of stored sessions
func (s *Store) SessionCount() int {
	return int(s.sessionsCount.Load())
}

// ============================================================
// CodeStore Implementation
// ============================================================

// Save stores a new authorization code
func (s *Store) Save(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		err = storage.ErrCodeCollision
		return err
	}

	stored := *code
	s.codes[code.Code] = &stored
	s.codesCount.Add(1)

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, codeLogLength),
		"client_id", code.ClientID)
	return nil
}

// Consume removes and returns a code in one critical section. A present but
// expired record is removed as well and reported as ErrCodeNotFound.
func (s *Store) Consume(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	delete(s.codes, code)
	s.codesCount.Add(-1)

	if record.Expired(s.now()) {
		s.logger.Debug("Consumed expired authorization code",
			"code_prefix", util.SafeTruncate(code, codeLogLength))
		err = storage.ErrCodeNotFound
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength),
		"client_id", record.ClientID)
	return record, nil
}

// Sweep removes expired codes and sessions and returns the number of codes removed
func (s *Store) Sweep(ctx context.Context) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "sweep")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "sweep", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	codes := 0
	for key, record := range s.codes {
		if record.Expired(now) {
			delete(s.codes, key)
			codes++
		}
	}
	s.codesCount.Add(-int64(codes))

	sessions := 0
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			sessions++
		}
	}
	s.sessionsCount.Add(-int64(sessions))

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodesSwept(ctx, codes)
	}
	if codes > 0 || sessions > 0 {
		s.logger.Debug("Swept expired entries",
			"codes", codes,
			"sessions", sessions)
	}

	return codes, nil
}

// ============================================================
// SessionStore Implementation
// ============================================================

// SaveSession stores or replaces a session
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	ctx, span := s.startStorageSpan(ctx, "save_session")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_session", err, startTime)
	}()

	if session == nil || session.ID == "" {
		err = fmt.Errorf("invalid session")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; !exists {
		s.sessionsCount.Add(1)
	}
	stored := *session
	s.sessions[session.ID] = &stored
	return nil
}

// GetSession returns a copy of a live session
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	ctx, span := s.startStorageSpan(ctx, "get_session")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_session", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.Expired(s.now()) {
		err = storage.ErrSessionNotFound
		return nil, err
	}

	out := *session
	return &out, nil
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_session")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_session", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		s.sessionsCount.Add(-1)
	}
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Warn("Sweep failed", "error", err)
			}
		}
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, storageType)
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, storageType, operation, result, durationMs)
}
