package scanner

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/analysis"
	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

type settings struct {
	exampleCount int
	clock        func() time.Time
	newID        func() string
}

type Option func(*settings)

// WithExampleCount sets how many correction examples accompany each
// analysis. Negative means the history default.
func WithExampleCount(n int) Option {
	return func(s *settings) {
		s.exampleCount = n
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *settings) {
		s.newID = newID
	}
}

// Manager holds one Session per user, created on first access.
type Manager struct {
	analyzer analysis.Analyzer
	ingestor *ingestion.Processor
	recorder Recorder
	settings settings

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(analyzer analysis.Analyzer, ingestor *ingestion.Processor, recorder Recorder, opts ...Option) *Manager {
	s := settings{
		exampleCount: history.DefaultExampleCount,
		clock:        time.Now,
		newID:        NewScanID,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Manager{
		analyzer: analyzer,
		ingestor: ingestor,
		recorder: recorder,
		settings: s,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Session(owner string) *Session {
	key := strings.ToLower(strings.TrimSpace(owner))

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := newSession(key, m.analyzer, m.ingestor, m.recorder, m.settings)
	m.sessions[key] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	logger.Debug("Scanner session created", zap.String("owner", utils.MaskEmail(key)))
	return s
}

// Drop forgets a user's session, e.g. on logout. A running analysis is
// abandoned.
func (m *Manager) Drop(owner string) {
	key := strings.ToLower(strings.TrimSpace(owner))

	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if ok {
		s.Reset()
	}
}

// Wait blocks until every session's background work has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Wait()
	}
}
