package replay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/errors"
	"github.com/seawatch/seawatch-go/internal/logging"
	"github.com/seawatch/seawatch-go/internal/observability/metrics"
)

// State faults surfaced to callers. These map to "not found" / "invalid
// operation" API responses, never to generic failures.
var (
	ErrSessionNotFound = errors.Newf("replay session not found").
				Component("replay").
				Category(errors.CategoryNotFound).
				Build()
	ErrSessionInvalid = errors.Newf("replay session is no longer valid: mission was deleted").
				Component("replay").
				Category(errors.CategoryState).
				Build()
)

// EventSource is the slice of the datastore the replay manager needs.
type EventSource interface {
	GetMissionEvents(missionID string) ([]datastore.TelemetryEvent, error)
}

// SessionState is the externally visible state of a replay session.
type SessionState struct {
	SessionID     string                    `json:"sessionId"`
	MissionID     string                    `json:"missionId"`
	PositionIndex int                       `json:"positionIndex"`
	Event         *datastore.TelemetryEvent `json:"event,omitempty"`
	Playing       bool                      `json:"playing"`
	Speed         float64                   `json:"speed"`
	State         string                    `json:"state"`
	Filters       []string                  `json:"filters"`
	EventCount    int                       `json:"eventCount"`
	Finished      bool                      `json:"finished"`
}

// session pairs a controller with its bookkeeping. All access goes through
// the session mutex.
type session struct {
	id        string
	missionID string

	mu           sync.Mutex
	ctrl         *Controller
	lastActivity time.Time
	invalid      bool

	// notified is the highest index already handed to the manager's
	// observer; playback never reports an event twice per pass.
	notified int
}

// Manager owns all open replay sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	source       EventSource
	defaultSpeed float64
	observer     func(*datastore.TelemetryEvent)
	metrics      *metrics.ReplayMetrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewManager creates a session manager reading mission events from source.
// metrics may be nil.
func NewManager(source EventSource, defaultSpeed float64, replayMetrics *metrics.ReplayMetrics) *Manager {
	if defaultSpeed <= 0 {
		defaultSpeed = 1.0
	}
	return &Manager{
		sessions:     make(map[string]*session),
		source:       source,
		defaultSpeed: defaultSpeed,
		metrics:      replayMetrics,
		logger:       logging.ForService("replay"),
		now:          time.Now,
	}
}

// SetClock overrides the manager's clock. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetObserver registers a callback that receives every event a playing
// session passes over, exactly once per pass. Events hidden by a session's
// filters are not reported. Must be set before sessions are opened.
func (m *Manager) SetObserver(fn func(*datastore.TelemetryEvent)) {
	m.observer = fn
}

// Open loads a mission's events and creates a playback session for them.
// A missing mission surfaces the store's not-found error unchanged.
func (m *Manager) Open(missionID string) (*SessionState, error) {
	events, err := m.source.GetMissionEvents(missionID)
	if err != nil {
		return nil, err
	}

	s := &session{
		id:           uuid.NewString(),
		missionID:    missionID,
		ctrl:         NewController(events, m.defaultSpeed),
		lastActivity: m.now(),
		notified:     -1,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	total := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementSessionsOpened()
		m.metrics.SetActiveSessions(float64(total))
	}
	if m.logger != nil {
		m.logger.Info("replay session opened",
			"session_id", s.id, "mission_id", missionID, "events", len(events))
	}

	return m.stateOf(s, TickResult{Index: s.ctrl.Index(), Event: s.ctrl.CurrentEvent()}), nil
}

// Close destroys a session. Closing an unknown session is a state fault.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	total := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	if m.metrics != nil {
		m.metrics.SetActiveSessions(float64(total))
	}
	return nil
}

// InvalidateMission marks every session bound to the mission as invalid;
// their next operation returns a state fault instead of stale data.
func (m *Manager) InvalidateMission(missionID string) {
	m.mu.RLock()
	var affected []*session
	for _, s := range m.sessions {
		if s.missionID == missionID {
			affected = append(affected, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range affected {
		s.mu.Lock()
		s.invalid = true
		s.mu.Unlock()
		if m.metrics != nil {
			m.metrics.IncrementSessionsEvicted()
		}
	}
	if len(affected) > 0 && m.logger != nil {
		m.logger.Info("invalidated replay sessions for deleted mission",
			"mission_id", missionID, "sessions", len(affected))
	}
}

// EvictIdle removes sessions without activity for at least idleFor.
// Intended to be driven periodically by the embedding application.
func (m *Manager) EvictIdle(idleFor time.Duration) int {
	cutoff := m.now().Add(-idleFor)

	m.mu.Lock()
	var evicted int
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted++
		}
	}
	total := len(m.sessions)
	m.mu.Unlock()

	if evicted > 0 {
		if m.metrics != nil {
			m.metrics.SetActiveSessions(float64(total))
			for i := 0; i < evicted; i++ {
				m.metrics.IncrementSessionsEvicted()
			}
		}
		if m.logger != nil {
			m.logger.Info("evicted idle replay sessions", "count", evicted)
		}
	}
	return evicted
}

// SessionCount returns the number of open sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// withSession runs fn with the session locked, handling the state faults.
func (m *Manager) withSession(sessionID string, fn func(s *session) error) error {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return ErrSessionInvalid
	}
	s.lastActivity = m.now()
	return fn(s)
}

// Start begins playback from the first event. A restart replays the whole
// sequence, alerts included.
func (m *Manager) Start(sessionID string) (*SessionState, error) {
	return m.apply(sessionID, func(s *session, now time.Time) {
		s.ctrl.Start(now)
		s.notified = -1
	})
}

// Pause freezes playback at the current position.
func (m *Manager) Pause(sessionID string) (*SessionState, error) {
	return m.apply(sessionID, func(s *session, now time.Time) {
		s.ctrl.Pause(now)
	})
}

// Resume continues playback from the frozen position.
func (m *Manager) Resume(sessionID string) (*SessionState, error) {
	return m.apply(sessionID, func(s *session, now time.Time) {
		s.ctrl.Resume(now)
	})
}

// Stop resets playback to the first event.
func (m *Manager) Stop(sessionID string) (*SessionState, error) {
	return m.apply(sessionID, func(s *session, now time.Time) {
		s.ctrl.Stop()
		s.notified = -1
	})
}

// Seek moves playback to the given index, clamped to the event range.
// Events jumped over are not reported to the observer; the landing event
// is, on the next tick.
func (m *Manager) Seek(sessionID string, index int) (*SessionState, error) {
	return m.apply(sessionID, func(s *session, now time.Time) {
		s.ctrl.Seek(index, now)
		s.notified = s.ctrl.Index() - 1
	})
}

// SetSpeed changes the playback speed multiplier.
func (m *Manager) SetSpeed(sessionID string, multiplier float64) (*SessionState, error) {
	var opErr error
	state, err := m.apply(sessionID, func(s *session, now time.Time) {
		opErr = s.ctrl.SetSpeed(multiplier, now)
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return state, nil
}

// SetFilters replaces the session's category filter set.
func (m *Manager) SetFilters(sessionID string, categories []string) (*SessionState, error) {
	return m.apply(sessionID, func(s *session, now time.Time) {
		s.ctrl.SetFilters(categories)
	})
}

// Tick advances the session to the given host instant and returns its
// state. Every event the position passed over since the previous tick is
// handed to the observer, in sequence order.
func (m *Manager) Tick(sessionID string) (*SessionState, error) {
	var state *SessionState
	var passed []*datastore.TelemetryEvent
	err := m.withSession(sessionID, func(s *session) error {
		wasPlaying := s.ctrl.State() == Playing
		res := s.ctrl.Tick(m.now())
		if wasPlaying && m.observer != nil {
			for i := s.notified + 1; i <= res.Index; i++ {
				if ev := s.ctrl.EventAt(i); ev != nil {
					passed = append(passed, ev)
				}
			}
			s.notified = res.Index
		}
		state = m.stateOf(s, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Delivered outside the session lock so a slow observer cannot stall
	// other session operations.
	for _, ev := range passed {
		m.observer(ev)
	}
	return state, nil
}

// State returns the session's current state, recomputing the position first
// so a pull-based consumer always sees a fresh index.
func (m *Manager) State(sessionID string) (*SessionState, error) {
	return m.Tick(sessionID)
}

// apply runs a control operation and returns the resulting state.
func (m *Manager) apply(sessionID string, op func(s *session, now time.Time)) (*SessionState, error) {
	var state *SessionState
	err := m.withSession(sessionID, func(s *session) error {
		op(s, m.now())
		state = m.stateOf(s, TickResult{
			Index:   s.ctrl.Index(),
			Event:   s.ctrl.CurrentEvent(),
			Playing: s.ctrl.State() == Playing,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (m *Manager) stateOf(s *session, res TickResult) *SessionState {
	return &SessionState{
		SessionID:     s.id,
		MissionID:     s.missionID,
		PositionIndex: res.Index,
		Event:         res.Event,
		Playing:       res.Playing,
		Speed:         s.ctrl.Speed(),
		State:         s.ctrl.State().String(),
		Filters:       s.ctrl.Filters(),
		EventCount:    s.ctrl.Len(),
		Finished:      res.Finished,
	}
}
