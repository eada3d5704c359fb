package location

import (
	"errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"log/slog"
	"sync"
)

type State int32

const (
	StateIdle State = iota
	StateActive
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// CompletionHandler receives the outcome of a run. Exactly one of pos and err is meaningful:
// err is nil on success or timeout fallback.
type CompletionHandler func(pos Position, err error)

// Session reduces the raw stream of a Provider to a single best position.
//
// Every run (Start to completion) funnels its outcome through one CompletionHandler call.
// The provider update, provider error and timeout paths all race for the same gate: the
// transition out of StateActive, taken under mu for a given run generation.
type Session struct {
	id       string
	provider Provider
	clock    Clock
	logger   *slog.Logger
	feed     *Feed

	mu         sync.Mutex
	state      State
	run        uint64
	config     SessionConfig
	onComplete CompletionHandler
	timer      clockwork.Timer
	last       *Position
	received   bool // last was delivered during the current run
	closed     bool
}

type Option func(*Session)

func WithClock(clock Clock) Option {
	return func(s *Session) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithConfig(cfg SessionConfig) Option {
	return func(s *Session) { s.config = cfg }
}

// WithLastPosition seeds the last known position, e.g. from a cache.
// A seeded position is never used as a timeout fallback.
func WithLastPosition(p Position) Option {
	return func(s *Session) { s.last = &p }
}

func NewSession(provider Provider, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		provider: provider,
		clock:    realClock(),
		logger:   slog.Default(),
		feed:     NewFeed(),
		config:   DefaultSessionConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("sessionID", s.id)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsLocating() bool {
	return s.State() == StateActive
}

func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetConfig replaces the config used by HasValidLocation and WaitForValidLocation.
func (s *Session) SetConfig(cfg SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		return ErrSessionActive
	}
	s.config = cfg
	return nil
}

func (s *Session) LastPosition() (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Position{}, false
	}
	return *s.last, true
}

// HasValidLocation re-evaluates the last known position against the current time.
func (s *Session) HasValidLocation() bool {
	_, ok := s.validLocation()
	return ok
}

func (s *Session) validLocation() (Position, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || !s.config.Accepts(*s.last, now) {
		return Position{}, false
	}
	return *s.last, true
}

// Subscribe returns a side channel carrying every raw update, accepted or not.
func (s *Session) Subscribe(buffer int) *Subscription {
	return s.feed.Subscribe(buffer)
}

// Observers is the number of open raw-update subscriptions.
func (s *Session) Observers() int {
	return s.feed.Len()
}

// Start begins a run. The outcome is delivered to onComplete exactly once unless the
// run is cancelled. A provider start failure is delivered before Start returns.
func (s *Session) Start(cfg SessionConfig, onComplete CompletionHandler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if onComplete == nil {
		return errors.New("nil completion handler")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateActive {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.run++
	run := s.run
	s.state = StateActive
	s.config = cfg
	s.onComplete = onComplete
	s.received = false
	s.mu.Unlock()

	s.logger.Info("location session started",
		"run", run,
		"desiredAccuracy", cfg.DesiredAccuracy,
		"maxAge", cfg.MaxAge,
		"timeout", cfg.Timeout,
	)

	onUpdate := func(p Position) { s.handleUpdate(run, p) }
	onError := func(err error) { s.handleError(run, err) }
	if err := s.provider.Start(onUpdate, onError); err != nil {
		s.mu.Lock()
		done := s.finishLocked(run)
		s.mu.Unlock()
		if done != nil {
			s.logger.Warn("location provider failed to start", "run", run, "error", err)
			done(Position{}, &ProviderStartError{Err: err})
		}
		return nil
	}

	// The run may have been cancelled while the provider was starting; its Stop
	// then ran too early and the provider has to be stopped again.
	s.mu.Lock()
	if s.run != run {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateActive {
		s.mu.Unlock()
		s.provider.Stop()
		return nil
	}
	s.timer = s.clock.AfterFunc(cfg.Timeout, func() { s.handleTimeout(run) })
	s.mu.Unlock()
	return nil
}

// WaitForValidLocation completes immediately with the last known position when it is
// still acceptable, and otherwise starts a run with the current config.
func (s *Session) WaitForValidLocation(onComplete CompletionHandler) error {
	if onComplete == nil {
		return errors.New("nil completion handler")
	}
	if s.isClosed() {
		return ErrSessionClosed
	}
	if !s.IsLocating() {
		if pos, ok := s.validLocation(); ok {
			s.logger.Debug("reusing last known position", "accuracy", pos.Accuracy)
			onComplete(pos, nil)
			return nil
		}
	}
	return s.Start(s.Config(), onComplete)
}

// Cancel stops an active run without calling its CompletionHandler and reports whether
// it did. It is a no-op once the run has completed.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	wasActive := false
	switch s.state {
	case StateActive:
		wasActive = true
		s.stopTimerLocked()
		s.onComplete = nil
		s.state = StateCancelled
	case StateIdle:
		s.state = StateCancelled
	default:
		s.mu.Unlock()
		return false
	}
	run := s.run
	s.mu.Unlock()

	if wasActive {
		s.provider.Stop()
	}
	s.logger.Info("location session cancelled", "run", run)
	return wasActive
}

// Close cancels any active run, closes every raw-update subscription and makes
// later Start calls fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
	s.feed.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) handleUpdate(run uint64, p Position) {
	if err := p.Validate(); err != nil {
		s.logger.Warn("dropping invalid position", "run", run, "error", err)
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	if s.run != run {
		s.mu.Unlock()
		return
	}
	s.feed.Publish(p)
	if s.state != StateActive {
		s.mu.Unlock()
		s.logger.Debug("ignoring position after completion", "run", run)
		return
	}

	s.last = &p
	s.received = true
	if !s.config.Accepts(p, now) {
		s.mu.Unlock()
		s.logger.Debug("position rejected",
			"run", run,
			"accuracy", p.Accuracy,
			"age", p.Age(now),
		)
		return
	}
	done := s.finishLocked(run)
	s.mu.Unlock()

	s.provider.Stop()
	s.logger.Info("location session completed", "run", run, "accuracy", p.Accuracy, "fallback", false)
	done(p, nil)
}

// handleError falls back to the last position of the run, if any, like a timeout would.
func (s *Session) handleError(run uint64, err error) {
	s.mu.Lock()
	pos, ok := s.fallbackLocked()
	done := s.finishLocked(run)
	s.mu.Unlock()
	if done == nil {
		s.logger.Debug("ignoring provider error after completion", "run", run, "error", err)
		return
	}

	s.provider.Stop()
	if ok {
		s.logger.Info("location session completed", "run", run, "accuracy", pos.Accuracy, "fallback", true, "error", err)
		done(pos, nil)
		return
	}
	s.logger.Warn("location session failed", "run", run, "error", err)
	done(Position{}, &ProviderRuntimeError{Err: err})
}

func (s *Session) handleTimeout(run uint64) {
	s.mu.Lock()
	pos, ok := s.fallbackLocked()
	done := s.finishLocked(run)
	s.mu.Unlock()
	if done == nil {
		return
	}

	s.provider.Stop()
	if ok {
		s.logger.Info("location session timed out", "run", run, "accuracy", pos.Accuracy, "fallback", true)
		done(pos, nil)
		return
	}
	s.logger.Warn("location session timed out without position", "run", run)
	done(Position{}, ErrTimeout)
}

func (s *Session) fallbackLocked() (Position, bool) {
	if !s.received || s.last == nil {
		return Position{}, false
	}
	return *s.last, true
}

// finishLocked moves run from StateActive to StateCompleted and returns its handler.
// It returns nil when run is stale or already finished. mu must be held.
func (s *Session) finishLocked(run uint64) CompletionHandler {
	if s.state != StateActive || s.run != run {
		return nil
	}
	s.state = StateCompleted
	s.stopTimerLocked()
	done := s.onComplete
	s.onComplete = nil
	return done
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
