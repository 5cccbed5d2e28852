package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/sleepwell/internal/clock"
)

const (
	// DefaultPollInterval is how often the wall clock is compared against the preferred time.
	DefaultPollInterval = time.Second
	// RefireGuard is the minimum spacing between two alerts.
	RefireGuard = 60 * time.Second
)

// ErrNoSuggestion is returned by ApplySuggestion when the backend has not suggested a time.
var ErrNoSuggestion = errors.New("no suggested reminder time")

// Remote stores the reminder on the backend and fetches its suggestion.
// Times travel as "HH:MM"; an empty string means none is set.
type Remote interface {
	GetReminder(ctx context.Context) (string, error)
	SetReminder(ctx context.Context, preferred string) error
	GetSmartReminder(ctx context.Context) (string, error)
}

// Notifier asks the backend to deliver a push notification to the user's devices.
type Notifier interface {
	TriggerPush(ctx context.Context) error
}

// StateStore caches the reminder configuration locally.
// LoadConfig returns (nil, nil) when nothing has been stored.
type StateStore interface {
	LoadConfig(ctx context.Context) (*Config, error)
	SaveConfig(ctx context.Context, cfg Config) error
}

// Config is the reminder configuration. LastFiredAt is zero until the first alert.
type Config struct {
	PreferredTime *TimeOfDay
	SuggestedTime *TimeOfDay
	LastFiredAt   time.Time
}

// Alert is the wind-down prompt shown when the reminder fires.
type Alert struct {
	FiredAt       time.Time `json:"fired_at"`
	PreferredTime TimeOfDay `json:"preferred_time"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
}

// TickResult describes what a single poll did.
type TickResult int

const (
	TickNoTarget   TickResult = iota // no preferred time set
	TickIdle                         // current minute does not match
	TickSuppressed                   // matched, but the user has not interacted yet
	TickGuarded                      // matched, but an alert fired less than RefireGuard ago
	TickFired
)

func (r TickResult) String() string {
	switch r {
	case TickNoTarget:
		return "no_target"
	case TickIdle:
		return "idle"
	case TickSuppressed:
		return "suppressed"
	case TickGuarded:
		return "guarded"
	case TickFired:
		return "fired"
	default:
		return fmt.Sprintf("TickResult(%d)", int(r))
	}
}

// Deps holds the collaborators of a Scheduler. Only Clock is required.
type Deps struct {
	Clock        clock.Clock
	Remote       Remote
	Notifier     Notifier
	Store        StateStore
	Alerts       AlertSink
	Sound        Sink
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Scheduler fires the bedtime reminder when the wall clock reaches the preferred time.
type Scheduler struct {
	clock    clock.Clock
	remote   Remote
	notifier Notifier
	store    StateStore
	alerts   AlertSink
	chime    *chime
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	cfg        Config
	interacted bool
	loaded     bool
	active     *Alert
	running    bool
	run        uint64
	runCtx     context.Context
	timer      clock.Timer
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(deps Deps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := deps.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		clock:    deps.Clock,
		remote:   deps.Remote,
		notifier: deps.Notifier,
		store:    deps.Store,
		alerts:   deps.Alerts,
		chime:    &chime{sink: deps.Sound, logger: logger},
		interval: interval,
		logger:   logger,
	}
}

// Start loads the cached configuration and begins polling. It is a no-op if
// the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.run++
	run := s.run
	s.runCtx = ctx
	s.mu.Unlock()

	s.loadCached(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.run != run {
		return
	}
	s.timer = s.clock.AfterFunc(s.interval, func() { s.tick(run) })
	s.logger.Info("Reminder scheduler started", "interval", s.interval)
}

// Stop cancels the poll timer and any in-flight chime. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.run++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.chime.stop()
	if wasRunning {
		s.logger.Info("Reminder scheduler stopped")
	}
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

// tick polls once and re-arms, unless the run it belongs to has been stopped
// or replaced.
func (s *Scheduler) tick(run uint64) {
	s.mu.Lock()
	if !s.running || s.run != run {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	s.mu.Unlock()

	s.OnTick(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.run == run {
		s.timer = s.clock.AfterFunc(s.interval, func() { s.tick(run) })
	}
}

// OnTick compares the wall clock with the preferred time and fires the alert
// when they match and the re-fire guard allows it. Before MarkInteracted the
// whole alert is suppressed and LastFiredAt is left untouched.
func (s *Scheduler) OnTick(ctx context.Context) TickResult {
	s.loadCached(ctx)
	now := s.clock.Now()

	s.mu.Lock()
	preferred := s.cfg.PreferredTime
	switch {
	case preferred == nil:
		s.mu.Unlock()
		return TickNoTarget
	case !preferred.Matches(now):
		s.mu.Unlock()
		return TickIdle
	case !s.interacted:
		s.mu.Unlock()
		s.logger.Debug("Reminder matched before user interaction, suppressing", "preferred_time", preferred.String())
		return TickSuppressed
	case !s.cfg.LastFiredAt.IsZero() && now.Sub(s.cfg.LastFiredAt) <= RefireGuard:
		s.mu.Unlock()
		return TickGuarded
	}

	s.cfg.LastFiredAt = now
	alert := Alert{
		FiredAt:       now,
		PreferredTime: *preferred,
		Title:         "Time to Wind Down",
		Message:       "Put your phone away, dim the lights, and take deep breaths. Consider journaling or calming music to help prepare for sleep.",
	}
	s.active = &alert
	cfg := s.cfg
	s.mu.Unlock()

	s.logger.Info("Reminder fired", "preferred_time", preferred.String(), "at", now)
	s.saveCached(ctx, cfg)
	s.chime.play(ctx)
	if s.alerts != nil {
		s.alerts.Show(ctx, alert)
	}
	if s.notifier != nil {
		if err := s.notifier.TriggerPush(ctx); err != nil {
			s.logger.Warn("Push trigger failed", "error", err)
		}
	}
	return TickFired
}

// MarkInteracted records that the user has interacted with the companion, which
// unlocks audible alerts. It cannot be undone.
func (s *Scheduler) MarkInteracted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.interacted {
		s.interacted = true
		s.logger.Debug("User interaction recorded")
	}
}

// SetPreferredTime updates the reminder locally and then persists it remotely.
// The local value stands even when the remote save fails.
func (s *Scheduler) SetPreferredTime(ctx context.Context, t TimeOfDay) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, t.Hour, t.Minute)
	}
	s.loadCached(ctx)

	s.mu.Lock()
	s.cfg.PreferredTime = &t
	cfg := s.cfg
	s.mu.Unlock()

	s.saveCached(ctx, cfg)
	if s.remote == nil {
		return nil
	}
	if err := s.remote.SetReminder(ctx, t.String()); err != nil {
		return fmt.Errorf("failed to save reminder remotely: %w", err)
	}
	s.logger.Info("Reminder time updated", "preferred_time", t.String())
	return nil
}

// ApplySuggestion replaces the preferred time with the backend's suggestion.
func (s *Scheduler) ApplySuggestion(ctx context.Context) error {
	s.mu.Lock()
	suggested := s.cfg.SuggestedTime
	s.mu.Unlock()

	if suggested == nil {
		return ErrNoSuggestion
	}
	return s.SetPreferredTime(ctx, *suggested)
}

// Refresh fetches the saved reminder and the smart suggestion from the backend.
// Each fetch fails independently; a failure keeps the previously known value.
func (s *Scheduler) Refresh(ctx context.Context) {
	if s.remote == nil {
		return
	}
	s.loadCached(ctx)

	if raw, err := s.remote.GetReminder(ctx); err != nil {
		s.logger.Warn("Reminder fetch failed", "error", err)
	} else if raw != "" {
		if t, err := ParseTimeOfDay(raw); err != nil {
			s.logger.Warn("Ignoring malformed reminder from backend", "value", raw, "error", err)
		} else {
			s.mu.Lock()
			s.cfg.PreferredTime = &t
			s.mu.Unlock()
		}
	}

	if raw, err := s.remote.GetSmartReminder(ctx); err != nil {
		s.logger.Warn("Smart suggestion not available", "error", err)
	} else if raw != "" {
		if t, err := ParseTimeOfDay(raw); err != nil {
			s.logger.Warn("Ignoring malformed suggestion from backend", "value", raw, "error", err)
		} else {
			s.mu.Lock()
			s.cfg.SuggestedTime = &t
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	s.saveCached(ctx, cfg)
}

// DismissAlert closes the visible alert.
func (s *Scheduler) DismissAlert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

// TestChime plays the reminder sound on demand. A test request counts as interaction.
func (s *Scheduler) TestChime(ctx context.Context) {
	s.MarkInteracted()
	s.chime.play(ctx)
}

// Snapshot is a point-in-time copy of the scheduler state.
type Snapshot struct {
	PreferredTime *TimeOfDay `json:"preferred_time"`
	SuggestedTime *TimeOfDay `json:"suggested_time"`
	LastFiredAt   *time.Time `json:"last_fired_at"`
	Interacted    bool       `json:"interacted"`
	Running       bool       `json:"running"`
	Alert         *Alert     `json:"alert"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		PreferredTime: copyTime(s.cfg.PreferredTime),
		SuggestedTime: copyTime(s.cfg.SuggestedTime),
		Interacted:    s.interacted,
		Running:       s.running,
	}
	if !s.cfg.LastFiredAt.IsZero() {
		last := s.cfg.LastFiredAt
		snap.LastFiredAt = &last
	}
	if s.active != nil {
		a := *s.active
		snap.Alert = &a
	}
	return snap
}

// loadCached merges the locally cached configuration into memory once, before
// anything is written back to the cache.
func (s *Scheduler) loadCached(ctx context.Context) {
	s.mu.Lock()
	if s.loaded || s.store == nil {
		s.loaded = true
		s.mu.Unlock()
		return
	}
	s.loaded = true
	s.mu.Unlock()

	cached, err := s.store.LoadConfig(ctx)
	if err != nil {
		s.logger.Warn("Failed to load cached reminder", "error", err)
		return
	}
	if cached == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.PreferredTime == nil {
		s.cfg.PreferredTime = copyTime(cached.PreferredTime)
	}
	if s.cfg.SuggestedTime == nil {
		s.cfg.SuggestedTime = copyTime(cached.SuggestedTime)
	}
	if cached.LastFiredAt.After(s.cfg.LastFiredAt) {
		s.cfg.LastFiredAt = cached.LastFiredAt
	}
}

func (s *Scheduler) saveCached(ctx context.Context, cfg Config) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		s.logger.Warn("Failed to cache reminder", "error", err)
	}
}

func copyTime(t *TimeOfDay) *TimeOfDay {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
