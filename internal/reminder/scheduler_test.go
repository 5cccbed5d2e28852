package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/conorfennell/sleepwell/internal/clock"
)

type fakeRemote struct {
	mu         sync.Mutex
	preferred  string
	suggested  string
	getErr     error
	suggestErr error
	setErr     error
	saved      []string
	pushErr    error
	pushes     int
}

func (r *fakeRemote) GetReminder(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preferred, r.getErr
}

func (r *fakeRemote) SetReminder(_ context.Context, preferred string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, preferred)
	return r.setErr
}

func (r *fakeRemote) GetSmartReminder(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suggested, r.suggestErr
}

func (r *fakeRemote) TriggerPush(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes++
	return r.pushErr
}

type memStore struct {
	mu  sync.Mutex
	cfg *Config
}

func (m *memStore) LoadConfig(context.Context) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return nil, nil
	}
	c := *m.cfg
	return &c, nil
}

func (m *memStore) SaveConfig(_ context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = &cfg
	return nil
}

type countingSink struct {
	mu    sync.Mutex
	plays int
}

func (s *countingSink) Play(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

type recordingAlerts struct {
	shown []Alert
}

func (r *recordingAlerts) Show(_ context.Context, a Alert) { r.shown = append(r.shown, a) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(hour, minute, second int) time.Time {
	return time.Date(2024, 3, 10, hour, minute, second, 0, time.Local)
}

type harness struct {
	clock  *clock.Fake
	remote *fakeRemote
	sink   *countingSink
	alerts *recordingAlerts
	store  *memStore
	s      *Scheduler
}

func newHarness(start time.Time) *harness {
	h := &harness{
		clock:  clock.NewFake(start),
		remote: &fakeRemote{},
		sink:   &countingSink{},
		alerts: &recordingAlerts{},
		store:  &memStore{},
	}
	h.s = NewScheduler(Deps{
		Clock:    h.clock,
		Remote:   h.remote,
		Notifier: h.remote,
		Store:    h.store,
		Alerts:   h.alerts,
		Sound:    h.sink,
		Logger:   quietLogger(),
	})
	return h
}

func TestOnTick_MinuteScenario(t *testing.T) {
	h := newHarness(at(6, 59, 30))
	ctx := context.Background()

	require.NoError(t, h.s.SetPreferredTime(ctx, TimeOfDay{Hour: 7, Minute: 0}))
	h.s.MarkInteracted()

	steps := []struct {
		at       time.Time
		expected TickResult
	}{
		{at(6, 59, 30), TickIdle},
		{at(7, 0, 0), TickFired},
		{at(7, 0, 10), TickGuarded},
		{at(7, 1, 0), TickIdle},
	}

	for _, step := range steps {
		h.clock.Set(step.at)
		assert.Equal(t, step.expected, h.s.OnTick(ctx), "tick at %s", step.at.Format("15:04:05"))
	}

	h.s.Stop()
	assert.Equal(t, 1, h.sink.count())
	assert.Len(t, h.alerts.shown, 1)
	assert.Equal(t, 1, h.remote.pushes)
}

func TestOnTick_GuardHoldsForWholeMinute(t *testing.T) {
	h := newHarness(at(22, 30, 0))
	ctx := context.Background()
	require.NoError(t, h.s.SetPreferredTime(ctx, TimeOfDay{Hour: 22, Minute: 30}))
	h.s.MarkInteracted()

	assert.Equal(t, TickFired, h.s.OnTick(ctx))
	for i := 1; i < 60; i++ {
		h.clock.Advance(time.Second)
		assert.Equal(t, TickGuarded, h.s.OnTick(ctx), "second %d", i)
	}
	h.clock.Advance(time.Second)
	assert.Equal(t, TickIdle, h.s.OnTick(ctx))
}

func TestOnTick_FiresAgainNextDay(t *testing.T) {
	h := newHarness(at(22, 30, 0))
	ctx := context.Background()
	require.NoError(t, h.s.SetPreferredTime(ctx, TimeOfDay{Hour: 22, Minute: 30}))
	h.s.MarkInteracted()

	assert.Equal(t, TickFired, h.s.OnTick(ctx))
	h.clock.Advance(24 * time.Hour)
	assert.Equal(t, TickFired, h.s.OnTick(ctx))
}

func TestOnTick_NoTarget(t *testing.T) {
	h := newHarness(at(7, 0, 0))
	h.s.MarkInteracted()
	assert.Equal(t, TickNoTarget, h.s.OnTick(context.Background()))
}

func TestOnTick_SuppressedUntilInteraction(t *testing.T) {
	h := newHarness(at(7, 0, 0))
	ctx := context.Background()
	require.NoError(t, h.s.SetPreferredTime(ctx, TimeOfDay{Hour: 7, Minute: 0}))

	assert.Equal(t, TickSuppressed, h.s.OnTick(ctx))
	assert.Nil(t, h.s.Snapshot().LastFiredAt, "suppressed ticks must not arm the guard")
	assert.Equal(t, 0, h.remote.pushes)

	h.clock.Advance(20 * time.Second)
	h.s.MarkInteracted()
	assert.Equal(t, TickFired, h.s.OnTick(ctx))

	h.s.Stop()
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, 1, h.remote.pushes)
}

func TestOnTick_PushFailureKeepsLocalAlert(t *testing.T) {
	h := newHarness(at(7, 0, 0))
	h.remote.pushErr = errors.New("network down")
	ctx := context.Background()
	require.NoError(t, h.s.SetPreferredTime(ctx, TimeOfDay{Hour: 7, Minute: 0}))
	h.s.MarkInteracted()

	assert.Equal(t, TickFired, h.s.OnTick(ctx))
	snap := h.s.Snapshot()
	require.NotNil(t, snap.Alert)
	assert.Equal(t, "Time to Wind Down", snap.Alert.Title)

	h.s.DismissAlert()
	assert.Nil(t, h.s.Snapshot().Alert)

	h.s.Stop()
	assert.Equal(t, 1, h.sink.count())
}

func TestOnTick_CachedLastFiredSurvivesRestart(t *testing.T) {
	preferred := TimeOfDay{Hour: 7, Minute: 0}
	store := &memStore{cfg: &Config{PreferredTime: &preferred, LastFiredAt: at(7, 0, 5)}}
	fake := clock.NewFake(at(7, 0, 30))

	s := NewScheduler(Deps{Clock: fake, Store: store, Logger: quietLogger()})
	s.MarkInteracted()

	assert.Equal(t, TickGuarded, s.OnTick(context.Background()))
}

func TestSetPreferredTime(t *testing.T) {
	t.Run("Invalid time is rejected", func(t *testing.T) {
		h := newHarness(at(7, 0, 0))
		err := h.s.SetPreferredTime(context.Background(), TimeOfDay{Hour: 24, Minute: 0})
		assert.ErrorIs(t, err, ErrInvalidTime)
		assert.Nil(t, h.s.Snapshot().PreferredTime)
	})

	t.Run("Remote failure keeps local value", func(t *testing.T) {
		h := newHarness(at(7, 0, 0))
		h.remote.setErr = errors.New("unauthorized")

		err := h.s.SetPreferredTime(context.Background(), TimeOfDay{Hour: 21, Minute: 45})
		assert.Error(t, err)

		snap := h.s.Snapshot()
		require.NotNil(t, snap.PreferredTime)
		assert.Equal(t, "21:45", snap.PreferredTime.String())
		require.NotNil(t, h.store.cfg)
		assert.Equal(t, "21:45", h.store.cfg.PreferredTime.String())
	})

	t.Run("Saved remotely", func(t *testing.T) {
		h := newHarness(at(7, 0, 0))
		require.NoError(t, h.s.SetPreferredTime(context.Background(), TimeOfDay{Hour: 6, Minute: 5}))
		assert.Equal(t, []string{"06:05"}, h.remote.saved)
	})
}

func TestRefresh(t *testing.T) {
	t.Run("Fetch failures keep cached preferred time", func(t *testing.T) {
		h := newHarness(at(7, 0, 0))
		cached := TimeOfDay{Hour: 22, Minute: 0}
		h.store.cfg = &Config{PreferredTime: &cached}
		h.remote.getErr = errors.New("timeout")
		h.remote.suggestErr = errors.New("not found")

		h.s.Refresh(context.Background())

		snap := h.s.Snapshot()
		require.NotNil(t, snap.PreferredTime)
		assert.Equal(t, "22:00", snap.PreferredTime.String())
		assert.Nil(t, snap.SuggestedTime)
		assert.ErrorIs(t, h.s.ApplySuggestion(context.Background()), ErrNoSuggestion)
	})

	t.Run("Suggestion is advisory until applied", func(t *testing.T) {
		h := newHarness(at(7, 0, 0))
		h.remote.preferred = "22:00"
		h.remote.suggested = "21:30"

		h.s.Refresh(context.Background())
		snap := h.s.Snapshot()
		assert.Equal(t, "22:00", snap.PreferredTime.String())
		assert.Equal(t, "21:30", snap.SuggestedTime.String())

		require.NoError(t, h.s.ApplySuggestion(context.Background()))
		assert.Equal(t, "21:30", h.s.Snapshot().PreferredTime.String())
		assert.Equal(t, []string{"21:30"}, h.remote.saved)
	})

	t.Run("Malformed backend value is ignored", func(t *testing.T) {
		h := newHarness(at(7, 0, 0))
		h.remote.preferred = "late"

		h.s.Refresh(context.Background())
		assert.Nil(t, h.s.Snapshot().PreferredTime)
	})
}

func TestStartStop_PollsOncePerInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(at(6, 59, 58))
	ctx := context.Background()
	require.NoError(t, h.s.SetPreferredTime(ctx, TimeOfDay{Hour: 7, Minute: 0}))
	h.s.MarkInteracted()

	h.s.Start(ctx)
	h.s.Start(ctx)
	assert.True(t, h.s.Snapshot().Running)
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(90 * time.Second)
	assert.Equal(t, 1, h.remote.pushes, "one alert for the whole matching minute")

	h.s.Stop()
	h.s.Stop()
	assert.False(t, h.s.Snapshot().Running)
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 1, h.sink.count())
}

type restartingAlerts struct {
	s   *Scheduler
	ctx context.Context
}

func (r *restartingAlerts) Show(context.Context, Alert) {
	r.s.Stop()
	r.s.Start(r.ctx)
}

func TestStartStop_RestartDuringTickLeavesOneTimer(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(at(6, 59, 59))
	alerts := &restartingAlerts{ctx: ctx}
	s := NewScheduler(Deps{Clock: fake, Alerts: alerts, Logger: quietLogger()})
	alerts.s = s
	require.NoError(t, s.SetPreferredTime(ctx, TimeOfDay{Hour: 7, Minute: 0}))
	s.MarkInteracted()

	s.Start(ctx)
	fake.Advance(time.Second)
	assert.NotNil(t, s.Snapshot().LastFiredAt, "the 07:00 tick fired")
	assert.Equal(t, 1, fake.Pending(), "the replaced run does not re-arm")

	s.Stop()
	assert.Equal(t, 0, fake.Pending())

	fake.Advance(10 * time.Second)
	assert.Equal(t, 0, fake.Pending())
}

func TestStartStop_StaleTickIsDropped(t *testing.T) {
	fake := clock.NewFake(at(6, 0, 0))
	s := NewScheduler(Deps{Clock: fake, Logger: quietLogger()})
	ctx := context.Background()

	s.Start(ctx)
	s.Stop()
	s.Start(ctx)
	require.Equal(t, 1, fake.Pending())

	// A callback from the first run arriving late must not start a second chain.
	s.tick(s.run - 2)
	assert.Equal(t, 1, fake.Pending())

	s.Stop()
	assert.Equal(t, 0, fake.Pending())
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(Deps{Clock: clock.Real{}, PollInterval: 5 * time.Millisecond, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, s.Snapshot().Running)
}

type blockingSink struct {
	started   chan struct{}
	mu        sync.Mutex
	cancelled int
}

func (b *blockingSink) Play(ctx context.Context) error {
	b.started <- struct{}{}
	<-ctx.Done()
	b.mu.Lock()
	b.cancelled++
	b.mu.Unlock()
	return ctx.Err()
}

func TestChime_LastCallWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &blockingSink{started: make(chan struct{}, 2)}
	c := &chime{sink: sink, logger: quietLogger()}

	c.play(context.Background())
	<-sink.started
	c.play(context.Background())
	<-sink.started

	c.stop()
	assert.Equal(t, 2, sink.cancelled)
}

func TestTestChime_MarksInteraction(t *testing.T) {
	h := newHarness(at(12, 0, 0))
	h.s.TestChime(context.Background())
	h.s.Stop()

	assert.True(t, h.s.Snapshot().Interacted)
	assert.Equal(t, 1, h.sink.count())
}
