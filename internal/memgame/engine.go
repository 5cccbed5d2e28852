package memgame

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/sleepwell/internal/clock"
	"github.com/conorfennell/sleepwell/internal/domain"
)

const (
	// DefaultCooldown keeps both flipped cards visible before they are resolved.
	DefaultCooldown = 700 * time.Millisecond

	notifyTimeout = 10 * time.Second
)

// QuestProgressPort reports quest progress to the backend.
type QuestProgressPort interface {
	LogQuestProgress(ctx context.Context, quest string) error
}

// Recorder stores the summary of a completed session.
type Recorder interface {
	RecordSession(ctx context.Context, summary Summary) error
}

// Summary describes a completed session.
type Summary struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Pairs       int       `json:"pairs"`
	Attempts    int       `json:"attempts"`
}

// Deps holds the collaborators of an Engine. Only Clock is required.
type Deps struct {
	Clock    clock.Clock
	Quests   QuestProgressPort
	Recorder Recorder
	Cooldown time.Duration
	// Intn overrides the shuffle source; nil uses math/rand/v2.
	Intn   func(n int) int
	Logger *slog.Logger
}

// Engine runs one memory-match session at a time.
type Engine struct {
	clock    clock.Clock
	quests   QuestProgressPort
	recorder Recorder
	cooldown time.Duration
	intn     func(n int) int
	logger   *slog.Logger

	mu          sync.Mutex
	sessionID   string
	cards       []Card
	flipped     []int
	matches     int
	attempts    int
	locked      bool
	notified    bool
	generation  uint64
	pending     clock.Timer
	startedAt   time.Time
	completedAt time.Time
}

func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cooldown := deps.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{
		clock:    deps.Clock,
		quests:   deps.Quests,
		recorder: deps.Recorder,
		cooldown: cooldown,
		intn:     deps.Intn,
		logger:   logger,
	}
}

// NewGame deals a fresh deck from items and returns the new session id.
// A pending evaluation from the previous session is cancelled and, should it
// already be running, ignored.
func (e *Engine) NewGame(items []domain.Item) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelPendingLocked()
	e.cards = Deal(items, e.intn)
	e.flipped = nil
	e.matches = 0
	e.attempts = 0
	e.locked = false
	e.notified = false
	e.sessionID = uuid.NewString()
	e.startedAt = e.clock.Now()
	e.completedAt = time.Time{}

	e.logger.Info("Memory game started", "session", e.sessionID, "pairs", len(items))
	return e.sessionID
}

// Flip turns the card at position face up. It returns false, changing nothing,
// when input is locked, the position is out of range, or the card is already
// face up or matched. The second flip of a pair locks input until the pair
// has been evaluated after the cooldown.
func (e *Engine) Flip(position int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locked || position < 0 || position >= len(e.cards) {
		return false
	}
	card := &e.cards[position]
	if card.FaceUp || card.Matched {
		return false
	}

	card.FaceUp = true
	e.flipped = append(e.flipped, position)

	if len(e.flipped) == 2 {
		e.locked = true
		gen := e.generation
		e.pending = e.clock.AfterFunc(e.cooldown, func() { e.evaluate(gen) })
	}
	return true
}

// evaluate resolves the buffered pair. Callbacks from a replaced session are dropped.
func (e *Engine) evaluate(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || len(e.flipped) != 2 {
		e.mu.Unlock()
		return
	}
	e.pending = nil

	a, b := &e.cards[e.flipped[0]], &e.cards[e.flipped[1]]
	e.attempts++
	if a.Identity == b.Identity {
		a.Matched, b.Matched = true, true
		e.matches++
	} else {
		a.FaceUp, b.FaceUp = false, false
	}
	e.flipped = nil
	e.locked = false

	var summary *Summary
	if len(e.cards) > 0 && e.matches == len(e.cards)/2 && !e.notified {
		e.notified = true
		e.completedAt = e.clock.Now()
		summary = &Summary{
			SessionID:   e.sessionID,
			StartedAt:   e.startedAt,
			CompletedAt: e.completedAt,
			Pairs:       e.matches,
			Attempts:    e.attempts,
		}
	}
	e.mu.Unlock()

	if summary != nil {
		e.complete(*summary)
	}
}

// complete runs the one-time completion side effects outside the lock.
func (e *Engine) complete(summary Summary) {
	e.logger.Info("Memory game completed",
		"session", summary.SessionID,
		"pairs", summary.Pairs,
		"attempts", summary.Attempts,
	)

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if e.quests != nil {
		if err := e.quests.LogQuestProgress(ctx, string(domain.QuestPlayMemoryCalm)); err != nil {
			e.logger.Warn("Failed to log quest progress", "quest", domain.QuestPlayMemoryCalm, "error", err)
		}
	}
	if e.recorder != nil {
		if err := e.recorder.RecordSession(ctx, summary); err != nil {
			e.logger.Warn("Failed to record game session", "session", summary.SessionID, "error", err)
		}
	}
}

// Stop cancels a pending evaluation. The deck stays readable.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelPendingLocked()
}

func (e *Engine) cancelPendingLocked() {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
	e.generation++
}

// State is a snapshot of the session. Face-down cards carry no identity.
// Untouched reports that no card has been turned since the deal.
type State struct {
	SessionID          string     `json:"session_id"`
	Cards              []Card     `json:"cards"`
	Matches            int        `json:"matches"`
	TotalPairs         int        `json:"total_pairs"`
	Attempts           int        `json:"attempts"`
	Locked             bool       `json:"locked"`
	Complete           bool       `json:"complete"`
	Untouched          bool       `json:"untouched"`
	CompletionNotified bool       `json:"completion_notified"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	untouched := true
	cards := make([]Card, len(e.cards))
	for i, c := range e.cards {
		if c.FaceUp || c.Matched {
			untouched = false
		}
		if !c.FaceUp && !c.Matched {
			c.Identity, c.Emoji = "", ""
		}
		cards[i] = c
	}

	st := State{
		SessionID:          e.sessionID,
		Cards:              cards,
		Matches:            e.matches,
		TotalPairs:         len(e.cards) / 2,
		Attempts:           e.attempts,
		Locked:             e.locked,
		Complete:           len(e.cards) > 0 && e.matches == len(e.cards)/2,
		Untouched:          untouched,
		CompletionNotified: e.notified,
		StartedAt:          e.startedAt,
	}
	if !e.completedAt.IsZero() {
		done := e.completedAt
		st.CompletedAt = &done
	}
	return st
}
