package reminder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Sink plays the reminder sound. Play must return once ctx is cancelled.
type Sink interface {
	Play(ctx context.Context) error
}

// chime owns the audio sink. Only one playback is in flight at a time; a new
// play cancels the previous one.
type chime struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *chime) play(parent context.Context) {
	if c.sink == nil {
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()
		if err := c.sink.Play(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Audio blocked", "error", err)
		}
	}()
}

// stop cancels any in-flight playback and waits for it to return.
func (c *chime) stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Bell rings the terminal bell Repeat times, Gap apart.
type Bell struct {
	W      io.Writer
	Repeat int
	Gap    time.Duration
}

func (b Bell) Play(ctx context.Context) error {
	repeat := b.Repeat
	if repeat <= 0 {
		repeat = 1
	}
	for i := 0; i < repeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Gap):
			}
		}
		if _, err := io.WriteString(b.W, "\a"); err != nil {
			return fmt.Errorf("failed to ring bell: %w", err)
		}
	}
	return nil
}

// AlertSink presents a fired alert to the user.
type AlertSink interface {
	Show(ctx context.Context, alert Alert)
}

// LogAlerts writes fired alerts to a logger.
type LogAlerts struct {
	Logger *slog.Logger
}

func (l LogAlerts) Show(_ context.Context, alert Alert) {
	l.Logger.Info(alert.Title, "message", alert.Message, "preferred_time", alert.PreferredTime.String())
}
