// Package timer implements the shared countdown state machine. The
// authoritative state (absolute start time, duration, paused remainder) lives
// on the board document; every client derives the displayed remaining time
// from those fields once per second, so displays converge regardless of
// network latency, clock skew or when a client joined the countdown.
package timer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/DigitalEpidemic/retro-tool-sub000/domain"
	"github.com/DigitalEpidemic/retro-tool-sub000/store"
)

// graceDelay is how long a finished countdown stays frozen at zero before the
// auto-expiry reset is written, so the zero is visibly rendered.
const graceDelay = time.Second

// ValidationError reports a malformed MM:SS duration edit. The edit is
// discarded without a write and the displayed value reverts.
type ValidationError struct {
	Input string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid timer duration %q: expected MM:SS with seconds 00-59", e.Input)
}

// BoardStore is what the controller needs from the board service.
type BoardStore interface {
	Get(ctx context.Context, boardID string) (*domain.Board, error)
	Update(ctx context.Context, boardID string, fields store.Document) error
}

// Controller drives timer transitions and owns the local display tick. At
// most one tick loop runs per board; starting a new one always cancels the
// previous one, enforced here rather than by caller discipline.
type Controller struct {
	boards BoardStore
	clock  clockwork.Clock
	logger *log.Logger

	mu    sync.Mutex
	loops map[string]*tickLoop
}

type tickLoop struct {
	shape  string
	cancel context.CancelFunc
}

// NewController creates a timer controller.
func NewController(boards BoardStore, clock clockwork.Clock, logger *log.Logger) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{
		boards: boards,
		clock:  clock,
		logger: logger,
		loops:  make(map[string]*tickLoop),
	}
}

// Start begins a run from Idle or Paused. The run's duration is the paused
// remainder when one exists, otherwise the configured duration. The original
// duration is left untouched so Reset can restore it later.
func (c *Controller) Start(ctx context.Context, boardID string) error {
	b, err := c.boards.Get(ctx, boardID)
	if err != nil {
		return err
	}
	if b.TimerIsRunning {
		c.logger.WithField("board", boardID).Warn("start ignored: timer already running")
		return nil
	}

	duration := b.TimerOriginalDurationSeconds
	if duration <= 0 {
		duration = domain.DefaultTimerSeconds
	}
	if b.TimerPausedDurationSeconds != nil {
		duration = *b.TimerPausedDurationSeconds
	}

	return c.boards.Update(ctx, boardID, store.Document{
		"timerIsRunning":             true,
		"timerStartTime":             c.clock.Now().UnixMilli(),
		"timerDurationSeconds":       duration,
		"timerPausedDurationSeconds": nil,
	})
}

// Pause freezes the remaining time of a running countdown. Pausing a timer
// that is not running is an invalid transition the normal UI flow prevents;
// it is logged and ignored rather than surfaced.
func (c *Controller) Pause(ctx context.Context, boardID string) error {
	b, err := c.boards.Get(ctx, boardID)
	if err != nil {
		return err
	}
	if !b.TimerIsRunning || b.TimerStartTime == nil {
		c.logger.WithField("board", boardID).Warn("pause ignored: timer not running")
		return nil
	}

	remaining := Remaining(b, c.clock.Now())
	return c.boards.Update(ctx, boardID, store.Document{
		"timerIsRunning":             false,
		"timerStartTime":             nil,
		"timerPausedDurationSeconds": remaining,
	})
}

// Reset returns the timer to a full, stopped countdown of targetSeconds.
// A non-positive target falls back to the board's original duration. Reset is
// idempotent for a given target, which is what makes redundant auto-expiry
// writes from several clients harmless.
func (c *Controller) Reset(ctx context.Context, boardID string, targetSeconds int) error {
	if targetSeconds <= 0 {
		b, err := c.boards.Get(ctx, boardID)
		if err != nil {
			return err
		}
		targetSeconds = b.TimerOriginalDurationSeconds
		if targetSeconds <= 0 {
			targetSeconds = domain.DefaultTimerSeconds
		}
	}
	return c.boards.Update(ctx, boardID, resetFields(targetSeconds))
}

// EditDuration reconfigures the countdown from an MM:SS string. Only
// permitted while the timer is not running; a malformed value yields a
// ValidationError and no write.
func (c *Controller) EditDuration(ctx context.Context, boardID, value string) error {
	b, err := c.boards.Get(ctx, boardID)
	if err != nil {
		return err
	}
	if b.TimerIsRunning {
		c.logger.WithField("board", boardID).Warn("duration edit ignored: timer running")
		return nil
	}
	secs, err := ParseDuration(value)
	if err != nil {
		return err
	}
	return c.boards.Update(ctx, boardID, resetFields(secs))
}

func resetFields(target int) store.Document {
	return store.Document{
		"timerIsRunning":               false,
		"timerStartTime":               nil,
		"timerDurationSeconds":         target,
		"timerPausedDurationSeconds":   target,
		"timerOriginalDurationSeconds": target,
	}
}

// ParseDuration parses an MM:SS string into whole seconds. Minutes may be any
// non-negative number; seconds must be in [0, 59].
func ParseDuration(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, ValidationError{Input: value}
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil || minutes < 0 {
		return 0, ValidationError{Input: value}
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil || seconds < 0 || seconds > 59 {
		return 0, ValidationError{Input: value}
	}
	return minutes*60 + seconds, nil
}

// FormatDuration renders whole seconds as MM:SS for display.
func FormatDuration(totalSeconds int) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	return fmt.Sprintf("%d:%02d", totalSeconds/60, totalSeconds%60)
}

// Remaining computes the seconds left on the countdown at the given instant.
// While running it derives from the absolute start timestamp, clamped at
// zero; while paused it is the frozen remainder; otherwise the configured
// duration.
func Remaining(b *domain.Board, now time.Time) int {
	if b.TimerIsRunning && b.TimerStartTime != nil {
		endMilli := b.TimerStartTime.UnixMilli() + int64(b.TimerDurationSeconds)*1000
		remaining := (endMilli - now.UnixMilli()) / 1000
		if remaining < 0 {
			remaining = 0
		}
		return int(remaining)
	}
	if b.TimerPausedDurationSeconds != nil {
		return *b.TimerPausedDurationSeconds
	}
	if b.TimerDurationSeconds > 0 {
		return b.TimerDurationSeconds
	}
	return b.TimerOriginalDurationSeconds
}

// Observe reconciles the local display tick with the timer fields of a board
// snapshot; call it on every board delivery. When the fields change shape the
// previous loop (and any pending auto-expiry) is cancelled before a new one
// starts. While running, onTick fires once per second with the recomputed
// remaining time; when the countdown hits zero the display freezes there and,
// after a short grace delay, this client writes the auto-expiry Reset using
// the duration that was running.
func (c *Controller) Observe(ctx context.Context, b *domain.Board, onTick func(remaining int)) {
	if b == nil {
		return
	}
	shape := timerShape(b)

	c.mu.Lock()
	if loop, ok := c.loops[b.ID]; ok {
		if loop.shape == shape {
			c.mu.Unlock()
			return
		}
		loop.cancel()
		delete(c.loops, b.ID)
	}
	if !b.TimerIsRunning || b.TimerStartTime == nil {
		c.mu.Unlock()
		if onTick != nil {
			onTick(Remaining(b, c.clock.Now()))
		}
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.loops[b.ID] = &tickLoop{shape: shape, cancel: cancel}
	c.mu.Unlock()

	go c.runCountdown(loopCtx, b, onTick)
}

// Stop cancels the board's tick loop on view teardown.
func (c *Controller) Stop(boardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loop, ok := c.loops[boardID]; ok {
		loop.cancel()
		delete(c.loops, boardID)
	}
}

func timerShape(b *domain.Board) string {
	start := int64(0)
	if b.TimerStartTime != nil {
		start = b.TimerStartTime.UnixMilli()
	}
	paused := -1
	if b.TimerPausedDurationSeconds != nil {
		paused = *b.TimerPausedDurationSeconds
	}
	return fmt.Sprintf("%t/%d/%d/%d", b.TimerIsRunning, start, b.TimerDurationSeconds, paused)
}

func (c *Controller) runCountdown(ctx context.Context, b *domain.Board, onTick func(int)) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		remaining := Remaining(b, c.clock.Now())
		if onTick != nil {
			onTick(remaining)
		}
		if remaining <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(graceDelay):
			}
			// One client writing this is enough; every client observing
			// zero may do it because Reset is idempotent for this target.
			if err := c.Reset(ctx, b.ID, b.TimerDurationSeconds); err != nil {
				// Nobody is necessarily around to see an expiry failure.
				c.logger.WithField("board", b.ID).Errorf("auto-expire reset failed: %v", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}
