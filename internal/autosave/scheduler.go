// Package autosave drives periodic and move-count-triggered saves through
// the session coordinator. It never bypasses the coordinator's single
// outstanding operation rule: a trigger that lands while a save or load is
// pending is dropped for that occurrence, not retried.
package autosave

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chessync/internal/session"
)

// Saver is the slice of the coordinator the scheduler needs.
type Saver interface {
	Save() error
	LastSavedMoveIndex() int
}

// Config for the scheduler. Zero values fall back to 30s / every 5
// half-moves, the defaults the daemon ships with.
type Config struct {
	Interval   time.Duration
	EveryMoves int
	Enabled    bool
	Logger     *zap.Logger
}

type Scheduler struct {
	saver      Saver
	log        *zap.Logger
	interval   time.Duration
	everyMoves int

	enabled  atomic.Bool
	enableCh chan bool
}

func New(saver Saver, cfg Config) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	every := cfg.EveryMoves
	if every <= 0 {
		every = 5
	}
	s := &Scheduler{
		saver:      saver,
		log:        log,
		interval:   interval,
		everyMoves: every,
		enableCh:   make(chan bool, 1),
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// SetEnabled toggles auto-save. Disabling cancels the pending interval
// timer immediately.
func (s *Scheduler) SetEnabled(on bool) {
	s.enabled.Store(on)
	select {
	case s.enableCh <- on:
	default:
		// loop will read the atomic on its next wakeup
	}
	s.log.Info("autosave_toggle", zap.Bool("enabled", on))
}

// Run owns the interval timer until ctx is cancelled. Teardown is
// deterministic: the ticker is stopped on the way out, never leaked.
func (s *Scheduler) Run(ctx context.Context) {
	var tick *time.Ticker
	var tickC <-chan time.Time

	apply := func(on bool) {
		if on && tick == nil {
			tick = time.NewTicker(s.interval)
			tickC = tick.C
		}
		if !on && tick != nil {
			tick.Stop()
			tick, tickC = nil, nil
		}
	}
	apply(s.enabled.Load())
	defer func() {
		if tick != nil {
			tick.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case on := <-s.enableCh:
			apply(on)
		case <-tickC:
			s.trySave("interval")
		}
	}
}

// NoteMove is the coordinator's move hook: after every everyMoves-th
// half-move one save fires, at most once per qualifying index. A save that
// already covered this index (lastSavedMoveIndex caught up) suppresses the
// trigger.
func (s *Scheduler) NoteMove(moveIndex int) {
	if !s.enabled.Load() {
		return
	}
	if moveIndex <= 0 || moveIndex%s.everyMoves != 0 {
		return
	}
	if moveIndex <= s.saver.LastSavedMoveIndex() {
		return
	}
	s.trySave("move_count")
}

func (s *Scheduler) trySave(trigger string) {
	err := s.saver.Save()
	switch {
	case err == nil:
		s.log.Info("autosave_trigger", zap.String("trigger", trigger))
	case errors.Is(err, session.ErrOperationInProgress):
		s.log.Debug("autosave_dropped", zap.String("trigger", trigger), zap.String("reason", "operation_in_progress"))
	case errors.Is(err, session.ErrNoSession):
		s.log.Debug("autosave_dropped", zap.String("trigger", trigger), zap.String("reason", "no_session"))
	default:
		s.log.Warn("autosave_error", zap.String("trigger", trigger), zap.Error(err))
	}
}
