package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chessync/internal/board"
	"github.com/kapu/chessync/internal/gateway"
	"github.com/kapu/chessync/internal/repl"
	"github.com/kapu/chessync/internal/snapshot"
)

// Status is the coordinator lifecycle state.
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusActive        Status = "ACTIVE"
	StatusSaving        Status = "SAVING"
	StatusLoading       Status = "LOADING"
	StatusEnded         Status = "ENDED"
)

// Op names an accepted persistence operation for result reporting.
type Op string

const (
	OpSave Op = "save"
	OpLoad Op = "load"
)

// Config wires a coordinator. Board, Gateway and Channel are required;
// Archive is optional best-effort history.
type Config struct {
	Host    bool
	Board   board.Board
	Gateway gateway.Gateway
	Channel *repl.Channel
	Archive *gateway.Archive
	Logger  *zap.Logger

	// OpTimeout bounds each gateway call. Zero means 10s.
	OpTimeout time.Duration
}

// pendingOp identifies an in-flight gateway call so a completion that
// arrives after the session moved on can be discarded.
type pendingOp struct {
	seq       uint64
	sessionID string
	moveIndex int
	payload   []byte
}

// Coordinator owns the authoritative session state. Exactly one process
// runs with Host=true; it is the only writer. All mutation is funneled
// through the method set below, and every failure path leaves state
// untouched.
type Coordinator struct {
	log     *zap.Logger
	host    bool
	board   board.Board
	gw      gateway.Gateway
	ch      *repl.Channel
	archive *gateway.Archive
	timeout time.Duration

	mu                 sync.Mutex
	status             Status
	sessionID          string
	snap               snapshot.Snapshot
	moveCount          int
	lastSavedMoveIndex int
	opSeq              uint64

	onMove   func(moveIndex int)
	onResult func(op Op, err error)
}

func NewCoordinator(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		log:     log,
		host:    cfg.Host,
		board:   cfg.Board,
		gw:      cfg.Gateway,
		ch:      cfg.Channel,
		archive: cfg.Archive,
		timeout: timeout,
		status:  StatusUninitialized,
	}
}

// SetMoveHook registers the auto-save scheduler's move listener. Called
// once at wiring time, before any moves flow.
func (c *Coordinator) SetMoveHook(fn func(moveIndex int)) { c.onMove = fn }

// SetResultHook registers the receiver for async save/load outcomes.
func (c *Coordinator) SetResultHook(fn func(op Op, err error)) { c.onResult = fn }

// NewSessionID returns 8 hex characters from crypto/rand.
func NewSessionID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// stdlib crypto/rand does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}

// StartSession generates a fresh session id, captures the current board
// snapshot as the authoritative state, and announces the id to peers.
// Host-only. Allowed from Uninitialized (first game) and Active (new
// game); rejected while a persistence operation is pending.
func (c *Coordinator) StartSession() (string, error) {
	if !c.host {
		c.log.Warn("session_start_rejected", zap.String("reason", "not_host"))
		return "", ErrNotAuthorized
	}
	c.mu.Lock()
	switch c.status {
	case StatusSaving, StatusLoading:
		c.mu.Unlock()
		return "", ErrOperationInProgress
	case StatusEnded:
		c.mu.Unlock()
		return "", ErrSessionEnded
	}
	id := NewSessionID()
	c.sessionID = id
	c.snap = snapshot.Encode(c.board)
	c.moveCount = 0
	c.lastSavedMoveIndex = 0
	c.opSeq++ // orphan any completion from a previous session
	c.status = StatusActive
	c.mu.Unlock()

	c.log.Info("session_start", zap.String("session_id", id))
	c.ch.Broadcast(repl.SessionIDAssigned(id))
	return id, nil
}

// RecordMove registers one half-move: the board is re-captured and the
// move counter advanced. Host-only. Returns the new half-move index.
func (c *Coordinator) RecordMove() (int, error) {
	if !c.host {
		return 0, ErrNotAuthorized
	}
	c.mu.Lock()
	switch c.status {
	case StatusUninitialized:
		c.mu.Unlock()
		return 0, ErrNoSession
	case StatusEnded:
		c.mu.Unlock()
		return 0, ErrSessionEnded
	}
	c.snap = snapshot.Encode(c.board)
	c.moveCount++
	idx := c.moveCount
	c.mu.Unlock()

	if c.onMove != nil {
		c.onMove(idx)
	}
	return idx, nil
}

// Save writes the current snapshot to the store. Host-only, at most one
// outstanding persistence operation. A nil return means the save was
// accepted; the outcome arrives through the result hook and, on success,
// a SaveCompleted broadcast.
func (c *Coordinator) Save() error {
	if !c.host {
		c.log.Warn("save_rejected", zap.String("reason", "not_host"))
		return ErrNotAuthorized
	}
	c.mu.Lock()
	switch c.status {
	case StatusUninitialized:
		c.mu.Unlock()
		return ErrNoSession
	case StatusEnded:
		c.mu.Unlock()
		return ErrSessionEnded
	case StatusSaving, StatusLoading:
		c.mu.Unlock()
		return ErrOperationInProgress
	}
	if !c.storeReady() {
		c.mu.Unlock()
		c.log.Warn("save_rejected", zap.String("reason", "store_not_ready"))
		return ErrPersistenceUnavailable
	}
	payload, err := snapshot.Marshal(c.snap, time.Now().UTC())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.opSeq++
	op := pendingOp{seq: c.opSeq, sessionID: c.sessionID, moveIndex: c.moveCount, payload: payload}
	c.status = StatusSaving
	c.mu.Unlock()

	c.log.Info("save_begin", zap.String("session_id", op.sessionID), zap.Int("move_index", op.moveIndex))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.completeSave(op, c.gw.Save(ctx, op.sessionID, op.payload))
	}()
	return nil
}

func (c *Coordinator) completeSave(op pendingOp, saveErr error) {
	c.mu.Lock()
	if c.opSeq != op.seq || c.sessionID != op.sessionID || c.status != StatusSaving {
		c.mu.Unlock()
		c.log.Debug("save_completion_stale", zap.String("session_id", op.sessionID), zap.Uint64("op_seq", op.seq))
		return
	}
	c.status = StatusActive
	if saveErr == nil && op.moveIndex > c.lastSavedMoveIndex {
		c.lastSavedMoveIndex = op.moveIndex
	}
	c.mu.Unlock()

	if saveErr != nil {
		c.log.Error("save_failed", zap.String("session_id", op.sessionID), zap.Error(saveErr))
		c.report(OpSave, ErrPersistenceFailure)
		return
	}
	c.log.Info("save_complete", zap.String("session_id", op.sessionID), zap.Int("move_index", op.moveIndex))
	c.ch.Broadcast(repl.SaveCompleted(op.sessionID))
	c.archiveSave(op)
	c.report(OpSave, nil)
}

// archiveSave mirrors a completed save into the optional Postgres archive.
// Failures are logged and swallowed; the store write already succeeded.
func (c *Coordinator) archiveSave(op pendingOp) {
	if c.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.archive.RecordSave(ctx, op.sessionID, op.payload, op.moveIndex, time.Now().UTC()); err != nil {
		c.log.Error("archive_save_error", zap.String("session_id", op.sessionID), zap.Error(err))
	}
}

// Load reads the record for id, decodes it, adopts id as the current
// session and broadcasts the snapshot to peers. Host-only, single
// outstanding operation. Missing or malformed records leave prior state
// unchanged; there is no fallback to a blank board.
func (c *Coordinator) Load(id string) error {
	if !c.host {
		c.log.Warn("load_rejected", zap.String("session_id", id), zap.String("reason", "not_host"))
		return ErrNotAuthorized
	}
	c.mu.Lock()
	switch c.status {
	case StatusEnded:
		c.mu.Unlock()
		return ErrSessionEnded
	case StatusSaving, StatusLoading:
		c.mu.Unlock()
		return ErrOperationInProgress
	}
	if !c.storeReady() {
		c.mu.Unlock()
		c.log.Warn("load_rejected", zap.String("session_id", id), zap.String("reason", "store_not_ready"))
		return ErrPersistenceUnavailable
	}
	c.opSeq++
	op := pendingOp{seq: c.opSeq, sessionID: c.sessionID}
	prev := c.status
	c.status = StatusLoading
	c.mu.Unlock()

	c.log.Info("load_begin", zap.String("session_id", id))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		payload, found, err := c.gw.Load(ctx, id)
		c.completeLoad(op, prev, id, payload, found, err)
	}()
	return nil
}

func (c *Coordinator) completeLoad(op pendingOp, prev Status, id string, payload []byte, found bool, loadErr error) {
	// fail restores the prior state and reports, unless the session
	// already moved on, in which case the completion is silently stale.
	fail := func(reason string, cause, report error) {
		c.mu.Lock()
		if c.opSeq != op.seq || c.status != StatusLoading {
			c.mu.Unlock()
			c.log.Debug("load_completion_stale", zap.String("session_id", id), zap.Uint64("op_seq", op.seq))
			return
		}
		c.status = prev
		c.mu.Unlock()
		c.log.Error("load_failed",
			zap.String("session_id", id),
			zap.String("reason", reason),
			zap.Error(cause),
		)
		c.report(OpLoad, report)
	}

	if loadErr != nil {
		fail("store_error", loadErr, ErrPersistenceFailure)
		return
	}
	if !found {
		fail("not_found", nil, ErrPersistenceFailure)
		return
	}
	snap, err := snapshot.Unmarshal(payload)
	if err != nil {
		fail("malformed", err, err)
		return
	}

	c.mu.Lock()
	if c.opSeq != op.seq || c.status != StatusLoading {
		c.mu.Unlock()
		c.log.Debug("load_completion_stale", zap.String("session_id", id), zap.Uint64("op_seq", op.seq))
		return
	}
	if err := c.board.ApplySnapshot(snap); err != nil {
		c.status = prev
		c.mu.Unlock()
		c.log.Error("load_failed", zap.String("session_id", id), zap.String("reason", "board_apply"), zap.Error(err))
		c.report(OpLoad, err)
		return
	}
	c.snap = snap
	c.sessionID = id
	c.moveCount = 0
	c.lastSavedMoveIndex = 0
	c.status = StatusActive
	c.mu.Unlock()

	c.log.Info("load_complete", zap.String("session_id", id), zap.Int("pieces", len(snap)))
	c.ch.Broadcast(repl.StateLoaded(id, payload))
	c.report(OpLoad, nil)
}

// End moves the session to its terminal state. Host-only. In-flight
// gateway calls run to completion but their results are discarded as
// stale.
func (c *Coordinator) End() error {
	if !c.host {
		return ErrNotAuthorized
	}
	c.mu.Lock()
	c.status = StatusEnded
	c.opSeq++ // orphan any pending completion
	id := c.sessionID
	c.mu.Unlock()
	c.log.Info("session_end", zap.String("session_id", id))
	return nil
}

func (c *Coordinator) report(op Op, err error) {
	if c.onResult != nil {
		c.onResult(op, err)
	}
}

// storeReady probes the gateway with a short bound; readiness is checked
// before every persistence call.
func (c *Coordinator) storeReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.gw.IsReady(ctx)
}

// SessionID exposes the current match id to other components (status API,
// peers joining late). Explicit accessor by contract: nothing reads this
// state any other way.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) MoveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveCount
}

func (c *Coordinator) LastSavedMoveIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSavedMoveIndex
}

// Snapshot returns a copy of the authoritative working snapshot.
func (c *Coordinator) Snapshot() snapshot.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(snapshot.Snapshot(nil), c.snap...)
}
