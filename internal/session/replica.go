package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chessync/internal/board"
	"github.com/kapu/chessync/internal/repl"
	"github.com/kapu/chessync/internal/snapshot"
)

// Replica is the read-only projection every non-host process (and the
// host's own UI) holds. It is mutated only by applying replication events
// in delivery order; duplicates are detected by sequence number and
// applied as no-ops.
type Replica struct {
	log   *zap.Logger
	board board.Board

	mu          sync.Mutex
	sessionID   string
	snap        snapshot.Snapshot
	lastSeq     uint64
	lastSavedAt time.Time
}

// NewReplica wraps a local board that mirrors the authoritative state.
// The board may be nil for projections that only track metadata.
func NewReplica(b board.Board, log *zap.Logger) *Replica {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replica{log: log, board: b}
}

// Apply consumes one replication event. At-least-once delivery means the
// same event may arrive twice; a seq at or below the last applied one is
// ignored.
func (r *Replica) Apply(ev repl.Event) error {
	r.mu.Lock()
	if ev.Seq != 0 && ev.Seq <= r.lastSeq {
		r.mu.Unlock()
		r.log.Debug("replica_duplicate_event", zap.Uint64("seq", ev.Seq), zap.String("type", string(ev.Type)))
		return nil
	}

	switch ev.Type {
	case repl.EventSessionIDAssigned:
		r.sessionID = ev.SessionID
		r.snap = nil
	case repl.EventSaveCompleted:
		r.lastSavedAt = time.Now()
	case repl.EventStateLoaded:
		snap, err := snapshot.Unmarshal(ev.Snapshot)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		if r.board != nil {
			if err := r.board.ApplySnapshot(snap); err != nil {
				r.mu.Unlock()
				return err
			}
		}
		r.snap = snap
		if ev.SessionID != "" {
			r.sessionID = ev.SessionID
		}
	default:
		r.mu.Unlock()
		r.log.Warn("replica_unknown_event", zap.String("type", string(ev.Type)), zap.Uint64("seq", ev.Seq))
		return nil
	}
	r.lastSeq = ev.Seq
	r.mu.Unlock()

	r.log.Info("replica_apply", zap.String("type", string(ev.Type)), zap.Uint64("seq", ev.Seq), zap.String("session_id", ev.SessionID))
	return nil
}

func (r *Replica) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Replica) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

func (r *Replica) LastSavedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSavedAt
}

// Snapshot returns a copy of the replica's last applied snapshot.
func (r *Replica) Snapshot() snapshot.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(snapshot.Snapshot(nil), r.snap...)
}
