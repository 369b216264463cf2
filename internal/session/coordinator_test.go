package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/kapu/chessync/internal/board"
	"github.com/kapu/chessync/internal/gateway"
	"github.com/kapu/chessync/internal/repl"
	"github.com/kapu/chessync/internal/snapshot"
)

// fakeGateway gives tests deterministic control over readiness, failures
// and completion timing.
type fakeGateway struct {
	mu      sync.Mutex
	ready   bool
	records map[string][]byte
	saveErr error
	block   chan struct{} // when set, Save/Load park here first
	saves   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{ready: true, records: make(map[string][]byte)}
}

func (f *fakeGateway) IsReady(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeGateway) Save(ctx context.Context, id string, payload []byte) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[id] = append([]byte(nil), payload...)
	f.saves++
	return nil
}

func (f *fakeGateway) Load(ctx context.Context, id string) ([]byte, bool, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.records[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), raw...), true, nil
}

func (f *fakeGateway) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type fixture struct {
	coord   *Coordinator
	board   *board.ChessBoard
	gw      *fakeGateway
	peer    *repl.Loopback
	results chan error
}

func newHostFixture(t *testing.T, gw *fakeGateway) *fixture {
	t.Helper()
	b := board.NewChessBoard()
	ch := repl.NewChannel(zap.NewNop())
	peer := repl.NewLoopback(64)
	ch.Attach(peer)
	coord := NewCoordinator(Config{
		Host:    true,
		Board:   b,
		Gateway: gw,
		Channel: ch,
		Logger:  zap.NewNop(),
	})
	results := make(chan error, 16)
	coord.SetResultHook(func(op Op, err error) { results <- err })
	return &fixture{coord: coord, board: b, gw: gw, peer: peer, results: results}
}

func (f *fixture) waitResult(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.results:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for operation result")
		return nil
	}
}

func (f *fixture) drainPeer() []repl.Event {
	var out []repl.Event
	for {
		select {
		case ev := <-f.peer.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestStartSessionAssignsID(t *testing.T) {
	f := newHostFixture(t, newFakeGateway())
	id, err := f.coord.StartSession()
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("expected 8 hex chars, got %q", id)
	}
	if f.coord.Status() != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", f.coord.Status())
	}
	evs := f.drainPeer()
	if len(evs) != 1 || evs[0].Type != repl.EventSessionIDAssigned || evs[0].SessionID != id {
		t.Fatalf("expected SessionIdAssigned broadcast, got %v", evs)
	}
	if len(f.coord.Snapshot()) != 32 {
		t.Fatalf("expected start position captured")
	}
}

func TestStartSessionGeneratesFreshIDs(t *testing.T) {
	f := newHostFixture(t, newFakeGateway())
	a, _ := f.coord.StartSession()
	b, _ := f.coord.StartSession()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestNonHostNeverMutatesState(t *testing.T) {
	b := board.NewChessBoard()
	ch := repl.NewChannel(zap.NewNop())
	peer := repl.NewLoopback(16)
	ch.Attach(peer)
	coord := NewCoordinator(Config{
		Host:    false,
		Board:   b,
		Gateway: newFakeGateway(),
		Channel: ch,
		Logger:  zap.NewNop(),
	})

	calls := []func() error{
		func() error { _, err := coord.StartSession(); return err },
		coord.Save,
		func() error { return coord.Load("a1b2c3d4") },
		func() error { _, err := coord.RecordMove(); return err },
		coord.End,
	}
	for i, call := range calls {
		if err := call(); !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("call %d: expected ErrNotAuthorized, got %v", i, err)
		}
	}
	if coord.Status() != StatusUninitialized || coord.SessionID() != "" || coord.MoveCount() != 0 {
		t.Fatalf("non-host call mutated state: status=%s id=%q moves=%d",
			coord.Status(), coord.SessionID(), coord.MoveCount())
	}
	select {
	case ev := <-peer.Events():
		t.Fatalf("non-host call broadcast %v", ev)
	default:
	}
}

func TestSaveHappyPath(t *testing.T) {
	f := newHostFixture(t, newFakeGateway())
	id, _ := f.coord.StartSession()
	f.drainPeer()

	for _, mv := range []string{"e2e4", "e7e5"} {
		if err := f.board.PushMove(mv); err != nil {
			t.Fatalf("PushMove: %v", err)
		}
		if _, err := f.coord.RecordMove(); err != nil {
			t.Fatalf("RecordMove: %v", err)
		}
	}

	if err := f.coord.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.waitResult(t); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if f.coord.Status() != StatusActive {
		t.Fatalf("expected ACTIVE after save, got %s", f.coord.Status())
	}
	if got := f.coord.LastSavedMoveIndex(); got != 2 {
		t.Fatalf("expected lastSavedMoveIndex 2, got %d", got)
	}

	raw := f.gw.records[id]
	if raw == nil {
		t.Fatalf("no record written for %s", id)
	}
	stored, err := snapshot.Unmarshal(raw)
	if err != nil {
		t.Fatalf("stored record malformed: %v", err)
	}
	if !stored.Equal(snapshot.Encode(f.board)) {
		t.Fatalf("stored snapshot differs from board")
	}

	evs := f.drainPeer()
	if len(evs) != 1 || evs[0].Type != repl.EventSaveCompleted || evs[0].SessionID != id {
		t.Fatalf("expected SaveCompleted broadcast, got %v", evs)
	}
}

func TestSaveRejectedWhileSaving(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	f := newHostFixture(t, gw)
	f.coord.StartSession()

	if err := f.coord.Save(); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := f.coord.Save(); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
	close(gw.block)
	if err := f.waitResult(t); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if gw.saveCount() != 1 {
		t.Fatalf("expected exactly one record written, got %d", gw.saveCount())
	}
}

func TestSaveRejectedWhileLoading(t *testing.T) {
	gw := newFakeGateway()
	f := newHostFixture(t, gw)
	id, _ := f.coord.StartSession()
	raw, _ := snapshot.Marshal(snapshot.Encode(f.board), time.Now())
	gw.records[id] = raw

	gw.mu.Lock()
	gw.block = make(chan struct{})
	gw.mu.Unlock()

	if err := f.coord.Load(id); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.coord.Save(); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
	if f.coord.Status() != StatusLoading {
		t.Fatalf("expected LOADING, got %s", f.coord.Status())
	}
	close(gw.block)
	if err := f.waitResult(t); err != nil {
		t.Fatalf("load result: %v", err)
	}
}

func TestSaveStoreNotReady(t *testing.T) {
	gw := newFakeGateway()
	gw.ready = false
	f := newHostFixture(t, gw)
	f.coord.StartSession()
	if err := f.coord.Save(); !errors.Is(err, ErrPersistenceUnavailable) {
		t.Fatalf("expected ErrPersistenceUnavailable, got %v", err)
	}
	if f.coord.Status() != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", f.coord.Status())
	}
}

func TestSaveLifecycleGuards(t *testing.T) {
	f := newHostFixture(t, newFakeGateway())
	if err := f.coord.Save(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession before start, got %v", err)
	}
	f.coord.StartSession()
	if err := f.coord.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := f.coord.Save(); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if err := f.coord.Load("a1b2c3d4"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded for load, got %v", err)
	}
}

func TestLoadMissingKeepsState(t *testing.T) {
	f := newHostFixture(t, newFakeGateway())
	id, _ := f.coord.StartSession()
	before := f.coord.Snapshot()
	f.drainPeer()

	if err := f.coord.Load("missing0"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.waitResult(t); !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if f.coord.Status() != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", f.coord.Status())
	}
	if f.coord.SessionID() != id {
		t.Fatalf("session id changed to %q", f.coord.SessionID())
	}
	if !f.coord.Snapshot().Equal(before) {
		t.Fatalf("snapshot changed after failed load")
	}
	if evs := f.drainPeer(); len(evs) != 0 {
		t.Fatalf("failed load broadcast %v", evs)
	}
}

func TestLoadMalformedKeepsState(t *testing.T) {
	gw := newFakeGateway()
	gw.records["badbadba"] = []byte(`{"pieces":[{"pieceType":"Wizard","color":"White","position":"e4"}]}`)
	f := newHostFixture(t, gw)
	f.coord.StartSession()
	before := f.coord.Snapshot()

	if err := f.coord.Load("badbadba"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.waitResult(t); !errors.Is(err, snapshot.ErrMalformedSnapshot) {
		t.Fatalf("expected ErrMalformedSnapshot, got %v", err)
	}
	if f.coord.Status() != StatusActive || !f.coord.Snapshot().Equal(before) {
		t.Fatalf("state changed after malformed load")
	}
}

func TestLoadAdoptsSessionAndBroadcasts(t *testing.T) {
	gw := newFakeGateway()

	// a previously saved mid-game position
	src := board.NewChessBoard()
	for _, mv := range []string{"e2e4", "c7c5", "g1f3"} {
		if err := src.PushMove(mv); err != nil {
			t.Fatalf("PushMove: %v", err)
		}
	}
	want := snapshot.Encode(src)
	raw, err := snapshot.Marshal(want, time.Now())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	gw.records["0ldgame1"] = raw

	f := newHostFixture(t, gw)
	f.coord.StartSession()
	f.drainPeer()

	if err := f.coord.Load("0ldgame1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.waitResult(t); err != nil {
		t.Fatalf("load result: %v", err)
	}
	if f.coord.SessionID() != "0ldgame1" {
		t.Fatalf("expected adopted id, got %q", f.coord.SessionID())
	}
	if f.coord.Status() != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", f.coord.Status())
	}
	if !snapshot.Encode(f.board).Equal(want) {
		t.Fatalf("board does not reflect loaded snapshot")
	}
	if f.coord.MoveCount() != 0 || f.coord.LastSavedMoveIndex() != 0 {
		t.Fatalf("counters not reset on load")
	}

	evs := f.drainPeer()
	if len(evs) != 1 || evs[0].Type != repl.EventStateLoaded {
		t.Fatalf("expected StateLoaded broadcast, got %v", evs)
	}
	loaded, err := snapshot.Unmarshal(evs[0].Snapshot)
	if err != nil || !loaded.Equal(want) {
		t.Fatalf("broadcast snapshot mismatch: %v", err)
	}
}

func TestStaleSaveCompletionDiscarded(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	f := newHostFixture(t, gw)
	f.coord.StartSession()
	f.drainPeer()

	if err := f.coord.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.coord.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	close(gw.block)

	select {
	case err := <-f.results:
		t.Fatalf("stale completion reported a result: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if f.coord.Status() != StatusEnded {
		t.Fatalf("expected ENDED, got %s", f.coord.Status())
	}
	if f.coord.LastSavedMoveIndex() != 0 {
		t.Fatalf("stale completion mutated lastSavedMoveIndex")
	}
	if evs := f.drainPeer(); len(evs) != 0 {
		t.Fatalf("stale completion broadcast %v", evs)
	}
}

func TestRecordMoveAdvancesAndRecaptures(t *testing.T) {
	f := newHostFixture(t, newFakeGateway())
	f.coord.StartSession()
	if err := f.board.PushMove("e2e4"); err != nil {
		t.Fatalf("PushMove: %v", err)
	}
	idx, err := f.coord.RecordMove()
	if err != nil || idx != 1 {
		t.Fatalf("RecordMove: idx=%d err=%v", idx, err)
	}
	if !f.coord.Snapshot().Equal(snapshot.Encode(f.board)) {
		t.Fatalf("working snapshot not recaptured on move")
	}
}

// Save against the real Redis-backed gateway, end to end.
func TestSaveAgainstRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	gw, err := gateway.NewRedisGateway(fmt.Sprintf("redis://%s/0", mr.Addr()), 0)
	if err != nil {
		t.Fatalf("NewRedisGateway: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })

	b := board.NewChessBoard()
	ch := repl.NewChannel(zap.NewNop())
	coord := NewCoordinator(Config{Host: true, Board: b, Gateway: gw, Channel: ch, Logger: zap.NewNop()})
	results := make(chan error, 1)
	coord.SetResultHook(func(op Op, err error) { results <- err })

	id, err := coord.StartSession()
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := coord.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	select {
	case err := <-results:
		if err != nil {
			t.Fatalf("save result: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for save")
	}

	payload, found, err := gw.Load(context.Background(), id)
	if err != nil || !found {
		t.Fatalf("Load after save: found=%v err=%v", found, err)
	}
	stored, err := snapshot.Unmarshal(payload)
	if err != nil || len(stored) != 32 {
		t.Fatalf("stored snapshot bad: len=%d err=%v", len(stored), err)
	}
}
