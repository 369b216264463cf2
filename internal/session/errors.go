package session

// Failure taxonomy of the coordinator boundary. Every failure leaves the
// session state exactly as it was; none is fatal to the process.
var (
	// ErrNotAuthorized rejects mutating calls from non-host processes.
	ErrNotAuthorized = staticErr("not authorized: host-only operation")
	// ErrOperationInProgress rejects a save/load while another persistence
	// operation is pending. Requests are never queued.
	ErrOperationInProgress = staticErr("persistence operation already in progress")
	// ErrPersistenceUnavailable aborts an operation before any network
	// call because the store is not ready.
	ErrPersistenceUnavailable = staticErr("persistence store not ready")
	// ErrPersistenceFailure reports a reachable store that failed the
	// specific save or load (including load of a missing record).
	ErrPersistenceFailure = staticErr("persistence operation failed")
	// ErrSessionEnded rejects operations after teardown.
	ErrSessionEnded = staticErr("session has ended")
	// ErrNoSession rejects save/load before any session was started.
	ErrNoSession = staticErr("no active session")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
