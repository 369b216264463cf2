// Package gateway holds the persistence boundary: save/load of session
// records against an external store. The gateway never retries, queues, or
// buffers; every failure is surfaced to the caller, which owns the retry
// decision.
package gateway

import "context"

// Gateway is the store contract the session coordinator consumes.
// IsReady must be checked before every call; a gateway that is not ready
// rejects operations without touching the network.
type Gateway interface {
	IsReady(ctx context.Context) bool
	Save(ctx context.Context, id string, payload []byte) error
	Load(ctx context.Context, id string) (payload []byte, found bool, err error)
}
