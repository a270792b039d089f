// Package session holds the gateway's per-token session state.
//
// A session carries no payload beyond its existence. The gateway owns exactly
// one Store for its lifetime; nothing in this package is global.
package session

// Store is the set of active sessions keyed by token.
//
// Every method is linearizable per key. Operations on different tokens never
// contend on a shared lock.
type Store interface {
	// TryCreate inserts a session for token iff none exists.
	// Returns true when the insert happened.
	TryCreate(token string) bool

	// Exists reports whether a session for token is active.
	Exists(token string) bool

	// TryDelete removes the session for token iff present.
	// Returns true when a removal happened.
	TryDelete(token string) bool
}
