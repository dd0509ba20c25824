// Package oauth manages per-user social provider connections: the consent
// redirect, the single-use state round trip, token storage and the quota on
// identity switches and disconnects.
//
// A connection moves disconnected → pending_state (Start) → connected
// (Callback). A later Callback for a different provider identity is a
// switch and consumes one change; Disconnect also consumes one. Callbacks
// and disconnects for one (user, provider) pair run under a distributed
// lock.
package oauth
