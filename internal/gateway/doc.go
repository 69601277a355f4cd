// Package gateway maintains one persistent WebSocket session with an
// AI-agent gateway. It negotiates the challenge handshake, correlates
// requests with responses, streams chat deltas, captures quick-command
// replies out of band, polls the session roster, and rides out short
// outages behind a grace period before surfacing a disconnect.
//
// All mutable state is owned by a single Client and guarded by one mutex.
// Every timer and pending callback is tagged with the epoch of the transport
// attempt that created it; tearing down a transport bumps the epoch, which
// makes everything scheduled on the old transport inert without needing to
// chase individual goroutines.
package gateway
