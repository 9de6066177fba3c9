package chat

import (
	"sync/atomic"
)

// Stats holds gateway counters. Persistence and generation failures are
// observability-only: they never reach the client, so they must be counted
// here and logged.
type Stats struct {
	activeConnections   atomic.Int64
	connectionsTotal    atomic.Int64
	messagesReceived    atomic.Int64
	generationFailures  atomic.Int64
	persistenceFailures atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	ActiveConnections   int64 `json:"active_connections"`
	ConnectionsTotal    int64 `json:"connections_total"`
	MessagesReceived    int64 `json:"messages_received"`
	GenerationFailures  int64 `json:"generation_failures"`
	PersistenceFailures int64 `json:"persistence_failures"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ActiveConnections:   s.activeConnections.Load(),
		ConnectionsTotal:    s.connectionsTotal.Load(),
		MessagesReceived:    s.messagesReceived.Load(),
		GenerationFailures:  s.generationFailures.Load(),
		PersistenceFailures: s.persistenceFailures.Load(),
	}
}

func (s *Stats) connectionOpened() {
	s.activeConnections.Add(1)
	s.connectionsTotal.Add(1)
}

func (s *Stats) connectionClosed() {
	s.activeConnections.Add(-1)
}

// CountPersistenceFailure records a best-effort write that was dropped.
func (s *Stats) CountPersistenceFailure() {
	s.persistenceFailures.Add(1)
}

// CountGenerationFailure records a failed generator call.
func (s *Stats) CountGenerationFailure() {
	s.generationFailures.Add(1)
}

func (s *Stats) countMessage() {
	s.messagesReceived.Add(1)
}
