package domain

import "time"

// MonitoringSession tracks one (lead trader, venue) pair being watched by
// the trade monitor. Exactly one live adapter instance is bound per active
// session; sessions never share a credentialed adapter.
type MonitoringSession struct {
	ID             string           // Unique session identifier
	TraderID       string           // Lead trader being monitored
	Venue          string           // Venue name (e.g. "binance")
	Symbols        []string         // Optional symbol allow-list (empty = all)
	IsActive       bool             // False once the session is removed
	Status         ConnectionStatus // Current connection state
	LastHeartbeat  time.Time        // Updated every completed poll tick
	EventsReceived int64            // Poll ticks completed for this session
	TradesDetected int64            // Events actually emitted
	CreatedAt      time.Time        // When the session was created
}

// AllowsSymbol reports whether the session's allow-list admits the symbol.
// An empty allow-list admits everything.
func (s *MonitoringSession) AllowsSymbol(symbol string) bool {
	if len(s.Symbols) == 0 {
		return true
	}
	for _, allowed := range s.Symbols {
		if allowed == symbol {
			return true
		}
	}
	return false
}
