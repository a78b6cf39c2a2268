package bridge

import "time"

// Session defines the reliability envelope of the TCP link.
type Session struct {
	// ConnectTimeout bounds both the dial and the wait for readiness in
	// Transmit. Kept below IdleTimeout so a stalled connect surfaces
	// before the link would be declared dead anyway.
	ConnectTimeout time.Duration

	// IdleTimeout is the inactivity window after which a connected link
	// is declared dead.
	IdleTimeout time.Duration

	// KeepAlivePeriod is the TCP keep-alive probe interval once connected.
	KeepAlivePeriod time.Duration

	WriteTimeout time.Duration

	// EventBuffer sizes the notification channel.
	EventBuffer int
}

func DefaultSession() Session {
	return Session{
		ConnectTimeout:  10 * time.Second,
		IdleTimeout:     15 * time.Second,
		KeepAlivePeriod: 5 * time.Second,
		WriteTimeout:    10 * time.Second,
		EventBuffer:     64,
	}
}

func (s Session) WithDefaults() Session {
	def := DefaultSession()
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = def.ConnectTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = def.IdleTimeout
	}
	if s.KeepAlivePeriod <= 0 {
		s.KeepAlivePeriod = def.KeepAlivePeriod
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = def.WriteTimeout
	}
	if s.EventBuffer <= 0 {
		s.EventBuffer = def.EventBuffer
	}
	return s
}
