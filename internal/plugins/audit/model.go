// Package audit records security-relevant events (logins, password
// changes, role grants) to an append-only log. Recording never fails the
// operation being observed: a broken audit pipeline degrades to an error
// log line, not a failed login.
package audit

import "time"

// Entry is one audit log record. Meta holds small event-specific details
// (provider name, target email) and is stored as JSON.
type Entry struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	UserID    *string        `json:"user_id,omitempty"`
	IPAddress *string        `json:"ip_address,omitempty"`
	UserAgent *string        `json:"user_agent,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListFilter narrows an audit log query. Zero values mean "no filter".
type ListFilter struct {
	UserID string
	Event  string
	Offset int
	Limit  int
}
