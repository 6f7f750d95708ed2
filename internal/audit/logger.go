package audit

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Audited actions.
const (
	ActionCodeIssued    = "authorization_code.issued"
	ActionTokenIssued   = "token.issued"
	ActionTokenRefresh  = "token.refreshed"
	ActionTokenRevoked  = "token.revoked"
	ActionClientAuth    = "client.authenticated"
	ActionClientCreated = "client.created"
	ActionClientUpdated = "client.updated"
	ActionClientSecret  = "client.secret_reset"
	ActionClientDeleted = "client.deleted"
)

// Event represents an audit log event. It never carries secrets; Target is a
// record or client ID.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	ClientID  string    `json:"client_id,omitempty"`
	User      string    `json:"user,omitempty"`
	Target    string    `json:"target,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

var (
	mu          sync.RWMutex
	auditLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// SetOutput redirects audit events to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	auditLogger = zerolog.New(w).With().Timestamp().Logger()
}

// Log records an audit event.
func Log(service, action, clientID, user, target string, success bool, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Service:   service,
		Action:    action,
		ClientID:  clientID,
		User:      user,
		Target:    target,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}

	mu.RLock()
	defer mu.RUnlock()

	auditLogger.Log().
		Str("service", event.Service).
		Str("action", event.Action).
		Str("client_id", event.ClientID).
		Str("user", event.User).
		Str("target", event.Target).
		Bool("success", event.Success).
		Str("error", event.Error).
		Time("event_time", event.Timestamp).
		Msg("audit")
}
