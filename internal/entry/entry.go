// Package entry manages config entries: one configured account per entry,
// persisted across restarts, set up and torn down through plugin handlers.
package entry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/joshp123/deyehome/internal/entity"
)

// State is the runtime lifecycle state of an entry.
type State string

const (
	StateNotLoaded      State = "not_loaded"
	StateLoaded         State = "loaded"
	StateSetupError     State = "setup_error"
	StateSetupRetry     State = "setup_retry"
	StateSetupAuthError State = "setup_auth_error"
)

// Well-known data keys.
const (
	DataUsername  = "username"
	DataPassword  = "password"
	DataAuthToken = "auth_token"
)

var (
	// ErrAuthFailed aborts setup and marks the entry as needing reauth.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotReady is a transient setup failure; setup is retried.
	ErrNotReady = errors.New("entry not ready")
	// ErrCannotConnect is returned by flow validation when upstream is unreachable.
	ErrCannotConnect = errors.New("cannot connect")

	ErrEntryNotFound  = errors.New("config entry not found")
	ErrUnknownDomain  = errors.New("no handler for domain")
	ErrAlreadyLoaded  = errors.New("config entry already loaded")
	ErrSetupRunning   = errors.New("config entry setup already running")
	ErrSetupCancelled = errors.New("config entry unloaded during setup")
	ErrManagerClosed  = errors.New("entry manager closed")
	ErrMissingSession = errors.New("handler returned no session")
)

// Entry is one configured account.
type Entry struct {
	ID       string            `json:"entry_id"`
	Domain   string            `json:"domain"`
	Title    string            `json:"title"`
	UniqueID string            `json:"unique_id"`
	Data     map[string]string `json:"data"`
	State    State             `json:"state"`
	Reason   string            `json:"reason,omitempty"`
}

func (e Entry) clone() Entry {
	out := e
	out.Data = make(map[string]string, len(e.Data))
	for k, v := range e.Data {
		out.Data[k] = v
	}
	return out
}

// Redacted hides secrets for display.
func (e Entry) Redacted() Entry {
	out := e.clone()
	for _, key := range []string{DataPassword, DataAuthToken} {
		if out.Data[key] != "" {
			out.Data[key] = "**REDACTED**"
		}
	}
	return out
}

// Host is what the manager offers to handlers during setup.
type Host interface {
	// UpdateEntryData merges data into the entry and persists it.
	UpdateEntryData(entryID string, data map[string]string) error
}

// FlowResult is the outcome of validating user input.
type FlowResult struct {
	Title    string
	UniqueID string
	Data     map[string]string
}

// Handler is implemented by plugins that own a config-entry domain.
type Handler interface {
	Domain() string
	// ValidateInput checks credentials. Errors wrapping ErrAuthFailed or
	// ErrCannotConnect are reported as invalid_auth and cannot_connect.
	ValidateInput(ctx context.Context, input map[string]string) (FlowResult, error)
	// SetupEntry authenticates and returns a live session. Return errors
	// wrapping ErrAuthFailed or ErrNotReady to steer the manager.
	SetupEntry(ctx context.Context, e *Entry, host Host) (Session, error)
}

// Session is a loaded entry.
type Session interface {
	Entities() []entity.Entity
	Unload(ctx context.Context) error
}

// Flow error keys.
const (
	ErrorCannotConnect = "cannot_connect"
	ErrorInvalidAuth   = "invalid_auth"
	ErrorUnknown       = "unknown"
)

// Flow abort reasons.
const (
	AbortAlreadyConfigured = "already_configured"
	AbortReauthSuccessful  = "reauth_successful"
	AbortWrongAccount      = "wrong_account"
)

// FlowError is a user-facing form error.
type FlowError struct {
	Key string
	Err error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func flowErrorKey(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return ErrorInvalidAuth
	case errors.Is(err, ErrCannotConnect), errors.Is(err, ErrNotReady):
		return ErrorCannotConnect
	default:
		return ErrorUnknown
	}
}

// Outcome types.
const (
	OutcomeCreateEntry = "create_entry"
	OutcomeAbort       = "abort"
)

// FlowOutcome is the terminal step of a flow.
type FlowOutcome struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	Entry  *Entry `json:"entry,omitempty"`
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Domain != entries[j].Domain {
			return entries[i].Domain < entries[j].Domain
		}
		return entries[i].Title < entries[j].Title
	})
}
