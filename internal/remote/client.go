// Package remote defines the server boundary of the sync engine: the Client contract, its wire
// format and an HTTP/JSON implementation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
)

var (
	// ErrUnavailable covers transport failures, timeouts and server-side errors.
	ErrUnavailable = errors.New("remote: unavailable")
	// ErrRejected indicates a validation failure reported by the remote.
	ErrRejected = errors.New("remote: request rejected")
	// ErrAlreadyExists indicates a create for an id the remote already stores.
	ErrAlreadyExists = errors.New("remote: record already exists")
	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrNotFound indicates that the addressed record is unknown to the remote.
	ErrNotFound = errors.New("remote: record not found")
	// ErrResponseTooLarge indicates a response body above the client's limit. Retrying does not
	// help until the limit is raised.
	ErrResponseTooLarge = errors.New("remote: response too large")
)

// Client is the request/response boundary to the sync server.
type Client interface {
	// Create inserts a record the remote has never acknowledged.
	Create(ctx context.Context, record notes.Record) error
	// Update fully overwrites an existing remote record.
	Update(ctx context.Context, record notes.Record) error
	// Delete removes the record on the remote.
	Delete(ctx context.Context, kind notes.Kind, id string) error
	// FetchChanges returns every record changed after since, or every record when since is nil.
	FetchChanges(ctx context.Context, since *time.Time) (Delta, error)
}

// Error describes a failed remote call. It unwraps to one of the package sentinels.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	kind       error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %s", e.kind, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%v: status %d %s: %s", e.kind, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%v: status %d: %s", e.kind, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.kind
}

// classifyStatus maps an HTTP status onto the error taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrAlreadyExists
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}
