// Package remote defines the contract the journal store expects from a cloud
// document service, plus helpers shared by its backends.
//
// A Remote stores Records owned by a user. Records are upserted by
// (Owner, ClientID), so retrying a push is always safe, and every write is
// stamped with a server-side CreatedAt that drives delta pulls.
//
// Backends:
//   - memory: in-process, for tests and offline development
//   - httpapi: REST service with a bearer JWT session
//   - mongo: MongoDB collection
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNoSession means no user is signed in (or the session expired).
	ErrNoSession = errors.New("no authenticated session")

	// ErrNotConfigured means no remote backend was set up.
	ErrNotConfigured = errors.New("remote not configured")

	// ErrUnavailable wraps transport and server failures.
	ErrUnavailable = errors.New("remote unavailable")
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 8 * time.Second

// Scalar document names stored beside the log partitions.
const (
	DocProfile = "profile"
	DocStats   = "stats"
)

// User is the signed-in identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Record is one remote document.
type Record struct {
	Owner     string          `json:"owner"`
	Partition string          `json:"partition"`
	ClientID  string          `json:"clientId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"` // set by the server on every upsert
}

// Remote is the cloud document service.
type Remote interface {
	// CurrentUser returns the signed-in user, or ErrNoSession.
	// It must not require a network round trip.
	CurrentUser(ctx context.Context) (User, error)

	// Upsert creates or replaces the record keyed by (Owner, ClientID).
	Upsert(ctx context.Context, rec Record) error

	// QueryUpdatedSince returns the owner's records whose server CreatedAt is
	// strictly after since, oldest first.
	QueryUpdatedSince(ctx context.Context, owner string, since time.Time) ([]Record, error)

	// QueryByPartitions returns the owner's records in the named partitions.
	QueryByPartitions(ctx context.Context, owner string, partitions []string) ([]Record, error)

	// SignOut ends the session. Signing out twice is not an error.
	SignOut(ctx context.Context) error
}

// StableID is the fixed client id for a per-user scalar document, so repeated
// saves replace one record instead of adding new ones.
func StableID(doc, owner string) string {
	return doc + "_" + owner
}

// WithTimeout derives a context bounded by d, or DefaultTimeout when d <= 0.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
