// Package memory is an in-process Remote. It keeps records in a map, stamps
// them with a strictly increasing server clock, counts calls and can be told
// to fail, which makes it the backend of choice for tests and offline runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mindlog/mindlog/internal/remote"
)

// Calls counts network-equivalent operations. CurrentUser is a local session
// check and is not counted.
type Calls struct {
	Upsert            int
	QueryUpdatedSince int
	QueryByPartitions int
	SignOut           int
}

// Total returns the number of counted calls.
func (c Calls) Total() int {
	return c.Upsert + c.QueryUpdatedSince + c.QueryByPartitions + c.SignOut
}

// Remote is safe for concurrent use.
type Remote struct {
	mu      sync.Mutex
	user    *remote.User
	records map[string]remote.Record
	clock   func() time.Time
	last    time.Time
	calls   Calls

	failUpsert error
	failQuery  error
}

var _ remote.Remote = (*Remote)(nil)

// New returns an empty, signed-out remote. A nil clock uses time.Now.
func New(clock func() time.Time) *Remote {
	if clock == nil {
		clock = time.Now
	}
	return &Remote{records: make(map[string]remote.Record), clock: clock}
}

// SignIn starts a session for user.
func (r *Remote) SignIn(user remote.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = &user
}

// FailUpserts makes every Upsert return err (nil restores normal behaviour).
func (r *Remote) FailUpserts(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpsert = err
}

// FailQueries makes both query methods return err.
func (r *Remote) FailQueries(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failQuery = err
}

// Calls returns a snapshot of the call counters.
func (r *Remote) Calls() Calls {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Records returns every stored record, oldest first.
func (r *Remote) Records() []remote.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(remote.Record) bool { return true })
}

// Put stores rec as if another device had upserted it, without counting a
// call. A zero CreatedAt is stamped with the server clock.
func (r *Remote) Put(rec remote.Record) remote.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	r.records[key(rec.Owner, rec.ClientID)] = rec
	return rec
}

// CurrentUser implements remote.Remote.
func (r *Remote) CurrentUser(ctx context.Context) (remote.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.user == nil {
		return remote.User{}, remote.ErrNoSession
	}
	return *r.user, nil
}

// Upsert implements remote.Remote.
func (r *Remote) Upsert(ctx context.Context, rec remote.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.Upsert++

	if r.user == nil {
		return remote.ErrNoSession
	}
	if r.failUpsert != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, r.failUpsert)
	}
	if rec.ClientID == "" {
		return fmt.Errorf("%w: client id is required", remote.ErrUnavailable)
	}

	rec.CreatedAt = r.now()
	r.records[key(rec.Owner, rec.ClientID)] = rec
	return nil
}

// QueryUpdatedSince implements remote.Remote.
func (r *Remote) QueryUpdatedSince(ctx context.Context, owner string, since time.Time) ([]remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.QueryUpdatedSince++

	if err := r.checkQuery(); err != nil {
		return nil, err
	}
	return r.sorted(func(rec remote.Record) bool {
		return rec.Owner == owner && rec.CreatedAt.After(since)
	}), nil
}

// QueryByPartitions implements remote.Remote.
func (r *Remote) QueryByPartitions(ctx context.Context, owner string, partitions []string) ([]remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.QueryByPartitions++

	if err := r.checkQuery(); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		wanted[p] = true
	}
	return r.sorted(func(rec remote.Record) bool {
		return rec.Owner == owner && wanted[rec.Partition]
	}), nil
}

// SignOut implements remote.Remote.
func (r *Remote) SignOut(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.SignOut++
	r.user = nil
	return nil
}

func (r *Remote) checkQuery() error {
	if r.user == nil {
		return remote.ErrNoSession
	}
	if r.failQuery != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, r.failQuery)
	}
	return nil
}

// now returns the server clock, strictly after every earlier stamp.
// Callers must hold r.mu.
func (r *Remote) now() time.Time {
	t := r.clock().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

// sorted returns matching records oldest first. Callers must hold r.mu.
func (r *Remote) sorted(match func(remote.Record) bool) []remote.Record {
	out := []remote.Record{}
	for _, rec := range r.records {
		if match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func key(owner, clientID string) string {
	return owner + "\x00" + clientID
}
