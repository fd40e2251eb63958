package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mindlog/mindlog/internal/remote"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestSignedOut(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	if _, err := r.CurrentUser(ctx); !errors.Is(err, remote.ErrNoSession) {
		t.Errorf("CurrentUser() error = %v, want ErrNoSession", err)
	}
	if err := r.Upsert(ctx, remote.Record{ClientID: "x"}); !errors.Is(err, remote.ErrNoSession) {
		t.Errorf("Upsert() error = %v, want ErrNoSession", err)
	}
	if r.Calls().Upsert != 1 {
		t.Errorf("Upsert calls = %d, want 1", r.Calls().Upsert)
	}
}

func TestUpsert_IdempotentByClientID(t *testing.T) {
	r := New(fixedClock())
	r.SignIn(remote.User{ID: "owner-1"})
	ctx := context.Background()

	for _, mood := range []string{"calm", "bright"} {
		rec := remote.Record{
			Owner:     "owner-1",
			Partition: "module1",
			ClientID:  "u-1",
			Payload:   json.RawMessage(`{"mood":"` + mood + `"}`),
		}
		if err := r.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}

	records := r.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if string(records[0].Payload) != `{"mood":"bright"}` {
		t.Errorf("Payload = %s, want latest", records[0].Payload)
	}
}

func TestServerClock_StrictlyIncreasing(t *testing.T) {
	r := New(fixedClock())
	r.SignIn(remote.User{ID: "o"})
	ctx := context.Background()

	_ = r.Upsert(ctx, remote.Record{Owner: "o", ClientID: "a"})
	_ = r.Upsert(ctx, remote.Record{Owner: "o", ClientID: "b"})

	records := r.Records()
	if !records[1].CreatedAt.After(records[0].CreatedAt) {
		t.Errorf("stamps not increasing: %v then %v", records[0].CreatedAt, records[1].CreatedAt)
	}
}

func TestQueryUpdatedSince(t *testing.T) {
	r := New(fixedClock())
	r.SignIn(remote.User{ID: "o"})
	ctx := context.Background()

	first := r.Put(remote.Record{Owner: "o", ClientID: "a", Partition: "module1"})
	r.Put(remote.Record{Owner: "o", ClientID: "b", Partition: "module2"})
	r.Put(remote.Record{Owner: "someone-else", ClientID: "c", Partition: "module2"})

	got, err := r.QueryUpdatedSince(ctx, "o", first.CreatedAt)
	if err != nil {
		t.Fatalf("QueryUpdatedSince() failed: %v", err)
	}
	if len(got) != 1 || got[0].ClientID != "b" {
		t.Errorf("QueryUpdatedSince() = %+v, want only b", got)
	}

	all, _ := r.QueryUpdatedSince(ctx, "o", time.Time{})
	if len(all) != 2 {
		t.Errorf("QueryUpdatedSince(epoch) returned %d, want 2", len(all))
	}
}

func TestQueryByPartitions(t *testing.T) {
	r := New(nil)
	r.SignIn(remote.User{ID: "o"})

	r.Put(remote.Record{Owner: "o", ClientID: remote.StableID(remote.DocProfile, "o"), Partition: remote.DocProfile})
	r.Put(remote.Record{Owner: "o", ClientID: "u-1", Partition: "module1"})

	got, err := r.QueryByPartitions(context.Background(), "o", []string{remote.DocProfile, remote.DocStats})
	if err != nil {
		t.Fatalf("QueryByPartitions() failed: %v", err)
	}
	if len(got) != 1 || got[0].Partition != remote.DocProfile {
		t.Errorf("QueryByPartitions() = %+v", got)
	}
}

func TestFailureInjection(t *testing.T) {
	r := New(nil)
	r.SignIn(remote.User{ID: "o"})
	ctx := context.Background()

	r.FailUpserts(errors.New("offline"))
	if err := r.Upsert(ctx, remote.Record{Owner: "o", ClientID: "a"}); !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("Upsert() error = %v, want ErrUnavailable", err)
	}

	r.FailQueries(errors.New("offline"))
	if _, err := r.QueryUpdatedSince(ctx, "o", time.Time{}); !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("QueryUpdatedSince() error = %v, want ErrUnavailable", err)
	}

	r.FailUpserts(nil)
	r.FailQueries(nil)
	if err := r.Upsert(ctx, remote.Record{Owner: "o", ClientID: "a"}); err != nil {
		t.Errorf("Upsert() after recovery failed: %v", err)
	}
}

func TestSignOut(t *testing.T) {
	r := New(nil)
	r.SignIn(remote.User{ID: "o"})
	ctx := context.Background()

	if err := r.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() failed: %v", err)
	}
	if err := r.SignOut(ctx); err != nil {
		t.Errorf("second SignOut() failed: %v", err)
	}
	if _, err := r.CurrentUser(ctx); !errors.Is(err, remote.ErrNoSession) {
		t.Errorf("CurrentUser() after SignOut error = %v", err)
	}
}
