package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mindlog/mindlog/internal/config"
	"github.com/mindlog/mindlog/internal/logstore/db"
	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/remote"
	"github.com/mindlog/mindlog/internal/remote/httpapi"
	"github.com/mindlog/mindlog/internal/remote/memory"
	"github.com/mindlog/mindlog/internal/remote/mongo"
	"github.com/mindlog/mindlog/internal/service"
)

// localUser owns entries synced through the in-process memory remote.
const localUser = "local"

// app is one opened data directory: the stores, the remote and the service
// built on them.
type app struct {
	cfg    *config.Config
	store  *db.Store
	legacy *legacy.Store
	remote remote.Remote
	svc    *service.Service

	closeRemote func(ctx context.Context) error
}

// openApp opens the configured stores and remote and initializes the
// service. An unreachable remote is logged and sync is disabled for the
// run; the journal itself stays usable.
func openApp(ctx context.Context) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	kv, err := legacy.NewFileKV(cfg.LegacyDir())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.legacy = legacy.New(kv, cfg.Legacy.Prefix, logs.New("legacy"))

	switch cfg.Storage.Engine {
	case config.EngineNone:
		a.store = db.Unavailable(errors.New("storage engine disabled in config"))
	default:
		a.store = db.New(cfg.DBPath(), logs.New("db"))
	}

	if err := a.connectRemote(ctx); err != nil {
		logs.New("remote").Printf("WARNING: %v; continuing offline", err)
		a.remote = nil
	}

	a.svc = service.New(service.Options{
		Store:         a.store,
		Legacy:        a.legacy,
		Remote:        a.remote,
		Logger:        logs.New("service"),
		RemoteTimeout: cfg.Remote.Timeout,
	})
	if err := a.svc.Init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) connectRemote(ctx context.Context) error {
	switch a.cfg.Remote.Kind {
	case config.RemoteHTTP:
		a.remote = httpapi.New(a.cfg.Remote.URL, a.legacy, httpapi.Options{
			Logger: logs.New("remote"),
		})

	case config.RemoteMongo:
		dialCtx, cancel := context.WithTimeout(ctx, a.cfg.Remote.Timeout)
		defer cancel()
		store, err := mongo.Connect(dialCtx, a.cfg.Remote.MongoURI, a.cfg.Remote.MongoDatabase, a.legacy, logs.New("mongo"))
		if err != nil {
			return err
		}
		a.remote = store
		a.closeRemote = store.Close

	case config.RemoteMemory:
		mem := memory.New(nil)
		mem.SignIn(remote.User{ID: localUser})
		a.remote = mem
	}
	return nil
}

// close flushes background work and releases the stores.
func (a *app) close() {
	if err := a.svc.Close(); err != nil {
		logs.New("service").Printf("WARNING: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logs.New("db").Printf("WARNING: failed to close database: %v", err)
	}
	if a.closeRemote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.closeRemote(ctx); err != nil {
			logs.New("remote").Printf("WARNING: %v", err)
		}
	}
}
