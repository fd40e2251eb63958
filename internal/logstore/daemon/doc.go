// Package daemon keeps a local journal in step with the cloud while the
// process runs.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - FileWatcher: fsnotify monitoring of the legacy store directory, limited
//     to the files that hold scalar documents (profile, stats)
//   - Daemon: runs a delta sync on a ticker and publishes edited documents
//     after a debounce interval
//
// # Usage
//
//	files := daemon.DocumentFiles(legacyStore, remote.DocProfile, remote.DocStats)
//	d, err := daemon.New(svc, kvDir, files, &daemon.Config{
//	    SyncInterval:     5 * time.Minute,
//	    DebounceInterval: 500 * time.Millisecond,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = d.Start(ctx) // blocks until ctx is done
//
// # Echo suppression
//
// Pulling a document rewrites its file, which the watcher then reports. The
// daemon remembers the last pulled copy of each document and does not publish
// a file whose content matches it.
package daemon
