// Package tour provides the synchronization engine for collaboratively
// edited virtual tours: scenes, links between scenes, and a map overlay.
//
// A server-resident session hub owns the authoritative copy of every active
// tour, applies ordered patches from connected editors, rebroadcasts them to
// every other client, and persists full snapshots after each successful
// mutation. A client sync engine keeps a local replica converged with the
// hub: it debounces local mutations, diffs them against the last
// transmitted state, and retries transmission and reconnection with
// failure-driven doubling backoff.
//
// # Server Usage
//
// Open a store, build a hub, and serve it:
//
//	backend, err := tour.NewFileBackend("data")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := tour.NewTourStore(backend, tour.StoreConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hub := tour.NewSessionHub(store, tour.DefaultConfig().Hub)
//	defer hub.Close()
//
//	srv := tour.NewServer(hub, store, tour.DefaultConfig().HTTP)
//	srv.Start()
//
// # Client Usage
//
// Connect a replica and edit through it:
//
//	c := tour.NewSyncClient("ws://localhost:3030/tours/demo", tour.DefaultConfig().Sync)
//	c.Start()
//	defer c.Close()
//
//	err := c.Update(func(t *tour.Tour) error {
//	    return t.RenameScene(tour.DefaultSceneID, "Entrance")
//	})
//
// # Features
//
// Synchronization:
//   - Per-tour single-writer sessions with arrival-order broadcast
//   - Ordered RFC 6902 patches, applied all-or-nothing
//   - Snapshot bootstrap plus ephemeral presence tracking
//   - Debounced client-side diffing with retransmit and reconnect backoff
//
// Persistence:
//   - One full snapshot per tour, written temp-then-rename
//   - Pluggable backends: local filesystem, SQLite, S3-compatible storage
//   - Optional snappy compression and encryption at rest
//
// Editing:
//   - Scene linking with symmetric relations, guarded default-scene delete
//   - Geodesic scene nudging and map geometry derivation
//   - Panorama ingestion with EXIF positioning
//   - Standalone zip export of stored tours
package tour
