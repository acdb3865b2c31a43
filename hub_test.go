package tour

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func openTestHub(t *testing.T) (*SessionHub, *TourStore) {
	t.Helper()
	store := openTestStore(t, StoreConfig{})
	hub := NewSessionHub(store, HubConfig{})
	t.Cleanup(func() { _ = hub.Close() })
	return hub, store
}

func startTestServer(t *testing.T, hub *SessionHub, store *TourStore) *httptest.Server {
	t.Helper()
	srv := NewServer(hub, store, HTTPConfig{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialTour(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/tours/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return msg
}

func TestOpenSessionSeedsDefault(t *testing.T) {
	hub, store := openTestHub(t)
	ctx := context.Background()

	sess, err := hub.OpenSession(ctx, "fresh")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if sess.Snapshot().Defaults.Scene != DefaultSceneID {
		t.Error("expected a fresh session to carry the default seed")
	}

	// The seed is persisted immediately.
	if _, err := store.Load(ctx, "fresh"); err != nil {
		t.Errorf("expected seed to be persisted, got %v", err)
	}
}

func TestOpenSessionLoadsExisting(t *testing.T) {
	hub, store := openTestHub(t)
	ctx := context.Background()

	stored := DefaultTour()
	stored.Scenes[DefaultSceneID].Title = "Stored"
	if err := store.Save(ctx, "existing", stored); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sess, err := hub.OpenSession(ctx, "existing")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if sess.Snapshot().Scenes[DefaultSceneID].Title != "Stored" {
		t.Error("expected session to load the stored snapshot")
	}

	// Reopening yields the same session.
	again, err := hub.OpenSession(ctx, "existing")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if again != sess {
		t.Error("expected one session per tour identity")
	}
}

func TestPreload(t *testing.T) {
	store := openTestStore(t, StoreConfig{})
	ctx := context.Background()
	for _, id := range []string{"one", "two"} {
		if err := store.Save(ctx, id, DefaultTour()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	hub := NewSessionHub(store, HubConfig{})
	t.Cleanup(func() { _ = hub.Close() })
	if err := hub.Preload(ctx); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}

	for _, id := range []string{"one", "two"} {
		if _, ok := hub.LookupSession(id); !ok {
			t.Errorf("expected session %s after preload", id)
		}
	}
}

func TestApplyUpdate(t *testing.T) {
	hub, _ := openTestHub(t)
	sess, err := hub.OpenSession(context.Background(), "demo")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	patch := Patch(`[{"op":"replace","path":"/default/north","value":90}]`)
	if err := hub.ApplyUpdate(sess, nil, patch); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if sess.Snapshot().Defaults.North != 90 {
		t.Error("expected update to change the authoritative tour")
	}
}

func TestApplyUpdateRejectedLeavesTourUnchanged(t *testing.T) {
	hub, _ := openTestHub(t)
	sess, err := hub.OpenSession(context.Background(), "demo")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	stale := Patch(`[{"op":"remove","path":"/scenes/deadbeef"}]`)
	if err := hub.ApplyUpdate(sess, nil, stale); !errors.Is(err, ErrPatchRejected) {
		t.Fatalf("expected ErrPatchRejected, got %v", err)
	}
	if len(sess.Snapshot().Scenes) != 1 {
		t.Error("expected rejected update to leave the tour unchanged")
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	hub, _ := openTestHub(t)
	sess, err := hub.OpenSession(context.Background(), "demo")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch := Patch(fmt.Sprintf(
				`[{"op":"add","path":"/scenes/scene-%d","value":{"title":"S%d","lat":0,"lon":0,"northOffset":0,"panorama":"","level":0,"relations":[]}}]`,
				i, i))
			errs <- hub.ApplyUpdate(sess, nil, patch)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("ApplyUpdate failed: %v", err)
		}
	}

	if got := len(sess.Snapshot().Scenes); got != writers+1 {
		t.Errorf("expected %d scenes, got %d", writers+1, got)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	hub, _ := openTestHub(t)
	ctx := context.Background()

	a, err := hub.OpenSession(ctx, "alpha")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	b, err := hub.OpenSession(ctx, "beta")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	patch := Patch(`[{"op":"replace","path":"/default/north","value":90}]`)
	if err := hub.ApplyUpdate(a, nil, patch); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	if b.Snapshot().Defaults.North != 0 {
		t.Error("expected updates on one tour to not touch another")
	}
}

func TestHubClosedRejectsOpen(t *testing.T) {
	store := openTestStore(t, StoreConfig{})
	hub := NewSessionHub(store, HubConfig{})
	if err := hub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := hub.OpenSession(context.Background(), "demo"); !errors.Is(err, ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
}

func TestHubClosePersistsFinalSnapshot(t *testing.T) {
	store := openTestStore(t, StoreConfig{})
	hub := NewSessionHub(store, HubConfig{})
	ctx := context.Background()

	sess, err := hub.OpenSession(ctx, "demo")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	patch := Patch(`[{"op":"replace","path":"/default/north","value":45}]`)
	if err := hub.ApplyUpdate(sess, nil, patch); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	if err := hub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	loaded, err := store.Load(ctx, "demo")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Defaults.North != 45 {
		t.Error("expected final snapshot to include the applied update")
	}
}

func TestAttachDeliversSnapshot(t *testing.T) {
	hub, store := openTestHub(t)
	ts := startTestServer(t, hub, store)

	conn := dialTour(t, ts, "demo")
	msg := readMessage(t, conn)

	if msg.Type != MessageSnapshot {
		t.Fatalf("expected snapshot first, got %s", msg.Type)
	}
	var tr Tour
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		t.Fatalf("snapshot payload did not decode: %v", err)
	}
	if tr.Defaults.Scene != DefaultSceneID {
		t.Error("expected seeded tour in snapshot")
	}
}

func TestUpdateRebroadcastExcludesSender(t *testing.T) {
	hub, store := openTestHub(t)
	ts := startTestServer(t, hub, store)

	sender := dialTour(t, ts, "demo")
	readMessage(t, sender) // snapshot
	observer := dialTour(t, ts, "demo")
	readMessage(t, observer) // snapshot

	patch := `[{"op":"replace","path":"/default/north","value":90}]`
	out, err := EncodeUpdate(Patch(patch))
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}
	if err := sender.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The observer receives the identical patch.
	msg := readMessage(t, observer)
	if msg.Type != MessageUpdate {
		t.Fatalf("expected update, got %s", msg.Type)
	}
	if string(msg.Data) != patch {
		t.Errorf("expected patch rebroadcast verbatim, got %s", msg.Data)
	}

	// The sender is excluded: the next message it sees is the observer's
	// presence announcement, not an echo of its own update.
	announce, err := EncodePresence("", DefaultSceneID)
	if err != nil {
		t.Fatalf("EncodePresence failed: %v", err)
	}
	if err := observer.WriteMessage(websocket.TextMessage, announce); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg = readMessage(t, sender)
	if msg.Type != MessagePresence {
		t.Errorf("expected presence (no update echo), got %s", msg.Type)
	}
	if msg.ID == "" {
		t.Error("expected hub to stamp the sender identity")
	}
	if msg.Scene != DefaultSceneID {
		t.Errorf("expected announced scene, got %q", msg.Scene)
	}
}

func TestRejectedUpdateNotBroadcast(t *testing.T) {
	hub, store := openTestHub(t)
	ts := startTestServer(t, hub, store)

	sender := dialTour(t, ts, "demo")
	readMessage(t, sender)
	observer := dialTour(t, ts, "demo")
	readMessage(t, observer)

	stale, err := EncodeUpdate(Patch(`[{"op":"remove","path":"/scenes/deadbeef"}]`))
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}
	if err := sender.WriteMessage(websocket.TextMessage, stale); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// A valid update sent afterwards must be the first thing the observer
	// sees; the rejected one is dropped entirely.
	valid := `[{"op":"replace","path":"/default/north","value":10}]`
	out, err := EncodeUpdate(Patch(valid))
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}
	if err := sender.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readMessage(t, observer)
	if msg.Type != MessageUpdate || string(msg.Data) != valid {
		t.Errorf("expected only the valid update, got %s %s", msg.Type, msg.Data)
	}

	sess, _ := hub.LookupSession("demo")
	if len(sess.Snapshot().Scenes) != 1 {
		t.Error("expected rejected update to leave the tour unchanged")
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	hub, store := openTestHub(t)
	ts := startTestServer(t, hub, store)

	conn := dialTour(t, ts, "demo")
	readMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The connection survives and later updates still apply.
	out, err := EncodeUpdate(Patch(`[{"op":"replace","path":"/default/north","value":5}]`))
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	sess, _ := hub.LookupSession("demo")
	deadline := time.Now().Add(5 * time.Second)
	for sess.Snapshot().Defaults.North != 5 {
		if time.Now().After(deadline) {
			t.Fatal("expected update after malformed message to apply")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDetachClearsPresence(t *testing.T) {
	hub, store := openTestHub(t)
	ts := startTestServer(t, hub, store)

	leaver := dialTour(t, ts, "demo")
	readMessage(t, leaver)
	observer := dialTour(t, ts, "demo")
	readMessage(t, observer)

	announce, err := EncodePresence("", DefaultSceneID)
	if err != nil {
		t.Fatalf("EncodePresence failed: %v", err)
	}
	if err := leaver.WriteMessage(websocket.TextMessage, announce); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readMessage(t, observer)
	if msg.Type != MessagePresence || msg.Scene != DefaultSceneID {
		t.Fatalf("expected presence announcement, got %+v", msg)
	}
	leaverID := msg.ID

	_ = leaver.Close()

	// The remaining client is told the entry is gone.
	msg = readMessage(t, observer)
	if msg.Type != MessagePresence || msg.ID != leaverID || msg.Scene != "" {
		t.Errorf("expected presence clear for %s, got %+v", leaverID, msg)
	}

	sess, _ := hub.LookupSession("demo")
	deadline := time.Now().Add(5 * time.Second)
	for len(sess.Presence()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected presence entry to be dropped on disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSnapshotIncludesLivePresence(t *testing.T) {
	hub, store := openTestHub(t)
	ts := startTestServer(t, hub, store)

	first := dialTour(t, ts, "demo")
	readMessage(t, first)
	announce, err := EncodePresence("", DefaultSceneID)
	if err != nil {
		t.Fatalf("EncodePresence failed: %v", err)
	}
	if err := first.WriteMessage(websocket.TextMessage, announce); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Wait for the announcement to land before attaching the second client.
	sess, _ := hub.LookupSession("demo")
	deadline := time.Now().Add(5 * time.Second)
	for len(sess.Presence()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected presence entry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := dialTour(t, ts, "demo")
	msg := readMessage(t, second)
	if msg.Type != MessageSnapshot {
		t.Fatalf("expected snapshot, got %s", msg.Type)
	}
	if len(msg.Presence) != 1 {
		t.Errorf("expected snapshot to carry live presence, got %v", msg.Presence)
	}
}
