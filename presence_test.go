package tour

import "testing"

func TestPresenceTracker(t *testing.T) {
	p := newPresenceTracker()

	p.Set("a", "scene-1")
	p.Set("b", "scene-2")
	p.Set("a", "scene-3")

	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap["a"] != "scene-3" {
		t.Errorf("expected latest announcement to win, got %s", snap["a"])
	}

	p.Clear("a")
	if _, ok := p.Snapshot()["a"]; ok {
		t.Error("expected entry to be cleared")
	}

	// Clearing an unknown identity is a no-op.
	p.Clear("missing")
	if len(p.Snapshot()) != 1 {
		t.Error("expected remaining entry to survive")
	}
}

func TestPresenceSnapshotIsCopy(t *testing.T) {
	p := newPresenceTracker()
	p.Set("a", "scene-1")

	snap := p.Snapshot()
	snap["a"] = "mutated"
	snap["b"] = "added"

	if p.Snapshot()["a"] != "scene-1" {
		t.Error("expected snapshot mutation to not affect the tracker")
	}
	if len(p.Snapshot()) != 1 {
		t.Error("expected snapshot additions to not affect the tracker")
	}
}
