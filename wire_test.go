package tour

import (
	"encoding/json"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	tr := DefaultTour()
	presence := map[string]string{"client-1": DefaultSceneID}

	raw, err := EncodeSnapshot(tr, presence)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if msg.Type != MessageSnapshot {
		t.Errorf("expected type %s, got %s", MessageSnapshot, msg.Type)
	}
	if msg.Presence["client-1"] != DefaultSceneID {
		t.Errorf("expected presence entry, got %v", msg.Presence)
	}

	var decoded Tour
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("snapshot payload did not decode: %v", err)
	}
	if decoded.Defaults.Scene != DefaultSceneID {
		t.Errorf("expected default scene %s, got %s", DefaultSceneID, decoded.Defaults.Scene)
	}
}

func TestUpdateCarriesPatchVerbatim(t *testing.T) {
	patch := Patch(`[{"op":"replace","path":"/default/north","value":90}]`)

	raw, err := EncodeUpdate(patch)
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if msg.Type != MessageUpdate {
		t.Errorf("expected type %s, got %s", MessageUpdate, msg.Type)
	}
	if string(msg.Data) != string(patch) {
		t.Errorf("expected patch carried verbatim, got %s", msg.Data)
	}
}

func TestPresenceMessages(t *testing.T) {
	raw, err := EncodePresence("client-1", "scene-a")
	if err != nil {
		t.Fatalf("EncodePresence failed: %v", err)
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if msg.Type != MessagePresence || msg.ID != "client-1" || msg.Scene != "scene-a" {
		t.Errorf("unexpected presence message: %+v", msg)
	}

	// A cleared entry omits the scene.
	raw, err = EncodePresence("client-1", "")
	if err != nil {
		t.Fatalf("EncodePresence failed: %v", err)
	}
	msg, err = DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if msg.Scene != "" {
		t.Errorf("expected cleared scene, got %q", msg.Scene)
	}
}

func TestDecodeMessageRejectsUnknownType(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"type":"bogus"}`)); err == nil {
		t.Error("expected unknown type to be rejected")
	}
	if _, err := DecodeMessage([]byte(`{}`)); err == nil {
		t.Error("expected missing type to be rejected")
	}
	if _, err := DecodeMessage([]byte(`not json`)); err == nil {
		t.Error("expected malformed JSON to be rejected")
	}
}
