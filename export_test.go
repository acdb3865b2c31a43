package tour

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestExportTour(t *testing.T) {
	store := openTestStore(t, StoreConfig{})
	ctx := context.Background()

	dir := sha1Hex([]byte("demo"))
	img := []byte("jpeg bytes")
	imgID := sha1Hex(img)
	if err := store.WriteAsset(ctx, dir+"/"+imgID+".jpg", img); err != nil {
		t.Fatalf("WriteAsset failed: %v", err)
	}

	tr := DefaultTour()
	tr.Scenes[imgID] = &Scene{
		Title:     "Uploaded",
		Panorama:  "/tours/" + dir + "/" + imgID + ".jpg",
		Relations: []string{},
	}
	// A reference the store does not hold; the export skips it.
	tr.Scenes["missing"] = &Scene{
		Panorama:  "/tours/" + dir + "/" + sha1Hex([]byte("gone")) + ".jpg",
		Relations: []string{},
	}
	if err := store.Save(ctx, "demo", tr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var buf bytes.Buffer
	if err := ExportTour(ctx, store, "demo", &buf); err != nil {
		t.Fatalf("ExportTour failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}

	entries := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		entries[f.Name] = data
	}

	cfg, ok := entries["config.json"]
	if !ok {
		t.Fatal("expected config.json in bundle")
	}
	var exported Tour
	if err := json.Unmarshal(cfg, &exported); err != nil {
		t.Fatalf("config.json did not decode: %v", err)
	}
	if exported.Scene(imgID) == nil {
		t.Error("expected exported snapshot to carry the uploaded scene")
	}

	imgEntry := "tours/" + dir + "/" + imgID + ".jpg"
	if !bytes.Equal(entries[imgEntry], img) {
		t.Errorf("expected panorama bytes under %s", imgEntry)
	}

	// The seeded /default.jpg and the missing reference produce no entries.
	for name := range entries {
		if name != "config.json" && !strings.HasSuffix(name, imgID+".jpg") {
			t.Errorf("unexpected bundle entry %s", name)
		}
	}
}

func TestExportTourMissing(t *testing.T) {
	store := openTestStore(t, StoreConfig{})

	var buf bytes.Buffer
	err := ExportTour(context.Background(), store, "missing", &buf)
	if !errors.Is(err, ErrTourNotFound) {
		t.Errorf("expected ErrTourNotFound, got %v", err)
	}
}

func TestPanoramaKey(t *testing.T) {
	dir := sha1Hex([]byte("a"))
	file := sha1Hex([]byte("b"))

	key, ok := panoramaKey("/tours/" + dir + "/" + file + ".jpg")
	if !ok || key != dir+"/"+file+".jpg" {
		t.Errorf("expected store key, got %q (%v)", key, ok)
	}

	if _, ok := panoramaKey("/default.jpg"); ok {
		t.Error("expected the seed reference to have no store key")
	}
	if _, ok := panoramaKey("https://example.com/pano.jpg"); ok {
		t.Error("expected external references to have no store key")
	}
}
