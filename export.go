package tour

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
)

// ExportTour writes a standalone zip bundle for a stored tour: the full
// snapshot as config.json plus every panorama image it references. The
// export reads only from the store and never touches a hub's authoritative
// copy.
func ExportTour(ctx context.Context, store *TourStore, id string, w io.Writer) error {
	t, err := store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("export %s: %w", id, err)
	}

	zw := zip.NewWriter(w)

	entry, err := zw.Create("config.json")
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	if _, err := entry.Write(data); err != nil {
		return err
	}

	for sceneID, scene := range t.Scenes {
		key, ok := panoramaKey(scene.Panorama)
		if !ok {
			continue
		}
		img, err := store.ReadAsset(ctx, key)
		if err != nil {
			// A missing image leaves a gap in the bundle, not a failed export.
			log.Printf("tour: [%s] export skipping panorama for scene %s: %v", id, sceneID, err)
			continue
		}
		entry, err := zw.Create("tours/" + key)
		if err != nil {
			return err
		}
		if _, err := entry.Write(img); err != nil {
			return err
		}
	}

	return zw.Close()
}

// panoramaKey converts a scene's media reference (/tours/<dir>/<file>.jpg)
// into the store key it was uploaded under. References outside the store,
// such as the seeded /default.jpg, have no key.
func panoramaKey(ref string) (string, bool) {
	if panoramaPath.FindStringSubmatch(ref) == nil {
		return "", false
	}
	return strings.TrimPrefix(ref, "/tours/"), true
}
